package tier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(DefaultTiers("price_basic", "price_pro"))
	require.NoError(t, err)
	return c
}

func TestNewCatalogRejectsPaidCheapestTier(t *testing.T) {
	tiers := DefaultTiers("price_basic", "price_pro")[1:]
	_, err := NewCatalog(tiers)
	assert.Error(t, err)
}

func TestNewCatalogRejectsDuplicateIDs(t *testing.T) {
	tiers := DefaultTiers("price_basic", "price_pro")
	tiers[2].ID = Basic
	_, err := NewCatalog(tiers)
	assert.Error(t, err)
}

func TestTierForKnownPrice(t *testing.T) {
	c := testCatalog(t)
	assert.Equal(t, Basic, c.TierFor("price_basic"))
	assert.Equal(t, Pro, c.TierFor("price_pro"))
}

func TestTierForUnknownPriceFallsBackToFree(t *testing.T) {
	c := testCatalog(t)
	assert.Equal(t, Free, c.TierFor("price_from_an_old_deploy"))
	assert.Equal(t, Free, c.TierFor(""))
}

func TestCompareOrdersByPrice(t *testing.T) {
	c := testCatalog(t)
	assert.Equal(t, Lower, c.Compare(Free, Basic))
	assert.Equal(t, Higher, c.Compare(Pro, Basic))
	assert.Equal(t, Equal, c.Compare(Basic, Basic))
	// unknown ids compare as free
	assert.Equal(t, Lower, c.Compare("enterprise", Basic))
}

func TestFeaturesOfCopies(t *testing.T) {
	c := testCatalog(t)
	features := c.FeaturesOf(Basic)
	assert.True(t, features[FeatureVoiceCommands])

	features[FeatureAdvancedAnalytics] = true
	assert.False(t, c.FeaturesOf(Basic)[FeatureAdvancedAnalytics])
}

func TestLimitsOfUnknownTierFallsBackToFree(t *testing.T) {
	c := testCatalog(t)
	limits := c.LimitsOf("enterprise")
	assert.Equal(t, int64(5), limits[QuotaDailyAiInteractions])
}

func TestCheapestForFeature(t *testing.T) {
	c := testCatalog(t)

	suggestion, ok := c.CheapestFor(FeatureVoiceCommands)
	require.True(t, ok)
	assert.Equal(t, Basic, suggestion.ID)

	suggestion, ok = c.CheapestFor(FeatureAdvancedAnalytics)
	require.True(t, ok)
	assert.Equal(t, Pro, suggestion.ID)
}

func TestCheapestForFeatureSkipsRetired(t *testing.T) {
	tiers := DefaultTiers("price_basic", "price_pro")
	tiers[1].Retired = true
	c, err := NewCatalog(tiers)
	require.NoError(t, err)

	suggestion, ok := c.CheapestFor(FeatureVoiceCommands)
	require.True(t, ok)
	assert.Equal(t, Pro, suggestion.ID)
}

func TestCheapestForQuota(t *testing.T) {
	c := testCatalog(t)

	suggestion, ok := c.CheapestForQuota(QuotaDailyAiInteractions, 40)
	require.True(t, ok)
	assert.Equal(t, Basic, suggestion.ID)

	// only pro is unlimited
	suggestion, ok = c.CheapestForQuota(QuotaDailyAiInteractions, 100)
	require.True(t, ok)
	assert.Equal(t, Pro, suggestion.ID)

	_, ok = c.CheapestForQuota(QuotaMonthlyEssayReviews, 50)
	assert.False(t, ok)
}

func TestBenefits(t *testing.T) {
	c := testCatalog(t)

	gained := c.Benefits(Free, Basic)
	assert.Contains(t, gained, string(FeatureVoiceCommands))
	assert.Contains(t, gained, "unlimited dailyFlashcardReviews")
	assert.NotContains(t, gained, string(FeatureAiTutor))

	assert.Nil(t, c.Benefits(Basic, "enterprise"))
}
