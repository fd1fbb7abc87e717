package entitlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/scorely/scorely/subscription"
	"github.com/scorely/scorely/tier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memoryFeatureCache struct {
	mu       sync.Mutex
	features map[string]map[tier.Feature]bool
}

func newMemoryFeatureCache() *memoryFeatureCache {
	return &memoryFeatureCache{
		features: make(map[string]map[tier.Feature]bool),
	}
}

func (c *memoryFeatureCache) GetFeatures(userID string) (map[tier.Feature]bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	features, ok := c.features[userID]
	return features, ok
}

func (c *memoryFeatureCache) SetFeatures(userID string, features map[tier.Feature]bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.features[userID] = features
	return nil
}

func testGate(t *testing.T, cache FeatureCache) (*Gate, *fakeSubscriptions, *fakeUsage) {
	t.Helper()
	catalog, err := tier.NewCatalog(tier.DefaultTiers("price_basic", "price_pro"))
	require.NoError(t, err)
	subs := newFakeSubscriptions()
	usage := newFakeUsage()
	resolver, err := NewResolver(ResolverOptions{
		Subscriptions: subs,
		Usage:         usage,
		Catalog:       catalog,
		Logger:        zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	gate, err := NewGate(GateOptions{
		Resolver: resolver,
		Usage:    usage,
		Catalog:  catalog,
		Cache:    cache,
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return gate, subs, usage
}

func basicUser(subs *fakeSubscriptions) {
	subs.records["user-1"] = &subscription.Record{
		UserID: "user-1",
		TierID: tier.Basic,
		Status: subscription.StatusActive,
	}
}

func TestCheckFeatureAllowed(t *testing.T) {
	gate, subs, _ := testGate(t, nil)
	basicUser(subs)

	decision, err := gate.CheckFeature(context.Background(), "user-1", tier.FeatureVoiceCommands)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Nil(t, decision.Upgrade)
}

func TestCheckFeatureDeniedSuggestsCheapestTier(t *testing.T) {
	gate, _, _ := testGate(t, nil)
	// no record: free tier

	decision, err := gate.CheckFeature(context.Background(), "user-1", tier.FeatureVoiceCommands)
	require.NoError(t, err)

	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonFeatureDisabled, decision.Reason)
	require.NotNil(t, decision.Upgrade)
	assert.Equal(t, tier.Basic, decision.Upgrade.TierID)
	assert.Equal(t, int64(999), decision.Upgrade.MonthlyCents)
	assert.Contains(t, decision.Upgrade.Benefits, string(tier.FeatureVoiceCommands))
}

func TestCheckFeatureUnknownName(t *testing.T) {
	gate, _, _ := testGate(t, nil)

	_, err := gate.CheckFeature(context.Background(), "user-1", tier.Feature("teleportation"))
	assert.ErrorIs(t, err, ErrUnknownFeature)
}

func TestCheckFeatureFailsOpenToCache(t *testing.T) {
	cache := newMemoryFeatureCache()
	gate, subs, _ := testGate(t, cache)
	basicUser(subs)

	// a successful check warms the cache
	decision, err := gate.CheckFeature(context.Background(), "user-1", tier.FeatureVoiceCommands)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	// store goes away: the cached map still answers
	subs.err = assert.AnError
	decision, err = gate.CheckFeature(context.Background(), "user-1", tier.FeatureVoiceCommands)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCheckFeatureFailsOpenToFreeDefaultsWithoutCache(t *testing.T) {
	gate, subs, _ := testGate(t, nil)
	basicUser(subs)
	subs.err = assert.AnError

	// free tier grants aiTutor but not voiceCommands
	decision, err := gate.CheckFeature(context.Background(), "user-1", tier.FeatureAiTutor)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = gate.CheckFeature(context.Background(), "user-1", tier.FeatureVoiceCommands)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestCheckAndConsumeDecrementsRemaining(t *testing.T) {
	gate, subs, _ := testGate(t, nil)
	basicUser(subs)

	decision, err := gate.CheckAndConsume(context.Background(), "user-1", tier.QuotaDailyAiInteractions, 1)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(49), decision.Remaining)
	assert.False(t, decision.ResetAt.IsZero())
}

func TestCheckAndConsumeExactlyOneWinsAtTheLimit(t *testing.T) {
	gate, subs, usage := testGate(t, nil)
	basicUser(subs)

	now := time.Now()
	_, err := usage.TryIncrement(context.Background(), "user-1", tier.QuotaDailyAiInteractions, 49, 50, now)
	require.NoError(t, err)

	var wg sync.WaitGroup
	decisions := make([]*Decision, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := gate.CheckAndConsume(context.Background(), "user-1", tier.QuotaDailyAiInteractions, 1)
			if assert.NoError(t, err) {
				decisions[i] = d
			}
		}(i)
	}
	wg.Wait()

	allowed := 0
	for _, d := range decisions {
		require.NotNil(t, d)
		if d.Allowed {
			allowed++
			assert.Equal(t, int64(0), d.Remaining)
		} else {
			assert.Equal(t, ReasonLimitExceeded, d.Reason)
		}
	}
	assert.Equal(t, 1, allowed)
}

func TestCheckAndConsumeDeniedSuggestsUpgrade(t *testing.T) {
	gate, subs, usage := testGate(t, nil)
	basicUser(subs)

	now := time.Now()
	_, err := usage.TryIncrement(context.Background(), "user-1", tier.QuotaDailyAiInteractions, 50, 50, now)
	require.NoError(t, err)

	decision, err := gate.CheckAndConsume(context.Background(), "user-1", tier.QuotaDailyAiInteractions, 1)
	require.NoError(t, err)

	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonLimitExceeded, decision.Reason)
	assert.Equal(t, int64(0), decision.Remaining)
	require.NotNil(t, decision.Upgrade)
	assert.Equal(t, tier.Pro, decision.Upgrade.TierID)
}

func TestCheckAndConsumeQuotaMissingFromTier(t *testing.T) {
	gate, _, _ := testGate(t, nil)
	// free tier has no essay reviews at all

	decision, err := gate.CheckAndConsume(context.Background(), "user-1", tier.QuotaMonthlyEssayReviews, 1)
	require.NoError(t, err)

	assert.False(t, decision.Allowed)
	require.NotNil(t, decision.Upgrade)
	assert.Equal(t, tier.Basic, decision.Upgrade.TierID)
}

func TestCheckAndConsumeUnlimited(t *testing.T) {
	gate, subs, _ := testGate(t, nil)
	subs.records["user-1"] = &subscription.Record{
		UserID: "user-1",
		TierID: tier.Pro,
		Status: subscription.StatusActive,
	}

	for i := 0; i < 3; i++ {
		decision, err := gate.CheckAndConsume(context.Background(), "user-1", tier.QuotaDailyAiInteractions, 100)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, tier.Unlimited, decision.Remaining)
	}
}

func TestCheckAndConsumeFailsClosedOnStoreError(t *testing.T) {
	gate, subs, _ := testGate(t, nil)
	basicUser(subs)
	subs.err = assert.AnError

	_, err := gate.CheckAndConsume(context.Background(), "user-1", tier.QuotaDailyAiInteractions, 1)
	assert.Error(t, err)
}

func TestCheckAndConsumeFailsClosedOnLedgerError(t *testing.T) {
	gate, subs, usage := testGate(t, nil)
	basicUser(subs)
	usage.err = assert.AnError

	_, err := gate.CheckAndConsume(context.Background(), "user-1", tier.QuotaDailyAiInteractions, 1)
	assert.Error(t, err)
}

func TestCheckAndConsumeRejectsBadInput(t *testing.T) {
	gate, _, _ := testGate(t, nil)

	_, err := gate.CheckAndConsume(context.Background(), "user-1", tier.Quota("somethingElse"), 1)
	assert.ErrorIs(t, err, ErrUnknownQuota)

	_, err = gate.CheckAndConsume(context.Background(), "user-1", tier.QuotaDailyAiInteractions, 0)
	assert.Error(t, err)
}

func TestCheckAndConsumeDailyRollover(t *testing.T) {
	gate, subs, _ := testGate(t, nil)
	basicUser(subs)

	evening := time.Date(2024, time.June, 2, 23, 59, 0, 0, time.UTC)
	gate.now = func() time.Time { return evening }

	// exhaust the day
	decision, err := gate.CheckAndConsume(context.Background(), "user-1", tier.QuotaDailyAiInteractions, 50)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	decision, err = gate.CheckAndConsume(context.Background(), "user-1", tier.QuotaDailyAiInteractions, 1)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	// past local midnight a fresh counter applies, no reset call needed
	gate.now = func() time.Time { return evening.Add(time.Minute * 2) }

	decision, err = gate.CheckAndConsume(context.Background(), "user-1", tier.QuotaDailyAiInteractions, 1)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(49), decision.Remaining)
}

func TestCheckAndConsumePastDueKeepsQuota(t *testing.T) {
	gate, subs, _ := testGate(t, nil)
	subs.records["user-1"] = &subscription.Record{
		UserID: "user-1",
		TierID: tier.Basic,
		Status: subscription.StatusPastDue,
	}

	decision, err := gate.CheckAndConsume(context.Background(), "user-1", tier.QuotaDailyAiInteractions, 10)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(40), decision.Remaining)
}
