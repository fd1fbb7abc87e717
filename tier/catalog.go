package tier

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"sort"

	extErrors "github.com/pkg/errors"
)

// Ordering is the custom type for the result of comparing two tiers by price
type Ordering int

// Defining constants
const (
	Lower  Ordering = -1
	Equal  Ordering = 0
	Higher Ordering = 1
)

// Catalog is the read-only tier configuration consulted for every entitlement
// decision. Construct it once and pass it to the Resolver and Gate; lookups
// never mutate it and are safe for concurrent use
type Catalog struct {
	tierArray      []Tier
	tierIDIndexMap map[ID]int
	priceIDMap     map[string]ID
}

// NewCatalog constructs a Catalog from the given tiers. The cheapest tier is
// the fallback for unknown price ids and must be free of charge
func NewCatalog(tiers []Tier) (*Catalog, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("empty tier list is invalid")
	}

	ordered := make([]Tier, len(tiers))
	copy(ordered, tiers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].MonthlyCents < ordered[j].MonthlyCents
	})

	if ordered[0].MonthlyCents != 0 {
		return nil, fmt.Errorf("cheapest tier %s must have no monthly price", ordered[0].ID)
	}

	idMap := make(map[ID]int)
	priceMap := make(map[string]ID)
	for index, t := range ordered {
		if len(t.ID) == 0 {
			return nil, fmt.Errorf("tier at position %d has no ID", index)
		}
		if _, ok := idMap[t.ID]; ok {
			return nil, fmt.Errorf("duplicate tier ID %s", t.ID)
		}
		idMap[t.ID] = index + 1
		if len(t.PriceID) > 0 {
			priceMap[t.PriceID] = t.ID
		}
	}

	return &Catalog{
		tierArray:      ordered,
		tierIDIndexMap: idMap,
		priceIDMap:     priceMap,
	}, nil
}

// ListTiers returns all defined tiers ordered by monthly price
func (c *Catalog) ListTiers() []Tier {
	tiers := make([]Tier, len(c.tierArray))
	copy(tiers, c.tierArray)
	return tiers
}

// FreeTier returns the cheapest tier, the fallback for every lookup miss
func (c *Catalog) FreeTier() Tier {
	return c.tierArray[0]
}

// GetByID returns the tier with the given ID
func (c *Catalog) GetByID(tierID ID) (Tier, bool) {
	index := c.tierIDIndexMap[tierID]
	if index == 0 {
		return Tier{}, false
	}
	return c.tierArray[index-1], true
}

// TierFor maps a provider price id to the tier it purchases. An unrecognized
// price id resolves to the free tier; this is policy, not an error
func (c *Catalog) TierFor(providerPriceID string) ID {
	tierID, ok := c.priceIDMap[providerPriceID]
	if !ok {
		return c.FreeTier().ID
	}
	return tierID
}

// FeaturesOf returns a copy of the feature map for the given tier, falling
// back to the free tier when the id is unknown
func (c *Catalog) FeaturesOf(tierID ID) map[Feature]bool {
	t, ok := c.GetByID(tierID)
	if !ok {
		t = c.FreeTier()
	}
	features := make(map[Feature]bool, len(t.Features))
	for f, enabled := range t.Features {
		features[f] = enabled
	}
	return features
}

// LimitsOf returns a copy of the quota limit map for the given tier, falling
// back to the free tier when the id is unknown
func (c *Catalog) LimitsOf(tierID ID) map[Quota]int64 {
	t, ok := c.GetByID(tierID)
	if !ok {
		t = c.FreeTier()
	}
	limits := make(map[Quota]int64, len(t.Limits))
	for q, limit := range t.Limits {
		limits[q] = limit
	}
	return limits
}

// Compare orders two tiers by monthly price. Unknown ids compare as the free tier
func (c *Catalog) Compare(a, b ID) Ordering {
	ta, ok := c.GetByID(a)
	if !ok {
		ta = c.FreeTier()
	}
	tb, ok := c.GetByID(b)
	if !ok {
		tb = c.FreeTier()
	}
	switch {
	case ta.MonthlyCents < tb.MonthlyCents:
		return Lower
	case ta.MonthlyCents > tb.MonthlyCents:
		return Higher
	default:
		return Equal
	}
}

// CheapestFor returns the cheapest purchasable tier granting the given feature
func (c *Catalog) CheapestFor(f Feature) (Tier, bool) {
	for _, t := range c.tierArray {
		if t.Retired {
			continue
		}
		if t.HasFeature(f) {
			return t, true
		}
	}
	return Tier{}, false
}

// CheapestForQuota returns the cheapest purchasable tier whose limit for the
// given quota is at least needed (or unlimited)
func (c *Catalog) CheapestForQuota(q Quota, needed int64) (Tier, bool) {
	for _, t := range c.tierArray {
		if t.Retired {
			continue
		}
		limit := t.LimitFor(q)
		if limit == Unlimited || limit >= needed {
			return t, true
		}
	}
	return Tier{}, false
}

// Benefits lists what the target tier grants beyond the current one: features
// newly enabled and quotas with raised limits. Used for the human-facing part
// of an upgrade suggestion
func (c *Catalog) Benefits(current, target ID) []string {
	from, ok := c.GetByID(current)
	if !ok {
		from = c.FreeTier()
	}
	to, ok := c.GetByID(target)
	if !ok {
		return nil
	}

	gained := make([]string, 0, len(to.Features)+len(to.Limits))
	for _, f := range allFeatures {
		if to.HasFeature(f) && !from.HasFeature(f) {
			gained = append(gained, string(f))
		}
	}
	for _, q := range allQuotas {
		fromLimit := from.LimitFor(q)
		toLimit := to.LimitFor(q)
		if fromLimit == Unlimited {
			continue
		}
		if toLimit == Unlimited {
			gained = append(gained, fmt.Sprintf("unlimited %s", q))
		} else if toLimit > fromLimit {
			gained = append(gained, fmt.Sprintf("%s: %d (up from %d)", q, toLimit, fromLimit))
		}
	}
	return gained
}

// KnownFeature reports whether the feature name is part of the product at all,
// regardless of tier. Unknown names are caller bugs, rejected before any I/O
func KnownFeature(f Feature) bool {
	for _, known := range allFeatures {
		if known == f {
			return true
		}
	}
	return false
}

// KnownQuota reports whether the quota name is part of the product at all
func KnownQuota(q Quota) bool {
	for _, known := range allQuotas {
		if known == q {
			return true
		}
	}
	return false
}

var allFeatures = []Feature{
	FeatureVoiceCommands,
	FeatureAiTutor,
	FeatureAdvancedAnalytics,
	FeatureOfflineMode,
	FeatureCustomStudyPlans,
	FeaturePrioritySupport,
}

var allQuotas = []Quota{
	QuotaDailyAiInteractions,
	QuotaDailyFlashcardReviews,
	QuotaMonthlyPracticeTests,
	QuotaMonthlyEssayReviews,
}

// LoadTiersFromFile will read from the tier JSON file to define what tiers are
// available for purchase. PriceID fields must match the Prices configured on
// Stripe; a drifted PriceID means webhooks resolve to the free tier
func LoadTiersFromFile(filename string) ([]Tier, error) {
	jsonBytes, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot open tiers JSON file")
	}
	tiers := make([]Tier, 0, 3)
	if err := json.Unmarshal(jsonBytes, &tiers); err != nil {
		return nil, extErrors.Wrap(err, "Invalid tiers JSON file")
	}
	return tiers, nil
}
