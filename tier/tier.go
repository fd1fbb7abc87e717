package tier

// ID is the custom type identifying a subscription tier
type ID string

// Defining the tiers offered for purchase, ordered by price
const (
	Free  ID = "free"
	Basic ID = "basic"
	Pro   ID = "pro"
)

// Feature is the custom type naming a boolean capability granted by a tier
type Feature string

// Defining the features gated by tier
const (
	FeatureVoiceCommands     Feature = "voiceCommands"
	FeatureAiTutor           Feature = "aiTutor"
	FeatureAdvancedAnalytics Feature = "advancedAnalytics"
	FeatureOfflineMode       Feature = "offlineMode"
	FeatureCustomStudyPlans  Feature = "customStudyPlans"
	FeaturePrioritySupport   Feature = "prioritySupport"
)

// Quota is the custom type naming a periodically resetting usage counter
type Quota string

// Defining the metered quotas and their reset windows
const (
	QuotaDailyAiInteractions   Quota = "dailyAiInteractions"
	QuotaDailyFlashcardReviews Quota = "dailyFlashcardReviews"
	QuotaMonthlyPracticeTests  Quota = "monthlyPracticeTests"
	QuotaMonthlyEssayReviews   Quota = "monthlyEssayReviews"
)

// Unlimited is the sentinel limit meaning the quota is not metered for the tier
const Unlimited int64 = -1

// Tier describes a purchasable subscription level. This corresponds to Stripe's "Product",
// with PriceID corresponding to its single recurring "Price"
type Tier struct {
	ID           ID               `json:"id"`           // Internal identifier (e.g. "basic")
	Name         string           `json:"name"`         // Represent the name shown to the customer
	Description  string           `json:"description"`  // Shown to the customer
	PriceID      string           `json:"priceId"`      // Corresponds to Stripe's Price ID
	MonthlyCents int64            `json:"monthlyCents"` // Price in cents per month, defines the tier total order
	Features     map[Feature]bool `json:"features"`     // Boolean capabilities granted by this tier
	Limits       map[Quota]int64  `json:"limits"`       // Per-quota limits; Unlimited (-1) means not metered
	Retired      bool             `json:"retired"`      // Flag if the Tier can no longer be purchased
}

// HasFeature reports whether the tier grants the given feature
func (t *Tier) HasFeature(f Feature) bool {
	return t.Features[f]
}

// LimitFor returns the limit for the given quota. A quota absent from the
// tier's limit map is not available at all, reported as a zero limit
func (t *Tier) LimitFor(q Quota) int64 {
	limit, ok := t.Limits[q]
	if !ok {
		return 0
	}
	return limit
}
