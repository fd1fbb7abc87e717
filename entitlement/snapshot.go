package entitlement

import (
	"time"

	"github.com/scorely/scorely/subscription"
	"github.com/scorely/scorely/tier"
)

// QuotaStatus describes one quota of a snapshot
type QuotaStatus struct {
	Limit     int64     `json:"limit"` // tier.Unlimited when not metered
	Used      int64     `json:"used"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// Snapshot is the resolved entitlement of a user at one instant. It is always
// derived fresh from the subscription record, the catalog, and the ledger, and
// is never persisted, so it cannot go stale independent of its sources.
// TierID is the nominal tier on the record; Features and Quotas reflect the
// effective tier after the status policy is applied
type Snapshot struct {
	UserID   string                     `json:"userId"`
	TierID   tier.ID                    `json:"tierId"`
	Status   subscription.Status        `json:"status"`
	Features map[tier.Feature]bool      `json:"features"`
	Quotas   map[tier.Quota]QuotaStatus `json:"quotas"`
}

// EffectiveTier returns the tier whose features and limits actually apply:
// the nominal tier while the status still carries entitlement, the free tier
// otherwise
func EffectiveTier(record *subscription.Record, catalog *tier.Catalog) tier.ID {
	if record == nil {
		return catalog.FreeTier().ID
	}
	if !record.Status.Entitled() {
		return catalog.FreeTier().ID
	}
	return record.TierID
}
