package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/scorely/scorely/ledger"
	"github.com/scorely/scorely/subscription"
	"github.com/scorely/scorely/tier"

	"go.uber.org/zap"
)

// SubscriptionSource is the slice of subscription.Manager the Resolver needs
type SubscriptionSource interface {
	GetByUserID(ctx context.Context, userID string) (*subscription.Record, error)
}

// UsageSource is the slice of ledger.Manager the Resolver and Gate need
type UsageSource interface {
	Get(ctx context.Context, userID string, q tier.Quota, now time.Time) (int64, time.Time, error)
	TryIncrement(ctx context.Context, userID string, q tier.Quota, amount, limit int64, now time.Time) (*ledger.IncrementResult, error)
	Location() *time.Location
}

// ResolverOptions contains the configuration for the Resolver
type ResolverOptions struct {
	Subscriptions SubscriptionSource
	Usage         UsageSource
	Catalog       *tier.Catalog
	Logger        *zap.Logger
}

// Resolver combines the subscription record, the tier catalog, and the usage
// ledger into entitlement snapshots. Pure projection; it never mutates state
// and is safe for concurrent use
type Resolver struct {
	ResolverOptions
}

// NewResolver will create a Resolver for entitlement snapshots
func NewResolver(option ResolverOptions) (*Resolver, error) {
	if option.Subscriptions == nil {
		return nil, fmt.Errorf("nil Subscriptions is invalid")
	}
	if option.Usage == nil {
		return nil, fmt.Errorf("nil Usage is invalid")
	}
	if option.Catalog == nil {
		return nil, fmt.Errorf("nil Catalog is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Resolver{
		ResolverOptions: option,
	}, nil
}

// Resolve produces the full entitlement snapshot for a user. A user without a
// record resolves to the free tier with zero usage
func (r *Resolver) Resolve(ctx context.Context, userID string, now time.Time) (*Snapshot, error) {
	record, err := r.Subscriptions.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	nominal, status := nominalOf(record, r.Catalog)
	effective := EffectiveTier(record, r.Catalog)

	limits := r.Catalog.LimitsOf(effective)
	quotas := make(map[tier.Quota]QuotaStatus, len(limits))
	for q, limit := range limits {
		used, _, err := r.Usage.Get(ctx, userID, q, now)
		if err != nil {
			return nil, err
		}
		remaining := tier.Unlimited
		if limit != tier.Unlimited {
			remaining = limit - used
			if remaining < 0 {
				remaining = 0
			}
		}
		quotas[q] = QuotaStatus{
			Limit:     limit,
			Used:      used,
			Remaining: remaining,
			ResetAt:   ledger.NextReset(q, now, r.Usage.Location()),
		}
	}

	return &Snapshot{
		UserID:   userID,
		TierID:   nominal,
		Status:   status,
		Features: r.Catalog.FeaturesOf(effective),
		Quotas:   quotas,
	}, nil
}

// ResolveTier returns the nominal and effective tier without touching the
// ledger. The Gate uses it for feature checks and to price a single quota
// check without scanning every counter
func (r *Resolver) ResolveTier(ctx context.Context, userID string) (nominal, effective tier.ID, err error) {
	record, err := r.Subscriptions.GetByUserID(ctx, userID)
	if err != nil {
		return "", "", err
	}
	nominal, _ = nominalOf(record, r.Catalog)
	return nominal, EffectiveTier(record, r.Catalog), nil
}

func nominalOf(record *subscription.Record, catalog *tier.Catalog) (tier.ID, subscription.Status) {
	if record == nil {
		return catalog.FreeTier().ID, subscription.StatusActive
	}
	return record.TierID, record.Status
}
