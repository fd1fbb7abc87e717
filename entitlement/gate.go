package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/scorely/scorely/ledger"
	"github.com/scorely/scorely/tier"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// Reason is the custom type for machine-readable denial reasons
type Reason string

// Defining the denial reasons. These are decision outcomes, not errors
const (
	ReasonFeatureDisabled Reason = "feature_disabled"
	ReasonLimitExceeded   Reason = "limit_exceeded"
)

// ErrUnknownFeature and ErrUnknownQuota reject caller typos before any I/O
var (
	ErrUnknownFeature = fmt.Errorf("unknown feature name")
	ErrUnknownQuota   = fmt.Errorf("unknown quota name")
)

// UpgradeSuggestion names the cheapest tier that would turn a denial into an
// allow, with the benefits gained over the caller's current tier
type UpgradeSuggestion struct {
	TierID       tier.ID  `json:"tierId"`
	Name         string   `json:"name"`
	MonthlyCents int64    `json:"monthlyCents"`
	Benefits     []string `json:"benefits"`
}

// Decision is the structured outcome of a gate check
type Decision struct {
	Allowed   bool               `json:"allowed"`
	Reason    Reason             `json:"reason,omitempty"`
	Remaining int64              `json:"remaining,omitempty"` // Quota checks only; tier.Unlimited when not metered
	ResetAt   time.Time          `json:"resetAt,omitempty"`   // Quota checks only
	Upgrade   *UpgradeSuggestion `json:"upgrade,omitempty"`
}

// GateOptions contains the configuration for the Gate
type GateOptions struct {
	Resolver *Resolver
	Usage    UsageSource
	Catalog  *tier.Catalog
	Cache    FeatureCache // optional; backs the fail-open path for feature checks
	Logger   *zap.Logger
}

// Gate is the decision point for every privileged request. Feature checks are
// side-effect free and fail open to the last known (or free-tier) feature map
// when the store is unreachable; quota checks consume atomically and fail
// closed, surfacing store trouble as an error the boundary must treat as deny
type Gate struct {
	GateOptions

	now func() time.Time
}

// NewGate will create a Gate on top of the given Resolver
func NewGate(option GateOptions) (*Gate, error) {
	if option.Resolver == nil {
		return nil, fmt.Errorf("nil Resolver is invalid")
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
	return &Gate{
		GateOptions: option,
		now:         time.Now,
	}, nil
}

// CheckFeature decides whether the user may invoke the feature right now.
// No side effects; repeated calls are idempotent
func (g *Gate) CheckFeature(ctx context.Context, userID string, f tier.Feature) (*Decision, error) {
	if !tier.KnownFeature(f) {
		return nil, extErrors.Wrapf(ErrUnknownFeature, "%s", f)
	}

	features, current, err := g.featuresFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	if features[f] {
		return &Decision{Allowed: true}, nil
	}

	return &Decision{
		Allowed: false,
		Reason:  ReasonFeatureDisabled,
		Upgrade: g.suggestForFeature(current, f),
	}, nil
}

// CheckAndConsume decides whether the user may spend amount units of the
// quota and, if so, spends them in the same atomic ledger operation. Never
// split this into a separate check and increment at the call site; the
// combined primitive is what makes concurrent callers unable to overshoot.
// A committed increment is never undone, even if the caller goes away
func (g *Gate) CheckAndConsume(ctx context.Context, userID string, q tier.Quota, amount int64) (*Decision, error) {
	if !tier.KnownQuota(q) {
		return nil, extErrors.Wrapf(ErrUnknownQuota, "%s", q)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d", amount)
	}

	// fail closed on any store trouble from here on
	nominal, effective, err := g.Resolver.ResolveTier(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := g.now()
	effectiveTier, ok := g.Catalog.GetByID(effective)
	if !ok {
		effectiveTier = g.Catalog.FreeTier()
	}
	limit := effectiveTier.LimitFor(q)

	if limit == 0 {
		// quota not available on this tier at all
		return &Decision{
			Allowed:   false,
			Reason:    ReasonLimitExceeded,
			Remaining: 0,
			ResetAt:   g.resetAt(q, now),
			Upgrade:   g.suggestForQuota(nominal, q, amount),
		}, nil
	}

	result, err := g.Usage.TryIncrement(ctx, userID, q, amount, limit, now)
	if err != nil {
		return nil, err
	}

	if !result.Allowed {
		return &Decision{
			Allowed:   false,
			Reason:    ReasonLimitExceeded,
			Remaining: result.Remaining,
			ResetAt:   g.resetAt(q, now),
			Upgrade:   g.suggestForQuota(nominal, q, result.Used+amount),
		}, nil
	}

	return &Decision{
		Allowed:   true,
		Remaining: result.Remaining,
		ResetAt:   g.resetAt(q, now),
	}, nil
}

// featuresFor returns the effective feature map, falling back to the cache
// (and ultimately the free tier) when the store is unreachable. Blocking a
// free boolean capability over a storage hiccup is worse than a brief
// over-grant, so this path fails open, unlike quota checks
func (g *Gate) featuresFor(ctx context.Context, userID string) (map[tier.Feature]bool, tier.ID, error) {
	_, effective, err := g.Resolver.ResolveTier(ctx, userID)
	if err == nil {
		features := g.Catalog.FeaturesOf(effective)
		if g.Cache != nil {
			if cacheErr := g.Cache.SetFeatures(userID, features); cacheErr != nil {
				g.Logger.Debug("Cannot refresh feature cache",
					zap.Error(cacheErr),
				)
			}
		}
		return features, effective, nil
	}

	g.Logger.Warn("Subscription store unavailable, feature check failing open",
		zap.String("UserID", userID),
		zap.Error(err),
	)

	if g.Cache != nil {
		if features, ok := g.Cache.GetFeatures(userID); ok {
			return features, g.Catalog.FreeTier().ID, nil
		}
	}

	free := g.Catalog.FreeTier()
	return g.Catalog.FeaturesOf(free.ID), free.ID, nil
}

func (g *Gate) suggestForFeature(current tier.ID, f tier.Feature) *UpgradeSuggestion {
	target, ok := g.Catalog.CheapestFor(f)
	if !ok {
		return nil
	}
	return g.suggestion(current, target)
}

func (g *Gate) suggestForQuota(current tier.ID, q tier.Quota, needed int64) *UpgradeSuggestion {
	target, ok := g.Catalog.CheapestForQuota(q, needed)
	if !ok {
		return nil
	}
	if g.Catalog.Compare(target.ID, current) != tier.Higher {
		// already on (or above) the best tier for this quota
		return nil
	}
	return g.suggestion(current, target)
}

func (g *Gate) suggestion(current tier.ID, target tier.Tier) *UpgradeSuggestion {
	return &UpgradeSuggestion{
		TierID:       target.ID,
		Name:         target.Name,
		MonthlyCents: target.MonthlyCents,
		Benefits:     g.Catalog.Benefits(current, target.ID),
	}
}

func (g *Gate) resetAt(q tier.Quota, now time.Time) time.Time {
	return ledger.NextReset(q, now, g.Usage.Location())
}
