package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/scorely/scorely/tier"

	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations relating to usage counters
type Manager struct {
	db       *gorm.DB
	logger   *zap.Logger
	location *time.Location
}

// NewManager returns a new Manager for usage counters. Period boundaries are
// computed in the given location; pass nil for the server's local time
func NewManager(logger *zap.Logger, db *gorm.DB, loc *time.Location) (*Manager, error) {
	if err := db.AutoMigrate(&UsageRecord{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize ledger.Manager")
	}
	if loc == nil {
		loc = time.Local
	}
	return &Manager{
		db:       db,
		logger:   logger,
		location: loc,
	}, nil
}

// Location returns the location used for period boundary computation
func (m *Manager) Location() *time.Location {
	return m.location
}

// Get returns the used count and period start for the current period,
// defaulting to zero when no record exists yet
func (m *Manager) Get(ctx context.Context, userID string, q tier.Quota, now time.Time) (int64, time.Time, error) {
	periodStart := PeriodStart(q, now, m.location)

	var record UsageRecord
	result := m.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("quota = ?", q).
		Where("period_start = ?", periodStart).
		First(&record)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return 0, periodStart, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return 0, periodStart, extErrors.Wrap(result.Error, "Cannot read usage record")
	}

	return record.Used, periodStart, nil
}

// IncrementResult reports the outcome of TryIncrement. Allowed == false means
// the quota would have been exceeded; it is a decision, not an error
type IncrementResult struct {
	Allowed   bool
	Used      int64 // Count after the increment when allowed, current count otherwise
	Remaining int64 // tier.Unlimited when the quota is not metered
}

// The limit guard must sit on the DO UPDATE branch, after SET, where it
// conditions the update itself. A predicate in the conflict-target position
// only takes part in arbiter index inference and would leave the update
// unconditional. A refused update reports zero rows affected
const (
	incrementGuardedSQL = "INSERT INTO usage_records (id, user_id, quota, period_start, used) VALUES (?, ?, ?, ?, ?)" +
		" ON CONFLICT (user_id, quota, period_start) DO UPDATE SET used = usage_records.used + ?" +
		" WHERE usage_records.used + ? <= ?"
	incrementUnmeteredSQL = "INSERT INTO usage_records (id, user_id, quota, period_start, used) VALUES (?, ?, ?, ?, ?)" +
		" ON CONFLICT (user_id, quota, period_start) DO UPDATE SET used = usage_records.used + ?"
)

// TryIncrement consumes amount from the user's current-period counter iff the
// counter stays within limit. The check and the write are one conditional
// upsert arbitrated by the database, so concurrent callers for the same
// (user, quota, period) can never jointly push Used past limit
func (m *Manager) TryIncrement(ctx context.Context, userID string, q tier.Quota, amount, limit int64, now time.Time) (*IncrementResult, error) {
	if amount <= 0 {
		return nil, extErrors.Errorf("increment amount must be positive, got %d", amount)
	}

	periodStart := PeriodStart(q, now, m.location)

	if limit != tier.Unlimited && amount > limit {
		// cannot fit even into an empty period
		used, _, err := m.Get(ctx, userID, q, now)
		if err != nil {
			return nil, err
		}
		return &IncrementResult{
			Allowed:   false,
			Used:      used,
			Remaining: remaining(used, limit),
		}, nil
	}

	var result *gorm.DB
	if limit == tier.Unlimited {
		result = m.db.WithContext(ctx).
			Exec(incrementUnmeteredSQL, shortuuid.New(), userID, string(q), periodStart, amount, amount)
	} else {
		result = m.db.WithContext(ctx).
			Exec(incrementGuardedSQL, shortuuid.New(), userID, string(q), periodStart, amount, amount, amount, limit)
	}
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot increment usage record")
	}

	used, _, err := m.Get(ctx, userID, q, now)
	if err != nil {
		return nil, err
	}

	if result.RowsAffected == 0 {
		// the guard refused: limit would have been exceeded
		return &IncrementResult{
			Allowed:   false,
			Used:      used,
			Remaining: remaining(used, limit),
		}, nil
	}

	return &IncrementResult{
		Allowed:   true,
		Used:      used,
		Remaining: remaining(used, limit),
	}, nil
}

// ResetPeriod zeroes the current-period counter. Administrative correction
// only; normal rollover happens by addressing a new period key
func (m *Manager) ResetPeriod(ctx context.Context, userID string, q tier.Quota, now time.Time) error {
	periodStart := PeriodStart(q, now, m.location)
	result := m.db.WithContext(ctx).Model(&UsageRecord{}).
		Where("user_id = ?", userID).
		Where("quota = ?", q).
		Where("period_start = ?", periodStart).
		UpdateColumn("used", 0)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot reset usage record")
	}
	return nil
}

// Sweep purges usage records whose period started before the cutoff. Storage
// hygiene only; correctness never depends on it running
func (m *Manager) Sweep(ctx context.Context, olderThan time.Time) (int64, error) {
	result := m.db.WithContext(ctx).
		Where("period_start < ?", olderThan).
		Delete(&UsageRecord{})
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return 0, extErrors.Wrap(result.Error, "Cannot sweep usage records")
	}
	return result.RowsAffected, nil
}

func remaining(used, limit int64) int64 {
	if limit == tier.Unlimited {
		return tier.Unlimited
	}
	left := limit - used
	if left < 0 {
		return 0
	}
	return left
}
