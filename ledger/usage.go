package ledger

import (
	"time"

	"github.com/scorely/scorely/tier"
)

// UsageRecord describes one user's consumption of one quota within one period.
// A new period simply addresses a new record; rollover needs no mutation
type UsageRecord struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	UserID      string     `json:"userId" gorm:"uniqueIndex:idx_usage_period;not null"`
	Quota       tier.Quota `json:"quota" gorm:"uniqueIndex:idx_usage_period;not null"`
	PeriodStart time.Time  `json:"periodStart" gorm:"uniqueIndex:idx_usage_period;not null"` // Computed via PeriodStart(), identifies the window
	Used        int64      `json:"used" gorm:"not null;default:0"`                           // Monotonically non-decreasing within a period
}
