package ledger

import (
	"time"

	"github.com/scorely/scorely/tier"
)

// Window is the custom type for how often a quota counter resets
type Window string

// Defining the reset windows
const (
	WindowDaily   Window = "Daily"
	WindowMonthly Window = "Monthly"
)

var quotaWindows = map[tier.Quota]Window{
	tier.QuotaDailyAiInteractions:   WindowDaily,
	tier.QuotaDailyFlashcardReviews: WindowDaily,
	tier.QuotaMonthlyPracticeTests:  WindowMonthly,
	tier.QuotaMonthlyEssayReviews:   WindowMonthly,
}

// WindowOf returns the reset window for a quota. Quotas without a declared
// window accumulate monthly, the longer window, so a missing declaration can
// never grant more usage than intended
func WindowOf(q tier.Quota) Window {
	w, ok := quotaWindows[q]
	if !ok {
		return WindowMonthly
	}
	return w
}

// PeriodStart computes the start of the period containing now for the given
// quota: local midnight for daily windows, first of the calendar month for
// monthly ones. The returned time is the record key, so the same (quota, now,
// loc) always yields the same instant
func PeriodStart(q tier.Quota, now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	switch WindowOf(q) {
	case WindowDaily:
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	default:
		return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	}
}

// NextReset returns when the period containing now rolls over
func NextReset(q tier.Quota, now time.Time, loc *time.Location) time.Time {
	start := PeriodStart(q, now, loc)
	switch WindowOf(q) {
	case WindowDaily:
		return start.AddDate(0, 0, 1)
	default:
		return start.AddDate(0, 1, 0)
	}
}
