package entitlement

import (
	"context"
	"sync"
	"time"

	"github.com/scorely/scorely/ledger"
	"github.com/scorely/scorely/subscription"
	"github.com/scorely/scorely/tier"
)

type fakeSubscriptions struct {
	records map[string]*subscription.Record
	err     error
}

func newFakeSubscriptions() *fakeSubscriptions {
	return &fakeSubscriptions{
		records: make(map[string]*subscription.Record),
	}
}

func (f *fakeSubscriptions) GetByUserID(ctx context.Context, userID string) (*subscription.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	record, ok := f.records[userID]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

type usageKey struct {
	userID      string
	quota       tier.Quota
	periodStart time.Time
}

// fakeUsage mirrors the ledger's atomic check-and-increment contract in memory
type fakeUsage struct {
	mu       sync.Mutex
	counters map[usageKey]int64
	err      error
}

func newFakeUsage() *fakeUsage {
	return &fakeUsage{
		counters: make(map[usageKey]int64),
	}
}

func (f *fakeUsage) key(userID string, q tier.Quota, now time.Time) usageKey {
	return usageKey{
		userID:      userID,
		quota:       q,
		periodStart: ledger.PeriodStart(q, now, time.UTC),
	}
}

func (f *fakeUsage) Get(ctx context.Context, userID string, q tier.Quota, now time.Time) (int64, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, time.Time{}, f.err
	}
	key := f.key(userID, q, now)
	return f.counters[key], key.periodStart, nil
}

func (f *fakeUsage) TryIncrement(ctx context.Context, userID string, q tier.Quota, amount, limit int64, now time.Time) (*ledger.IncrementResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	key := f.key(userID, q, now)
	used := f.counters[key]
	if limit != tier.Unlimited && used+amount > limit {
		remaining := limit - used
		if remaining < 0 {
			remaining = 0
		}
		return &ledger.IncrementResult{
			Allowed:   false,
			Used:      used,
			Remaining: remaining,
		}, nil
	}
	used += amount
	f.counters[key] = used
	remaining := tier.Unlimited
	if limit != tier.Unlimited {
		remaining = limit - used
	}
	return &ledger.IncrementResult{
		Allowed:   true,
		Used:      used,
		Remaining: remaining,
	}, nil
}

func (f *fakeUsage) Location() *time.Location {
	return time.UTC
}
