package task

import (
	"context"
	"fmt"
	"time"

	"github.com/scorely/scorely/ledger"

	"go.uber.org/zap"
)

// SweepOptions contains the configuration for the usage sweep task
type SweepOptions struct {
	LedgerManager *ledger.Manager
	Interval      time.Duration // how often to sweep
	Retain        time.Duration // how far back to keep usage records
	Logger        *zap.Logger
}

// SweepTask periodically purges usage records from long-closed periods.
// Hygiene only; quota correctness never depends on this running
type SweepTask struct {
	SweepOptions
}

// NewSweepTask will create a task for purging old usage records
func NewSweepTask(option SweepOptions) (*SweepTask, error) {
	if option.LedgerManager == nil {
		return nil, fmt.Errorf("nil LedgerManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Interval <= 0 {
		option.Interval = time.Hour * 24
	}
	if option.Retain <= 0 {
		option.Retain = time.Hour * 24 * 90
	}
	return &SweepTask{
		SweepOptions: option,
	}, nil
}

// HandleSweep runs the sweep on its interval until ctx is cancelled
func (t *SweepTask) HandleSweep(ctx context.Context) {
	go func() {
		tick := time.NewTicker(t.Interval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				purged, err := t.LedgerManager.Sweep(ctx, time.Now().Add(-t.Retain))
				if err != nil {
					t.Logger.Error("Cannot sweep usage records",
						zap.Error(err),
					)
					continue
				}
				if purged > 0 {
					t.Logger.Info("Swept old usage records",
						zap.Int64("Purged", purged),
					)
				}
			}
		}
	}()
}
