package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/scorely/scorely/billing"
	"github.com/scorely/scorely/broker"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// BillingOptions contains the configuration for the billing reconcile task
type BillingOptions struct {
	Reconciler *billing.Reconciler
	Consumer   broker.Consumer
	Logger     *zap.Logger
}

// BillingTask drains verified billing events from the broker and folds them
// into subscription records
type BillingTask struct {
	BillingOptions
}

// NewBillingTask will create a task for reconciling billing events
func NewBillingTask(option BillingOptions) (*BillingTask, error) {
	if option.Reconciler == nil {
		return nil, fmt.Errorf("nil Reconciler is invalid")
	}
	if option.Consumer == nil {
		return nil, fmt.Errorf("nil Consumer is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &BillingTask{
		BillingOptions: option,
	}, nil
}

// HandleReconcile starts consuming billing events until ctx is cancelled.
// Events that arrive before their record exists are requeued once; replays
// are harmless because every reconcile is an absolute-state upsert
func (t *BillingTask) HandleReconcile(ctx context.Context) error {
	dChan, err := t.Consumer.ReceiveBillingEvents(ctx)
	if err != nil {
		return extErrors.Wrap(err, "Cannot get billing event channel")
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-dChan:
				t.process(ctx, d)
			}
		}
	}()
	return nil
}

func (t *BillingTask) process(ctx context.Context, d broker.Delivery) {
	logger := t.Logger.With(
		zap.String("EventID", d.Event.ID),
		zap.String("EventType", string(d.Event.Type)),
	)

	err := t.Reconciler.Apply(ctx, d.Event)
	if err == nil {
		if ackErr := d.Ack(); ackErr != nil {
			logger.Error("Cannot ack billing event",
				zap.Error(ackErr),
			)
		}
		return
	}

	if errors.Is(err, billing.ErrNotLinked) {
		if d.Redelivered {
			// second miss: the customer genuinely has no record, drop it
			logger.Warn("Dropping billing event with no linked record",
				zap.Error(err),
			)
			if ackErr := d.Ack(); ackErr != nil {
				logger.Error("Cannot ack billing event",
					zap.Error(ackErr),
				)
			}
			return
		}
		logger.Info("Record not linked yet, requeueing event")
	} else {
		logger.Error("Cannot reconcile billing event, requeueing",
			zap.Error(err),
		)
	}

	if requeueErr := d.Requeue(); requeueErr != nil {
		logger.Error("Cannot requeue billing event",
			zap.Error(requeueErr),
		)
	}
}
