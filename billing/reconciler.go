package billing

import (
	"context"
	"fmt"

	"github.com/scorely/scorely/subscription"
	"github.com/scorely/scorely/tier"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrNotLinked signals that no local record matches the event yet. The event
// arrived before signup finished creating the record; redelivery will find it
var ErrNotLinked = fmt.Errorf("no subscription record linked to event")

// RecordStore is the slice of subscription.Manager the Reconciler needs
type RecordStore interface {
	GetByProviderSubscriptionID(ctx context.Context, subscriptionID string) (*subscription.Record, error)
	GetByProviderCustomerID(ctx context.Context, customerID string) (*subscription.Record, error)
	Save(ctx context.Context, record *subscription.Record) error
}

// ReconcilerOptions contains the configuration for the Reconciler
type ReconcilerOptions struct {
	Store   RecordStore
	Catalog *tier.Catalog
	Logger  *zap.Logger
}

// Reconciler folds provider lifecycle events into subscription records. Every
// handler writes the event's absolute field values, so replaying an event any
// number of times, in any interleaving, converges on the provider's state
type Reconciler struct {
	ReconcilerOptions
}

// NewReconciler will create a Reconciler for billing events
func NewReconciler(option ReconcilerOptions) (*Reconciler, error) {
	if option.Store == nil {
		return nil, fmt.Errorf("nil Store is invalid")
	}
	if option.Catalog == nil {
		return nil, fmt.Errorf("nil Catalog is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Reconciler{
		ReconcilerOptions: option,
	}, nil
}

// Apply processes one event. Unrecognized event types are ignored. Returns
// ErrNotLinked when no record matches; the caller decides whether to retry
func (r *Reconciler) Apply(ctx context.Context, ev *Event) error {
	logger := r.Logger.With(
		zap.String("EventID", ev.ID),
		zap.String("EventType", string(ev.Type)),
		zap.String("ProviderSubscriptionID", ev.ProviderSubscriptionID),
	)

	switch ev.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return r.applySubscriptionState(ctx, logger, ev)
	case EventSubscriptionDeleted:
		return r.applySubscriptionDeleted(ctx, logger, ev)
	case EventPaymentSucceeded:
		return r.applyPaymentOutcome(ctx, logger, ev, subscription.StatusActive)
	case EventPaymentFailed:
		return r.applyPaymentOutcome(ctx, logger, ev, subscription.StatusPastDue)
	default:
		logger.Debug("Ignoring unrecognized event type")
		return nil
	}
}

func (r *Reconciler) find(ctx context.Context, ev *Event) (*subscription.Record, error) {
	record, err := r.Store.GetByProviderSubscriptionID(ctx, ev.ProviderSubscriptionID)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}
	// the record may not carry a subscription id yet (checkout still in
	// flight) or may have been canceled (id cleared); fall back to customer
	record, err = r.Store.GetByProviderCustomerID(ctx, ev.ProviderCustomerID)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}
	return nil, extErrors.Wrapf(ErrNotLinked, "customer %s", ev.ProviderCustomerID)
}

func (r *Reconciler) applySubscriptionState(ctx context.Context, logger *zap.Logger, ev *Event) error {
	record, err := r.find(ctx, ev)
	if err != nil {
		return err
	}

	// canceled is terminal: a stale created/updated referencing the canceled
	// subscription id must not resurrect it
	if record.CanceledSubscriptionID == ev.ProviderSubscriptionID {
		logger.Info("Dropping stale event for canceled subscription")
		return nil
	}

	record.ProviderSubscriptionID = ev.ProviderSubscriptionID
	record.ProviderPriceID = ev.PriceID
	record.TierID = r.Catalog.TierFor(ev.PriceID)
	record.Status = statusFromProvider(ev.ProviderStatus)
	record.PeriodStart = ev.PeriodStart
	record.PeriodEnd = ev.PeriodEnd
	record.CancelAtPeriodEnd = ev.CancelAtPeriodEnd

	return r.Store.Save(ctx, record)
}

func (r *Reconciler) applySubscriptionDeleted(ctx context.Context, logger *zap.Logger, ev *Event) error {
	record, err := r.find(ctx, ev)
	if err != nil {
		return err
	}

	record.Status = subscription.StatusCanceled
	record.TierID = r.Catalog.FreeTier().ID
	record.ProviderPriceID = ""
	record.CanceledSubscriptionID = ev.ProviderSubscriptionID
	record.ProviderSubscriptionID = ""
	record.CancelAtPeriodEnd = false

	return r.Store.Save(ctx, record)
}

func (r *Reconciler) applyPaymentOutcome(ctx context.Context, logger *zap.Logger, ev *Event, status subscription.Status) error {
	record, err := r.find(ctx, ev)
	if err != nil {
		return err
	}

	if record.CanceledSubscriptionID == ev.ProviderSubscriptionID {
		logger.Info("Dropping stale payment event for canceled subscription")
		return nil
	}
	if record.ProviderSubscriptionID != ev.ProviderSubscriptionID {
		logger.Info("Dropping payment event for a different subscription",
			zap.String("LinkedSubscriptionID", record.ProviderSubscriptionID),
		)
		return nil
	}

	record.Status = status

	return r.Store.Save(ctx, record)
}

// statusFromProvider maps Stripe's subscription status vocabulary onto ours
func statusFromProvider(providerStatus string) subscription.Status {
	switch providerStatus {
	case "trialing":
		return subscription.StatusTrialing
	case "past_due", "unpaid", "incomplete":
		return subscription.StatusPastDue
	case "canceled", "incomplete_expired":
		return subscription.StatusCanceled
	default:
		return subscription.StatusActive
	}
}
