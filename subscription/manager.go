package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/scorely/scorely/tier"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ManagerOptions contains the configuration for the subscription Manager
type ManagerOptions struct {
	StripeClient *client.API
	DB           *gorm.DB
	Logger       *zap.Logger
	Catalog      *tier.Catalog
}

// Manager handles subscription records in the database and the corresponding
// mutations against Stripe
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for subscription records
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.StripeClient == nil {
		return nil, fmt.Errorf("nil StripeClient is invalid")
	}
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Catalog == nil {
		return nil, fmt.Errorf("nil Catalog is invalid")
	}
	if err := option.DB.AutoMigrate(&Record{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize subscription.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// GetByUserID will try to return the subscription record by user id
func (m *Manager) GetByUserID(ctx context.Context, userID string) (*Record, error) {
	var record Record

	result := m.DB.WithContext(ctx).First(&record, "user_id = ?", userID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription record by user id")
	}

	return &record, nil
}

// GetByProviderSubscriptionID will try to return the subscription record by
// Stripe Subscription ID
func (m *Manager) GetByProviderSubscriptionID(ctx context.Context, subscriptionID string) (*Record, error) {
	var record Record

	result := m.DB.WithContext(ctx).First(&record, "provider_subscription_id = ?", subscriptionID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription record by provider subscription id")
	}

	return &record, nil
}

// GetByProviderCustomerID will try to return the subscription record by
// Stripe Customer ID. Used when an event arrives before the record is linked
// to a subscription id
func (m *Manager) GetByProviderCustomerID(ctx context.Context, customerID string) (*Record, error) {
	var record Record

	result := m.DB.WithContext(ctx).First(&record, "provider_customer_id = ?", customerID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription record by provider customer id")
	}

	return &record, nil
}

// Save upserts the record with absolute field values. Both the Reconciler and
// the optimistic command path funnel through here, so replaying either write
// converges on the same row
func (m *Manager) Save(ctx context.Context, record *Record) error {
	result := m.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(record)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot save subscription record")
	}
	return nil
}

// EnsureRecord returns the user's subscription record, creating the free-tier
// default (with a backing Stripe Customer) on first sight
func (m *Manager) EnsureRecord(ctx context.Context, userID, email string) (*Record, error) {
	record, err := m.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}

	params := &stripe.CustomerParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Email: stripe.String(email),
	}
	cust, err := m.StripeClient.Customers.New(params)
	if err != nil {
		m.Logger.Error("Stripe returned error",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot create customer on Stripe")
	}

	record = &Record{
		UserID:             userID,
		TierID:             m.Catalog.FreeTier().ID,
		Status:             StatusActive,
		ProviderCustomerID: cust.ID,
	}
	if err := m.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// ChangePlan moves the user onto the target tier: a new Stripe subscription
// when none exists, otherwise a price change on the existing one. On success
// the expected state is mirrored locally; the webhook event remains the source
// of truth and will overwrite this optimistic write
func (m *Manager) ChangePlan(ctx context.Context, userID, email string, target tier.Tier) (*Record, error) {
	record, err := m.EnsureRecord(ctx, userID, email)
	if err != nil {
		return nil, err
	}

	if len(record.ProviderSubscriptionID) == 0 {
		subscriptionParams := &stripe.SubscriptionParams{
			Params: stripe.Params{
				Context: ctx,
			},
			Customer: stripe.String(record.ProviderCustomerID),
			Items: []*stripe.SubscriptionItemsParams{
				{
					Price: stripe.String(target.PriceID),
				},
			},
		}
		sub, err := m.StripeClient.Subscriptions.New(subscriptionParams)
		if err != nil {
			return nil, err
		}
		record.ProviderSubscriptionID = sub.ID
		record.CanceledSubscriptionID = ""
	} else {
		sub, err := m.StripeClient.Subscriptions.Get(record.ProviderSubscriptionID, &stripe.SubscriptionParams{
			Params: stripe.Params{
				Context: ctx,
			},
		})
		if err != nil {
			return nil, err
		}
		if len(sub.Items.Data) == 0 {
			return nil, fmt.Errorf("subscription %s has no items to change", sub.ID)
		}
		updateParams := &stripe.SubscriptionParams{
			Params: stripe.Params{
				Context: ctx,
			},
			CancelAtPeriodEnd: stripe.Bool(false),
			Items: []*stripe.SubscriptionItemsParams{
				{
					ID:    stripe.String(sub.Items.Data[0].ID),
					Price: stripe.String(target.PriceID),
				},
			},
		}
		if _, err := m.StripeClient.Subscriptions.Update(record.ProviderSubscriptionID, updateParams); err != nil {
			return nil, err
		}
	}

	record.TierID = target.ID
	record.ProviderPriceID = target.PriceID
	record.CancelAtPeriodEnd = false
	if err := m.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Cancel ends the user's paid subscription, either at period end (keeping the
// tier until then) or immediately (degrading to free right away)
func (m *Manager) Cancel(ctx context.Context, userID string, atPeriodEnd bool) (*Record, error) {
	record, err := m.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if record == nil || len(record.ProviderSubscriptionID) == 0 {
		return nil, fmt.Errorf("no paid subscription to cancel")
	}

	if atPeriodEnd {
		updateParams := &stripe.SubscriptionParams{
			Params: stripe.Params{
				Context: ctx,
			},
			CancelAtPeriodEnd: stripe.Bool(true),
		}
		if _, err := m.StripeClient.Subscriptions.Update(record.ProviderSubscriptionID, updateParams); err != nil {
			return nil, err
		}
		record.CancelAtPeriodEnd = true
	} else {
		cancelParams := &stripe.SubscriptionCancelParams{
			Params: stripe.Params{
				Context: ctx,
			},
		}
		if _, err := m.StripeClient.Subscriptions.Cancel(record.ProviderSubscriptionID, cancelParams); err != nil {
			return nil, err
		}
		record.Status = StatusCanceled
		record.TierID = m.Catalog.FreeTier().ID
		record.ProviderPriceID = ""
		record.CanceledSubscriptionID = record.ProviderSubscriptionID
		record.ProviderSubscriptionID = ""
		record.CancelAtPeriodEnd = false
	}

	if err := m.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Reactivate withdraws a pending cancel-at-period-end
func (m *Manager) Reactivate(ctx context.Context, userID string) (*Record, error) {
	record, err := m.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if record == nil || len(record.ProviderSubscriptionID) == 0 {
		return nil, fmt.Errorf("no subscription to reactivate")
	}
	if !record.CancelAtPeriodEnd {
		return record, nil
	}

	updateParams := &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	if _, err := m.StripeClient.Subscriptions.Update(record.ProviderSubscriptionID, updateParams); err != nil {
		return nil, err
	}

	record.CancelAtPeriodEnd = false
	if err := m.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}
