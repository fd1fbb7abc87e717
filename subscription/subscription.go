package subscription

import (
	"time"

	"github.com/scorely/scorely/tier"
)

// Record describes one user's subscription. Created at signup defaulted to the
// free tier, never deleted, only transitioned to canceled. The Reconciler is
// the authoritative writer; the command path pre-writes expected state so the
// UI reflects a change before the provider's confirming event lands
type Record struct {
	UserID                 string    `json:"userId" gorm:"primaryKey"`
	TierID                 tier.ID   `json:"tierId" gorm:"not null"` // Always derivable from ProviderPriceID via the Catalog
	Status                 Status    `json:"status" gorm:"not null"`
	PeriodStart            time.Time `json:"periodStart"` // Billing period, not a quota window
	PeriodEnd              time.Time `json:"periodEnd"`
	CancelAtPeriodEnd      bool      `json:"cancelAtPeriodEnd"`
	ProviderCustomerID     string    `json:"providerCustomerId" gorm:"index"`     // Corresponds to Stripe's Customer ID
	ProviderSubscriptionID string    `json:"providerSubscriptionId" gorm:"index"` // Corresponds to Stripe's Subscription ID; cleared once canceled
	ProviderPriceID        string    `json:"providerPriceId"`                     // Corresponds to Stripe's Price ID
	CanceledSubscriptionID string    `json:"-"`                                   // Remembers the last canceled Subscription ID so stale "updated" events cannot resurrect it
	UpdatedAt              time.Time `json:"updatedAt"`
}
