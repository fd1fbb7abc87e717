package billing

import "time"

// EventType is the custom type for provider lifecycle event names. The values
// mirror Stripe's own event types so the webhook handler can switch directly
type EventType string

// Defining the event types the Reconciler understands
const (
	EventSubscriptionCreated EventType = "customer.subscription.created"
	EventSubscriptionUpdated EventType = "customer.subscription.updated"
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"
	EventPaymentSucceeded    EventType = "invoice.payment_succeeded"
	EventPaymentFailed       EventType = "invoice.payment_failed"
)

// Event is the normalized form of a provider webhook event, carrying the
// provider's absolute field values. It is what travels over the broker between
// the webhook endpoint and the reconciling worker
type Event struct {
	ID                     string    `json:"id"` // Provider event id, for log correlation
	Type                   EventType `json:"type"`
	ProviderSubscriptionID string    `json:"providerSubscriptionId"`
	ProviderCustomerID     string    `json:"providerCustomerId"`
	PriceID                string    `json:"priceId"`
	ProviderStatus         string    `json:"providerStatus"`
	PeriodStart            time.Time `json:"periodStart"`
	PeriodEnd              time.Time `json:"periodEnd"`
	CancelAtPeriodEnd      bool      `json:"cancelAtPeriodEnd"`
	ReceivedAt             time.Time `json:"receivedAt"`
}
