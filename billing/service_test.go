package billing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
)

func stripeEvent(t *testing.T, eventType string, obj interface{}) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(obj)
	require.NoError(t, err)
	return &stripe.Event{
		ID:   "evt_test",
		Type: eventType,
		Data: &stripe.EventData{
			Raw: raw,
		},
	}
}

func TestNormalizeSubscriptionEvent(t *testing.T) {
	periodStart := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 1, 0)
	event := stripeEvent(t, string(EventSubscriptionUpdated), map[string]interface{}{
		"id": "sub_123",
		"customer": map[string]interface{}{
			"id": "cus_123",
		},
		"items": map[string]interface{}{
			"data": []map[string]interface{}{
				{
					"price": map[string]interface{}{
						"id": "price_basic",
					},
				},
			},
		},
		"status":               "past_due",
		"current_period_start": periodStart.Unix(),
		"current_period_end":   periodEnd.Unix(),
		"cancel_at_period_end": true,
	})

	ev, err := normalize(event)
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, "evt_test", ev.ID)
	assert.Equal(t, EventSubscriptionUpdated, ev.Type)
	assert.Equal(t, "sub_123", ev.ProviderSubscriptionID)
	assert.Equal(t, "cus_123", ev.ProviderCustomerID)
	assert.Equal(t, "price_basic", ev.PriceID)
	assert.Equal(t, "past_due", ev.ProviderStatus)
	assert.True(t, ev.PeriodStart.Equal(periodStart))
	assert.True(t, ev.PeriodEnd.Equal(periodEnd))
	assert.True(t, ev.CancelAtPeriodEnd)
}

func TestNormalizeInvoiceEvent(t *testing.T) {
	event := stripeEvent(t, string(EventPaymentFailed), map[string]interface{}{
		"id": "in_123",
		"customer": map[string]interface{}{
			"id": "cus_123",
		},
		"subscription": map[string]interface{}{
			"id": "sub_123",
		},
	})

	ev, err := normalize(event)
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, EventPaymentFailed, ev.Type)
	assert.Equal(t, "sub_123", ev.ProviderSubscriptionID)
	assert.Equal(t, "cus_123", ev.ProviderCustomerID)
}

func TestNormalizeOneOffInvoiceIgnored(t *testing.T) {
	event := stripeEvent(t, string(EventPaymentSucceeded), map[string]interface{}{
		"id": "in_456",
		"customer": map[string]interface{}{
			"id": "cus_123",
		},
	})

	ev, err := normalize(event)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestNormalizeUnhandledType(t *testing.T) {
	event := stripeEvent(t, "charge.refunded", map[string]interface{}{
		"id": "ch_123",
	})

	ev, err := normalize(event)
	require.NoError(t, err)
	assert.Nil(t, ev)
}
