package external

import (
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

// Provider calls sit on user-facing request paths, so they must give up
// rather than hang
const stripeTimeout = 15 * time.Second

// NewStripeClient returns a Stripe API client with a bounded per-request
// timeout
func NewStripeClient(key string) *client.API {
	config := &stripe.BackendConfig{
		HTTPClient: &http.Client{
			Timeout: stripeTimeout,
		},
	}
	sc := &client.API{}
	sc.Init(key, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, config),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, config),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, config),
	})
	return sc
}
