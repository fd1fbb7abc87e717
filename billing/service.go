package billing

import (
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	resp "github.com/scorely/scorely/response"

	"github.com/go-chi/chi"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
	"go.uber.org/zap"
)

// Stripe documents 64KB as the maximum webhook payload size
const maxPayloadBytes int64 = 65536

// Publisher hands verified events off for asynchronous reconciliation
type Publisher interface {
	PublishBillingEvent(ev *Event) error
}

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Publisher     Publisher
	WebhookSecret string
	Logger        *zap.Logger
}

// Service is the webhook endpoint receiving Stripe's event stream. It verifies
// the signature, normalizes the payload, and publishes it to the broker; the
// worker applies the Reconciler. Anything unverifiable is rejected with 400
// before any state is touched
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the webhook router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Publisher == nil {
		return nil, fmt.Errorf("nil Publisher is invalid")
	}
	if len(option.WebhookSecret) == 0 {
		return nil, fmt.Errorf("empty WebhookSecret is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := ioutil.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Cannot read payload"))
		return
	}

	stripeEvent, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), s.WebhookSecret)
	if err != nil {
		s.Logger.Warn("Rejecting webhook with invalid signature",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid signature"))
		return
	}

	logger := s.Logger.With(
		zap.String("EventID", stripeEvent.ID),
		zap.String("EventType", stripeEvent.Type),
	)

	ev, err := normalize(&stripeEvent)
	if err != nil {
		logger.Error("Cannot normalize event payload",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Malformed event payload"))
		return
	}
	if ev == nil {
		// verified but not a type we act on; acknowledge and move on
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := s.Publisher.PublishBillingEvent(ev); err != nil {
		logger.Error("Cannot publish event to broker",
			zap.Error(err),
		)
		// non-2xx so Stripe redelivers later
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot queue event"))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// normalize extracts the fields the Reconciler needs. Returns nil for event
// types it does not understand
func normalize(stripeEvent *stripe.Event) (*Event, error) {
	ev := &Event{
		ID:         stripeEvent.ID,
		Type:       EventType(stripeEvent.Type),
		ReceivedAt: time.Now(),
	}

	switch ev.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(stripeEvent.Data.Raw, &sub); err != nil {
			return nil, err
		}
		ev.ProviderSubscriptionID = sub.ID
		if sub.Customer != nil {
			ev.ProviderCustomerID = sub.Customer.ID
		}
		if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
			ev.PriceID = sub.Items.Data[0].Price.ID
		}
		ev.ProviderStatus = string(sub.Status)
		ev.PeriodStart = time.Unix(sub.CurrentPeriodStart, 0)
		ev.PeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0)
		ev.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	case EventPaymentSucceeded, EventPaymentFailed:
		var invoice stripe.Invoice
		if err := json.Unmarshal(stripeEvent.Data.Raw, &invoice); err != nil {
			return nil, err
		}
		if invoice.Subscription == nil {
			// one-off invoice, nothing to reconcile
			return nil, nil
		}
		ev.ProviderSubscriptionID = invoice.Subscription.ID
		if invoice.Customer != nil {
			ev.ProviderCustomerID = invoice.Customer.ID
		}
	default:
		return nil, nil
	}

	return ev, nil
}

// Router will return the routes under the webhook API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/stripe", s.handleWebhook)

	return r
}
