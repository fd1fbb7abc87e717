package subscription

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/scorely/scorely/auth"
	resp "github.com/scorely/scorely/response"
	"github.com/scorely/scorely/tier"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	SubscriptionManager *Manager
	Catalog             *tier.Catalog
	Logger              *zap.Logger
}

// Service is the subscription API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the subscription API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.Catalog == nil {
		return nil, fmt.Errorf("nil Catalog is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) getSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(zap.String("UserID", claims.ID))

	record, err := s.SubscriptionManager.EnsureRecord(ctx, claims.ID, claims.Email)
	if err != nil {
		logger.Error("Unable to load subscription record",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get subscription details"))
		return
	}

	resp.WriteResponse(w, r, record)
}

func (s *Service) listPlans(w http.ResponseWriter, r *http.Request) {
	tiers := s.Catalog.ListTiers()
	visible := make([]tier.Tier, 0, len(tiers))
	for _, t := range tiers {
		if t.Retired {
			continue
		}
		visible = append(visible, t)
	}
	resp.WriteResponse(w, r, visible)
}

// ChangePlanRequest is the model of a user request to move to another tier
type ChangePlanRequest struct {
	TierID string `json:"tierId" validate:"required"`
}

func (s *Service) changePlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(zap.String("UserID", claims.ID))

	var req ChangePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("tierId is required"))
		return
	}

	target, ok := s.Catalog.GetByID(tier.ID(req.TierID))
	if !ok || target.Retired || len(target.PriceID) == 0 {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unknown or unavailable tier"))
		return
	}

	logger = logger.With(zap.String("TierID", string(target.ID)))

	record, err := s.SubscriptionManager.ChangePlan(ctx, claims.ID, claims.Email, target)
	if err != nil {
		logger.Error("Unable to change plan",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to change plan").WithResult(err.Error()))
		return
	}

	resp.WriteResponse(w, r, record)
}

// CancelRequest is the model of a user request to cancel their subscription
type CancelRequest struct {
	AtPeriodEnd bool `json:"atPeriodEnd"`
}

func (s *Service) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(zap.String("UserID", claims.ID))

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	record, err := s.SubscriptionManager.Cancel(ctx, claims.ID, req.AtPeriodEnd)
	if err != nil {
		logger.Error("Unable to cancel subscription",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to cancel subscription").WithResult(err.Error()))
		return
	}

	resp.WriteResponse(w, r, record)
}

func (s *Service) reactivateSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(zap.String("UserID", claims.ID))

	record, err := s.SubscriptionManager.Reactivate(ctx, claims.ID)
	if err != nil {
		logger.Error("Unable to reactivate subscription",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to reactivate subscription").WithResult(err.Error()))
		return
	}

	resp.WriteResponse(w, r, record)
}

// Router will return the routes under subscription API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.getSubscription)
	r.Get("/plans", s.listPlans)
	r.Post("/change", s.changePlan)
	r.Post("/cancel", s.cancelSubscription)
	r.Post("/reactivate", s.reactivateSubscription)

	return r
}
