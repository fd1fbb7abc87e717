package entitlement

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

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
	Resolver *Resolver
	Gate     *Gate
	Logger   *zap.Logger
}

// Service is the entitlement API router. The dashboard reads the snapshot
// from here; the extension and desktop shells spend quota through /consume.
// Denials map to 403 (feature) and 429 (quota) with the upgrade suggestion in
// the body; store trouble on the quota path maps to 503, never to an allow
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the entitlement API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Resolver == nil {
		return nil, fmt.Errorf("nil Resolver is invalid")
	}
	if option.Gate == nil {
		return nil, fmt.Errorf("nil Gate is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) getSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(zap.String("UserID", claims.ID))

	snapshot, err := s.Resolver.Resolve(ctx, claims.ID, time.Now())
	if err != nil {
		logger.Error("Unable to resolve entitlement",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot resolve entitlement"))
		return
	}

	resp.WriteResponse(w, r, snapshot)
}

func (s *Service) checkFeature(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	feature := tier.Feature(chi.URLParam(r, "feature"))

	logger := s.Logger.With(
		zap.String("UserID", claims.ID),
		zap.String("Feature", string(feature)),
	)

	decision, err := s.Gate.CheckFeature(ctx, claims.ID, feature)
	if err != nil {
		if errors.Is(err, ErrUnknownFeature) {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unknown feature name"))
			return
		}
		logger.Error("Unable to check feature",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot check feature"))
		return
	}

	if !decision.Allowed {
		resp.WriteError(w, r, resp.ErrForbidden().WithResult(decision))
		return
	}

	resp.WriteResponse(w, r, decision)
}

// ConsumeRequest is the model of a request to spend quota units
type ConsumeRequest struct {
	Quota  string `json:"quota" validate:"required"`
	Amount int64  `json:"amount" validate:"min=0"`
}

func (s *Service) consumeQuota(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	var req ConsumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		e := resp.ErrBadRequest()
		for _, fieldError := range err.(validator.ValidationErrors) {
			switch fieldError.Field() {
			case "Quota":
				e.AddMessages("quota is required")
			case "Amount":
				e.AddMessages("amount cannot be negative")
			}
		}
		resp.WriteError(w, r, e)
		return
	}
	if req.Amount == 0 {
		req.Amount = 1
	}

	logger := s.Logger.With(
		zap.String("UserID", claims.ID),
		zap.String("Quota", req.Quota),
		zap.Int64("Amount", req.Amount),
	)

	decision, err := s.Gate.CheckAndConsume(ctx, claims.ID, tier.Quota(req.Quota), req.Amount)
	if err != nil {
		if errors.Is(err, ErrUnknownQuota) {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unknown quota name"))
			return
		}
		logger.Error("Unable to consume quota, denying",
			zap.Error(err),
		)
		// fail closed: a transient store failure is a denial, never an allow
		resp.WriteError(w, r, resp.ErrServiceUnavailable().AddMessages("Quota check unavailable, try again"))
		return
	}

	if !decision.Allowed {
		resp.WriteError(w, r, resp.ErrTooManyRequests().WithResult(decision))
		return
	}

	resp.WriteResponse(w, r, decision)
}

// Router will return the routes under the entitlement API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.getSnapshot)
	r.Get("/features/{feature}", s.checkFeature)
	r.Post("/consume", s.consumeQuota)

	return r
}
