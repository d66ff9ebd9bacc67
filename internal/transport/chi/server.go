package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/oapi-codegen/runtime/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/entitled/internal/domain"
	"github.com/kailas-cloud/entitled/internal/domain/subscription"
	"github.com/kailas-cloud/entitled/internal/domain/tier"
	logpkg "github.com/kailas-cloud/entitled/internal/logger"
	assistuc "github.com/kailas-cloud/entitled/internal/usecase/assist"
	"github.com/kailas-cloud/entitled/internal/usecase/classify"
	entitlementuc "github.com/kailas-cloud/entitled/internal/usecase/entitlement"
	healthuc "github.com/kailas-cloud/entitled/internal/usecase/health"
	ledgeruc "github.com/kailas-cloud/entitled/internal/usecase/ledger"
	"github.com/kailas-cloud/entitled/internal/usecase/trial"
	usageuc "github.com/kailas-cloud/entitled/internal/usecase/usage"
	"github.com/kailas-cloud/entitled/internal/version"
)

// EmailHeader carries the acting user's email.
const EmailHeader = "X-User-Email"

// SubscriptionWriter stores subscriptions granted by an operator.
type SubscriptionWriter interface {
	Save(ctx context.Context, sub subscription.Subscription) error
}

// Services groups the use cases served over HTTP.
type Services struct {
	Ledger        *ledgeruc.Service
	Entitlement   *entitlementuc.Service
	Overrides     *entitlementuc.OverrideTable
	Usage         *usageuc.Service
	Assist        *assistuc.Service
	Trials        *trial.Registry
	Subscriptions SubscriptionWriter
	Health        *healthuc.Service
}

// Server is the entitlement HTTP API.
type Server struct {
	ledger        *ledgeruc.Service
	entitlement   *entitlementuc.Service
	overrides     *entitlementuc.OverrideTable
	usage         *usageuc.Service
	assist        *assistuc.Service
	trials        *trial.Registry
	subscriptions SubscriptionWriter
	health        *healthuc.Service
	logger        *zap.Logger
	now           func() time.Time
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(svc Services, logger *zap.Logger) *Server {
	return &Server{
		ledger:        svc.Ledger,
		entitlement:   svc.Entitlement,
		overrides:     svc.Overrides,
		usage:         svc.Usage,
		assist:        svc.Assist,
		trials:        svc.Trials,
		subscriptions: svc.Subscriptions,
		health:        svc.Health,
		logger:        logger,
		now:           time.Now,
		errorHandlers: defaultErrorHandlers(),
	}
}

// Register mounts the API on r. admin wraps the /admin routes.
func (s *Server) Register(r chi.Router, admin ...func(http.Handler) http.Handler) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Get("/features", s.ListFeatures)
	r.Post("/classify", s.ClassifyError)

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Use(s.userLogger)
		r.Get("/status", s.GetStatus)
		r.Post("/session", s.StartSession)
		r.Post("/consume", s.Consume)
		r.Post("/reset", s.Reset)
		r.Get("/trials", s.GetTrials)
		r.Get("/subscription", s.GetSubscription)
		r.Get("/usage", s.GetUsage)
		r.Get("/features/{featureID}/access", s.ResolveAccess)
		r.Post("/features/{featureID}/trial", s.UseTrial)
		r.Post("/features/{featureID}/assist", s.Assist)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(admin...)
		r.Post("/reset", s.ResetAll)
		r.Get("/overrides", s.ListOverrides)
		r.Put("/overrides/{identity}", s.GrantOverride)
		r.Delete("/overrides/{identity}", s.RevokeOverride)
		r.Put("/subscriptions/{userID}", s.PutSubscription)
		r.Get("/features/{featureID}/usage", s.GetFeatureUsage)
	})
}

// userLogger tags the request logger with the acting user.
func (s *Server) userLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fields := []zap.Field{zap.String("user_id", chi.URLParam(r, "userID"))}
		if email := r.Header.Get(EmailHeader); email != "" {
			fields = append(fields, zap.String("user_email", email))
		}
		next.ServeHTTP(w, r.WithContext(logpkg.WithFields(r.Context(), s.logger, fields...)))
	})
}

// GetStatus handles GET /users/{userID}/status.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathParam(w, r, "userID")
	if !ok {
		return
	}

	st, err := s.ledger.Status(r.Context(), userID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusToResponse(st))
}

// StartSession handles POST /users/{userID}/session.
func (s *Server) StartSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathParam(w, r, "userID")
	if !ok {
		return
	}

	st, err := s.ledger.Ensure(r.Context(), userID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	b, err := s.ledger.TrialBudget(r.Context(), userID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		Status: statusToResponse(st),
		Trials: budgetToResponse(b),
	})
}

// Consume handles POST /users/{userID}/consume.
func (s *Server) Consume(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathParam(w, r, "userID")
	if !ok {
		return
	}

	var req consumeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.FeatureID == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "feature_id is required")
		return
	}
	if !s.entitlement.Catalog().Known(req.FeatureID) {
		s.handleDomainError(w, r, fmt.Errorf("%w: %s", domain.ErrUnknownFeature, req.FeatureID))
		return
	}

	st, err := s.ledger.Consume(r.Context(), userID, req.FeatureID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusToResponse(st))
}

// Reset handles POST /users/{userID}/reset.
func (s *Server) Reset(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathParam(w, r, "userID")
	if !ok {
		return
	}

	st, err := s.ledger.Reset(r.Context(), userID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusToResponse(st))
}

// GetTrials handles GET /users/{userID}/trials.
func (s *Server) GetTrials(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathParam(w, r, "userID")
	if !ok {
		return
	}

	b, err := s.ledger.TrialBudget(r.Context(), userID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, budgetToResponse(b))
}

// GetSubscription handles GET /users/{userID}/subscription.
func (s *Server) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathParam(w, r, "userID")
	if !ok {
		return
	}

	sub, err := s.entitlement.Subscription(r.Context(), userID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	resp, err := s.subscriptionToResponse(r.Context(), identityFrom(r, userID), sub)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// subscriptionToResponse adds the resolved access: is_active follows the
// effective tier (overrides included), features lists what id may use now.
func (s *Server) subscriptionToResponse(ctx context.Context, id domain.Identity, sub subscription.Subscription) (SubscriptionResponse, error) {
	t, err := s.entitlement.Tier(ctx, id)
	if err != nil {
		return SubscriptionResponse{}, fmt.Errorf("tier: %w", err)
	}

	features := make([]string, 0)
	for _, featureID := range s.entitlement.Catalog().IDs() {
		d, err := s.entitlement.Resolve(ctx, id, featureID)
		if err != nil {
			return SubscriptionResponse{}, fmt.Errorf("resolve %s: %w", featureID, err)
		}
		if d.Allowed() {
			features = append(features, featureID)
		}
	}

	return SubscriptionResponse{
		UserID:        sub.UserID(),
		Status:        string(sub.Status()),
		Tier:          string(sub.Tier()),
		EffectiveTier: string(sub.EffectiveTier(s.now())),
		ExpiresAt:     sub.ExpiresAt(),
		IsActive:      t.Unlimited(),
		Features:      features,
	}, nil
}

// GetUsage handles GET /users/{userID}/usage.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathParam(w, r, "userID")
	if !ok {
		return
	}

	report, err := s.usage.GetReport(r.Context(), identityFrom(r, userID))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, reportToResponse(&report))
}

// ResolveAccess handles GET /users/{userID}/features/{featureID}/access.
// A denial is data, not an error.
func (s *Server) ResolveAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathParam(w, r, "userID")
	if !ok {
		return
	}
	featureID, ok := s.pathParam(w, r, "featureID")
	if !ok {
		return
	}

	d, err := s.entitlement.Resolve(r.Context(), identityFrom(r, userID), featureID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, decisionToResponse(featureID, d))
}

// UseTrial handles POST /users/{userID}/features/{featureID}/trial.
func (s *Server) UseTrial(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathParam(w, r, "userID")
	if !ok {
		return
	}
	featureID, ok := s.pathParam(w, r, "featureID")
	if !ok {
		return
	}

	var req trialRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	if !s.entitlement.Catalog().Known(featureID) {
		s.handleDomainError(w, r, fmt.Errorf("%w: %s", domain.ErrUnknownFeature, featureID))
		return
	}

	remaining, err := s.trialRemaining(r.Context(), userID, featureID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if remaining <= 0 {
		writeJSON(w, http.StatusPaymentRequired, TrialResponse{
			Status:          trial.StatusFailed,
			Message:         trial.ExhaustedMessage,
			UpgradeRequired: true,
		})
		return
	}

	coord := s.trials.For(trial.Key(userID, featureID, req.ControlID))
	out := coord.UseTrial(r.Context(), userID, featureID, remaining)

	switch out.Status {
	case trial.StatusSuppressed:
		writeError(w, http.StatusConflict, CodeTrialInProgress, "trial action already in progress")
	case trial.StatusSucceeded:
		writeJSON(w, http.StatusOK, outcomeToResponse(out))
	default:
		status := http.StatusPaymentRequired
		if errors.Is(out.Err, domain.ErrRemoteAction) && !out.Access.IsProError() {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, outcomeToResponse(out))
	}
}

// trialRemaining is the number of trial units the user can still spend on featureID.
func (s *Server) trialRemaining(ctx context.Context, userID, featureID string) (int, error) {
	b, err := s.ledger.TrialBudget(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		if _, err = s.ledger.Ensure(ctx, userID); err != nil {
			return 0, fmt.Errorf("ensure ledger: %w", err)
		}
		b, err = s.ledger.TrialBudget(ctx, userID)
	}
	if err != nil {
		return 0, fmt.Errorf("trial budget: %w", err)
	}
	return min(b.Remaining(featureID), b.GlobalRemaining()), nil
}

// Assist handles POST /users/{userID}/features/{featureID}/assist.
func (s *Server) Assist(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathParam(w, r, "userID")
	if !ok {
		return
	}
	featureID, ok := s.pathParam(w, r, "featureID")
	if !ok {
		return
	}

	var req assistRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	answer, err := s.assist.Assist(ctx, identityFrom(r, userID), featureID, req.Prompt)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	setCompletionHeaders(w, usage)
	writeJSON(w, http.StatusOK, AssistResponse{
		Text:        answer.Text,
		Reason:      answer.Decision.Reason(),
		TotalTokens: answer.TotalTokens,
	})
}

// ClassifyError handles POST /classify.
func (s *Server) ClassifyError(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Status < 100 || req.Status > 599 {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "status must be an HTTP status code")
		return
	}

	pe := classify.Status(req.Status, req.Code, req.Message)
	writeJSON(w, http.StatusOK, accessErrorToResponse(pe))
}

// ListFeatures handles GET /features.
func (s *Server) ListFeatures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, featuresToResponse(s.entitlement.Catalog().List()))
}

// ResetAll handles POST /admin/reset.
func (s *Server) ResetAll(w http.ResponseWriter, r *http.Request) {
	n := s.ledger.ResetAll(r.Context())
	writeJSON(w, http.StatusOK, ResetAllResponse{Reset: n})
}

// ListOverrides handles GET /admin/overrides.
func (s *Server) ListOverrides(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ListResponse{Items: s.overrides.List()})
}

// GrantOverride handles PUT /admin/overrides/{identity}.
func (s *Server) GrantOverride(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.pathParam(w, r, "identity")
	if !ok {
		return
	}

	if err := s.overrides.Grant(r.Context(), identity); err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RevokeOverride handles DELETE /admin/overrides/{identity}.
func (s *Server) RevokeOverride(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.pathParam(w, r, "identity")
	if !ok {
		return
	}

	if err := s.overrides.Revoke(r.Context(), identity); err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PutSubscription handles PUT /admin/subscriptions/{userID}.
func (s *Server) PutSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathParam(w, r, "userID")
	if !ok {
		return
	}

	var req subscriptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sub, err := subscriptionFromRequest(userID, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}

	if err := s.subscriptions.Save(r.Context(), sub); err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp, err := s.subscriptionToResponse(r.Context(), identityFrom(r, userID), sub)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetFeatureUsage handles GET /admin/features/{featureID}/usage?day=YYYY-MM-DD.
func (s *Server) GetFeatureUsage(w http.ResponseWriter, r *http.Request) {
	featureID, ok := s.pathParam(w, r, "featureID")
	if !ok {
		return
	}

	var day *types.Date
	if err := runtime.BindQueryParameter("form", true, false, "day", r.URL.Query(), &day); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid format for parameter day: "+err.Error())
		return
	}
	var at time.Time
	if day != nil {
		at = day.Time
	}

	u, err := s.usage.FeatureUsage(r.Context(), featureID, at)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, featureUsageToResponse(u))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	// Degraded still serves decisions from the local ledger.
	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
		"build":  version.Get(),
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// pathParam binds a required simple-style path parameter. On failure it writes 400.
func (s *Server) pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var v string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &v,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", name, err))
		return "", false
	}
	return v, true
}

func identityFrom(r *http.Request, userID string) domain.Identity {
	return domain.NewIdentity(userID, r.Header.Get(EmailHeader))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func setCompletionHeaders(w http.ResponseWriter, usage *domain.CompletionUsage) {
	if usage != nil && usage.Used {
		w.Header().Set("X-Assistant-Tokens", strconv.Itoa(usage.TotalTokens))
	}
}

func subscriptionFromRequest(userID string, req subscriptionRequest) (subscription.Subscription, error) {
	t, err := tier.Parse(req.Tier)
	if err != nil {
		return subscription.Subscription{}, fmt.Errorf("tier: %w", err)
	}

	status := subscription.Status(req.Status)
	switch status {
	case "":
		status = subscription.StatusFree
		switch t {
		case tier.Pro:
			status = subscription.StatusPro
		case tier.Trial:
			status = subscription.StatusTrial
		}
	case subscription.StatusFree, subscription.StatusTrial, subscription.StatusPro,
		subscription.StatusExpired, subscription.StatusCancelled:
	default:
		return subscription.Subscription{}, fmt.Errorf("unknown status %q", req.Status)
	}

	return subscription.New(userID, status, t, req.ExpiresAt), nil
}
