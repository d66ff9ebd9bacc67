package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/entitled/internal/domain"
	logpkg "github.com/kailas-cloud/entitled/internal/logger"
)

// ErrorCode is the machine-readable error code of an API error response.
type ErrorCode string

// API error codes.
const (
	CodeBadRequest        ErrorCode = "bad_request"
	CodeValidationFailed  ErrorCode = "validation_failed"
	CodeUnauthorized      ErrorCode = "unauthorized"
	CodeForbidden         ErrorCode = "forbidden"
	CodeNotFound          ErrorCode = "not_found"
	CodeUnknownFeature    ErrorCode = "unknown_feature"
	CodeQuotaExhausted    ErrorCode = "quota_exhausted"
	CodeTrialExhausted    ErrorCode = "trial_exhausted"
	CodeAccessDenied      ErrorCode = "access_denied"
	CodeTrialInProgress   ErrorCode = "trial_in_progress"
	CodeRateLimited       ErrorCode = "rate_limited"
	CodeRemoteAction      ErrorCode = "remote_action_failed"
	CodeProviderError     ErrorCode = "provider_error"
	CodeAssistantDisabled ErrorCode = "assistant_disabled"
	CodeInternalError     ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		accessDeniedHandler,
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(domain.ErrUnknownFeature, http.StatusNotFound, CodeUnknownFeature),
		sentinelHandler(domain.ErrQuotaExhausted, http.StatusPaymentRequired, CodeQuotaExhausted),
		sentinelHandler(domain.ErrTrialExhausted, http.StatusPaymentRequired, CodeTrialExhausted),
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited),
		sentinelHandler(domain.ErrRemoteAction, http.StatusBadGateway, CodeRemoteAction),
		sentinelHandler(domain.ErrProviderError, http.StatusBadGateway, CodeProviderError),
		sentinelHandler(domain.ErrAssistantDisabled, http.StatusServiceUnavailable, CodeAssistantDisabled),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrNotFound,
		domain.ErrUnknownFeature,
		domain.ErrQuotaExhausted,
		domain.ErrTrialExhausted,
		domain.ErrAccessDenied,
		domain.ErrInvalidRequest,
		domain.ErrRateLimited,
		domain.ErrRemoteAction,
		domain.ErrProviderError,
		domain.ErrAssistantDisabled,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// accessDeniedHandler handles ErrAccessDenied and reports the decision reason.
func accessDeniedHandler(w http.ResponseWriter, err error, msg string) bool {
	if !errors.Is(err, domain.ErrAccessDenied) {
		return false
	}
	var ade *domain.AccessDeniedError
	if errors.As(err, &ade) {
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"code":    CodeAccessDenied,
			"message": msg,
			"reason":  ade.Decision.Reason(),
		})
		return true
	}
	writeError(w, http.StatusPaymentRequired, CodeAccessDenied, msg)
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context(), s.logger)
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
