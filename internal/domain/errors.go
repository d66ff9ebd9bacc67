package domain

import (
	"errors"
	"fmt"

	"github.com/kailas-cloud/entitled/internal/domain/decision"
)

var (
	// ErrNotFound signals a missing ledger record or subscription.
	ErrNotFound = errors.New("not found")
	// ErrQuotaExhausted signals a spent free-tier daily quota.
	ErrQuotaExhausted = errors.New("quota exhausted")
	// ErrTrialExhausted signals that no trial unit is left for the feature.
	ErrTrialExhausted = errors.New("trial exhausted")
	// ErrAccessDenied signals a negative entitlement decision.
	ErrAccessDenied = errors.New("access denied")
	// ErrUnknownFeature signals a feature id missing from the catalog.
	ErrUnknownFeature = errors.New("unknown feature")
	// ErrInvalidRequest signals malformed input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRemoteAction signals a network or backend failure during a gated action.
	ErrRemoteAction = errors.New("remote action failed")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrProviderError signals an assistant provider failure.
	ErrProviderError = errors.New("assistant provider error")
	// ErrAssistantDisabled signals that no assistant provider is configured.
	ErrAssistantDisabled = errors.New("assistant disabled")
)

// AccessDeniedError wraps ErrAccessDenied with the decision that caused it.
type AccessDeniedError struct {
	Decision decision.Decision
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrAccessDenied.Error(), e.Decision.Reason())
}

func (e *AccessDeniedError) Unwrap() error { return ErrAccessDenied }

// NewAccessDenied creates an access denied error for a negative decision.
func NewAccessDenied(d decision.Decision) error {
	return &AccessDeniedError{Decision: d}
}
