package assist

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/entitled/internal/domain"
	"github.com/kailas-cloud/entitled/internal/domain/decision"
)

// Answer is a gated completion with the decision that allowed it.
type Answer struct {
	Text        string
	Decision    decision.Decision
	TotalTokens int
}

// Service runs assistant completions behind the entitlement check.
type Service struct {
	resolver  Resolver
	ledger    Ledger
	completer domain.Completer
	logger    *zap.Logger
}

// New creates the gated assistant. completer may be nil (disabled).
func New(resolver Resolver, ledger Ledger, completer domain.Completer, logger *zap.Logger) *Service {
	return &Service{resolver: resolver, ledger: ledger, completer: completer, logger: logger}
}

// Enabled reports whether a provider is configured.
func (s *Service) Enabled() bool { return s.completer != nil }

// Assist answers prompt for id on featureID when access is allowed.
// The unit the decision spends (free quota or trial) is reserved before the
// completion runs and returned if it fails.
func (s *Service) Assist(ctx context.Context, id domain.Identity, featureID, prompt string) (Answer, error) {
	if s.completer == nil {
		return Answer{}, domain.ErrAssistantDisabled
	}
	if strings.TrimSpace(prompt) == "" {
		return Answer{}, fmt.Errorf("%w: prompt is required", domain.ErrInvalidRequest)
	}

	d, err := s.resolver.Resolve(ctx, id, featureID)
	if err != nil {
		return Answer{}, fmt.Errorf("resolve access: %w", err)
	}
	if !d.Allowed() {
		return Answer{}, domain.NewAccessDenied(d)
	}

	d, err = s.reserve(ctx, id, featureID, d)
	if err != nil {
		return Answer{}, err
	}

	res, err := s.completer.Complete(ctx, domain.CompletionRequest{
		UserID:    id.UserID,
		FeatureID: featureID,
		Prompt:    prompt,
	})
	if err != nil {
		s.release(ctx, id.UserID, featureID, d)
		return Answer{}, fmt.Errorf("complete: %w", err)
	}
	domain.UsageFromContext(ctx).AddTokens(res.TotalTokens)

	return Answer{Text: res.Text, Decision: d, TotalTokens: res.TotalTokens}, nil
}

// reserve spends the unit d allows. When a concurrent call took the last free
// unit, access is resolved again so the call can fall through to a trial unit.
func (s *Service) reserve(ctx context.Context, id domain.Identity, featureID string, d decision.Decision) (decision.Decision, error) {
	if d.Reason() == decision.ReasonWithinFreeQuota {
		_, err := s.ledger.Consume(ctx, id.UserID, featureID)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, domain.ErrQuotaExhausted) {
			return decision.Decision{}, fmt.Errorf("reserve quota: %w", err)
		}

		if d, err = s.resolver.Resolve(ctx, id, featureID); err != nil {
			return decision.Decision{}, fmt.Errorf("resolve access: %w", err)
		}
		switch {
		case d.RequiresTrial():
		case d.Reason() == decision.ReasonProUnlimited:
			return d, nil
		case d.Allowed():
			return decision.Decision{}, domain.NewAccessDenied(decision.Deny(decision.ReasonQuotaExhausted))
		default:
			return decision.Decision{}, domain.NewAccessDenied(d)
		}
	}

	if d.RequiresTrial() {
		if _, err := s.ledger.ConsumeTrial(ctx, id.UserID, featureID); err != nil {
			if errors.Is(err, domain.ErrTrialExhausted) {
				return decision.Decision{}, domain.NewAccessDenied(decision.Deny(decision.ReasonTrialExhausted))
			}
			return decision.Decision{}, fmt.Errorf("reserve trial: %w", err)
		}
	}
	return d, nil
}

func (s *Service) release(ctx context.Context, userID, featureID string, d decision.Decision) {
	ctx = context.WithoutCancel(ctx)

	var err error
	switch {
	case d.RequiresTrial():
		err = s.ledger.ReleaseTrial(ctx, userID, featureID)
	case d.Reason() == decision.ReasonWithinFreeQuota:
		err = s.ledger.ReleaseQuota(ctx, userID)
	default:
		return
	}
	if err != nil {
		s.logger.Warn("Failed to release reserved unit",
			zap.String("user_id", userID),
			zap.String("feature", featureID),
			zap.String("reason", string(d.Reason())),
			zap.Error(err),
		)
	}
}
