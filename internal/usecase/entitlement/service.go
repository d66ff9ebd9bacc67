package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/entitled/internal/domain"
	"github.com/kailas-cloud/entitled/internal/domain/decision"
	"github.com/kailas-cloud/entitled/internal/domain/feature"
	"github.com/kailas-cloud/entitled/internal/domain/subscription"
	"github.com/kailas-cloud/entitled/internal/domain/tier"
	"github.com/kailas-cloud/entitled/internal/domain/usage"
	"github.com/kailas-cloud/entitled/internal/domain/usage/budget"
	"github.com/kailas-cloud/entitled/internal/metrics"
)

// Service is the single decision point for feature access. Resolution is read-only.
type Service struct {
	ledger   LedgerReader
	subs     SubscriptionSource
	override PremiumOverride
	catalog  feature.Catalog

	dailyLimit    int
	perFeatureCap int
	globalCap     int

	now    func() time.Time
	logger *zap.Logger
}

// New creates an entitlement resolver. subs may be nil (everyone is FREE).
func New(ledger LedgerReader, subs SubscriptionSource, logger *zap.Logger) *Service {
	return &Service{
		ledger:        ledger,
		subs:          subs,
		dailyLimit:    usage.DefaultDailyLimit,
		perFeatureCap: budget.DefaultPerFeatureCap,
		globalCap:     budget.DefaultGlobalCap,
		now:           time.Now,
		logger:        logger,
	}
}

// WithOverride sets the privileged-identity predicate.
func (s *Service) WithOverride(o PremiumOverride) *Service {
	s.override = o
	return s
}

// WithCatalog restricts resolution to known features.
func (s *Service) WithCatalog(c feature.Catalog) *Service {
	s.catalog = c
	return s
}

// WithDefaults sets the quota assumed for users without a ledger record.
func (s *Service) WithDefaults(dailyLimit, perFeatureCap, globalCap int) *Service {
	s.dailyLimit = dailyLimit
	s.perFeatureCap = perFeatureCap
	s.globalCap = globalCap
	return s
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Catalog returns the configured feature catalog.
func (s *Service) Catalog() feature.Catalog { return s.catalog }

// Resolve decides whether id may use featureID right now.
func (s *Service) Resolve(ctx context.Context, id domain.Identity, featureID string) (decision.Decision, error) {
	if id.UserID == "" {
		return decision.Decision{}, fmt.Errorf("%w: user id is required", domain.ErrInvalidRequest)
	}
	if featureID == "" {
		return decision.Decision{}, fmt.Errorf("%w: feature id is required", domain.ErrInvalidRequest)
	}
	if !s.catalog.Known(featureID) {
		return decision.Decision{}, fmt.Errorf("%w: %s", domain.ErrUnknownFeature, featureID)
	}

	d, err := s.resolve(ctx, id, featureID)
	if err != nil {
		return decision.Decision{}, err
	}
	metrics.DecisionsTotal.WithLabelValues(string(d.Reason()), strconv.FormatBool(d.Allowed())).Inc()
	return d, nil
}

func (s *Service) resolve(ctx context.Context, id domain.Identity, featureID string) (decision.Decision, error) {
	t, err := s.Tier(ctx, id)
	if err != nil {
		return decision.Decision{}, err
	}
	if t.Unlimited() {
		return decision.Allow(decision.ReasonProUnlimited), nil
	}

	st, err := s.ledger.Status(ctx, id.UserID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		st = usage.DefaultStatus(s.dailyLimit)
	case err != nil:
		return decision.Decision{}, fmt.Errorf("ledger status: %w", err)
	}
	if st.IsPremium() {
		return decision.Allow(decision.ReasonProUnlimited), nil
	}
	if st.UsageCount() < st.UsageLimit() {
		return decision.Allow(decision.ReasonWithinFreeQuota), nil
	}

	b, err := s.ledger.TrialBudget(ctx, id.UserID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		b = budget.New(nil, s.perFeatureCap, s.globalCap, time.Time{})
	case err != nil:
		return decision.Decision{}, fmt.Errorf("trial budget: %w", err)
	}
	if b.CanConsume(featureID) {
		return decision.Allow(decision.ReasonTrialAvailable), nil
	}
	if b.Exhausted(featureID) {
		return decision.Deny(decision.ReasonQuotaExhausted), nil
	}
	return decision.Deny(decision.ReasonTrialExhausted), nil
}

// Tier returns the effective tier for id, with overrides mapped to Pro.
// A subscription lookup failure is logged and treated as FREE.
func (s *Service) Tier(ctx context.Context, id domain.Identity) (tier.Tier, error) {
	if s.override != nil && s.override.IsPremium(id) {
		return tier.Pro, nil
	}
	if s.subs == nil {
		return tier.Free, nil
	}

	sub, err := s.subs.Get(ctx, id.UserID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return tier.Free, nil
	case err != nil:
		if ctx.Err() != nil {
			return "", fmt.Errorf("subscription lookup: %w", err)
		}
		s.logger.Warn("Subscription lookup failed, assuming free tier",
			zap.String("user_id", id.UserID),
			zap.Error(err),
		)
		return tier.Free, nil
	}
	return sub.EffectiveTier(s.now()), nil
}

// Subscription returns the user's subscription, FREE when none is known.
func (s *Service) Subscription(ctx context.Context, userID string) (subscription.Subscription, error) {
	if s.subs == nil {
		return subscription.Free(userID), nil
	}
	sub, err := s.subs.Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return subscription.Free(userID), nil
	}
	if err != nil {
		return subscription.Subscription{}, fmt.Errorf("subscription lookup: %w", err)
	}
	return sub, nil
}
