package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/entitled/internal/domain"
	"github.com/kailas-cloud/entitled/internal/domain/decision"
	domusage "github.com/kailas-cloud/entitled/internal/domain/usage"
	"github.com/kailas-cloud/entitled/internal/domain/usage/budget"
)

// FeatureUsage is the aggregated consumption of one feature on one day.
type FeatureUsage struct {
	FeatureID string
	Day       time.Time
	Quota     int64
	Trial     int64
	Premium   int64
}

// Service handles usage reporting.
type Service struct {
	ledger   LedgerReader
	resolver Resolver
	counters CounterReader

	dailyLimit    int
	perFeatureCap int
	globalCap     int
	now           func() time.Time
	loc           *time.Location
}

// New creates a Service. counters can be nil (per-feature usage not tracked).
func New(ledger LedgerReader, resolver Resolver, counters CounterReader) *Service {
	return &Service{
		ledger:        ledger,
		resolver:      resolver,
		counters:      counters,
		dailyLimit:    domusage.DefaultDailyLimit,
		perFeatureCap: budget.DefaultPerFeatureCap,
		globalCap:     budget.DefaultGlobalCap,
		now:           time.Now,
		loc:           time.Local,
	}
}

// WithDefaults sets the quota assumed for users without a ledger record.
func (s *Service) WithDefaults(dailyLimit, perFeatureCap, globalCap int) *Service {
	s.dailyLimit = dailyLimit
	s.perFeatureCap = perFeatureCap
	s.globalCap = globalCap
	return s
}

// WithLocation sets the quota timezone that decides which day "today" is.
func (s *Service) WithLocation(loc *time.Location) *Service {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetReport builds the entitlement report for id. Unknown users get the
// default free-tier view.
func (s *Service) GetReport(ctx context.Context, id domain.Identity) (domusage.Report, error) {
	st, err := s.ledger.Status(ctx, id.UserID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		st = domusage.DefaultStatus(s.dailyLimit)
	case err != nil:
		return domusage.Report{}, fmt.Errorf("ledger status: %w", err)
	}

	b, err := s.ledger.TrialBudget(ctx, id.UserID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		b = budget.New(nil, s.perFeatureCap, s.globalCap, st.ResetTime())
	case err != nil:
		return domusage.Report{}, fmt.Errorf("trial budget: %w", err)
	}

	t, err := s.resolver.Tier(ctx, id)
	if err != nil {
		return domusage.Report{}, fmt.Errorf("tier: %w", err)
	}

	ids := s.resolver.Catalog().IDs()
	decisions := make(map[string]decision.Decision, len(ids))
	for _, f := range ids {
		d, err := s.resolver.Resolve(ctx, id, f)
		if err != nil {
			return domusage.Report{}, fmt.Errorf("resolve %s: %w", f, err)
		}
		decisions[f] = d
	}

	return domusage.NewReport(id.UserID, t, st, b, decisions, s.now()), nil
}

// FeatureUsage returns the aggregated consumption of featureID on day.
// A zero day means today in the quota timezone.
func (s *Service) FeatureUsage(ctx context.Context, featureID string, day time.Time) (FeatureUsage, error) {
	if featureID == "" {
		return FeatureUsage{}, fmt.Errorf("%w: feature id is required", domain.ErrInvalidRequest)
	}
	if !s.resolver.Catalog().Known(featureID) {
		return FeatureUsage{}, fmt.Errorf("%w: %s", domain.ErrUnknownFeature, featureID)
	}

	if day.IsZero() {
		day = s.now().In(s.loc)
	}
	out := FeatureUsage{FeatureID: featureID, Day: day}
	if s.counters == nil {
		return out, nil
	}

	for kind, dst := range map[string]*int64{
		domusage.KindQuota:   &out.Quota,
		domusage.KindTrial:   &out.Trial,
		domusage.KindPremium: &out.Premium,
	} {
		n, err := s.counters.Daily(ctx, featureID, kind, day)
		if err != nil {
			return FeatureUsage{}, fmt.Errorf("read %s counter: %w", kind, err)
		}
		*dst = n
	}
	return out, nil
}
