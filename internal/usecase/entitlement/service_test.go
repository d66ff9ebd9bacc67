package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/entitled/internal/domain"
	"github.com/kailas-cloud/entitled/internal/domain/decision"
	"github.com/kailas-cloud/entitled/internal/domain/feature"
	"github.com/kailas-cloud/entitled/internal/domain/subscription"
	"github.com/kailas-cloud/entitled/internal/domain/tier"
	"github.com/kailas-cloud/entitled/internal/domain/usage"
	"github.com/kailas-cloud/entitled/internal/domain/usage/budget"
	subscriptionrepo "github.com/kailas-cloud/entitled/internal/repository/subscription"
	ledgeruc "github.com/kailas-cloud/entitled/internal/usecase/ledger"
)

// --- Mocks ---

type mockLedger struct {
	status    *usage.Status
	budget    *budget.Budget
	statusErr error
	budgetErr error
}

func (m *mockLedger) Status(_ context.Context, _ string) (usage.Status, error) {
	if m.statusErr != nil {
		return usage.Status{}, m.statusErr
	}
	if m.status == nil {
		return usage.Status{}, domain.ErrNotFound
	}
	return *m.status, nil
}

func (m *mockLedger) TrialBudget(_ context.Context, _ string) (budget.Budget, error) {
	if m.budgetErr != nil {
		return budget.Budget{}, m.budgetErr
	}
	if m.budget == nil {
		return budget.Budget{}, domain.ErrNotFound
	}
	return *m.budget, nil
}

type mockSubs struct {
	sub *subscription.Subscription
	err error
}

func (m *mockSubs) Get(_ context.Context, _ string) (subscription.Subscription, error) {
	if m.err != nil {
		return subscription.Subscription{}, m.err
	}
	if m.sub == nil {
		return subscription.Subscription{}, domain.ErrNotFound
	}
	return *m.sub, nil
}

func statusOf(count, limit int) *usage.Status {
	s := usage.NewStatus(count, limit, false, time.Time{})
	return &s
}

func budgetOf(featureID string, perFeature, global int) *budget.Budget {
	b := budget.New(map[string]int{featureID: perFeature}, 3, global, time.Time{})
	return &b
}

func proSub() *subscription.Subscription {
	s := subscription.New("u1", subscription.StatusPro, tier.Pro, nil)
	return &s
}

var user = domain.NewIdentity("u1", "student@example.com")

// --- Tests ---

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		ledger *mockLedger
		subs   *mockSubs
		want   decision.Decision
	}{
		{
			name:   "pro regardless of counters",
			ledger: &mockLedger{status: statusOf(99, 5), budget: budgetOf("featureX", 0, 0)},
			subs:   &mockSubs{sub: proSub()},
			want:   decision.Allow(decision.ReasonProUnlimited),
		},
		{
			name:   "within free quota",
			ledger: &mockLedger{status: statusOf(4, 5)},
			subs:   &mockSubs{},
			want:   decision.Allow(decision.ReasonWithinFreeQuota),
		},
		{
			name:   "unknown user gets default quota",
			ledger: &mockLedger{},
			subs:   &mockSubs{},
			want:   decision.Allow(decision.ReasonWithinFreeQuota),
		},
		{
			name:   "trial available",
			ledger: &mockLedger{status: statusOf(5, 5), budget: budgetOf("featureX", 2, 4)},
			subs:   &mockSubs{},
			want:   decision.Allow(decision.ReasonTrialAvailable),
		},
		{
			name:   "global trial cap spent",
			ledger: &mockLedger{status: statusOf(5, 5), budget: budgetOf("featureX", 2, 0)},
			subs:   &mockSubs{},
			want:   decision.Deny(decision.ReasonTrialExhausted),
		},
		{
			name:   "feature trial cap spent",
			ledger: &mockLedger{status: statusOf(5, 5), budget: budgetOf("featureX", 0, 4)},
			subs:   &mockSubs{},
			want:   decision.Deny(decision.ReasonTrialExhausted),
		},
		{
			name:   "both trial caps spent",
			ledger: &mockLedger{status: statusOf(5, 5), budget: budgetOf("featureX", 0, 0)},
			subs:   &mockSubs{},
			want:   decision.Deny(decision.ReasonQuotaExhausted),
		},
		{
			name:   "quota spent without budget record",
			ledger: &mockLedger{status: statusOf(5, 5)},
			subs:   &mockSubs{},
			want:   decision.Allow(decision.ReasonTrialAvailable),
		},
		{
			name: "expired pro falls back to free",
			ledger: &mockLedger{status: statusOf(5, 5), budget: budgetOf("featureX", 0, 0)},
			subs: &mockSubs{sub: func() *subscription.Subscription {
				past := time.Now().Add(-time.Hour)
				s := subscription.New("u1", subscription.StatusPro, tier.Pro, &past)
				return &s
			}()},
			want: decision.Deny(decision.ReasonQuotaExhausted),
		},
		{
			name:   "subscription lookup failure assumes free",
			ledger: &mockLedger{status: statusOf(1, 5)},
			subs:   &mockSubs{err: errors.New("db down")},
			want:   decision.Allow(decision.ReasonWithinFreeQuota),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := New(tc.ledger, tc.subs, zap.NewNop())
			got, err := svc.Resolve(context.Background(), user, "featureX")
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != tc.want {
				t.Errorf("Resolve() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestResolve_WithinQuotaForAllCounts(t *testing.T) {
	for limit := 1; limit <= 6; limit++ {
		for count := range limit {
			svc := New(&mockLedger{status: statusOf(count, limit)}, nil, zap.NewNop())
			got, err := svc.Resolve(context.Background(), user, "f")
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if !got.Allowed() || got.Reason() != decision.ReasonWithinFreeQuota {
				t.Errorf("count=%d limit=%d: got %+v", count, limit, got)
			}
		}
	}
}

func TestResolve_PremiumLedger(t *testing.T) {
	st := usage.NewStatus(10, 5, true, time.Time{})
	svc := New(&mockLedger{status: &st}, nil, zap.NewNop())

	got, err := svc.Resolve(context.Background(), user, "f")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Reason() != decision.ReasonProUnlimited {
		t.Errorf("Reason() = %q", got.Reason())
	}
}

func TestResolve_Override(t *testing.T) {
	ledger := &mockLedger{status: statusOf(5, 5), budget: budgetOf("f", 0, 0)}
	svc := New(ledger, &mockSubs{}, zap.NewNop()).
		WithOverride(NewOverrideTable("Student@Example.com"))

	got, err := svc.Resolve(context.Background(), user, "f")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Reason() != decision.ReasonProUnlimited {
		t.Errorf("override should grant pro, got %q", got.Reason())
	}

	other := domain.NewIdentity("u2", "other@example.com")
	got, _ = svc.Resolve(context.Background(), other, "f")
	if got.Allowed() {
		t.Error("non-privileged identity must not be granted")
	}
}

func TestResolve_InvalidInput(t *testing.T) {
	svc := New(&mockLedger{}, nil, zap.NewNop())

	if _, err := svc.Resolve(context.Background(), user, ""); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("empty feature: expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.Resolve(context.Background(), domain.Identity{}, "f"); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("empty user: expected ErrInvalidRequest, got %v", err)
	}
}

func TestResolve_UnknownFeature(t *testing.T) {
	f, _ := feature.New("deep_study", "Deep Study", "")
	cat, _ := feature.NewCatalog(f)
	svc := New(&mockLedger{}, nil, zap.NewNop()).WithCatalog(cat)

	if _, err := svc.Resolve(context.Background(), user, "teleport"); !errors.Is(err, domain.ErrUnknownFeature) {
		t.Errorf("expected ErrUnknownFeature, got %v", err)
	}
	if _, err := svc.Resolve(context.Background(), user, "deep_study"); err != nil {
		t.Errorf("known feature: %v", err)
	}
}

func TestResolve_LedgerError(t *testing.T) {
	svc := New(&mockLedger{statusErr: errors.New("boom")}, nil, zap.NewNop())
	if _, err := svc.Resolve(context.Background(), user, "f"); err == nil {
		t.Fatal("expected error")
	}
}

func TestResolve_Defaults(t *testing.T) {
	svc := New(&mockLedger{}, nil, zap.NewNop()).WithDefaults(0, 3, 10)
	got, _ := svc.Resolve(context.Background(), user, "f")
	if got.Reason() != decision.ReasonTrialAvailable {
		t.Errorf("zero daily limit should fall through to trial, got %q", got.Reason())
	}
}

func TestTier(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	trial := subscription.New("u1", subscription.StatusTrial, tier.Trial, &future)
	svc := New(&mockLedger{}, &mockSubs{sub: &trial}, zap.NewNop()).
		WithClock(func() time.Time { return now })

	got, err := svc.Tier(context.Background(), user)
	if err != nil {
		t.Fatalf("Tier: %v", err)
	}
	if got != tier.Trial {
		t.Errorf("Tier() = %q", got)
	}
}

func TestResolve_ProSubscriptionExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	led := ledgeruc.New(ledgeruc.Config{DailyLimit: 2, Location: time.UTC}, zap.NewNop()).WithClock(clock)
	expiresAt := now.Add(time.Hour)
	subs := subscriptionrepo.NewStatic()
	if err := subs.Save(ctx, subscription.New("u1", subscription.StatusPro, tier.Pro, &expiresAt)); err != nil {
		t.Fatal(err)
	}
	svc := New(led, subs, zap.NewNop()).WithClock(clock)

	got, err := svc.Resolve(ctx, user, "f")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Reason() != decision.ReasonProUnlimited {
		t.Fatalf("active pro: got %q", got.Reason())
	}

	now = expiresAt.Add(2 * time.Hour)

	got, err = svc.Resolve(ctx, user, "f")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Reason() != decision.ReasonWithinFreeQuota {
		t.Errorf("expired pro must fall back to quota rules, got %q", got.Reason())
	}
	st, err := led.Consume(ctx, "u1", "f")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if st.IsPremium() || st.UsageCount() != 1 {
		t.Errorf("expired pro must be counted: premium=%v count=%d", st.IsPremium(), st.UsageCount())
	}
}

func TestSubscription_NotFound(t *testing.T) {
	svc := New(&mockLedger{}, &mockSubs{}, zap.NewNop())
	sub, err := svc.Subscription(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Subscription: %v", err)
	}
	if sub.Tier() != tier.Free {
		t.Errorf("Tier() = %q", sub.Tier())
	}
}
