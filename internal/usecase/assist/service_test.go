package assist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/entitled/internal/domain"
	"github.com/kailas-cloud/entitled/internal/domain/decision"
	"github.com/kailas-cloud/entitled/internal/domain/usage"
	"github.com/kailas-cloud/entitled/internal/domain/usage/budget"
	entitlementuc "github.com/kailas-cloud/entitled/internal/usecase/entitlement"
	ledgeruc "github.com/kailas-cloud/entitled/internal/usecase/ledger"
)

// --- Mocks ---

type mockResolver struct {
	d     decision.Decision
	err   error
	then  []decision.Decision // returned by later calls, in order
	calls int
}

func (m *mockResolver) Resolve(_ context.Context, _ domain.Identity, _ string) (decision.Decision, error) {
	m.calls++
	if m.calls > 1 && len(m.then) > 0 {
		d := m.then[0]
		m.then = m.then[1:]
		return d, m.err
	}
	return m.d, m.err
}

type mockLedger struct {
	consumed      int
	trials        int
	released      int
	quotaReleased int
	trialErr      error
	consumeErr    error
}

func (m *mockLedger) Consume(_ context.Context, _, _ string) (usage.Status, error) {
	if m.consumeErr != nil {
		return usage.Status{}, m.consumeErr
	}
	m.consumed++
	return usage.NewStatus(m.consumed, 5, false, time.Time{}), nil
}

func (m *mockLedger) ConsumeTrial(_ context.Context, _, _ string) (budget.Budget, error) {
	if m.trialErr != nil {
		return budget.Budget{}, m.trialErr
	}
	m.trials++
	return budget.New(nil, 3, 10-m.trials, time.Time{}), nil
}

func (m *mockLedger) ReleaseTrial(_ context.Context, _, _ string) error {
	m.released++
	return nil
}

func (m *mockLedger) ReleaseQuota(_ context.Context, _ string) error {
	m.quotaReleased++
	return nil
}

type mockCompleter struct {
	res domain.CompletionResult
	err error
	got domain.CompletionRequest
}

func (m *mockCompleter) Complete(_ context.Context, req domain.CompletionRequest) (domain.CompletionResult, error) {
	m.got = req
	return m.res, m.err
}

var user = domain.NewIdentity("u1", "")

// --- Tests ---

func TestAssist_FreeQuotaConsumed(t *testing.T) {
	ledger := &mockLedger{}
	comp := &mockCompleter{res: domain.CompletionResult{Text: "answer", TotalTokens: 30}}
	svc := New(&mockResolver{d: decision.Allow(decision.ReasonWithinFreeQuota)}, ledger, comp, zap.NewNop())

	ctx, u := domain.NewContextWithUsage(context.Background())
	ans, err := svc.Assist(ctx, user, "deep_study", "explain")
	if err != nil {
		t.Fatalf("Assist: %v", err)
	}
	if ans.Text != "answer" || ans.Decision.Reason() != decision.ReasonWithinFreeQuota {
		t.Errorf("unexpected answer: %+v", ans)
	}
	if ledger.consumed != 1 || ledger.trials != 0 {
		t.Errorf("consumed=%d trials=%d", ledger.consumed, ledger.trials)
	}
	if comp.got.UserID != "u1" || comp.got.FeatureID != "deep_study" || comp.got.Prompt != "explain" {
		t.Errorf("unexpected request: %+v", comp.got)
	}
	if u.TotalTokens != 30 {
		t.Errorf("usage tokens = %d", u.TotalTokens)
	}
}

func TestAssist_FreeQuotaReleasedOnFailure(t *testing.T) {
	ledger := &mockLedger{}
	svc := New(&mockResolver{d: decision.Allow(decision.ReasonWithinFreeQuota)}, ledger,
		&mockCompleter{err: domain.ErrProviderError}, zap.NewNop())

	_, err := svc.Assist(context.Background(), user, "f", "q")
	if !errors.Is(err, domain.ErrProviderError) {
		t.Fatalf("expected ErrProviderError, got %v", err)
	}
	if ledger.consumed != 1 || ledger.quotaReleased != 1 {
		t.Errorf("consumed=%d quotaReleased=%d, want the reserved unit returned", ledger.consumed, ledger.quotaReleased)
	}
	if ledger.released != 0 {
		t.Error("no trial unit was taken")
	}
}

func TestAssist_TrialReservedAndReleasedOnFailure(t *testing.T) {
	ledger := &mockLedger{}
	svc := New(&mockResolver{d: decision.Allow(decision.ReasonTrialAvailable)}, ledger,
		&mockCompleter{err: errors.New("timeout")}, zap.NewNop())

	if _, err := svc.Assist(context.Background(), user, "f", "q"); err == nil {
		t.Fatal("expected error")
	}
	if ledger.trials != 1 || ledger.released != 1 {
		t.Errorf("trials=%d released=%d", ledger.trials, ledger.released)
	}
}

func TestAssist_TrialKeptOnSuccess(t *testing.T) {
	ledger := &mockLedger{}
	svc := New(&mockResolver{d: decision.Allow(decision.ReasonTrialAvailable)}, ledger,
		&mockCompleter{res: domain.CompletionResult{Text: "ok"}}, zap.NewNop())

	if _, err := svc.Assist(context.Background(), user, "f", "q"); err != nil {
		t.Fatalf("Assist: %v", err)
	}
	if ledger.trials != 1 || ledger.released != 0 || ledger.consumed != 0 {
		t.Errorf("trials=%d released=%d consumed=%d", ledger.trials, ledger.released, ledger.consumed)
	}
}

func TestAssist_TrialRace(t *testing.T) {
	ledger := &mockLedger{trialErr: domain.ErrTrialExhausted}
	comp := &mockCompleter{}
	svc := New(&mockResolver{d: decision.Allow(decision.ReasonTrialAvailable)}, ledger, comp, zap.NewNop())

	_, err := svc.Assist(context.Background(), user, "f", "q")
	var denied *domain.AccessDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected AccessDeniedError, got %v", err)
	}
	if denied.Decision.Reason() != decision.ReasonTrialExhausted {
		t.Errorf("Reason() = %q", denied.Decision.Reason())
	}
	if comp.got.Prompt != "" {
		t.Error("completer must not be called")
	}
}

func TestAssist_Pro(t *testing.T) {
	ledger := &mockLedger{}
	svc := New(&mockResolver{d: decision.Allow(decision.ReasonProUnlimited)}, ledger,
		&mockCompleter{res: domain.CompletionResult{Text: "ok"}}, zap.NewNop())

	if _, err := svc.Assist(context.Background(), user, "f", "q"); err != nil {
		t.Fatalf("Assist: %v", err)
	}
	if ledger.consumed != 0 || ledger.trials != 0 {
		t.Error("pro use must not touch the ledger")
	}
}

func TestAssist_Denied(t *testing.T) {
	svc := New(&mockResolver{d: decision.Deny(decision.ReasonQuotaExhausted)}, &mockLedger{},
		&mockCompleter{}, zap.NewNop())

	_, err := svc.Assist(context.Background(), user, "f", "q")
	if !errors.Is(err, domain.ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
}

func TestAssist_QuotaTakenFallsBackToTrial(t *testing.T) {
	ledger := &mockLedger{consumeErr: domain.ErrQuotaExhausted}
	res := &mockResolver{
		d:    decision.Allow(decision.ReasonWithinFreeQuota),
		then: []decision.Decision{decision.Allow(decision.ReasonTrialAvailable)},
	}
	comp := &mockCompleter{res: domain.CompletionResult{Text: "ok"}}
	svc := New(res, ledger, comp, zap.NewNop())

	ans, err := svc.Assist(context.Background(), user, "f", "q")
	if err != nil {
		t.Fatalf("Assist: %v", err)
	}
	if ans.Decision.Reason() != decision.ReasonTrialAvailable {
		t.Errorf("Reason() = %q", ans.Decision.Reason())
	}
	if ledger.trials != 1 || res.calls != 2 {
		t.Errorf("trials=%d resolves=%d", ledger.trials, res.calls)
	}
}

func TestAssist_QuotaTakenDenied(t *testing.T) {
	ledger := &mockLedger{consumeErr: domain.ErrQuotaExhausted}
	comp := &mockCompleter{}
	svc := New(&mockResolver{d: decision.Allow(decision.ReasonWithinFreeQuota)}, ledger, comp, zap.NewNop())

	_, err := svc.Assist(context.Background(), user, "f", "q")
	var denied *domain.AccessDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected AccessDeniedError, got %v", err)
	}
	if denied.Decision.Reason() != decision.ReasonQuotaExhausted {
		t.Errorf("Reason() = %q", denied.Decision.Reason())
	}
	if comp.got.Prompt != "" {
		t.Error("completer must not be called without a reserved unit")
	}
}

func TestAssist_ReserveError(t *testing.T) {
	ledger := &mockLedger{consumeErr: errors.New("boom")}
	comp := &mockCompleter{}
	svc := New(&mockResolver{d: decision.Allow(decision.ReasonWithinFreeQuota)}, ledger, comp, zap.NewNop())

	if _, err := svc.Assist(context.Background(), user, "f", "q"); err == nil {
		t.Fatal("expected error")
	}
	if comp.got.Prompt != "" {
		t.Error("completer must not be called")
	}
}

// slowCompleter holds every call long enough for concurrent callers to overlap.
type slowCompleter struct {
	mu    sync.Mutex
	calls int
}

func (c *slowCompleter) Complete(_ context.Context, _ domain.CompletionRequest) (domain.CompletionResult, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	return domain.CompletionResult{Text: "ok"}, nil
}

func TestAssist_ConcurrentCallsShareOneFreeUnit(t *testing.T) {
	ctx := context.Background()
	led := ledgeruc.New(ledgeruc.Config{DailyLimit: 1, PerFeatureCap: 1, GlobalCap: 1, Location: time.UTC}, zap.NewNop())
	ent := entitlementuc.New(led, nil, zap.NewNop()).WithDefaults(1, 1, 1)
	comp := &slowCompleter{}
	svc := New(ent, led, comp, zap.NewNop())

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		served = map[decision.Reason]int{}
		denied int
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ans, err := svc.Assist(ctx, user, "f", "q")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				served[ans.Decision.Reason()]++
			case errors.Is(err, domain.ErrAccessDenied):
				denied++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if served[decision.ReasonWithinFreeQuota] != 1 || served[decision.ReasonTrialAvailable] != 1 || denied != 3 {
		t.Errorf("served=%v denied=%d, want one free, one trial and three denied", served, denied)
	}
	if comp.calls != 2 {
		t.Errorf("completions = %d, want 2", comp.calls)
	}
	st, err := led.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.UsageCount() != 1 {
		t.Errorf("UsageCount() = %d, want 1", st.UsageCount())
	}
}

func TestAssist_InvalidInput(t *testing.T) {
	svc := New(&mockResolver{}, &mockLedger{}, &mockCompleter{}, zap.NewNop())
	if _, err := svc.Assist(context.Background(), user, "f", "  "); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestAssist_Disabled(t *testing.T) {
	svc := New(&mockResolver{}, &mockLedger{}, nil, zap.NewNop())
	if svc.Enabled() {
		t.Error("expected disabled")
	}
	if _, err := svc.Assist(context.Background(), user, "f", "q"); !errors.Is(err, domain.ErrAssistantDisabled) {
		t.Errorf("expected ErrAssistantDisabled, got %v", err)
	}
}

func TestAssist_ResolveError(t *testing.T) {
	svc := New(&mockResolver{err: domain.ErrUnknownFeature}, &mockLedger{}, &mockCompleter{}, zap.NewNop())
	if _, err := svc.Assist(context.Background(), user, "x", "q"); !errors.Is(err, domain.ErrUnknownFeature) {
		t.Errorf("expected ErrUnknownFeature, got %v", err)
	}
}
