package trial

import (
	"context"

	"github.com/kailas-cloud/entitled/internal/domain/usage/budget"
)

// ActionResult is the response of a trial-consuming action.
type ActionResult struct {
	Success         bool
	Message         string
	Remaining       int
	UpgradeRequired bool
}

// Action spends one trial unit and performs the gated work. It is the source
// of truth for consumption.
type Action interface {
	Do(ctx context.Context, userID, featureID string) (ActionResult, error)
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, userID, featureID string) (ActionResult, error)

// Do calls f.
func (f ActionFunc) Do(ctx context.Context, userID, featureID string) (ActionResult, error) {
	return f(ctx, userID, featureID)
}

// Refresher re-reads the user's counters after an action.
type Refresher interface {
	Refresh(ctx context.Context, userID string) error
}

// TrialConsumer is the ledger side used by LocalAction.
type TrialConsumer interface {
	ConsumeTrial(ctx context.Context, userID, featureID string) (budget.Budget, error)
}

// TrialSyncer mirrors a trial unit spent by a remote action into the local
// budget. remaining is the upstream global count, negative when unknown.
type TrialSyncer interface {
	SyncTrial(ctx context.Context, userID, featureID string, remaining int) (budget.Budget, error)
}
