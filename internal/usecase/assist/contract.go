package assist

import (
	"context"

	"github.com/kailas-cloud/entitled/internal/domain"
	"github.com/kailas-cloud/entitled/internal/domain/decision"
	"github.com/kailas-cloud/entitled/internal/domain/usage"
	"github.com/kailas-cloud/entitled/internal/domain/usage/budget"
)

// Resolver decides feature access.
type Resolver interface {
	Resolve(ctx context.Context, id domain.Identity, featureID string) (decision.Decision, error)
}

// Ledger is the consuming side of the quota ledger.
type Ledger interface {
	Consume(ctx context.Context, userID, featureID string) (usage.Status, error)
	ConsumeTrial(ctx context.Context, userID, featureID string) (budget.Budget, error)
	ReleaseTrial(ctx context.Context, userID, featureID string) error
	ReleaseQuota(ctx context.Context, userID string) error
}
