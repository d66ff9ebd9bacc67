package usage

import (
	"context"
	"time"

	"github.com/kailas-cloud/entitled/internal/domain"
	"github.com/kailas-cloud/entitled/internal/domain/decision"
	"github.com/kailas-cloud/entitled/internal/domain/feature"
	"github.com/kailas-cloud/entitled/internal/domain/tier"
	domusage "github.com/kailas-cloud/entitled/internal/domain/usage"
	"github.com/kailas-cloud/entitled/internal/domain/usage/budget"
)

// LedgerReader provides read-only access to ledger state.
type LedgerReader interface {
	Status(ctx context.Context, userID string) (domusage.Status, error)
	TrialBudget(ctx context.Context, userID string) (budget.Budget, error)
}

// Resolver decides feature access.
type Resolver interface {
	Resolve(ctx context.Context, id domain.Identity, featureID string) (decision.Decision, error)
	Tier(ctx context.Context, id domain.Identity) (tier.Tier, error)
	Catalog() feature.Catalog
}

// CounterReader reads aggregated per-feature consumption.
type CounterReader interface {
	Daily(ctx context.Context, featureID, kind string, day time.Time) (int64, error)
}
