package entitlement

import (
	"context"

	"github.com/kailas-cloud/entitled/internal/domain"
	"github.com/kailas-cloud/entitled/internal/domain/subscription"
	"github.com/kailas-cloud/entitled/internal/domain/usage"
	"github.com/kailas-cloud/entitled/internal/domain/usage/budget"
)

// LedgerReader is the read side of the quota ledger.
type LedgerReader interface {
	Status(ctx context.Context, userID string) (usage.Status, error)
	TrialBudget(ctx context.Context, userID string) (budget.Budget, error)
}

// SubscriptionSource returns a user's subscription or domain.ErrNotFound.
type SubscriptionSource interface {
	Get(ctx context.Context, userID string) (subscription.Subscription, error)
}

// PremiumOverride grants Pro access to manually privileged identities.
type PremiumOverride interface {
	IsPremium(id domain.Identity) bool
}

// OverrideStore persists granted identities.
type OverrideStore interface {
	Grant(ctx context.Context, identity string) error
	Revoke(ctx context.Context, identity string) error
	List(ctx context.Context) ([]string, error)
}
