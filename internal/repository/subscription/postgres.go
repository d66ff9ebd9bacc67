package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kailas-cloud/entitled/internal/domain"
	"github.com/kailas-cloud/entitled/internal/domain/subscription"
	"github.com/kailas-cloud/entitled/internal/domain/tier"
)

// querier is the consumer interface over *pgxpool.Pool (ISP).
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

const (
	selectSubscription = `SELECT status, tier, subscription_end_date FROM user_subscriptions WHERE user_id = $1`
	upsertSubscription = `INSERT INTO user_subscriptions (user_id, status, tier, subscription_end_date, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE
SET status = EXCLUDED.status, tier = EXCLUDED.tier,
    subscription_end_date = EXCLUDED.subscription_end_date, updated_at = EXCLUDED.updated_at`
)

// Postgres reads subscriptions from the user_subscriptions table.
type Postgres struct {
	db  querier
	now func() time.Time
}

// NewPostgres creates a Postgres subscription source.
func NewPostgres(db querier) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

// Get returns the user's subscription or domain.ErrNotFound.
func (p *Postgres) Get(ctx context.Context, userID string) (subscription.Subscription, error) {
	var (
		status, rawTier string
		endDate         *time.Time
	)
	err := p.db.QueryRow(ctx, selectSubscription, userID).Scan(&status, &rawTier, &endDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return subscription.Subscription{}, domain.ErrNotFound
		}
		return subscription.Subscription{}, fmt.Errorf("select subscription %s: %w", userID, err)
	}

	t, err := tier.Parse(rawTier)
	if err != nil {
		// Unknown tiers in the table resolve as free.
		t = tier.Free
	}
	return subscription.New(userID, subscription.Status(strings.ToLower(status)), t, endDate), nil
}

// Save upserts the user's subscription.
func (p *Postgres) Save(ctx context.Context, sub subscription.Subscription) error {
	_, err := p.db.Exec(ctx, upsertSubscription,
		sub.UserID(),
		string(sub.Status()),
		strings.ToLower(string(sub.Tier())),
		sub.ExpiresAt(),
		p.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert subscription %s: %w", sub.UserID(), err)
	}
	return nil
}

// Ping checks database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}
