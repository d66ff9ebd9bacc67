package subscription

import (
	"time"

	"github.com/kailas-cloud/entitled/internal/domain/tier"
)

// Status is the billing state of a subscription.
type Status string

// Subscription statuses.
const (
	StatusFree      Status = "free"
	StatusTrial     Status = "trial"
	StatusPro       Status = "pro"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Subscription is a user's subscription record.
type Subscription struct {
	userID    string
	status    Status
	tier      tier.Tier
	expiresAt *time.Time
}

// New creates a Subscription. expiresAt may be nil (no end date).
func New(userID string, status Status, t tier.Tier, expiresAt *time.Time) Subscription {
	return Subscription{userID: userID, status: status, tier: t, expiresAt: expiresAt}
}

// Free returns the default subscription for a user with no record.
func Free(userID string) Subscription {
	return Subscription{userID: userID, status: StatusFree, tier: tier.Free}
}

// UserID returns the subscriber id.
func (s Subscription) UserID() string { return s.userID }

// Status returns the billing status.
func (s Subscription) Status() Status { return s.status }

// Tier returns the nominal tier.
func (s Subscription) Tier() tier.Tier { return s.tier }

// ExpiresAt returns the end date, if any.
func (s Subscription) ExpiresAt() *time.Time { return s.expiresAt }

// EffectiveTier returns the tier in force at now. Expired or cancelled
// subscriptions, and paid ones past their end date, fall back to Free.
func (s Subscription) EffectiveTier(now time.Time) tier.Tier {
	switch s.status {
	case StatusExpired, StatusCancelled:
		return tier.Free
	}
	if s.expiresAt != nil && !now.Before(*s.expiresAt) {
		return tier.Free
	}
	if !s.tier.Valid() {
		return tier.Free
	}
	return s.tier
}
