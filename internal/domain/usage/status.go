package usage

import "time"

// DefaultDailyLimit is the free-tier daily allowance.
const DefaultDailyLimit = 5

// Status is an immutable usage snapshot for a user.
type Status struct {
	usageCount int
	usageLimit int
	premium    bool
	resetTime  time.Time
}

// NewStatus creates a Status. A zero resetTime means no reset is scheduled.
func NewStatus(count, limit int, premium bool, resetTime time.Time) Status {
	return Status{
		usageCount: max(count, 0),
		usageLimit: limit,
		premium:    premium,
		resetTime:  resetTime,
	}
}

// DefaultStatus is the status assumed for a user with no ledger record.
func DefaultStatus(limit int) Status {
	return Status{usageLimit: limit}
}

// UsageCount returns units consumed since the last reset.
func (s Status) UsageCount() int { return s.usageCount }

// UsageLimit returns the daily allowance.
func (s Status) UsageLimit() int { return s.usageLimit }

// IsPremium reports whether quota checks are bypassed.
func (s Status) IsPremium() bool { return s.premium }

// ResetTime returns the next reset boundary. Zero when unknown.
func (s Status) ResetTime() time.Time { return s.resetTime }

// HasResetTime reports whether a reset boundary is known.
func (s Status) HasResetTime() bool { return !s.resetTime.IsZero() }

// CanUseFeature reports isPremium || usageCount < usageLimit.
func (s Status) CanUseFeature() bool {
	return s.premium || s.usageCount < s.usageLimit
}

// Remaining returns the free units left, or -1 for premium users.
func (s Status) Remaining() int {
	if s.premium {
		return -1
	}
	return max(s.usageLimit-s.usageCount, 0)
}
