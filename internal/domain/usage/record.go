package usage

import (
	"maps"
	"time"

	"github.com/kailas-cloud/entitled/internal/domain"
	"github.com/kailas-cloud/entitled/internal/domain/usage/budget"
)

// Consumption kinds.
const (
	KindQuota   = "quota"
	KindTrial   = "trial"
	KindPremium = "premium"
)

// Record is the mutable ledger row for one user. Only the ledger mutates it.
type Record struct {
	UserID          string
	UsageCount      int
	UsageLimit      int
	Premium         bool
	ResetAt         time.Time
	TrialUsed       map[string]int
	TrialGlobalUsed int
	// Version grows with every ledger mutation; stores drop older snapshots.
	Version uint64
}

// NewRecord creates a fresh record whose reset boundary is the next local midnight after now.
func NewRecord(userID string, limit int, now time.Time, loc *time.Location) *Record {
	return &Record{
		UserID:     userID,
		UsageLimit: limit,
		ResetAt:    domain.NextMidnight(now, loc),
		TrialUsed:  make(map[string]int),
	}
}

// Due reports whether the reset boundary has been crossed at now.
func (r *Record) Due(now time.Time) bool {
	return !now.Before(r.ResetAt)
}

// ResetIfDue zeroes the counters when now >= ResetAt and advances ResetAt.
// Returns true if a reset happened.
func (r *Record) ResetIfDue(now time.Time, loc *time.Location) bool {
	if !r.Due(now) {
		return false
	}
	r.clear(now, loc)
	return true
}

// Reset zeroes the counters and recomputes the boundary. It is a no-op when
// the record is already in its reset state. Returns true if anything changed.
func (r *Record) Reset(now time.Time, loc *time.Location) bool {
	next := domain.NextMidnight(now, loc)
	if r.UsageCount == 0 && r.TrialGlobalUsed == 0 && len(r.TrialUsed) == 0 && r.ResetAt.Equal(next) {
		return false
	}
	r.clear(now, loc)
	return true
}

func (r *Record) clear(now time.Time, loc *time.Location) {
	r.UsageCount = 0
	r.TrialGlobalUsed = 0
	r.TrialUsed = make(map[string]int)
	r.ResetAt = domain.NextMidnight(now, loc)
}

// Status returns an immutable snapshot.
func (r *Record) Status() Status {
	return NewStatus(r.UsageCount, r.UsageLimit, r.Premium, r.ResetAt)
}

// Budget returns the trial budget snapshot under the given caps.
func (r *Record) Budget(perFeatureCap, globalCap int) budget.Budget {
	remaining := make(map[string]int, len(r.TrialUsed))
	for f, used := range r.TrialUsed {
		remaining[f] = perFeatureCap - used
	}
	return budget.New(remaining, perFeatureCap, globalCap-r.TrialGlobalUsed, r.ResetAt)
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := *r
	c.TrialUsed = maps.Clone(r.TrialUsed)
	if c.TrialUsed == nil {
		c.TrialUsed = make(map[string]int)
	}
	return &c
}
