package usage

import (
	"time"

	"github.com/kailas-cloud/entitled/internal/domain/decision"
	"github.com/kailas-cloud/entitled/internal/domain/tier"
	"github.com/kailas-cloud/entitled/internal/domain/usage/budget"
)

// Report is a per-user entitlement report: quota, trial budget and the
// decision for every catalog feature.
type Report struct {
	userID      string
	tier        tier.Tier
	status      Status
	budget      budget.Budget
	decisions   map[string]decision.Decision
	generatedAt time.Time
}

// NewReport creates a usage report.
func NewReport(
	userID string,
	t tier.Tier,
	s Status,
	b budget.Budget,
	decisions map[string]decision.Decision,
	generatedAt time.Time,
) Report {
	d := make(map[string]decision.Decision, len(decisions))
	for k, v := range decisions {
		d[k] = v
	}
	return Report{
		userID:      userID,
		tier:        t,
		status:      s,
		budget:      b,
		decisions:   d,
		generatedAt: generatedAt,
	}
}

// UserID returns the subject of the report.
func (r *Report) UserID() string { return r.userID }

// Tier returns the effective tier.
func (r *Report) Tier() tier.Tier { return r.tier }

// Status returns the usage status.
func (r *Report) Status() Status { return r.status }

// Budget returns the trial budget.
func (r *Report) Budget() budget.Budget { return r.budget }

// Decisions returns the per-feature decisions.
func (r *Report) Decisions() map[string]decision.Decision { return r.decisions }

// GeneratedAt returns when the report was built.
func (r *Report) GeneratedAt() time.Time { return r.generatedAt }
