package decision

// Reason explains an access decision.
type Reason string

// Decision reasons.
const (
	ReasonProUnlimited    Reason = "PRO_UNLIMITED"
	ReasonWithinFreeQuota Reason = "WITHIN_FREE_QUOTA"
	ReasonTrialAvailable  Reason = "TRIAL_AVAILABLE"
	ReasonTrialExhausted  Reason = "TRIAL_EXHAUSTED"
	ReasonQuotaExhausted  Reason = "QUOTA_EXHAUSTED"
)

// Decision is a derived allow/deny answer. Never persisted.
type Decision struct {
	allowed bool
	reason  Reason
}

// Allow creates a positive decision.
func Allow(r Reason) Decision { return Decision{allowed: true, reason: r} }

// Deny creates a negative decision.
func Deny(r Reason) Decision { return Decision{allowed: false, reason: r} }

// Allowed reports whether the action is permitted.
func (d Decision) Allowed() bool { return d.allowed }

// Reason returns why the decision was made.
func (d Decision) Reason() Reason { return d.reason }

// RequiresTrial reports whether allowing the action spends a trial unit.
func (d Decision) RequiresTrial() bool { return d.reason == ReasonTrialAvailable }
