package accesserr

// Kind is the classified sub-kind of a backend rejection.
type Kind string

// Classification kinds.
const (
	KindNone           Kind = "none"
	KindTrialExhausted Kind = "trial_exhausted"
	KindProRequired    Kind = "pro_required"
	KindAccessDenied   Kind = "access_denied"
)

// Notification is the user-facing toast raised for a Pro error.
type Notification struct {
	Title       string
	Description string
}

// ProAccessError is a typed, actionable view of a failed backend call.
// Constructed fresh per failure; immutable.
type ProAccessError struct {
	kind           Kind
	isProError     bool
	message        string
	upgradePrompt  string
	trialAvailable *bool
}

// Passthrough creates a non-Pro error that carries the original message verbatim.
func Passthrough(message string) ProAccessError {
	return ProAccessError{kind: KindNone, message: message}
}

// NewPro creates a classified Pro error.
func NewPro(kind Kind, message, upgradePrompt string, trialAvailable bool) ProAccessError {
	return ProAccessError{
		kind:           kind,
		isProError:     true,
		message:        message,
		upgradePrompt:  upgradePrompt,
		trialAvailable: &trialAvailable,
	}
}

// Kind returns the classification kind.
func (e ProAccessError) Kind() Kind { return e.kind }

// IsProError reports whether the failure is an entitlement rejection.
func (e ProAccessError) IsProError() bool { return e.isProError }

// Message returns the user-facing message.
func (e ProAccessError) Message() string { return e.message }

// UpgradePrompt returns the prompt text. Empty when absent.
func (e ProAccessError) UpgradePrompt() string { return e.upgradePrompt }

// TrialAvailable returns whether a trial can still be offered, and whether the field is set.
func (e ProAccessError) TrialAvailable() (available, ok bool) {
	if e.trialAvailable == nil {
		return false, false
	}
	return *e.trialAvailable, true
}

// Notification returns the toast to raise, ok is false for non-Pro errors.
func (e ProAccessError) Notification() (Notification, bool) {
	if !e.isProError {
		return Notification{}, false
	}
	return Notification{Title: e.message, Description: e.upgradePrompt}, true
}
