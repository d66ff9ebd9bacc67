// Package classify turns backend rejections into typed, actionable access errors.
//
// Only 403 responses are eligible. A structured error code, when the backend
// sends one, wins; otherwise the lowercased message is matched against a few
// keywords. The keyword path is best effort and may misclassify.
package classify

import (
	"errors"
	"net/http"
	"strings"

	"github.com/kailas-cloud/entitled/internal/domain/accesserr"
	"github.com/kailas-cloud/entitled/internal/metrics"
)

// Fixed user-facing texts.
const (
	MessageTrialExhausted = "Trial sessions exhausted"
	MessageProRequired    = "Pro subscription required"
	MessageAccessDenied   = "Access denied"

	PromptTrialExhausted = "Upgrade to Pro for unlimited access to all features."
	PromptProRequired    = "Upgrade to Pro to unlock this feature."
	PromptAccessDenied   = "Upgrade to Pro or use a trial session to continue."
)

// APIError is the shape of a failed backend call.
type APIError interface {
	error
	HTTPStatus() int
	APIMessage() string
	APICode() string
}

// Classify maps err to a ProAccessError. Non-403 errors pass through with
// their original message.
func Classify(err error) accesserr.ProAccessError {
	res := classify(err)
	metrics.ClassifiedErrorsTotal.WithLabelValues(string(res.Kind())).Inc()
	return res
}

// Status classifies a raw status and message, for callers without an error value.
func Status(status int, code, message string) accesserr.ProAccessError {
	res := fromParts(status, code, message)
	metrics.ClassifiedErrorsTotal.WithLabelValues(string(res.Kind())).Inc()
	return res
}

func classify(err error) accesserr.ProAccessError {
	if err == nil {
		return accesserr.Passthrough("")
	}
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		return accesserr.Passthrough(err.Error())
	}
	msg := apiErr.APIMessage()
	if msg == "" {
		msg = err.Error()
	}
	return fromParts(apiErr.HTTPStatus(), apiErr.APICode(), msg)
}

func fromParts(status int, code, message string) accesserr.ProAccessError {
	if status != http.StatusForbidden {
		return accesserr.Passthrough(message)
	}
	if kind, ok := byCode(code); ok {
		return build(kind)
	}
	return build(byMessage(message))
}

func byCode(code string) (accesserr.Kind, bool) {
	switch accesserr.Kind(strings.ToLower(strings.TrimSpace(code))) {
	case accesserr.KindTrialExhausted:
		return accesserr.KindTrialExhausted, true
	case accesserr.KindProRequired:
		return accesserr.KindProRequired, true
	case accesserr.KindAccessDenied:
		return accesserr.KindAccessDenied, true
	default:
		return "", false
	}
}

func byMessage(message string) accesserr.Kind {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "trial") && strings.Contains(m, "limit"):
		return accesserr.KindTrialExhausted
	case strings.Contains(m, "pro"), strings.Contains(m, "subscription"), strings.Contains(m, "upgrade"):
		return accesserr.KindProRequired
	default:
		return accesserr.KindAccessDenied
	}
}

func build(kind accesserr.Kind) accesserr.ProAccessError {
	switch kind {
	case accesserr.KindTrialExhausted:
		return accesserr.NewPro(kind, MessageTrialExhausted, PromptTrialExhausted, false)
	case accesserr.KindProRequired:
		return accesserr.NewPro(kind, MessageProRequired, PromptProRequired, true)
	default:
		return accesserr.NewPro(accesserr.KindAccessDenied, MessageAccessDenied, PromptAccessDenied, true)
	}
}
