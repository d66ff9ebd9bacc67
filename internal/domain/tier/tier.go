package tier

import (
	"fmt"
	"strings"
)

// Tier is a subscription level governing default access.
type Tier string

// Subscription tiers.
const (
	Free  Tier = "FREE"
	Trial Tier = "TRIAL"
	Pro   Tier = "PRO"
)

// Parse converts a tier name (case-insensitive). Billing variants such as
// pro_monthly, pro_yearly and pro_lifetime map to Pro.
func Parse(s string) (Tier, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case v == "" || v == "free":
		return Free, nil
	case v == "trial":
		return Trial, nil
	case v == "pro" || strings.HasPrefix(v, "pro_"):
		return Pro, nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case Free, Trial, Pro:
		return true
	default:
		return false
	}
}

// Unlimited reports whether the tier bypasses all quota checks.
func (t Tier) Unlimited() bool { return t == Pro }
