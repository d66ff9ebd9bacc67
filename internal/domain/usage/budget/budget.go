package budget

import (
	"maps"
	"time"
)

// Default trial caps.
const (
	DefaultPerFeatureCap = 3
	DefaultGlobalCap     = 10
)

// Budget is a per-user trial budget snapshot. A trial unit can be spent only
// when both the feature's remaining count and the global remaining count are positive.
type Budget struct {
	perFeature      map[string]int
	perFeatureCap   int
	globalRemaining int
	resetAt         time.Time
}

// New creates a Budget snapshot. perFeature holds remaining units for features
// that have been touched; untouched features have perFeatureCap remaining.
// Negative values are clamped to zero.
func New(perFeature map[string]int, perFeatureCap, globalRemaining int, resetAt time.Time) Budget {
	pf := make(map[string]int, len(perFeature))
	for f, v := range perFeature {
		pf[f] = max(v, 0)
	}
	return Budget{
		perFeature:      pf,
		perFeatureCap:   max(perFeatureCap, 0),
		globalRemaining: max(globalRemaining, 0),
		resetAt:         resetAt,
	}
}

// Remaining returns the trial units left for a feature.
func (b Budget) Remaining(feature string) int {
	if v, ok := b.perFeature[feature]; ok {
		return v
	}
	return b.perFeatureCap
}

// PerFeatureRemaining returns a copy of the touched features' remaining units.
func (b Budget) PerFeatureRemaining() map[string]int { return maps.Clone(b.perFeature) }

// PerFeatureCap returns the per-feature cap.
func (b Budget) PerFeatureCap() int { return b.perFeatureCap }

// GlobalRemaining returns the trial units left across all features.
func (b Budget) GlobalRemaining() int { return b.globalRemaining }

// ResetAt returns the next reset boundary.
func (b Budget) ResetAt() time.Time { return b.resetAt }

// CanConsume reports whether a trial unit can be spent on feature.
func (b Budget) CanConsume(feature string) bool {
	return b.Remaining(feature) > 0 && b.globalRemaining > 0
}

// Exhausted reports whether both caps are spent for feature.
func (b Budget) Exhausted(feature string) bool {
	return b.Remaining(feature) == 0 && b.globalRemaining == 0
}
