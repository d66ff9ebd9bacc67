package domain

import "time"

// KeyPrefix is the default storage key prefix.
const KeyPrefix = "entitled:"

// NextMidnight returns the first local midnight in loc strictly after t.
// Uses calendar arithmetic so DST transitions do not shift the boundary.
func NextMidnight(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day()+1, 0, 0, 0, 0, loc)
}
