package recurrence

import (
	"time"
)

func (r Rule) nextDaily(from time.Time, includeFrom bool) (time.Time, bool) {
	if includeFrom {
		return from, true
	}
	return from.AddDate(0, 0, r.interval()), true
}

// matchesDaily checks the whole-day distance from the reference
func (r Rule) matchesDaily(candidate, reference time.Time) bool {
	days := daysBetween(reference, candidate)
	return days >= 0 && days%r.interval() == 0
}
