package recurrence

import (
	"time"
)

// Weeks start on Monday. Ordinals on BYDAY entries carry no meaning for a
// weekly rule and are ignored.

func (r Rule) nextWeekly(from time.Time, includeFrom bool) (time.Time, bool) {
	if len(r.ByDay) == 0 {
		if includeFrom {
			return from, true
		}
		return from.AddDate(0, 0, 7*r.interval()), true
	}

	start := 1
	if includeFrom {
		start = 0
	}
	// The first qualifying day lies either in the week of from or in the
	// week interval weeks later.
	limit := 7 * (r.interval() + 1)
	for i := start; i <= limit; i++ {
		candidate := from.AddDate(0, 0, i)
		if !r.onWeekday(candidate.Weekday()) {
			continue
		}
		if weeksBetween(from, candidate)%r.interval() != 0 {
			continue
		}
		return candidate, true
	}
	return time.Time{}, false
}

func (r Rule) onWeekday(day time.Weekday) bool {
	for _, wd := range r.ByDay {
		if wd.Day == day {
			return true
		}
	}
	return false
}

func (r Rule) matchesWeekly(candidate, reference time.Time) bool {
	if len(r.ByDay) == 0 {
		if candidate.Weekday() != reference.Weekday() {
			return false
		}
		days := daysBetween(reference, candidate)
		return days >= 0 && (days/7)%r.interval() == 0
	}
	if !r.onWeekday(candidate.Weekday()) {
		return false
	}
	weeks := weeksBetween(reference, candidate)
	return weeks >= 0 && weeks%r.interval() == 0
}
