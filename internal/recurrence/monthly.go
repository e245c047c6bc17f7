package recurrence

import (
	"time"
)

func (r Rule) nextMonthly(from time.Time, includeFrom bool) (time.Time, bool) {
	if len(r.ByMonthDay) == 0 && len(r.ByDay) == 0 {
		if includeFrom {
			return from, true
		}
		return addMonthsClamped(from, r.interval()), true
	}

	cursor := dateOnly(from)
	if !includeFrom {
		cursor = cursor.AddDate(0, 0, 1)
	}
	for k := 0; k < MaxPeriodScan; k++ {
		period := addMonthsClamped(at(from.Year(), from.Month(), 1, from), k*r.interval())
		if r.pastUntil(period) {
			break
		}
		for _, day := range r.monthCandidates(period.Year(), period.Month(), from.Day()) {
			candidate := at(period.Year(), period.Month(), day, from)
			if dateOnly(candidate).Before(cursor) {
				continue
			}
			return candidate, true
		}
	}
	return time.Time{}, false
}

// matchesMonthly compares days of month. A reference day missing from the
// candidate's month matches that month's last day.
func (r Rule) matchesMonthly(candidate, reference time.Time) bool {
	dim := daysInMonth(candidate.Year(), candidate.Month())
	if len(r.ByMonthDay) == 0 {
		return candidate.Day() == min(reference.Day(), dim)
	}
	for _, v := range r.ByMonthDay {
		if v == candidate.Day() || (v < 0 && dim+v+1 == candidate.Day()) {
			return true
		}
	}
	return false
}
