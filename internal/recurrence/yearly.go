package recurrence

import (
	"sort"
	"time"
)

func (r Rule) nextYearly(from time.Time, includeFrom bool) (time.Time, bool) {
	if len(r.ByMonth) == 0 && len(r.ByDay) == 0 && len(r.ByMonthDay) == 0 {
		if includeFrom {
			return from, true
		}
		// Feb 29 lands on Feb 28 in common years
		return addMonthsClamped(from, 12*r.interval()), true
	}

	months := r.yearMonths(from)
	cursor := dateOnly(from)
	if !includeFrom {
		cursor = cursor.AddDate(0, 0, 1)
	}
	for k := 0; k < MaxPeriodScan; k++ {
		year := from.Year() + k*r.interval()
		if r.pastUntil(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)) {
			break
		}
		for _, month := range months {
			for _, day := range r.monthCandidates(year, month, from.Day()) {
				candidate := at(year, month, day, from)
				if dateOnly(candidate).Before(cursor) {
					continue
				}
				return candidate, true
			}
		}
	}
	return time.Time{}, false
}

// yearMonths returns BYMONTH in ascending order, or the month of from when
// the rule only narrows by day.
func (r Rule) yearMonths(from time.Time) []time.Month {
	if len(r.ByMonth) == 0 {
		return []time.Month{from.Month()}
	}
	seen := make(map[int]bool, len(r.ByMonth))
	months := make([]time.Month, 0, len(r.ByMonth))
	for _, m := range r.ByMonth {
		if !seen[m] {
			seen[m] = true
			months = append(months, time.Month(m))
		}
	}
	sort.Slice(months, func(i, j int) bool { return months[i] < months[j] })
	return months
}

// matchesYearly requires the reference month and day. A Feb 29 reference
// therefore only matches in leap years.
func (r Rule) matchesYearly(candidate, reference time.Time) bool {
	return candidate.Month() == reference.Month() && candidate.Day() == reference.Day()
}
