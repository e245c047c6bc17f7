package recurrence

import (
	"sort"
	"strconv"
	"time"

	"cloudeng.io/datetime"
)

func itoa(n int) string { return strconv.Itoa(n) }

// dateOnly drops the clock and location so comparisons never see DST shifts
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(dateOnly(to).Sub(dateOnly(from)).Hours() / 24)
}

func daysInMonth(year int, month time.Month) int {
	return int(datetime.DaysInMonth(year, datetime.Month(month)))
}

// weekStart returns the Monday of the week containing t, as a date
func weekStart(t time.Time) time.Time {
	d := dateOnly(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

func weeksBetween(from, to time.Time) int {
	return daysBetween(weekStart(from), weekStart(to)) / 7
}

// at places the wall-clock time of clock on the given calendar day
func at(year int, month time.Month, day int, clock time.Time) time.Time {
	return time.Date(year, month, day,
		clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), clock.Location())
}

// addMonthsClamped moves t forward by n months, pinning the day to the last
// day of the target month when the original day does not exist there.
func addMonthsClamped(t time.Time, n int) time.Time {
	total := int(t.Month()) - 1 + n
	year := t.Year() + floorDiv(total, 12)
	month := time.Month(total - floorDiv(total, 12)*12 + 1)
	day := min(t.Day(), daysInMonth(year, month))
	return at(year, month, day, t)
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// nthWeekday returns the day of month of the nth given weekday, counting
// from the end when n is negative. Zero means the month has no such day.
func nthWeekday(year int, month time.Month, day time.Weekday, n int) int {
	dim := daysInMonth(year, month)
	if n > 0 {
		first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Weekday()
		d := 1 + (int(day)-int(first)+7)%7 + (n-1)*7
		if d > dim {
			return 0
		}
		return d
	}
	last := time.Date(year, month, dim, 0, 0, 0, 0, time.UTC).Weekday()
	d := dim - (int(last)-int(day)+7)%7 + (n+1)*7
	if d < 1 {
		return 0
	}
	return d
}

// monthCandidates lists the days of a month selected by BYMONTHDAY and
// BYDAY, intersected when both are present, then narrowed by BYSETPOS.
// fallbackDay is used when neither component is set.
func (r Rule) monthCandidates(year int, month time.Month, fallbackDay int) []int {
	dim := daysInMonth(year, month)

	var byMonthDay map[int]bool
	if len(r.ByMonthDay) > 0 {
		byMonthDay = make(map[int]bool, len(r.ByMonthDay))
		for _, v := range r.ByMonthDay {
			d := v
			if v < 0 {
				d = dim + v + 1
			}
			if d >= 1 && d <= dim {
				byMonthDay[d] = true
			}
		}
	}

	var byDay map[int]bool
	if len(r.ByDay) > 0 {
		byDay = make(map[int]bool)
		for _, wd := range r.ByDay {
			if wd.N != 0 {
				if d := nthWeekday(year, month, wd.Day, wd.N); d > 0 {
					byDay[d] = true
				}
				continue
			}
			for d := nthWeekday(year, month, wd.Day, 1); d <= dim; d += 7 {
				byDay[d] = true
			}
		}
	}

	var days []int
	switch {
	case byMonthDay != nil && byDay != nil:
		for d := range byMonthDay {
			if byDay[d] {
				days = append(days, d)
			}
		}
	case byMonthDay != nil:
		for d := range byMonthDay {
			days = append(days, d)
		}
	case byDay != nil:
		for d := range byDay {
			days = append(days, d)
		}
	default:
		days = []int{min(fallbackDay, dim)}
	}
	sort.Ints(days)
	return r.selectSetPos(days)
}

func (r Rule) selectSetPos(days []int) []int {
	if len(r.BySetPos) == 0 || len(days) == 0 {
		return days
	}
	picked := make(map[int]bool, len(r.BySetPos))
	for _, pos := range r.BySetPos {
		idx := pos - 1
		if pos < 0 {
			idx = len(days) + pos
		}
		if idx >= 0 && idx < len(days) {
			picked[days[idx]] = true
		}
	}
	selected := make([]int, 0, len(picked))
	for d := range picked {
		selected = append(selected, d)
	}
	sort.Ints(selected)
	return selected
}
