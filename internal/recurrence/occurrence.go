package recurrence

import (
	"errors"
	"time"

	"github.com/samber/mo"
)

// Next returns the first occurrence after from, or from itself when
// includeFrom is set and from qualifies. The wall-clock time of from is
// kept on the result. COUNT is not consumed here.
func (r Rule) Next(from time.Time, includeFrom bool) mo.Option[time.Time] {
	var (
		next  time.Time
		found bool
	)
	switch r.Freq {
	case Daily:
		next, found = r.nextDaily(from, includeFrom)
	case Weekly:
		next, found = r.nextWeekly(from, includeFrom)
	case Monthly:
		next, found = r.nextMonthly(from, includeFrom)
	case Yearly:
		next, found = r.nextYearly(from, includeFrom)
	}
	if !found || r.pastUntil(next) {
		return mo.None[time.Time]()
	}
	return mo.Some(next)
}

// NextOccurrence parses rule leniently and computes its next occurrence
// after from. Unusable rules yield None.
func NextOccurrence(rule string, from time.Time, includeFrom bool) mo.Option[time.Time] {
	r, ok := Parse(rule).Get()
	if !ok {
		return mo.None[time.Time]()
	}
	return r.Next(from, includeFrom)
}

// Occurrences lists up to n successive occurrences starting at from,
// stopping early when the rule runs out. A COUNT on the rule caps n.
func (r Rule) Occurrences(from time.Time, includeFrom bool, n int) []time.Time {
	if r.Count > 0 && r.Count < n {
		n = r.Count
	}
	var out []time.Time
	for len(out) < n {
		next, ok := r.Next(from, includeFrom).Get()
		if !ok {
			break
		}
		out = append(out, next)
		from, includeFrom = next, false
	}
	return out
}

// Matches reports whether candidate satisfies rule relative to reference.
// Only calendar dates are compared. An unusable rule, or one naming an
// unknown weekday in BYDAY, matches nothing.
func Matches(candidate time.Time, rule string, reference time.Time) bool {
	badWeekday := false
	r, ok := decode(rule, func(err *FieldError, _ bool) {
		if err.Field == "BYDAY" && errors.Is(err, ErrInvalidValue) {
			badWeekday = true
		}
	})
	if !ok || badWeekday {
		return false
	}
	switch r.Freq {
	case Daily:
		return r.matchesDaily(candidate, reference)
	case Weekly:
		return r.matchesWeekly(candidate, reference)
	case Monthly:
		return r.matchesMonthly(candidate, reference)
	case Yearly:
		return r.matchesYearly(candidate, reference)
	}
	return false
}
