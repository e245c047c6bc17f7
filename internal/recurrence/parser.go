package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	cerrors "cloudeng.io/errors"
	"github.com/samber/mo"
)

// Prefix starts every rule string
const Prefix = "RRULE:"

const (
	untilDateLayout     = "20060102"
	untilDateTimeLayout = "20060102T150405Z"
)

var (
	ErrMissingPrefix       = errors.New("rule must start with " + Prefix)
	ErrMalformedSegment    = errors.New("segment is not KEY=VALUE")
	ErrMissingFreq         = errors.New("FREQ is required")
	ErrUnsupportedFreq     = errors.New("FREQ must be DAILY, WEEKLY, MONTHLY or YEARLY")
	ErrCountUntilExclusive = errors.New("COUNT and UNTIL are mutually exclusive")
	ErrUnknownPart         = errors.New("unsupported rule part")
	ErrDuplicatePart       = errors.New("rule part given more than once")
	ErrInvalidValue        = errors.New("invalid value")
)

// FieldError describes one problem with one component of a rule
type FieldError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *FieldError) Error() string {
	switch {
	case e.Field == "":
		return fmt.Sprintf("%q: %s", e.Value, e.Reason)
	case e.Value == "":
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s=%q: %s", e.Field, e.Value, e.Reason)
}

func (e *FieldError) Unwrap() error { return e.Err }

// report receives every problem found while decoding. fatal problems make
// the whole rule unusable, the rest only drop the offending value.
type report func(err *FieldError, fatal bool)

type fieldDecoder func(r *Rule, value string, bad report)

// grammar is the single description of every supported rule part. Both the
// lenient and the validating entry points decode through it.
var grammar = map[string]fieldDecoder{
	"FREQ": func(r *Rule, value string, bad report) {
		freq, ok := ParseFrequency(value)
		if !ok {
			bad(&FieldError{Field: "FREQ", Value: value, Reason: ErrUnsupportedFreq.Error(), Err: ErrUnsupportedFreq}, true)
			return
		}
		r.Freq = freq
	},
	"INTERVAL": func(r *Rule, value string, bad report) {
		if n, ok := scalar("INTERVAL", value, 1, 0, bad); ok {
			r.Interval = n
		}
	},
	"COUNT": func(r *Rule, value string, bad report) {
		if n, ok := scalar("COUNT", value, 1, 1000, bad); ok {
			r.Count = n
		}
	},
	"UNTIL": func(r *Rule, value string, bad report) {
		if t, err := time.Parse(untilDateLayout, value); err == nil {
			r.Until, r.UntilTime = &t, false
			return
		}
		if t, err := time.Parse(untilDateTimeLayout, value); err == nil {
			r.Until, r.UntilTime = &t, true
			return
		}
		bad(invalid("UNTIL", value, "expected YYYYMMDD or YYYYMMDDTHHMMSSZ"), false)
	},
	"BYDAY": func(r *Rule, value string, bad report) {
		r.ByDay = nil
		for _, item := range splitList(value) {
			wd, err := parseWeekdayNum(item)
			if err != nil {
				bad(invalid("BYDAY", item, err.Error()), false)
				continue
			}
			r.ByDay = append(r.ByDay, wd)
		}
	},
	"BYMONTH": func(r *Rule, value string, bad report) {
		r.ByMonth = intList("BYMONTH", value, 1, 12, false, bad)
	},
	"BYMONTHDAY": func(r *Rule, value string, bad report) {
		r.ByMonthDay = intList("BYMONTHDAY", value, 1, 31, true, bad)
	},
	"BYSETPOS": func(r *Rule, value string, bad report) {
		r.BySetPos = intList("BYSETPOS", value, 1, 366, true, bad)
	},
}

func invalid(field, value, reason string) *FieldError {
	return &FieldError{Field: field, Value: value, Reason: reason, Err: ErrInvalidValue}
}

// scalar parses a base-10 integer in [lo, hi]; hi of zero means unbounded
func scalar(field, value string, lo, hi int, bad report) (int, bool) {
	n, err := strconv.Atoi(value)
	if err != nil {
		bad(invalid(field, value, "not an integer"), false)
		return 0, false
	}
	if n < lo || (hi > 0 && n > hi) {
		bad(invalid(field, value, rangeReason(lo, hi, false)), false)
		return 0, false
	}
	return n, true
}

// intList parses a comma separated list whose magnitudes lie in [lo, hi].
// Items outside the range are dropped. The result is nil when nothing survives.
func intList(field, value string, lo, hi int, signed bool, bad report) []int {
	var out []int
	for _, item := range splitList(value) {
		n, err := strconv.Atoi(item)
		if err != nil {
			bad(invalid(field, item, "not an integer"), false)
			continue
		}
		mag := n
		if signed && n < 0 {
			mag = -n
		}
		if mag < lo || mag > hi {
			bad(invalid(field, item, rangeReason(lo, hi, signed)), false)
			continue
		}
		out = append(out, n)
	}
	return out
}

func rangeReason(lo, hi int, signed bool) string {
	switch {
	case signed:
		return fmt.Sprintf("must be between -%d and -%d or %d and %d", hi, lo, lo, hi)
	case hi == 0:
		return fmt.Sprintf("must be at least %d", lo)
	}
	return fmt.Sprintf("must be between %d and %d", lo, hi)
}

func splitList(value string) []string {
	items := strings.Split(value, ",")
	for i := range items {
		items[i] = strings.TrimSpace(items[i])
	}
	return items
}

func parseWeekdayNum(item string) (WeekdayNum, error) {
	if len(item) < 2 {
		return WeekdayNum{}, errors.New("unknown weekday")
	}
	prefix, code := item[:len(item)-2], item[len(item)-2:]
	day, ok := parseWeekdayCode(code)
	if !ok {
		return WeekdayNum{}, errors.New("unknown weekday")
	}
	if prefix == "" {
		return WeekdayNum{Day: day}, nil
	}
	digits := strings.TrimLeft(prefix, "+-")
	if len(prefix)-len(digits) > 1 || digits == "" || strings.Trim(digits, "0123456789") != "" {
		return WeekdayNum{}, errors.New("ordinal must be a signed integer")
	}
	n, _ := strconv.Atoi(prefix)
	if n == 0 || n > 53 || n < -53 {
		return WeekdayNum{}, errors.New("ordinal must be between -53 and -1 or 1 and 53")
	}
	return WeekdayNum{N: n, Day: day}, nil
}

// decode runs the grammar over s. It returns false when the rule as a
// whole is unusable.
func decode(s string, bad report) (Rule, bool) {
	var rule Rule
	ok := true
	fail := func(err *FieldError, fatal bool) {
		if fatal {
			ok = false
		}
		bad(err, fatal)
	}

	s = strings.TrimSpace(s)
	if len(s) < len(Prefix) || !strings.EqualFold(s[:len(Prefix)], Prefix) {
		fail(&FieldError{Value: s, Reason: ErrMissingPrefix.Error(), Err: ErrMissingPrefix}, true)
		return Rule{}, false
	}

	seen := map[string]bool{}
	for _, segment := range strings.Split(s[len(Prefix):], ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		key, value, found := strings.Cut(segment, "=")
		if !found {
			fail(&FieldError{Value: segment, Reason: ErrMalformedSegment.Error(), Err: ErrMalformedSegment}, true)
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.ToUpper(strings.TrimSpace(value))

		decodeField, known := grammar[key]
		if !known {
			fail(&FieldError{Field: key, Value: value, Reason: ErrUnknownPart.Error(), Err: ErrUnknownPart}, false)
			continue
		}
		if seen[key] {
			fail(&FieldError{Field: key, Value: value, Reason: ErrDuplicatePart.Error(), Err: ErrDuplicatePart}, false)
		}
		seen[key] = true
		decodeField(&rule, value, fail)
	}

	if !seen["FREQ"] {
		fail(&FieldError{Field: "FREQ", Reason: ErrMissingFreq.Error(), Err: ErrMissingFreq}, true)
	}
	// only values that survived decoding make the rule unusable; a dropped
	// COUNT or UNTIL leaves the other in force
	if seen["COUNT"] && seen["UNTIL"] {
		both := rule.Count > 0 && rule.Until != nil
		fail(&FieldError{Field: "COUNT/UNTIL", Reason: ErrCountUntilExclusive.Error(), Err: ErrCountUntilExclusive}, both)
	}
	return rule, ok
}

// Parse decodes s leniently. Bad list items are dropped and bad scalar
// values read as absent. It returns None when the rule is unusable.
func Parse(s string) mo.Option[Rule] {
	rule, ok := decode(s, func(*FieldError, bool) {})
	if !ok {
		return mo.None[Rule]()
	}
	return mo.Some(rule)
}

// Validate decodes s strictly. Every value Parse would drop or refuse is
// reported, all of them together in the returned error.
func Validate(s string) (Rule, error) {
	errs := &cerrors.M{}
	rule, _ := decode(s, func(err *FieldError, _ bool) { errs.Append(err) })
	if err := errs.Err(); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// MustParse is Parse for rules known to be valid, such as literals in tests
func MustParse(s string) Rule {
	rule, err := Validate(s)
	if err != nil {
		panic(fmt.Sprintf("recurrence: %v", err))
	}
	return rule
}
