package recurrence

import (
	"time"
)

// MaxPeriodScan bounds every forward search over months or years. A rule
// that yields nothing within this many periods is treated as exhausted.
const MaxPeriodScan = 1000

// Frequency is the FREQ component of a rule
type Frequency int

const (
	Daily Frequency = iota + 1
	Weekly
	Monthly
	Yearly
)

func (f Frequency) String() string {
	switch f {
	case Daily:
		return "DAILY"
	case Weekly:
		return "WEEKLY"
	case Monthly:
		return "MONTHLY"
	case Yearly:
		return "YEARLY"
	}
	return ""
}

// ParseFrequency maps a FREQ literal to its Frequency
func ParseFrequency(s string) (Frequency, bool) {
	switch s {
	case "DAILY":
		return Daily, true
	case "WEEKLY":
		return Weekly, true
	case "MONTHLY":
		return Monthly, true
	case "YEARLY":
		return Yearly, true
	}
	return 0, false
}

// WeekdayNum is a BYDAY entry. N is the signed ordinal within the period,
// zero meaning every such weekday.
type WeekdayNum struct {
	N   int
	Day time.Weekday
}

var weekdayCodes = [...]string{
	time.Sunday:    "SU",
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
}

func parseWeekdayCode(code string) (time.Weekday, bool) {
	for day, c := range weekdayCodes {
		if c == code {
			return time.Weekday(day), true
		}
	}
	return 0, false
}

func (w WeekdayNum) String() string {
	code := weekdayCodes[w.Day]
	switch {
	case w.N > 0:
		return "+" + itoa(w.N) + code
	case w.N < 0:
		return itoa(w.N) + code
	}
	return code
}

// Rule is the parsed form of an RRULE string. The zero Interval reads as 1
// and a zero Count means no COUNT component.
type Rule struct {
	Freq       Frequency
	Interval   int
	Count      int
	Until      *time.Time
	UntilTime  bool // UNTIL carried a THHMMSSZ part
	ByDay      []WeekdayNum
	ByMonth    []int
	ByMonthDay []int
	BySetPos   []int
}

func (r Rule) interval() int {
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}

// WithCount returns a copy of r carrying the given COUNT
func (r Rule) WithCount(count int) Rule {
	r.Count = count
	r.ByDay = append([]WeekdayNum(nil), r.ByDay...)
	r.ByMonth = append([]int(nil), r.ByMonth...)
	r.ByMonthDay = append([]int(nil), r.ByMonthDay...)
	r.BySetPos = append([]int(nil), r.BySetPos...)
	if r.Until != nil {
		until := *r.Until
		r.Until = &until
	}
	return r
}

// pastUntil reports whether the calendar date of t lies after UNTIL
func (r Rule) pastUntil(t time.Time) bool {
	if r.Until == nil {
		return false
	}
	u := r.Until
	return dateOnly(t).After(time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC))
}
