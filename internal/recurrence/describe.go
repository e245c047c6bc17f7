package recurrence

import (
	"fmt"
	"strings"
	"time"
)

var unitNames = map[Frequency][2]string{
	Daily:   {"daily", "days"},
	Weekly:  {"weekly", "weeks"},
	Monthly: {"monthly", "months"},
	Yearly:  {"yearly", "years"},
}

var ordinalWords = map[int]string{1: "first", 2: "second", 3: "third", 4: "fourth", 5: "fifth", -1: "last", -2: "second to last"}

// Describe returns a short human-readable description of the rule
func (r Rule) Describe() string {
	names := unitNames[r.Freq]
	desc := names[0]
	if r.interval() != 1 {
		desc = fmt.Sprintf("every %d %s", r.interval(), names[1])
	}

	if len(r.ByMonth) > 0 {
		months := make([]string, len(r.ByMonth))
		for i, m := range r.ByMonth {
			months[i] = time.Month(m).String()[:3]
		}
		desc += " in " + strings.Join(months, ", ")
	}
	if len(r.BySetPos) > 0 && len(r.ByDay) > 0 {
		positions := make([]string, len(r.BySetPos))
		for i, p := range r.BySetPos {
			positions[i] = ordinal(p)
		}
		desc += " on the " + strings.Join(positions, ", ")
	} else if len(r.ByDay) > 0 {
		desc += " on"
	}
	if len(r.ByDay) > 0 {
		days := make([]string, len(r.ByDay))
		for i, wd := range r.ByDay {
			day := wd.Day.String()[:3]
			if wd.N != 0 {
				day = ordinal(wd.N) + " " + day
			}
			days[i] = day
		}
		desc += " " + strings.Join(days, ", ")
	}
	if len(r.ByMonthDay) > 0 {
		days := make([]string, len(r.ByMonthDay))
		for i, d := range r.ByMonthDay {
			days[i] = fmt.Sprintf("day %d", d)
			if d < 0 {
				days[i] = ordinal(d) + " day"
			}
		}
		desc += " on " + strings.Join(days, ", ")
	}

	switch {
	case r.Count == 1:
		desc += ", once"
	case r.Count > 1:
		desc += fmt.Sprintf(", %d times", r.Count)
	case r.Until != nil:
		desc += ", until " + r.Until.Format("2006-01-02")
	}
	return desc
}

func ordinal(n int) string {
	if w, ok := ordinalWords[n]; ok {
		return w
	}
	if n < 0 {
		return fmt.Sprintf("%d from last", -n)
	}
	return fmt.Sprintf("%dth", n)
}
