package recurrence

import (
	"strconv"
	"strings"
)

// Build serializes r in the fixed part order FREQ, INTERVAL, COUNT, UNTIL,
// BYDAY, BYMONTH, BYMONTHDAY, BYSETPOS. List values keep the caller's order.
func Build(r Rule) string {
	var b strings.Builder
	b.WriteString(Prefix)
	b.WriteString("FREQ=")
	b.WriteString(r.Freq.String())

	if r.Interval > 1 {
		b.WriteString(";INTERVAL=" + strconv.Itoa(r.Interval))
	}
	if r.Count > 0 {
		b.WriteString(";COUNT=" + strconv.Itoa(r.Count))
	}
	if r.Until != nil {
		until := r.Until.Format(untilDateLayout)
		if r.UntilTime {
			until = r.Until.UTC().Format(untilDateTimeLayout)
		}
		b.WriteString(";UNTIL=" + until)
	}
	if len(r.ByDay) > 0 {
		days := make([]string, len(r.ByDay))
		for i, wd := range r.ByDay {
			days[i] = wd.String()
		}
		b.WriteString(";BYDAY=" + strings.Join(days, ","))
	}
	writeInts(&b, "BYMONTH", r.ByMonth)
	writeInts(&b, "BYMONTHDAY", r.ByMonthDay)
	writeInts(&b, "BYSETPOS", r.BySetPos)
	return b.String()
}

func writeInts(b *strings.Builder, key string, values []int) {
	if len(values) == 0 {
		return
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	b.WriteString(";" + key + "=" + strings.Join(parts, ","))
}

func (r Rule) String() string { return Build(r) }
