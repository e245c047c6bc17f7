// Package export writes tasks as iCalendar VTODO components.
package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"taskcycle/internal/recurrence"
	"taskcycle/internal/task"
)

const productID = "-//taskcycle//Tasks//EN"

var rruleDays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

var rruleFreqs = map[recurrence.Frequency]rrule.Frequency{
	recurrence.Daily:   rrule.DAILY,
	recurrence.Weekly:  rrule.WEEKLY,
	recurrence.Monthly: rrule.MONTHLY,
	recurrence.Yearly:  rrule.YEARLY,
}

// RuleOption converts a rule to rrule-go options. A date-only UNTIL
// covers the whole day in loc.
func RuleOption(r recurrence.Rule, loc *time.Location) rrule.ROption {
	opt := rrule.ROption{
		Freq:       rruleFreqs[r.Freq],
		Interval:   r.Interval,
		Count:      r.Count,
		Bymonth:    r.ByMonth,
		Bymonthday: r.ByMonthDay,
		Bysetpos:   r.BySetPos,
	}
	if r.Until != nil {
		until := *r.Until
		if !r.UntilTime {
			y, m, d := until.Date()
			until = time.Date(y, m, d, 23, 59, 59, 0, loc)
		}
		opt.Until = until
	}
	for _, wd := range r.ByDay {
		day := rruleDays[wd.Day]
		if wd.N != 0 {
			day = day.Nth(wd.N)
		}
		opt.Byweekday = append(opt.Byweekday, day)
	}
	return opt
}

// Exporter encodes tasks into a VCALENDAR
type Exporter struct {
	resolver task.Resolver
}

func NewExporter(resolver task.Resolver) *Exporter {
	return &Exporter{resolver: resolver}
}

// Encode writes tasks to w. Due dates are the effective due dates at now.
func (e *Exporter) Encode(w io.Writer, tasks []task.Task, now time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for _, t := range tasks {
		todo, err := e.component(t, now)
		if err != nil {
			return fmt.Errorf("task %s: %w", t.ID, err)
		}
		cal.Children = append(cal.Children, todo)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

func (e *Exporter) component(t task.Task, now time.Time) (*ical.Component, error) {
	todo := ical.NewComponent(ical.CompToDo)
	todo.Props.SetText(ical.PropUID, t.ID)
	todo.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	todo.Props.SetText(ical.PropSummary, t.Title)
	if t.Description != "" {
		todo.Props.SetText(ical.PropDescription, t.Description)
	}
	if !t.CreatedAt.IsZero() {
		todo.Props.SetDateTime(ical.PropCreated, t.CreatedAt.UTC())
	}
	if len(t.Labels) > 0 {
		prop := ical.NewProp(ical.PropCategories)
		prop.Value = strings.Join(t.Labels, ",")
		todo.Props.Set(prop)
	}
	if t.Priority >= 1 && t.Priority <= 9 {
		todo.Props.SetText(ical.PropPriority, strconv.Itoa(t.Priority))
	}
	if t.TrackingID != "" && t.TrackingID != t.ID {
		todo.Props.SetText(ical.PropRelatedTo, t.TrackingID)
	}

	if t.Completed {
		todo.Props.SetText(ical.PropStatus, "COMPLETED")
		if t.CompletedAt != nil {
			todo.Props.SetDateTime(ical.PropCompleted, t.CompletedAt.UTC())
		}
	} else {
		todo.Props.SetText(ical.PropStatus, "NEEDS-ACTION")
	}

	due, hasDue := e.resolver.EffectiveDueDate(t, now).Get()
	if hasDue {
		todo.Props.SetDateTime(ical.PropDue, due)
	}

	if t.IsRecurring() && hasDue && !t.Completed {
		rule, err := recurrence.Validate(t.Recurring)
		if err != nil {
			return nil, err
		}
		opt := RuleOption(rule, due.Location())
		todo.Props.SetDateTime(ical.PropDateTimeStart, due)
		todo.Props.SetRecurrenceRule(&opt)
	}
	return todo, nil
}
