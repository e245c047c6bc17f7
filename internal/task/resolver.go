package task

import (
	"time"

	"github.com/samber/mo"

	"taskcycle/internal/recurrence"
)

// DefaultRolloverYears bounds how far ahead the resolver searches
const DefaultRolloverYears = 10

// Resolver computes the virtual due date of auto-rollover tasks
type Resolver struct {
	MaxYears int
}

func NewResolver(maxYears int) Resolver {
	if maxYears <= 0 {
		maxYears = DefaultRolloverYears
	}
	return Resolver{MaxYears: maxYears}
}

// EffectiveDueDate returns the due date a task should be shown with at now.
// Auto-rollover tasks whose due date lies on an earlier day are advanced one
// occurrence at a time to the first occurrence after now. When no such
// occurrence exists within MaxYears the stored due date is returned.
func (r Resolver) EffectiveDueDate(t Task, now time.Time) mo.Option[time.Time] {
	if t.DueDate == nil {
		return mo.None[time.Time]()
	}
	due := *t.DueDate
	if t.RecurringMode != ModeAutoRollover || !t.IsRecurring() || sameDayOrLater(due, now) {
		return mo.Some(due)
	}

	rule, ok := recurrence.Parse(t.Recurring).Get()
	if !ok {
		return mo.Some(due)
	}
	maxYears := r.MaxYears
	if maxYears <= 0 {
		maxYears = DefaultRolloverYears
	}
	horizon := now.AddDate(maxYears, 0, 0)

	current := due
	for {
		next, ok := rule.Next(current, false).Get()
		if !ok || next.After(horizon) {
			return mo.Some(due)
		}
		if next.After(now) {
			return mo.Some(next)
		}
		current = next
	}
}
