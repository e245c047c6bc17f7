package task

import (
	"fmt"
	"maps"
	"time"
)

// Mode selects which timestamp anchors the next occurrence of a task
type Mode string

const (
	ModeDueDate      Mode = "dueDate"
	ModeCompletedAt  Mode = "completedAt"
	ModeAutoRollover Mode = "autoRollover"
)

// ParseMode accepts the three mode names. An empty name means ModeDueDate.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeDueDate:
		return ModeDueDate, nil
	case ModeCompletedAt:
		return ModeCompletedAt, nil
	case ModeAutoRollover:
		return ModeAutoRollover, nil
	}
	return "", fmt.Errorf("unknown recurring mode %q", s)
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m), nil }

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Subtask is a checklist item of a task
type Subtask struct {
	ID        string `json:"id" yaml:"id"`
	Title     string `json:"title" yaml:"title"`
	Completed bool   `json:"completed" yaml:"completed"`
}

// Task is a single instance of a possibly recurring task. Fields other than
// DueDate, CompletedAt, Recurring, RecurringMode and TrackingID are opaque to
// the recurrence logic and carried to successors unchanged.
type Task struct {
	ID            string          `json:"id" yaml:"id"`
	TrackingID    string          `json:"trackingId,omitempty" yaml:"tracking_id,omitempty"`
	Title         string          `json:"title" yaml:"title"`
	Description   string          `json:"description,omitempty" yaml:"description,omitempty"`
	Project       string          `json:"project,omitempty" yaml:"project,omitempty"`
	Labels        []string        `json:"labels,omitempty" yaml:"labels,omitempty"`
	Priority      int             `json:"priority,omitempty" yaml:"priority,omitempty"`
	DueDate       *time.Time      `json:"dueDate,omitempty" yaml:"due_date,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty" yaml:"completed_at,omitempty"`
	Completed     bool            `json:"completed" yaml:"completed"`
	CreatedAt     time.Time       `json:"createdAt" yaml:"created_at"`
	Recurring     string          `json:"recurring,omitempty" yaml:"recurring,omitempty"`
	RecurringMode Mode            `json:"recurringMode,omitempty" yaml:"recurring_mode,omitempty"`
	Subtasks      []Subtask       `json:"subtasks,omitempty" yaml:"subtasks,omitempty"`
	Reminders     []time.Duration `json:"reminders,omitempty" yaml:"reminders,omitempty"` // alert offsets before the due date
	Source        string          `json:"source,omitempty" yaml:"source,omitempty"`       // file the task was imported from
	Extra         map[string]any  `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// IsRecurring reports whether the task carries a rule
func (t Task) IsRecurring() bool {
	return t.Recurring != ""
}

// Clone returns a deep copy of t
func (t Task) Clone() Task {
	c := t
	c.Labels = append([]string(nil), t.Labels...)
	c.Subtasks = append([]Subtask(nil), t.Subtasks...)
	c.Reminders = append([]time.Duration(nil), t.Reminders...)
	if t.DueDate != nil {
		due := *t.DueDate
		c.DueDate = &due
	}
	if t.CompletedAt != nil {
		done := *t.CompletedAt
		c.CompletedAt = &done
	}
	if t.Extra != nil {
		c.Extra = maps.Clone(t.Extra)
	}
	return c
}

func sameDayOrLater(t, day time.Time) bool {
	ty, tm, td := t.Date()
	dy, dm, dd := day.Date()
	return !time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC).Before(time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC))
}
