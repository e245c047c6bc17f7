package task

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"taskcycle/internal/recurrence"
)

// Generator produces the successor of a completed recurring task
type Generator struct {
	resolver Resolver
	newID    func() string
}

// GeneratorOption configures a Generator
type GeneratorOption func(*Generator)

// WithIDFunc replaces the identifier source used for successors
func WithIDFunc(f func() string) GeneratorOption {
	return func(g *Generator) { g.newID = f }
}

// WithResolver sets the resolver used to anchor auto-rollover tasks
func WithResolver(r Resolver) GeneratorOption {
	return func(g *Generator) { g.resolver = r }
}

func NewGenerator(opts ...GeneratorOption) *Generator {
	g := &Generator{
		resolver: NewResolver(DefaultRolloverYears),
		newID:    NewID,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewID returns a time-ordered UUIDv7, falling back to a random one
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// GenerateNext builds the next instance of t as of now. It returns None when
// t is not recurring, has no due date, its COUNT is used up, or its rule
// yields no further occurrence.
func (g *Generator) GenerateNext(t Task, now time.Time) mo.Option[Task] {
	if !t.IsRecurring() || t.DueDate == nil {
		return mo.None[Task]()
	}
	rule, ok := recurrence.Parse(t.Recurring).Get()
	if !ok {
		return mo.None[Task]()
	}

	recurring := t.Recurring
	if rule.Count > 0 {
		if rule.Count-1 <= 0 {
			return mo.None[Task]()
		}
		recurring = rule.WithCount(rule.Count - 1).String()
	}

	next, ok := rule.Next(g.Anchor(t, now), false).Get()
	if !ok {
		return mo.None[Task]()
	}

	successor := t.Clone()
	successor.ID = g.newID()
	successor.Completed = false
	successor.CompletedAt = nil
	successor.DueDate = &next
	successor.CreatedAt = now
	successor.Recurring = recurring
	for i := range successor.Subtasks {
		successor.Subtasks[i].Completed = false
	}
	return mo.Some(successor)
}

// Anchor returns the date the next occurrence of t is computed from.
// t must have a due date.
func (g *Generator) Anchor(t Task, now time.Time) time.Time {
	due := *t.DueDate
	switch t.RecurringMode {
	case ModeCompletedAt:
		if t.CompletedAt != nil && t.CompletedAt.After(due) {
			return *t.CompletedAt
		}
	case ModeAutoRollover:
		return g.resolver.EffectiveDueDate(t, now).OrElse(due)
	case ModeDueDate, "":
	}
	return due
}
