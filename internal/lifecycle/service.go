// Package lifecycle applies the recurrence engine to stored tasks.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"

	"taskcycle/internal/recurrence"
	"taskcycle/internal/storage"
	"taskcycle/internal/task"
)

// ErrAlreadyCompleted is returned when completing a finished task
var ErrAlreadyCompleted = errors.New("task already completed")

// Service creates and completes tasks against a store
type Service struct {
	store     storage.TaskStore
	generator *task.Generator
	resolver  task.Resolver
	newID     func() string
	log       zerolog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithGenerator replaces the successor generator
func WithGenerator(g *task.Generator) Option {
	return func(s *Service) { s.generator = g }
}

// WithResolver sets the resolver for effective due dates
func WithResolver(r task.Resolver) Option {
	return func(s *Service) { s.resolver = r }
}

// WithIDFunc replaces the identifier source for new tasks
func WithIDFunc(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

func NewService(store storage.TaskStore, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		resolver: task.NewResolver(task.DefaultRolloverYears),
		newID:    task.NewID,
		log:      log.With().Str("component", "lifecycle").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.generator == nil {
		s.generator = task.NewGenerator(task.WithResolver(s.resolver))
	}
	return s
}

// Resolver returns the resolver used for effective due dates
func (s *Service) Resolver() task.Resolver {
	return s.resolver
}

// normalize checks the rule and mode of t and rewrites the rule in its
// canonical form
func normalize(t *task.Task) error {
	mode, err := task.ParseMode(string(t.RecurringMode))
	if err != nil {
		return err
	}
	t.RecurringMode = mode
	if !t.IsRecurring() {
		return nil
	}
	rule, err := recurrence.Validate(t.Recurring)
	if err != nil {
		return fmt.Errorf("invalid recurrence rule %q: %w", t.Recurring, err)
	}
	t.Recurring = rule.String()
	return nil
}

// Create validates and stores a new task. Missing IDs are assigned and a
// recurring task without a tracking ID starts a lineage under its own ID.
func (s *Service) Create(ctx context.Context, t task.Task, now time.Time) (task.Task, error) {
	if err := normalize(&t); err != nil {
		return task.Task{}, err
	}
	if t.ID == "" {
		t.ID = s.newID()
	}
	if t.IsRecurring() && t.TrackingID == "" {
		t.TrackingID = t.ID
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if err := s.store.Put(ctx, t); err != nil {
		return task.Task{}, err
	}
	s.log.Debug().Str("task_id", t.ID).Str("rule", t.Recurring).Msg("task created")
	return t, nil
}

// Update validates and replaces an existing task
func (s *Service) Update(ctx context.Context, t task.Task) error {
	if _, err := s.store.Get(ctx, t.ID); err != nil {
		return err
	}
	if err := normalize(&t); err != nil {
		return err
	}
	return s.store.Put(ctx, t)
}

// Completion is the outcome of completing a task
type Completion struct {
	Completed task.Task
	Next      mo.Option[task.Task]
}

// Complete marks the task done at now and stores its successor, if any.
// Auto-rollover tasks are recorded with the due date they were shown with.
func (s *Service) Complete(ctx context.Context, id string, now time.Time) (Completion, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return Completion{}, err
	}
	if t.Completed {
		return Completion{}, fmt.Errorf("%s: %w", id, ErrAlreadyCompleted)
	}

	done := t.Clone()
	done.Completed = true
	done.CompletedAt = &now

	next := s.generator.GenerateNext(done, now)
	if done.RecurringMode == task.ModeAutoRollover {
		if effective, ok := s.resolver.EffectiveDueDate(t, now).Get(); ok {
			done.DueDate = &effective
		}
	}

	if successor, ok := next.Get(); ok {
		if err := s.store.Put(ctx, successor); err != nil {
			return Completion{}, fmt.Errorf("failed to store next instance of %s: %w", id, err)
		}
		s.log.Info().
			Str("task_id", id).
			Str("next_id", successor.ID).
			Time("next_due", *successor.DueDate).
			Msg("next instance generated")
	} else if t.IsRecurring() {
		s.log.Info().Str("task_id", id).Msg("recurrence finished")
	}
	if err := s.store.Put(ctx, done); err != nil {
		return Completion{}, fmt.Errorf("failed to store completed task %s: %w", id, err)
	}
	return Completion{Completed: done, Next: next}, nil
}

// Due pairs a task with the due date it is shown with
type Due struct {
	Task      task.Task
	Effective time.Time
}

// Upcoming returns open tasks whose effective due date falls within
// [now, now+window], earliest first
func (s *Service) Upcoming(ctx context.Context, now time.Time, window time.Duration) ([]Due, error) {
	end := now.Add(window)
	return s.effective(ctx, now, func(at time.Time) bool {
		return !at.Before(now) && !at.After(end)
	})
}

// Overdue returns open tasks whose effective due date is before now
func (s *Service) Overdue(ctx context.Context, now time.Time) ([]Due, error) {
	return s.effective(ctx, now, func(at time.Time) bool { return at.Before(now) })
}

func (s *Service) effective(ctx context.Context, now time.Time, keep func(time.Time) bool) ([]Due, error) {
	tasks, err := s.store.List(ctx, storage.Filter{OpenOnly: true})
	if err != nil {
		return nil, err
	}
	var out []Due
	for _, t := range tasks {
		at, ok := s.resolver.EffectiveDueDate(t, now).Get()
		if !ok || !keep(at) {
			continue
		}
		out = append(out, Due{Task: t, Effective: at})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Effective.Before(out[j].Effective) })
	return out, nil
}
