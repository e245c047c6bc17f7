package lifecycle

import (
	"context"
	"slices"
	"time"

	"taskcycle/internal/recurrence"
	"taskcycle/internal/storage"
	"taskcycle/internal/task"
)

// SyncResult counts the changes made by Sync
type SyncResult struct {
	Created int
	Updated int
	Removed int
}

// Sync reconciles the tasks stored for source with a fresh import of it.
// Series are matched by tracking ID. A matched series keeps its due date
// and completion history; only the descriptive fields and the rule of its
// open instance are refreshed. Series missing from the import are removed.
func (s *Service) Sync(ctx context.Context, source string, imported []task.Task, now time.Time) (SyncResult, error) {
	var result SyncResult
	existing, err := s.store.List(ctx, storage.Filter{Source: source})
	if err != nil {
		return result, err
	}

	lineages := make(map[string][]task.Task)
	for _, t := range existing {
		key := t.TrackingID
		if key == "" {
			key = t.ID
		}
		lineages[key] = append(lineages[key], t)
	}

	seen := make(map[string]bool, len(imported))
	for _, in := range imported {
		in.Source = source
		key := in.TrackingID
		if key == "" {
			key = in.ID
		}
		seen[key] = true

		series, ok := lineages[key]
		if !ok {
			if _, err := s.Create(ctx, in, now); err != nil {
				s.log.Warn().Err(err).Str("task_id", in.ID).Str("source", source).Msg("skipping imported task")
				continue
			}
			result.Created++
			continue
		}

		idx := slices.IndexFunc(series, func(t task.Task) bool { return !t.Completed })
		if idx < 0 {
			continue
		}
		open := series[idx]
		if !refresh(&open, in) {
			continue
		}
		if err := s.Update(ctx, open); err != nil {
			s.log.Warn().Err(err).Str("task_id", open.ID).Msg("failed to refresh imported task")
			continue
		}
		result.Updated++
	}

	for key, series := range lineages {
		if seen[key] {
			continue
		}
		for _, t := range series {
			if err := s.store.Delete(ctx, t.ID); err != nil {
				return result, err
			}
			result.Removed++
		}
	}

	s.log.Debug().
		Str("source", source).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("removed", result.Removed).
		Msg("source synced")
	return result, nil
}

// RemoveSource deletes every task imported from source
func (s *Service) RemoveSource(ctx context.Context, source string) (int, error) {
	n, err := s.store.DeleteBySource(ctx, source)
	if err != nil {
		return 0, err
	}
	s.log.Info().Str("source", source).Int("removed", n).Msg("source removed")
	return n, nil
}

// refresh copies the imported descriptive fields onto an open instance and
// reports whether anything changed. A COUNT already consumed by earlier
// instances is kept.
func refresh(open *task.Task, in task.Task) bool {
	if in.RecurringMode == "" {
		in.RecurringMode = task.ModeDueDate
	}
	if sameSeries(open.Recurring, in.Recurring) {
		in.Recurring = open.Recurring
	}
	changed := open.Title != in.Title ||
		open.Description != in.Description ||
		open.Project != in.Project ||
		open.Recurring != in.Recurring ||
		open.RecurringMode != in.RecurringMode ||
		!slices.Equal(open.Reminders, in.Reminders)
	if !changed {
		return false
	}
	open.Title = in.Title
	open.Description = in.Description
	open.Project = in.Project
	open.Recurring = in.Recurring
	open.RecurringMode = in.RecurringMode
	open.Reminders = in.Reminders
	return true
}

// sameSeries reports whether two rules differ at most in COUNT
func sameSeries(a, b string) bool {
	ra, okA := recurrence.Parse(a).Get()
	rb, okB := recurrence.Parse(b).Get()
	if !okA || !okB {
		return false
	}
	if ra.Count == 0 || rb.Count == 0 {
		return false
	}
	return ra.WithCount(0).String() == rb.WithCount(0).String()
}
