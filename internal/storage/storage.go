package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/adrg/xdg"
	"github.com/rs/zerolog"

	"taskcycle/internal/config"
	"taskcycle/internal/task"
)

// ErrNotFound is returned when no task has the requested ID
var ErrNotFound = errors.New("task not found")

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	OpenOnly   bool
	Source     string
	TrackingID string
}

func (f Filter) matches(t task.Task) bool {
	if f.OpenOnly && t.Completed {
		return false
	}
	if f.Source != "" && t.Source != f.Source {
		return false
	}
	if f.TrackingID != "" && t.TrackingID != f.TrackingID {
		return false
	}
	return true
}

// TaskStore persists task instances. Implementations are safe for
// concurrent use.
type TaskStore interface {
	Get(ctx context.Context, id string) (task.Task, error)
	Put(ctx context.Context, t task.Task) error
	Delete(ctx context.Context, id string) error
	// DeleteBySource removes every task imported from the given file
	DeleteBySource(ctx context.Context, source string) (int, error)
	// List returns matching tasks ordered by due date, undated tasks last
	List(ctx context.Context, f Filter) ([]task.Task, error)
	Close() error
}

// Open initializes the configured store
func Open(cfg config.StorageConfig, log zerolog.Logger) (TaskStore, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "memory":
		return NewMemoryTaskStore(), nil
	case "", "sqlite", "sqlite3":
		if cfg.Path == "" {
			path, err := xdg.DataFile("taskcycle/tasks.db")
			if err != nil {
				return nil, fmt.Errorf("failed to determine database path: %w", err)
			}
			cfg.Path = path
		}
		return OpenSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func sortTasks(tasks []task.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i].DueDate, tasks[j].DueDate
		switch {
		case a == nil && b == nil:
			return tasks[i].ID < tasks[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
