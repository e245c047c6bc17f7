package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"taskcycle/internal/config"
	"taskcycle/internal/task"
)

//go:embed schema.sql
var schemaFS embed.FS

// SQLiteTaskStore keeps tasks as JSON documents in a SQLite database.
// The columns next to the document only serve the List filters.
type SQLiteTaskStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenSQLite opens or creates the database at cfg.Path
func OpenSQLite(cfg config.StorageConfig, log zerolog.Logger) (*SQLiteTaskStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &SQLiteTaskStore{db: db, log: log.With().Str("component", "sqlite").Logger()}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	s.log.Debug().Str("path", cfg.Path).Msg("database opened")
	return s, nil
}

func (s *SQLiteTaskStore) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *SQLiteTaskStore) Get(ctx context.Context, id string) (task.Task, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM tasks WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, ErrNotFound
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("failed to load task %s: %w", id, err)
	}
	return decodeTask(data)
}

func (s *SQLiteTaskStore) Put(ctx context.Context, t task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", t.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, tracking_id, source, completed, data) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   tracking_id=excluded.tracking_id,
		   source=excluded.source,
		   completed=excluded.completed,
		   data=excluded.data`,
		t.ID, t.TrackingID, t.Source, t.Completed, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to store task %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteTaskStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteTaskStore) DeleteBySource(ctx context.Context, source string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE source = ?`, source)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tasks from %s: %w", source, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteTaskStore) List(ctx context.Context, f Filter) ([]task.Task, error) {
	var (
		where []string
		args  []any
	)
	if f.OpenOnly {
		where = append(where, "completed = 0")
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	if f.TrackingID != "" {
		where = append(where, "tracking_id = ?")
		args = append(args, f.TrackingID)
	}
	query := "SELECT data FROM tasks"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		t, err := decodeTask(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("skipping undecodable task")
			continue
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortTasks(tasks)
	return tasks, nil
}

func (s *SQLiteTaskStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func decodeTask(data string) (task.Task, error) {
	var t task.Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return task.Task{}, fmt.Errorf("failed to decode task: %w", err)
	}
	return t, nil
}
