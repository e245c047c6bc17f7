package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"taskcycle/internal/alerts"
	"taskcycle/internal/config"
	"taskcycle/internal/lifecycle"
	"taskcycle/internal/notifications"
	"taskcycle/internal/parser"
	"taskcycle/internal/storage"
	"taskcycle/internal/task"
	"taskcycle/internal/watcher"
)

// Daemon imports task files, keeps them in sync and raises alerts
type Daemon struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    storage.TaskStore
	service  *lifecycle.Service
	registry *storage.Registry
	importer *parser.Importer
	state    *storage.FileStateManager
	watcher  *watcher.Watcher
	alerts   *alerts.Manager
	notifier *notifications.Manager

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mutex   sync.Mutex
}

// NewDaemon builds every component from cfg without starting anything
func NewDaemon(cfg *config.Config, store storage.TaskStore, log zerolog.Logger) (*Daemon, error) {
	d := &Daemon{
		cfg:      cfg,
		log:      log,
		store:    store,
		registry: storage.NewRegistry(),
		importer: parser.NewImporter(log),
	}
	d.service = lifecycle.NewService(store, log,
		lifecycle.WithResolver(task.NewResolver(cfg.Rollover.MaxYears)))

	if _, err := d.registry.Apply(cfg.Directories); err != nil {
		return nil, fmt.Errorf("invalid directory configuration: %w", err)
	}

	state, err := storage.NewXDGStateManager()
	if err != nil {
		return nil, err
	}
	d.state = state

	scheduler := alerts.NewScheduler(store, d.registry, d.service.Resolver(), state, log)
	d.alerts, err = alerts.NewManager(scheduler, cfg.Alerts.Schedule, log)
	if err != nil {
		return nil, err
	}
	d.notifier = notifications.NewManager(cfg.Notification, log)

	d.watcher, err = watcher.New(d.handleFileChange, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return d, nil
}

// Start imports every collection, starts watching and begins alerting.
// Alerts missed while the daemon was down are caught up on the first tick.
func (d *Daemon) Start(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.running {
		return errors.New("daemon is already running")
	}
	d.ctx, d.cancel = context.WithCancel(ctx)

	if err := d.state.Load(); err != nil {
		d.log.Warn().Err(err).Msg("failed to load state, starting fresh")
	}

	for _, c := range d.registry.All() {
		d.scan(c)
		if err := d.watcher.Add(c.Path); err != nil {
			d.log.Warn().Err(err).Str("path", c.Path).Msg("failed to watch directory")
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.notifier.Run(d.ctx, d.alerts.Alerts())
	}()

	if err := d.alerts.Start(); err != nil {
		d.cancel()
		return fmt.Errorf("failed to start alert manager: %w", err)
	}
	d.alerts.Tick(d.ctx)

	d.running = true
	d.log.Info().
		Int("collections", len(d.registry.All())).
		Time("next_check", d.alerts.NextCheck(time.Now())).
		Msg("daemon started")
	return nil
}

// Stop shuts components down in reverse order and saves state
func (d *Daemon) Stop() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if !d.running {
		return nil
	}

	var errs []error
	if err := d.watcher.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("watcher: %w", err))
	}
	d.alerts.Stop()
	d.cancel()
	d.wg.Wait()

	if err := d.state.Save(); err != nil {
		errs = append(errs, fmt.Errorf("state: %w", err))
	}
	if err := d.notifier.Close(); err != nil {
		errs = append(errs, fmt.Errorf("notifier: %w", err))
	}
	d.running = false
	d.log.Info().Msg("daemon stopped")
	return errors.Join(errs...)
}

// scan imports every file of a collection
func (d *Daemon) scan(c *storage.Collection) {
	files, err := d.importer.ParseDirectory(c.Path)
	if err != nil {
		d.log.Warn().Err(err).Str("path", c.Path).Msg("failed to scan directory")
		return
	}
	total := 0
	for path, tasks := range files {
		total += d.sync(c, path, tasks)
	}
	d.log.Info().Str("path", c.Path).Int("files", len(files)).Int("tasks", total).Msg("collection imported")
}

func (d *Daemon) sync(c *storage.Collection, path string, tasks []task.Task) int {
	project, mode := c.Defaults()
	parser.ApplyDefaults(tasks, project, mode)
	result, err := d.service.Sync(d.ctx, path, tasks, time.Now())
	if err != nil {
		d.log.Error().Err(err).Str("path", path).Msg("failed to sync file")
		return 0
	}
	if result.Created+result.Updated+result.Removed > 0 {
		d.log.Debug().
			Str("path", path).
			Int("created", result.Created).
			Int("updated", result.Updated).
			Int("removed", result.Removed).
			Msg("file synced")
	}
	return len(tasks)
}

func (d *Daemon) handleFileChange(ev watcher.Event) {
	d.log.Debug().Str("path", ev.Path).Stringer("op", ev.Op).Msg("file change")

	if ev.Op == watcher.Deleted {
		n, err := d.service.RemoveSource(d.ctx, ev.Path)
		if err != nil {
			d.log.Error().Err(err).Str("path", ev.Path).Msg("failed to remove tasks")
			return
		}
		d.log.Info().Str("path", ev.Path).Int("removed", n).Msg("file removed")
		return
	}

	c, ok := d.registry.ForFile(ev.Path)
	if !ok {
		d.log.Warn().Str("path", ev.Path).Msg("change outside configured directories")
		return
	}
	tasks, err := d.importer.ParseFile(ev.Path)
	if err != nil {
		d.log.Error().Err(err).Msg("failed to parse file")
		return
	}
	d.sync(c, ev.Path, tasks)
}

// ReloadTemplates makes the next notifications read their template files again
func (d *Daemon) ReloadTemplates() {
	d.notifier.ReloadTemplates()
}

// Status reports what the daemon is tracking
func (d *Daemon) Status(ctx context.Context, now time.Time) (open int, upcoming []lifecycle.Due, err error) {
	tasks, err := d.store.List(ctx, storage.Filter{OpenOnly: true})
	if err != nil {
		return 0, nil, err
	}
	upcoming, err = d.service.Upcoming(ctx, now, 24*time.Hour)
	return len(tasks), upcoming, err
}
