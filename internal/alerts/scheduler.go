package alerts

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"taskcycle/internal/storage"
	"taskcycle/internal/task"
)

const (
	// DefaultTemplate is used for tasks outside any collection
	DefaultTemplate = "default.tpl"
	// MaxCatchUp bounds how far back a check looks after downtime
	MaxCatchUp = time.Hour
	// sent alerts are remembered this long
	sentRetention = 7 * 24 * time.Hour
	// alerts this far behind their fire time are flagged late
	lateAfter = 2 * time.Minute
)

// AlertRequest asks for a notification about a task
type AlertRequest struct {
	Task     task.Task
	Due      time.Time
	Offset   time.Duration
	Template string
	Priority Priority
	Late     bool
}

// Key identifies the alert of one occurrence and offset
func (r AlertRequest) Key() string {
	return fmt.Sprintf("%s|%s|%s", r.Task.ID, r.Due.UTC().Format(time.RFC3339), r.Offset)
}

// Scheduler finds the alerts that became due since the last check
type Scheduler struct {
	store      storage.TaskStore
	registry   *storage.Registry
	resolver   task.Resolver
	state      storage.StateManager
	classifier *Classifier
	log        zerolog.Logger
	mutex      sync.Mutex
}

func NewScheduler(store storage.TaskStore, registry *storage.Registry, resolver task.Resolver, state storage.StateManager, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:      store,
		registry:   registry,
		resolver:   resolver,
		state:      state,
		classifier: NewClassifier(),
		log:        log.With().Str("component", "alerts").Logger(),
	}
}

// offsets returns the alert offsets and template of t
func (s *Scheduler) offsets(t task.Task) ([]time.Duration, string) {
	offsets := append([]time.Duration(nil), t.Reminders...)
	template := DefaultTemplate
	if t.Source != "" && s.registry != nil {
		if c, ok := s.registry.ForFile(t.Source); ok {
			offsets = append(offsets, c.Offsets()...)
			if name := c.TemplateName(); name != "" {
				template = name
			}
		}
	}
	slices.Sort(offsets)
	return slices.Compact(offsets), template
}

// CheckAlerts returns the alerts whose fire time lies in (last check, now]
// and records them as delivered. Auto-rollover tasks alert on their
// effective due date. Each alert is returned once.
func (s *Scheduler) CheckAlerts(ctx context.Context, now time.Time) ([]AlertRequest, error) {
	requests, err := s.Pending(ctx, now)
	if err != nil {
		return nil, err
	}
	s.Commit(requests, now)
	return requests, nil
}

// Pending returns the alerts due in (last check, now] without recording
// anything. Until Commit is called the same alerts come back on the next
// call, as long as they stay within MaxCatchUp.
func (s *Scheduler) Pending(ctx context.Context, now time.Time) ([]AlertRequest, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	since := s.state.LastAlertTick()
	if since.IsZero() || now.Sub(since) > MaxCatchUp {
		since = now.Add(-MaxCatchUp)
	}
	if !now.After(since) {
		return nil, nil
	}

	tasks, err := s.store.List(ctx, storage.Filter{OpenOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	var requests []AlertRequest
	for _, t := range tasks {
		due, ok := s.resolver.EffectiveDueDate(t, now).Get()
		if !ok {
			continue
		}
		offsets, template := s.offsets(t)
		for _, offset := range offsets {
			fireAt := due.Add(-offset)
			if !fireAt.After(since) || fireAt.After(now) {
				continue
			}
			req := AlertRequest{
				Task:     t,
				Due:      due,
				Offset:   offset,
				Template: template,
				Priority: s.classifier.Classify(t, due, now),
				Late:     now.Sub(fireAt) > lateAfter,
			}
			if s.state.WasSent(req.Key()) {
				continue
			}
			requests = append(requests, req)
		}
	}
	return requests, nil
}

// Commit marks requests as delivered and moves the check window to now
func (s *Scheduler) Commit(requests []AlertRequest, now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, req := range requests {
		key := req.Key()
		if err := s.state.MarkSent(key, now); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to record alert")
		}
	}
	if err := s.state.SetLastAlertTick(now); err != nil {
		s.log.Warn().Err(err).Msg("failed to save alert tick")
	}
	if err := s.state.Prune(now.Add(-sentRetention)); err != nil {
		s.log.Warn().Err(err).Msg("failed to prune sent alerts")
	}
}

type Manager struct {
	scheduler *Scheduler
	parser    cron.Parser
	schedule  cron.Schedule
	now       func() time.Time
	log       zerolog.Logger

	c       *cron.Cron
	alerts  chan []AlertRequest
	running bool
	closed  bool
	mutex   sync.Mutex

	// one check at a time, so overlapping ticks never hand out the same alert
	tick sync.Mutex
}

// NewManager validates spec, a cron expression or descriptor such as
// "@every 1m"
func NewManager(scheduler *Scheduler, spec string, log zerolog.Logger) (*Manager, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid alert schedule %q: %w", spec, err)
	}
	return &Manager{
		scheduler: scheduler,
		parser:    parser,
		schedule:  schedule,
		now:       time.Now,
		log:       log.With().Str("component", "alert-manager").Logger(),
		alerts:    make(chan []AlertRequest, 10),
	}, nil
}

// Start begins periodic checks
func (m *Manager) Start() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.running {
		return fmt.Errorf("alert manager is already running")
	}
	m.c = cron.New(cron.WithParser(m.parser), cron.WithLogger(cronLogger{log: m.log}))
	m.c.Schedule(m.schedule, cron.FuncJob(func() { m.Tick(context.Background()) }))
	m.c.Start()
	m.running = true
	return nil
}

// Stop waits for a running check to finish and closes the alert channel
func (m *Manager) Stop() {
	m.mutex.Lock()
	if !m.running {
		m.mutex.Unlock()
		return
	}
	m.running = false
	c := m.c
	m.mutex.Unlock()

	<-c.Stop().Done()
	m.mutex.Lock()
	m.closed = true
	close(m.alerts)
	m.mutex.Unlock()
}

// Alerts delivers the alerts found by each check
func (m *Manager) Alerts() <-chan []AlertRequest {
	return m.alerts
}

// NextCheck returns when the next scheduled check runs after t
func (m *Manager) NextCheck(t time.Time) time.Time {
	return m.schedule.Next(t)
}

// Tick runs one check now. Alerts are recorded as delivered only once the
// batch is on the channel; a batch that cannot be handed off is found again
// by the next check.
func (m *Manager) Tick(ctx context.Context) {
	m.tick.Lock()
	defer m.tick.Unlock()

	now := m.now()
	requests, err := m.scheduler.Pending(ctx, now)
	if err != nil {
		m.log.Error().Err(err).Msg("alert check failed")
		return
	}
	if len(requests) > 0 && !m.publish(requests) {
		return
	}
	m.scheduler.Commit(requests, now)
}

func (m *Manager) publish(requests []AlertRequest) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return false
	}
	select {
	case m.alerts <- requests:
		return true
	default:
		m.log.Warn().Int("count", len(requests)).Msg("alert channel full, retrying on next check")
		return false
	}
}
