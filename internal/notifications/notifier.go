// Package notifications delivers task alerts to the desktop.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/esiqveland/notify"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"taskcycle/internal/alerts"
	"taskcycle/internal/config"
)

const appName = "taskcycle"

// ErrRateLimited is returned when an alert is dropped by the rate limiter
var ErrRateLimited = errors.New("notification rate limit exceeded")

// Urgency follows the freedesktop notification levels
type Urgency byte

const (
	UrgencyLow Urgency = iota
	UrgencyNormal
	UrgencyCritical
)

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyCritical:
		return "critical"
	default:
		return "normal"
	}
}

// UrgencyFor maps an alert priority to a notification urgency
func UrgencyFor(p alerts.Priority) Urgency {
	switch p {
	case alerts.PriorityLow:
		return UrgencyLow
	case alerts.PriorityCritical:
		return UrgencyCritical
	default:
		return UrgencyNormal
	}
}

// Message is a rendered notification
type Message struct {
	Title   string
	Body    string
	Urgency Urgency
	// zero keeps the notification until dismissed
	Expire time.Duration
}

// Notifier shows a message on the desktop
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
	Close() error
}

// CommandRunner executes an external program
type CommandRunner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, out)
	}
	return nil
}

// NotifySendNotifier shells out to notify-send
type NotifySendNotifier struct {
	run CommandRunner
}

func NewNotifySendNotifier() *NotifySendNotifier {
	return &NotifySendNotifier{run: execRunner}
}

// Args returns the notify-send command line for msg
func (n *NotifySendNotifier) Args(msg Message) []string {
	return []string{
		"--app-name=" + appName,
		"--urgency=" + msg.Urgency.String(),
		"--expire-time=" + strconv.FormatInt(msg.Expire.Milliseconds(), 10),
		msg.Title,
		msg.Body,
	}
}

func (n *NotifySendNotifier) Notify(ctx context.Context, msg Message) error {
	if err := n.run(ctx, "notify-send", n.Args(msg)...); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

func (n *NotifySendNotifier) Close() error { return nil }

// DBusNotifier talks to org.freedesktop.Notifications directly
type DBusNotifier struct {
	conn     *dbus.Conn
	notifier notify.Notifier
}

func NewDBusNotifier() (*DBusNotifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	notifier, err := notify.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create notifier: %w", err)
	}
	return &DBusNotifier{conn: conn, notifier: notifier}, nil
}

func (d *DBusNotifier) Notify(_ context.Context, msg Message) error {
	n := notify.Notification{
		AppName:       appName,
		AppIcon:       "appointment-soon",
		Summary:       msg.Title,
		Body:          msg.Body,
		Actions:       []notify.Action{},
		Hints:         map[string]dbus.Variant{"urgency": dbus.MakeVariant(byte(msg.Urgency))},
		ExpireTimeout: msg.Expire,
	}
	if _, err := d.notifier.SendNotification(n); err != nil {
		return fmt.Errorf("failed to send D-Bus notification: %w", err)
	}
	return nil
}

func (d *DBusNotifier) Close() error {
	var errs []error
	if d.notifier != nil {
		errs = append(errs, d.notifier.Close())
	}
	if d.conn != nil {
		errs = append(errs, d.conn.Close())
	}
	return errors.Join(errs...)
}

// Manager renders alerts and hands them to a notifier, throttled to the
// configured rate
type Manager struct {
	renderer *Renderer
	notifier Notifier
	limiter  *rate.Limiter
	expire   time.Duration
	log      zerolog.Logger

	dropped int
	mutex   sync.Mutex
}

// ManagerOption customizes a Manager
type ManagerOption func(*Manager)

// WithNotifier replaces the backend chosen from the configuration
func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

// WithRenderer replaces the XDG template renderer
func WithRenderer(r *Renderer) ManagerOption {
	return func(m *Manager) { m.renderer = r }
}

// NewManager picks the configured backend. D-Bus falls back to notify-send
// when the session bus is unavailable.
func NewManager(cfg config.NotificationConfig, log zerolog.Logger, opts ...ManagerOption) *Manager {
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	m := &Manager{
		renderer: NewRenderer(""),
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		expire:   time.Duration(cfg.Duration) * time.Millisecond,
		log:      log.With().Str("component", "notifications").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.notifier != nil {
		return m
	}

	if cfg.Backend == "dbus" {
		d, err := NewDBusNotifier()
		if err == nil {
			m.notifier = d
			return m
		}
		m.log.Warn().Err(err).Msg("D-Bus unavailable, falling back to notify-send")
	}
	m.notifier = NewNotifySendNotifier()
	return m
}

// Message renders req without sending it
func (m *Manager) Message(req alerts.AlertRequest) Message {
	title, body, err := m.renderer.Render(req)
	if err != nil {
		m.log.Warn().Err(err).Str("template", req.Template).Msg("using default template")
	}
	msg := Message{
		Title:   title,
		Body:    body,
		Urgency: UrgencyFor(req.Priority),
		Expire:  m.expire,
	}
	if req.Late || req.Priority == alerts.PriorityCritical {
		msg.Expire = 0
	}
	return msg
}

// Send delivers a single alert
func (m *Manager) Send(ctx context.Context, req alerts.AlertRequest) error {
	if !m.limiter.Allow() {
		m.mutex.Lock()
		m.dropped++
		m.mutex.Unlock()
		m.log.Warn().Str("task", req.Task.ID).Msg("alert dropped by rate limit")
		return ErrRateLimited
	}
	if err := m.notifier.Notify(ctx, m.Message(req)); err != nil {
		return err
	}
	m.log.Info().
		Str("task", req.Task.ID).
		Str("title", req.Task.Title).
		Dur("offset", req.Offset).
		Str("priority", req.Priority.String()).
		Msg("notification sent")
	return nil
}

// Run sends alerts from ch until it is closed or ctx is done
func (m *Manager) Run(ctx context.Context, ch <-chan []alerts.AlertRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-ch:
			if !ok {
				return
			}
			for _, req := range batch {
				if err := m.Send(ctx, req); err != nil && !errors.Is(err, ErrRateLimited) {
					m.log.Error().Err(err).Str("task", req.Task.ID).Msg("failed to deliver alert")
				}
			}
		}
	}
}

// Dropped returns how many alerts the rate limiter discarded
func (m *Manager) Dropped() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.dropped
}

// ReloadTemplates drops cached templates so edited files are read again
func (m *Manager) ReloadTemplates() {
	m.renderer.Invalidate()
	m.log.Info().Msg("notification templates reloaded")
}

func (m *Manager) Close() error {
	return m.notifier.Close()
}
