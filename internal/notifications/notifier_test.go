package notifications

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"text/template"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcycle/internal/alerts"
	"taskcycle/internal/config"
	"taskcycle/internal/task"
)

type recordingNotifier struct {
	mutex    sync.Mutex
	messages []Message
	err      error
}

func (r *recordingNotifier) Notify(_ context.Context, msg Message) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingNotifier) Close() error { return nil }

func (r *recordingNotifier) sent() []Message {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]Message(nil), r.messages...)
}

func sampleRequest() alerts.AlertRequest {
	due := time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local)
	return alerts.AlertRequest{
		Task: task.Task{
			ID:          "t1",
			Title:       "Water the plants",
			Description: "Balcony first",
			Project:     "home",
			Labels:      []string{"chores", "garden"},
			DueDate:     &due,
			Recurring:   "RRULE:FREQ=WEEKLY;BYDAY=FR",
		},
		Due:      due,
		Offset:   15 * time.Minute,
		Priority: alerts.PriorityNormal,
	}
}

func TestNewTemplateData(t *testing.T) {
	data := NewTemplateData(sampleRequest())

	assert.Equal(t, "t1", data.ID)
	assert.Equal(t, "Water the plants", data.Title)
	assert.Equal(t, "home", data.Project)
	assert.Equal(t, "09:00", data.Due)
	assert.Equal(t, "2024-03-01", data.DueDate)
	assert.Equal(t, "in 15 minutes", data.Offset)
	assert.Equal(t, "normal", data.Priority)
	assert.NotEmpty(t, data.Recurrence)
	assert.False(t, data.Late)
}

func TestNewTemplateDataInvalidRule(t *testing.T) {
	req := sampleRequest()
	req.Task.Recurring = "every other tuesday"
	assert.Empty(t, NewTemplateData(req).Recurrence)
}

func TestFormatOffset(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "now"},
		{30 * time.Second, "in 30 seconds"},
		{time.Minute, "in 1 minute"},
		{2 * time.Hour, "in 2 hours"},
		{24 * time.Hour, "in 1 day"},
		{-5 * time.Minute, "5 minutes ago"},
	}
	for _, tt := range tests {
		if got := formatOffset(tt.in); got != tt.want {
			t.Errorf("formatOffset(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRendererTemplates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "short.tpl"), []byte("{{.Title}} @ {{.Due}}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.tpl"), []byte("{{.Nope}}"), 0o644))
	r := NewRenderer(dir)

	req := sampleRequest()
	req.Template = "short.tpl"
	title, body, err := r.Render(req)
	require.NoError(t, err)
	assert.Equal(t, "Water the plants", title)
	assert.Equal(t, "Water the plants @ 09:00", body)

	req.Template = "missing.tpl"
	_, body, err = r.Render(req)
	assert.Error(t, err)
	assert.Contains(t, body, "Due 09:00 (in 15 minutes)")

	req.Template = "broken.tpl"
	_, body, err = r.Render(req)
	assert.Error(t, err)
	assert.Contains(t, body, "Water the plants [home]")
}

func TestRendererInvalidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.tpl")
	require.NoError(t, os.WriteFile(path, []byte("one"), 0o644))
	r := NewRenderer(dir)

	req := sampleRequest()
	req.Template = "t.tpl"
	_, body, _ := r.Render(req)
	assert.Equal(t, "one", body)

	require.NoError(t, os.WriteFile(path, []byte("two"), 0o644))
	_, body, _ = r.Render(req)
	assert.Equal(t, "one", body, "cached until invalidated")

	r.Invalidate()
	_, body, _ = r.Render(req)
	assert.Equal(t, "two", body)
}

func TestRenderLateTitle(t *testing.T) {
	req := sampleRequest()
	req.Late = true
	title, _, err := NewRenderer(t.TempDir()).Render(req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(title, "Missed: "))
}

func TestCreateDefaultTemplates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "templates")
	custom := filepath.Join(dir, "default.tpl")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(custom, []byte("mine"), 0o644))

	got, err := CreateDefaultTemplates(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	content, err := os.ReadFile(custom)
	require.NoError(t, err)
	assert.Equal(t, "mine", string(content), "existing templates are kept")

	for name := range builtinTemplates {
		tmpl, err := LoadTemplate(filepath.Join(dir, name))
		require.NoError(t, err, name)
		if name != "default.tpl" {
			assert.NoError(t, ValidateTemplate(tmpl), name)
		}
	}
}

func TestValidateTemplate(t *testing.T) {
	ok := template.Must(template.New("ok").Parse("{{.Title}} {{.Recurrence}}"))
	assert.NoError(t, ValidateTemplate(ok))

	bad := template.Must(template.New("bad").Parse("{{.Location}}"))
	assert.Error(t, ValidateTemplate(bad))
}

func TestUrgencyFor(t *testing.T) {
	assert.Equal(t, UrgencyLow, UrgencyFor(alerts.PriorityLow))
	assert.Equal(t, UrgencyNormal, UrgencyFor(alerts.PriorityNormal))
	assert.Equal(t, UrgencyNormal, UrgencyFor(alerts.PriorityHigh))
	assert.Equal(t, UrgencyCritical, UrgencyFor(alerts.PriorityCritical))
}

func TestNotifySendArgs(t *testing.T) {
	var (
		name string
		args []string
	)
	n := &NotifySendNotifier{run: func(_ context.Context, cmd string, a ...string) error {
		name, args = cmd, a
		return nil
	}}
	msg := Message{Title: "T", Body: "B", Urgency: UrgencyCritical, Expire: 5 * time.Second}
	require.NoError(t, n.Notify(context.Background(), msg))

	assert.Equal(t, "notify-send", name)
	assert.Equal(t, []string{
		"--app-name=taskcycle",
		"--urgency=critical",
		"--expire-time=5000",
		"T",
		"B",
	}, args)

	n.run = func(context.Context, string, ...string) error { return errors.New("not found") }
	assert.Error(t, n.Notify(context.Background(), msg))
}

func newTestManager(t *testing.T, perMinute int) (*Manager, *recordingNotifier) {
	t.Helper()
	rec := &recordingNotifier{}
	cfg := config.NotificationConfig{Backend: "notify-send", Duration: 3000, RatePerMinute: perMinute}
	m := NewManager(cfg, zerolog.Nop(), WithNotifier(rec), WithRenderer(NewRenderer(t.TempDir())))
	return m, rec
}

func TestManagerMessage(t *testing.T) {
	m, _ := newTestManager(t, 30)

	msg := m.Message(sampleRequest())
	assert.Equal(t, UrgencyNormal, msg.Urgency)
	assert.Equal(t, 3*time.Second, msg.Expire)

	late := sampleRequest()
	late.Late = true
	assert.Zero(t, m.Message(late).Expire, "late alerts stay until dismissed")

	critical := sampleRequest()
	critical.Priority = alerts.PriorityCritical
	msg = m.Message(critical)
	assert.Equal(t, UrgencyCritical, msg.Urgency)
	assert.Zero(t, msg.Expire)
}

func TestManagerRateLimit(t *testing.T) {
	m, rec := newTestManager(t, 2)
	ctx := context.Background()

	require.NoError(t, m.Send(ctx, sampleRequest()))
	require.NoError(t, m.Send(ctx, sampleRequest()))
	assert.ErrorIs(t, m.Send(ctx, sampleRequest()), ErrRateLimited)

	assert.Len(t, rec.sent(), 2)
	assert.Equal(t, 1, m.Dropped())
}

func TestManagerRun(t *testing.T) {
	m, rec := newTestManager(t, 30)
	ch := make(chan []alerts.AlertRequest, 1)
	done := make(chan struct{})
	go func() {
		m.Run(context.Background(), ch)
		close(done)
	}()

	ch <- []alerts.AlertRequest{sampleRequest(), sampleRequest()}
	close(ch)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel close")
	}
	assert.Len(t, rec.sent(), 2)
}

func TestManagerRunStopsOnCancel(t *testing.T) {
	m, _ := newTestManager(t, 30)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, make(chan []alerts.AlertRequest))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestManagerReloadTemplates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "work.tpl")
	require.NoError(t, os.WriteFile(path, []byte("before"), 0o644))
	m := NewManager(config.NotificationConfig{RatePerMinute: 30}, zerolog.Nop(),
		WithNotifier(&recordingNotifier{}), WithRenderer(NewRenderer(dir)))

	req := sampleRequest()
	req.Template = "work.tpl"
	assert.Equal(t, "before", m.Message(req).Body)

	require.NoError(t, os.WriteFile(path, []byte("after"), 0o644))
	assert.Equal(t, "before", m.Message(req).Body)

	m.ReloadTemplates()
	assert.Equal(t, "after", m.Message(req).Body)
}
