package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mutex  sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) has(path string, op Op) bool {
	for _, ev := range r.snapshot() {
		if ev.Path == path && ev.Op == op {
			return true
		}
	}
	return false
}

func TestWatcherReportsICSChanges(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w, err := New(rec.handle, zerolog.Nop(), WithDebounce(0))
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, w.Add(dir))
	assert.True(t, w.IsWatching(dir))

	path := filepath.Join(dir, "tasks.ics")
	require.NoError(t, os.WriteFile(path, []byte("BEGIN:VCALENDAR\nEND:VCALENDAR\n"), 0o644))
	require.Eventually(t, func() bool { return rec.has(path, Created) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return rec.has(path, Deleted) }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w, err := New(rec.handle, zerolog.Nop(), WithDebounce(0))
	require.NoError(t, err)
	defer w.Stop()
	require.NoError(t, w.Add(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	ics := filepath.Join(dir, "b.ics")
	require.NoError(t, os.WriteFile(ics, []byte("x"), 0o644))

	require.Eventually(t, func() bool { return rec.has(ics, Created) }, 2*time.Second, 10*time.Millisecond)
	for _, ev := range rec.snapshot() {
		assert.Equal(t, ics, ev.Path)
	}
}

func TestWatcherDebounceCoalesces(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w, err := New(rec.handle, zerolog.Nop(), WithDebounce(100*time.Millisecond))
	require.NoError(t, err)
	defer w.Stop()
	require.NoError(t, w.Add(dir))

	path := filepath.Join(dir, "burst.ics")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := f.WriteString("LINE\n")
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, Event{Path: path, Op: Created}, events[0])
}

func TestWatcherAddErrors(t *testing.T) {
	w, err := New(func(Event) {}, zerolog.Nop())
	require.NoError(t, err)
	defer w.Stop()

	assert.Error(t, w.Add(filepath.Join(t.TempDir(), "missing")))

	file := filepath.Join(t.TempDir(), "file.ics")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.Error(t, w.Add(file))
}

func TestWatcherRemoveAndStop(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	w, err := New(func(Event) {}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, w.Add(a))
	require.NoError(t, w.Add(b))
	require.NoError(t, w.Add(a))
	assert.Len(t, w.Dirs(), 2)

	require.NoError(t, w.Remove(a))
	assert.False(t, w.IsWatching(a))
	assert.True(t, w.IsWatching(b))

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.Error(t, w.Add(a))
}

func TestOpString(t *testing.T) {
	tests := []struct {
		op   Op
		want string
	}{
		{Created, "created"},
		{Modified, "modified"},
		{Deleted, "deleted"},
		{Op(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Op(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}
