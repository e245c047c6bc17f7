// Package watcher reports changes to .ics files in task directories.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce coalesces the burst of events an editor produces on save
const DefaultDebounce = 250 * time.Millisecond

// Op is the kind of change seen on a file
type Op int

const (
	Created Op = iota
	Modified
	Deleted
)

func (op Op) String() string {
	switch op {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is a settled change to one .ics file
type Event struct {
	Path string
	Op   Op
}

// Handler receives settled events, one at a time
type Handler func(Event)

type pending struct {
	timer *time.Timer
	op    Op
}

// Watcher watches directories for .ics changes using fsnotify
type Watcher struct {
	fs       *fsnotify.Watcher
	handler  Handler
	debounce time.Duration
	log      zerolog.Logger

	dirs    map[string]bool
	pending map[string]*pending
	stopped bool
	mutex   sync.Mutex

	// serializes handler calls
	deliver sync.Mutex
	done    chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Watcher
type Option func(*Watcher)

// WithDebounce sets how long a file must be quiet before its event is
// delivered. Zero delivers every event immediately.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

func New(handler Handler, log zerolog.Logger, opts ...Option) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		fs:       fs,
		handler:  handler,
		debounce: DefaultDebounce,
		log:      log.With().Str("component", "watcher").Logger(),
		dirs:     make(map[string]bool),
		pending:  make(map[string]*pending),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Add starts watching dir
func (w *Watcher) Add(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("directory %s does not exist: %w", abs, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", abs)
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.stopped {
		return fmt.Errorf("watcher is stopped")
	}
	if w.dirs[abs] {
		return nil
	}
	if err := w.fs.Add(abs); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", abs, err)
	}
	w.dirs[abs] = true
	w.log.Debug().Str("dir", abs).Msg("watching directory")
	return nil
}

// Remove stops watching dir
func (w *Watcher) Remove(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if !w.dirs[abs] {
		return nil
	}
	delete(w.dirs, abs)
	for path, p := range w.pending {
		if filepath.Dir(path) == abs {
			p.timer.Stop()
			delete(w.pending, path)
		}
	}
	if err := w.fs.Remove(abs); err != nil {
		return fmt.Errorf("failed to unwatch directory %s: %w", abs, err)
	}
	return nil
}

// IsWatching reports whether dir is watched
func (w *Watcher) IsWatching(dir string) bool {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.dirs[abs]
}

// Dirs returns the watched directories, sorted
func (w *Watcher) Dirs() []string {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	dirs := make([]string, 0, len(w.dirs))
	for d := range w.dirs {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

// Stop ends watching. Pending events are dropped.
func (w *Watcher) Stop() error {
	w.mutex.Lock()
	if w.stopped {
		w.mutex.Unlock()
		return nil
	}
	w.stopped = true
	close(w.done)
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mutex.Unlock()

	err := w.fs.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close fsnotify watcher: %w", err)
	}
	return nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("file watcher error")
		case <-w.done:
			return
		}
	}
}

func isICS(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".ics")
}

func convert(ev fsnotify.Event) (Op, bool) {
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return Deleted, true
	case ev.Has(fsnotify.Create):
		return Created, true
	case ev.Has(fsnotify.Write):
		return Modified, true
	}
	return 0, false
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !isICS(ev.Name) {
		return
	}
	op, ok := convert(ev)
	if !ok {
		return
	}

	w.mutex.Lock()
	if w.stopped || !w.dirs[filepath.Dir(ev.Name)] {
		w.mutex.Unlock()
		return
	}
	if w.debounce <= 0 {
		w.mutex.Unlock()
		w.emit(Event{Path: ev.Name, Op: op})
		return
	}

	if p, exists := w.pending[ev.Name]; exists {
		// a create followed by writes is still a create
		if !(p.op == Created && op == Modified) {
			p.op = op
		}
		p.timer.Reset(w.debounce)
		w.mutex.Unlock()
		return
	}
	path := ev.Name
	p := &pending{op: op}
	p.timer = time.AfterFunc(w.debounce, func() { w.flush(path) })
	w.pending[path] = p
	w.mutex.Unlock()
}

func (w *Watcher) flush(path string) {
	w.mutex.Lock()
	p, exists := w.pending[path]
	if !exists || w.stopped {
		w.mutex.Unlock()
		return
	}
	delete(w.pending, path)
	w.mutex.Unlock()
	w.emit(Event{Path: path, Op: p.op})
}

func (w *Watcher) emit(ev Event) {
	w.deliver.Lock()
	defer w.deliver.Unlock()
	w.log.Debug().Str("path", ev.Path).Stringer("op", ev.Op).Msg("file changed")
	w.handler(ev)
}
