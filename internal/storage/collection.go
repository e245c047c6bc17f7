package storage

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"taskcycle/internal/config"
	"taskcycle/internal/task"
)

// Collection is a watched directory of .ics files and the policy
// applied to the tasks imported from it.
type Collection struct {
	Path     string
	Template string
	Project  string
	Mode     task.Mode
	offsets  []time.Duration
	mutex    sync.RWMutex
}

// NewCollection builds a collection from its directory configuration
func NewCollection(dir config.DirectoryConfig) (*Collection, error) {
	mode, err := task.ParseMode(dir.RecurringMode)
	if err != nil {
		return nil, err
	}
	offsets, err := dir.Offsets()
	if err != nil {
		return nil, err
	}
	return &Collection{
		Path:     filepath.Clean(dir.Directory),
		Template: dir.Template,
		Project:  dir.Project,
		Mode:     mode,
		offsets:  offsets,
	}, nil
}

// Offsets returns a copy of the alert offsets
func (c *Collection) Offsets() []time.Duration {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return append([]time.Duration(nil), c.offsets...)
}

// TemplateName returns the notification template
func (c *Collection) TemplateName() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.Template
}

// Defaults returns the project and recurring mode given to imported tasks
func (c *Collection) Defaults() (string, task.Mode) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.Project, c.Mode
}

// update copies the mutable policy of other into c
func (c *Collection) update(other *Collection) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.Template = other.Template
	c.Project = other.Project
	c.Mode = other.Mode
	c.offsets = other.offsets
}

func (c *Collection) String() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return fmt.Sprintf("Collection{Path: %s, Mode: %s, Alerts: %d}", c.Path, c.Mode, len(c.offsets))
}

// Registry maps directories to collections
type Registry struct {
	collections map[string]*Collection
	mutex       sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{collections: make(map[string]*Collection)}
}

// Apply replaces the registry content with the configured directories.
// Existing collections are updated in place. It returns the paths that
// were removed.
func (r *Registry) Apply(dirs []config.DirectoryConfig) ([]string, error) {
	next := make(map[string]*Collection, len(dirs))
	for _, dir := range dirs {
		c, err := NewCollection(dir)
		if err != nil {
			return nil, fmt.Errorf("directory %s: %w", dir.Directory, err)
		}
		next[c.Path] = c
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	var removed []string
	for path := range r.collections {
		if _, ok := next[path]; !ok {
			removed = append(removed, path)
			delete(r.collections, path)
		}
	}
	for path, c := range next {
		if existing, ok := r.collections[path]; ok {
			existing.update(c)
			continue
		}
		r.collections[path] = c
	}
	sort.Strings(removed)
	return removed, nil
}

// Get returns the collection for a directory
func (r *Registry) Get(path string) (*Collection, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	c, ok := r.collections[filepath.Clean(path)]
	return c, ok
}

// ForFile returns the collection whose directory contains file
func (r *Registry) ForFile(file string) (*Collection, bool) {
	dir := filepath.Clean(filepath.Dir(file))
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if c, ok := r.collections[dir]; ok {
		return c, true
	}
	for path, c := range r.collections {
		if strings.HasPrefix(dir, path+string(filepath.Separator)) {
			return c, true
		}
	}
	return nil, false
}

// All returns every collection sorted by path
func (r *Registry) All() []*Collection {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]*Collection, 0, len(r.collections))
	for _, c := range r.collections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
