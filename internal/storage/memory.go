package storage

import (
	"context"
	"sync"

	"taskcycle/internal/task"
)

// MemoryTaskStore implements TaskStore using in-memory maps
type MemoryTaskStore struct {
	tasks map[string]task.Task

	// source file -> IDs of the tasks imported from it
	bySource map[string]map[string]bool

	mutex sync.RWMutex
}

// NewMemoryTaskStore creates a new in-memory task store
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks:    make(map[string]task.Task),
		bySource: make(map[string]map[string]bool),
	}
}

func (s *MemoryTaskStore) Get(_ context.Context, id string) (task.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	t, exists := s.tasks[id]
	if !exists {
		return task.Task{}, ErrNotFound
	}
	return t.Clone(), nil
}

// Put adds or replaces a task
func (s *MemoryTaskStore) Put(_ context.Context, t task.Task) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if old, exists := s.tasks[t.ID]; exists && old.Source != t.Source {
		s.unindexLocked(old)
	}
	s.tasks[t.ID] = t.Clone()
	if t.Source != "" {
		ids, exists := s.bySource[t.Source]
		if !exists {
			ids = make(map[string]bool)
			s.bySource[t.Source] = ids
		}
		ids[t.ID] = true
	}
	return nil
}

func (s *MemoryTaskStore) Delete(_ context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, exists := s.tasks[id]
	if !exists {
		return ErrNotFound
	}
	s.unindexLocked(t)
	delete(s.tasks, id)
	return nil
}

func (s *MemoryTaskStore) DeleteBySource(_ context.Context, source string) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ids := s.bySource[source]
	for id := range ids {
		delete(s.tasks, id)
	}
	delete(s.bySource, source)
	return len(ids), nil
}

func (s *MemoryTaskStore) List(_ context.Context, f Filter) ([]task.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var tasks []task.Task
	if f.Source != "" {
		for id := range s.bySource[f.Source] {
			if t := s.tasks[id]; f.matches(t) {
				tasks = append(tasks, t.Clone())
			}
		}
	} else {
		for _, t := range s.tasks {
			if f.matches(t) {
				tasks = append(tasks, t.Clone())
			}
		}
	}
	sortTasks(tasks)
	return tasks, nil
}

// Count returns the total number of tasks in storage
func (s *MemoryTaskStore) Count() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.tasks)
}

func (s *MemoryTaskStore) Close() error { return nil }

// unindexLocked drops the source mapping of t (must be called with lock held)
func (s *MemoryTaskStore) unindexLocked(t task.Task) {
	if t.Source == "" {
		return
	}
	if ids, exists := s.bySource[t.Source]; exists {
		delete(ids, t.ID)
		if len(ids) == 0 {
			delete(s.bySource, t.Source)
		}
	}
}
