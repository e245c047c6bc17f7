package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
)

const stateVersion = "1"

// DaemonState is what the daemon remembers between runs
type DaemonState struct {
	Version       string    `json:"version"`
	LastAlertTick time.Time `json:"last_alert_tick"`
	// alert key -> time the alert was sent
	Sent map[string]time.Time `json:"sent,omitempty"`
}

// StateManager handles persistent daemon state
type StateManager interface {
	LastAlertTick() time.Time
	SetLastAlertTick(tick time.Time) error
	WasSent(key string) bool
	MarkSent(key string, at time.Time) error
	// Prune forgets sent alerts older than the cutoff
	Prune(cutoff time.Time) error
	Load() error
	Save() error
}

// FileStateManager implements StateManager with a JSON file
type FileStateManager struct {
	state    DaemonState
	filePath string
	now      func() time.Time
	mutex    sync.RWMutex
}

// NewXDGStateManager stores state under the XDG state directory
func NewXDGStateManager() (*FileStateManager, error) {
	path, err := xdg.StateFile("taskcycle/state.json")
	if err != nil {
		return nil, fmt.Errorf("failed to get XDG state file path: %w", err)
	}
	return NewFileStateManager(path), nil
}

// NewFileStateManager stores state at path
func NewFileStateManager(path string) *FileStateManager {
	return &FileStateManager{
		state:    DaemonState{Version: stateVersion, Sent: map[string]time.Time{}},
		filePath: path,
		now:      time.Now,
	}
}

func (s *FileStateManager) LastAlertTick() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state.LastAlertTick
}

func (s *FileStateManager) SetLastAlertTick(tick time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.state.LastAlertTick = tick
	return s.saveLocked()
}

func (s *FileStateManager) WasSent(key string) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, ok := s.state.Sent[key]
	return ok
}

func (s *FileStateManager) MarkSent(key string, at time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.state.Sent[key] = at
	return s.saveLocked()
}

func (s *FileStateManager) Prune(cutoff time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	removed := 0
	for k, at := range s.state.Sent {
		if at.Before(cutoff) {
			delete(s.state.Sent, k)
			removed++
		}
	}
	if removed == 0 {
		return nil
	}
	return s.saveLocked()
}

// Load reads the state file. A missing or corrupt file starts fresh at the current time.
func (s *FileStateManager) Load() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		s.resetLocked()
		return s.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var loaded DaemonState
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.resetLocked()
		return s.saveLocked()
	}
	if loaded.LastAlertTick.IsZero() {
		loaded.LastAlertTick = s.now()
	}
	if loaded.Sent == nil {
		loaded.Sent = map[string]time.Time{}
	}
	loaded.Version = stateVersion
	s.state = loaded
	return nil
}

func (s *FileStateManager) Save() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.saveLocked()
}

func (s *FileStateManager) resetLocked() {
	s.state = DaemonState{
		Version:       stateVersion,
		LastAlertTick: s.now(),
		Sent:          map[string]time.Time{},
	}
}

// saveLocked writes via a temp file and rename (lock held)
func (s *FileStateManager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}

// Path returns the state file location
func (s *FileStateManager) Path() string {
	return s.filePath
}
