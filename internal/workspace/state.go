package workspace

import (
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ManagerState is the daemon's transient operating-state snapshot,
// persisted to state.yaml so a restart can report what it saw before
// dying without pretending any session survived the restart — stale
// sessions never survive; only the recent context is recalled.
type ManagerState struct {
	LastUpdated    time.Time `yaml:"last_updated"`
	ActiveSessions []string  `yaml:"active_sessions"`
	RecentContext  []string  `yaml:"recent_context"`
}

const recentContextLimit = 20

// StateStore guards ManagerState with autosave-on-interval and
// save-on-lifecycle-event semantics.
type StateStore struct {
	path string

	mu    sync.Mutex
	state ManagerState

	stop chan struct{}
	done chan struct{}
}

// LoadState reads state.yaml if present. Active sessions never carry
// across a restart, so ActiveSessions is always cleared on load
// regardless of what was persisted.
func LoadState(path string) (ManagerState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ManagerState{}, nil
	}
	if err != nil {
		return ManagerState{}, err
	}
	var st ManagerState
	if err := yaml.Unmarshal(data, &st); err != nil {
		return ManagerState{}, err
	}
	st.ActiveSessions = nil
	return st, nil
}

// NewStateStore loads the existing state (if any) and starts a
// background autosave loop at the given interval.
func NewStateStore(path string, autosaveEvery time.Duration) (*StateStore, error) {
	initial, err := LoadState(path)
	if err != nil {
		return nil, err
	}
	s := &StateStore{
		path:  path,
		state: initial,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go s.autosaveLoop(autosaveEvery)
	return s, nil
}

func (s *StateStore) autosaveLoop(interval time.Duration) {
	defer close(s.done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Save()
		case <-s.stop:
			return
		}
	}
}

// SetActiveSessions replaces the live session-id list and saves
// immediately — called on every create/close lifecycle event.
func (s *StateStore) SetActiveSessions(ids []string) {
	s.mu.Lock()
	s.state.ActiveSessions = append([]string(nil), ids...)
	s.mu.Unlock()
	s.Save()
}

// NoteContext appends a short free-text breadcrumb (e.g. "dispatched to
// repo-a") to the recent-context ring, trimmed to recentContextLimit
// entries, and saves immediately.
func (s *StateStore) NoteContext(line string) {
	s.mu.Lock()
	s.state.RecentContext = append(s.state.RecentContext, line)
	if n := len(s.state.RecentContext); n > recentContextLimit {
		s.state.RecentContext = s.state.RecentContext[n-recentContextLimit:]
	}
	s.mu.Unlock()
	s.Save()
}

// Snapshot returns a copy of the current state.
func (s *StateStore) Snapshot() ManagerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.state
	cp.ActiveSessions = append([]string(nil), s.state.ActiveSessions...)
	cp.RecentContext = append([]string(nil), s.state.RecentContext...)
	return cp
}

// Save persists the current state to disk immediately.
func (s *StateStore) Save() error {
	s.mu.Lock()
	s.state.LastUpdated = time.Now()
	data, err := yaml.Marshal(s.state)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Close stops the autosave loop and performs a final save.
func (s *StateStore) Close() error {
	close(s.stop)
	<-s.done
	return s.Save()
}
