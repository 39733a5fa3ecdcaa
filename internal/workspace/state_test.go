package workspace

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadStateMissingFileReturnsZeroValue(t *testing.T) {
	st, err := LoadState(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(st.ActiveSessions) != 0 || len(st.RecentContext) != 0 {
		t.Fatalf("expected empty state, got %+v", st)
	}
}

func TestActiveSessionsNeverSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	s, err := NewStateStore(path, time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	s.SetActiveSessions([]string{"abc123", "def456"})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := LoadState(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.ActiveSessions) != 0 {
		t.Fatalf("expected active sessions cleared on reload, got %v", reloaded.ActiveSessions)
	}
}

func TestNoteContextTrimsToLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	s, err := NewStateStore(path, time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()

	for i := 0; i < recentContextLimit+5; i++ {
		s.NoteContext("event")
	}
	snap := s.Snapshot()
	if len(snap.RecentContext) != recentContextLimit {
		t.Fatalf("expected %d entries, got %d", recentContextLimit, len(snap.RecentContext))
	}
}

func TestStateStoreAutosaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	s, err := NewStateStore(path, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()

	time.Sleep(50 * time.Millisecond)
	reloaded, err := LoadState(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.LastUpdated.IsZero() {
		t.Fatal("expected autosave to have written a non-zero last_updated")
	}
}
