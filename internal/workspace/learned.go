package workspace

import (
	"encoding/json"
	"os"
	"sync"
)

// LearnedRepos persists repos the dispatcher discovers outside the
// scanned roots (e.g. a user typing a path directly). It only grows:
// nothing in the daemon removes an entry once learned. The resolver
// consults it after the scanned set and before falling back to
// substring matching.
type LearnedRepos struct {
	path string

	mu      sync.Mutex
	records map[string]RepoRecord // keyed by name
}

// LoadLearnedRepos reads the JSON-persisted registry at path, starting
// empty if it doesn't exist yet.
func LoadLearnedRepos(path string) (*LearnedRepos, error) {
	l := &LearnedRepos{path: path, records: map[string]RepoRecord{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return l, nil
	}
	if err := json.Unmarshal(data, &l.records); err != nil {
		return nil, err
	}
	return l, nil
}

// Learn records rec under its name, overwriting any prior entry with
// the same name, and persists immediately.
func (l *LearnedRepos) Learn(rec RepoRecord) error {
	l.mu.Lock()
	l.records[rec.Name] = rec
	l.mu.Unlock()
	return l.save()
}

// Lookup returns the learned record for name, if any.
func (l *LearnedRepos) Lookup(name string) (RepoRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[name]
	return rec, ok
}

// All returns every learned record.
func (l *LearnedRepos) All() []RepoRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RepoRecord, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec)
	}
	return out
}

func (l *LearnedRepos) save() error {
	l.mu.Lock()
	data, err := json.MarshalIndent(l.records, "", "  ")
	l.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(l.path, data, 0o600)
}
