package workspace

import (
	"path/filepath"
	"testing"
)

func TestLearnedReposMissingFileStartsEmpty(t *testing.T) {
	l, err := LoadLearnedRepos(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(l.All()) != 0 {
		t.Fatalf("expected empty registry, got %v", l.All())
	}
}

func TestLearnThenLookupPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learned.json")
	l, err := LoadLearnedRepos(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rec := RepoRecord{Name: "side-project", AbsolutePath: "/home/dev/side-project", Source: SourceLearned}
	if err := l.Learn(rec); err != nil {
		t.Fatalf("learn: %v", err)
	}

	reloaded, err := LoadLearnedRepos(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, ok := reloaded.Lookup("side-project")
	if !ok {
		t.Fatal("expected learned repo to survive reload")
	}
	if got != rec {
		t.Fatalf("expected %+v, got %+v", rec, got)
	}
}

func TestLearnOverwritesSameName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learned.json")
	l, err := LoadLearnedRepos(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	l.Learn(RepoRecord{Name: "x", AbsolutePath: "/old/path", Source: SourceLearned})
	l.Learn(RepoRecord{Name: "x", AbsolutePath: "/new/path", Source: SourceLearned})

	got, ok := l.Lookup("x")
	if !ok || got.AbsolutePath != "/new/path" {
		t.Fatalf("expected overwritten record with new path, got %+v (ok=%v)", got, ok)
	}
	if len(l.All()) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(l.All()))
	}
}
