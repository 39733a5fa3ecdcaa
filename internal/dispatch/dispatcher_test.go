package dispatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/varie-ai/workstation/internal/session"
	"github.com/varie-ai/workstation/internal/workspace"
)

func newTestDispatcher(t *testing.T, scan ScanFunc) (*Dispatcher, *session.Manager, string) {
	t.Helper()
	home := t.TempDir()
	os.Setenv("SHELL", "/bin/sh")
	sm := session.New(home, home, "echo", nil, nil)
	sm.StartupSettle = time.Millisecond
	sm.InterruptSettle = time.Millisecond
	sm.ReadyWaitPlain = time.Millisecond
	sm.ReadyWaitSkip = time.Millisecond
	sm.EnterDelay = time.Millisecond
	sm.ConfirmMatchDelay = time.Millisecond
	sm.ConfirmEnterDelay = time.Millisecond
	sm.ConfirmTimeout = 10 * time.Millisecond
	sm.ReadySettleIgnore = time.Millisecond
	sm.ReadyQuietWindow = 2 * time.Millisecond

	learned, err := workspace.LoadLearnedRepos(filepath.Join(home, "learned.json"))
	if err != nil {
		t.Fatalf("load learned: %v", err)
	}
	if scan == nil {
		scan = func() ([]workspace.RepoRecord, error) { return nil, nil }
	}
	resolver := NewResolver(learned, scan)
	idx := workspace.NewProjectsIndex()
	roots := PathRoots{Home: home, Temp: os.TempDir(), Install: "/usr/local/varie"}

	d := New(sm, resolver, learned, idx, filepath.Join(home, "projects.yaml"), home, roots)
	return d, sm, home
}

func TestDispatchWritesToNamedSession(t *testing.T) {
	d, sm, _ := newTestDispatcher(t, nil)
	defer sm.CloseAll()

	id, err := sm.Create("repo-a", "", session.KindWorker, "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	resp, err := d.Dispatch(id, "hello", false)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp["targetSessionId"] != id {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestDispatchUnknownSessionReturnsNotFound(t *testing.T) {
	d, sm, _ := newTestDispatcher(t, nil)
	defer sm.CloseAll()

	if _, err := d.Dispatch("nonexistent", "hi", false); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestRouteAutoProvisionsOnRegistryHit(t *testing.T) {
	scan := func() ([]workspace.RepoRecord, error) {
		return nil, nil // replaced below once we know the dispatcher's home dir
	}
	d, sm, home := newTestDispatcher(t, scan)
	defer sm.CloseAll()

	repoDir := filepath.Join(home, "side-project")
	os.MkdirAll(repoDir, 0o755)
	d.resolver.scan = func() ([]workspace.RepoRecord, error) {
		return []workspace.RepoRecord{{Name: "side-project", AbsolutePath: repoDir}}, nil
	}
	if err := d.resolver.Rescan(); err != nil {
		t.Fatalf("rescan: %v", err)
	}

	resp, err := d.Route("side-project", "do work", "", false)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if resp["created"] != true {
		t.Fatalf("expected auto-provisioned worker, got %+v", resp)
	}
	if resp["sessionId"] == nil || resp["sessionId"] == "" {
		t.Fatalf("expected a session id in response: %+v", resp)
	}
}

func TestRouteFalsePositiveGuardPrefersRegistryOverFuzzyWinner(t *testing.T) {
	d, sm, home := newTestDispatcher(t, nil)
	defer sm.CloseAll()

	// A live session for my-app would fuzzy-win the query "my-app-backend"
	// (query-contains-repo plus term and recency signals clear the
	// threshold), but the registry knows my-app-backend as its own repo.
	if _, err := sm.Create("my-app", "", session.KindWorker, "", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	backendDir := filepath.Join(home, "my-app-backend")
	os.MkdirAll(backendDir, 0o755)
	d.resolver.scan = func() ([]workspace.RepoRecord, error) {
		return []workspace.RepoRecord{
			{Name: "my-app", AbsolutePath: filepath.Join(home, "my-app")},
			{Name: "my-app-backend", AbsolutePath: backendDir},
		}, nil
	}
	if err := d.resolver.Rescan(); err != nil {
		t.Fatalf("rescan: %v", err)
	}

	resp, err := d.Route("my-app-backend", "do work", "", false)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if resp["created"] != true {
		t.Fatalf("expected a new worker for my-app-backend, got %+v", resp)
	}
	id, _ := resp["sessionId"].(string)
	created, ok := sm.Get(id)
	if !ok || created.Repo != "my-app-backend" {
		t.Fatalf("expected new session bound to my-app-backend, got %+v", created)
	}
}

func TestRouteReturnsAmbiguousSuggestions(t *testing.T) {
	scan := func() ([]workspace.RepoRecord, error) {
		return []workspace.RepoRecord{
			{Name: "frontend-web", AbsolutePath: "/a"},
			{Name: "frontend-mobile", AbsolutePath: "/b"},
		}, nil
	}
	d, sm, _ := newTestDispatcher(t, scan)
	defer sm.CloseAll()
	if err := d.resolver.Rescan(); err != nil {
		t.Fatalf("rescan: %v", err)
	}

	resp, err := d.Route("frontend", "hi", "", false)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if resp["found"] != false || resp["ambiguous"] != true {
		t.Fatalf("expected ambiguous response, got %+v", resp)
	}
}

func TestCreateWorkerLearnsRepoForFutureRoutes(t *testing.T) {
	d, sm, home := newTestDispatcher(t, nil)
	defer sm.CloseAll()

	repoPath := filepath.Join(home, "new-repo")
	os.MkdirAll(repoPath, 0o755)

	resp, err := d.CreateWorker("new-repo", repoPath, "", "")
	if err != nil {
		t.Fatalf("create worker: %v", err)
	}
	if resp["sessionId"] == "" {
		t.Fatalf("expected session id in response: %+v", resp)
	}

	rec, found := d.learned.Lookup("new-repo")
	if !found {
		t.Fatal("expected create_worker to learn the repo")
	}
	if rec.AbsolutePath != repoPath {
		t.Fatalf("unexpected learned path: %q", rec.AbsolutePath)
	}
}

func TestDiscoverProjectsMergesAndPersists(t *testing.T) {
	d, sm, home := newTestDispatcher(t, func() ([]workspace.RepoRecord, error) { return nil, nil })
	defer sm.CloseAll()
	mkrepo(t, home, "found-repo", true, false)
	d.defaultRoot = home
	d.discoverFn = DiscoverRepos

	resp, err := d.DiscoverProjects("")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if resp["added"] != 1 {
		t.Fatalf("expected 1 added, got %+v", resp)
	}

	data, err := os.ReadFile(d.projectsPath)
	if err != nil {
		t.Fatalf("read persisted projects.yaml: %v", err)
	}
	idx, err := workspace.ParseProjects(data)
	if err != nil {
		t.Fatalf("parse persisted projects.yaml: %v", err)
	}
	if _, ok := idx.Projects["found-repo"]; !ok {
		t.Fatalf("expected found-repo persisted, got %+v", idx.Projects)
	}
}
