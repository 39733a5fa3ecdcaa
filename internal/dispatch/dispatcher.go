// Package dispatch turns a user-intent payload into a concrete write
// to exactly one session, auto-creating sessions for known repos and
// refusing ambiguous routes. It holds a reference to the Session
// Manager and the Manager Workspace; it never stores sessions itself,
// so the two subsystems never share ownership of the session table.
package dispatch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/varie-ai/workstation/internal/session"
	"github.com/varie-ai/workstation/internal/workspace"
)

const (
	autoProvisionReadyBudget = 30 * time.Second
	autoProvisionSettle      = 500 * time.Millisecond
)

// Dispatcher wires the Session Manager, the Repo Resolver, and the
// projects index together to implement the five control-socket
// dispatch commands.
type Dispatcher struct {
	sessions *session.Manager
	resolver *Resolver
	roots    PathRoots

	projectsPath string
	defaultRoot  string
	discoverFn   func(root string) ([]workspace.RepoRecord, error)

	idxMu sync.Mutex
	idx   *workspace.ProjectsIndex

	learned *workspace.LearnedRepos

	// DefaultFlags supplies the assistant startup flags for sessions
	// whose creation payload didn't name any — in practice the
	// skip-permissions flag when config.yaml's skipPermissions is on.
	// Re-read per creation so a config hot-reload applies to the next
	// session without a restart. Nil means no default flags.
	DefaultFlags func() string
}

// New constructs a Dispatcher. idx is the in-memory projects index
// mirror; the dispatcher is its sole mutator.
func New(sessions *session.Manager, resolver *Resolver, learned *workspace.LearnedRepos, idx *workspace.ProjectsIndex, projectsPath, defaultRoot string, roots PathRoots) *Dispatcher {
	return &Dispatcher{
		sessions:     sessions,
		resolver:     resolver,
		roots:        roots,
		projectsPath: projectsPath,
		defaultRoot:  defaultRoot,
		discoverFn:   DiscoverRepos,
		idx:          idx,
		learned:      learned,
	}
}

func (d *Dispatcher) defaultFlags() string {
	if d.DefaultFlags == nil {
		return ""
	}
	return d.DefaultFlags()
}

func (d *Dispatcher) saveProjects() error {
	d.idxMu.Lock()
	data := d.idx.Serialize()
	d.idxMu.Unlock()
	return os.WriteFile(d.projectsPath, data, 0o600)
}

// ListWorkers returns every non-orchestrator session.
func (d *Dispatcher) ListWorkers() map[string]any {
	workers := make([]map[string]any, 0)
	for _, s := range d.sessions.List() {
		if s.Kind != session.KindWorker {
			continue
		}
		workers = append(workers, map[string]any{
			"id":           s.ID,
			"repo":         s.Repo,
			"path":         s.Path,
			"taskId":       s.TaskID,
			"state":        string(s.State()),
			"lastActivity": s.LastActivity().UTC().Format(time.RFC3339),
		})
	}
	return map[string]any{"workers": workers}
}

// Dispatch writes message to an explicitly named session.
func (d *Dispatcher) Dispatch(targetSessionID, message string, confirmBeforeSend bool) (map[string]any, error) {
	if err := checkBounded("targetSessionId", targetSessionID, maxTargetSessionID); err != nil {
		return nil, err
	}
	if err := checkBounded("message", message, maxMessage); err != nil {
		return nil, err
	}

	if err := d.sessions.Dispatch(targetSessionID, message, false, !confirmBeforeSend); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, targetSessionID)
		}
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	resp := map[string]any{"targetSessionId": targetSessionID}
	if confirmBeforeSend {
		resp["confirmBeforeSend"] = true
	}
	return resp, nil
}

// Route fuzzy-matches query against live sessions, falls through to
// the repo registry on a miss (auto-creating a worker if the registry
// has a hit), and applies the false-positive guard before committing
// to a fuzzy winner.
func (d *Dispatcher) Route(query, message, taskID string, confirmBeforeSend bool) (map[string]any, error) {
	if err := checkBounded("query", query, maxQuery); err != nil {
		return nil, err
	}
	if err := checkBounded("message", message, maxMessage); err != nil {
		return nil, err
	}

	cand, ok := bestCandidate(d.sessions.List(), query, taskID)
	if ok {
		if rec, found, ambiguous, _ := d.resolver.Resolve(query); found && !ambiguous && !NamesMatch(rec.Name, cand.Repo) {
			// False-positive guard: the registry disagrees with the
			// fuzzy winner, so don't deliver to the wrong repo.
			ok = false
		}
	}
	if ok {
		if err := d.sessions.Dispatch(cand.ID, message, false, !confirmBeforeSend); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
		}
		resp := map[string]any{"targetSessionId": cand.ID}
		if confirmBeforeSend {
			resp["confirmBeforeSend"] = true
		}
		return resp, nil
	}

	rec, found, ambiguous, suggestions := d.resolver.Resolve(query)
	if ambiguous {
		return map[string]any{"found": false, "ambiguous": true, "suggestions": suggestions}, nil
	}
	if !found {
		return map[string]any{"found": false, "message": "no matching worker or repo for query"}, nil
	}

	return d.autoProvisionAndDispatch(rec, message, taskID, confirmBeforeSend)
}

func (d *Dispatcher) autoProvisionAndDispatch(rec workspace.RepoRecord, message, taskID string, confirmBeforeSend bool) (map[string]any, error) {
	id, err := d.sessions.Create(rec.Name, rec.AbsolutePath, session.KindWorker, taskID, d.defaultFlags())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	workspace.InjectMarker(filepath.Join(rec.AbsolutePath, "CLAUDE.md"))

	ready, _ := d.sessions.WaitForAssistantReady(id, autoProvisionReadyBudget)
	time.Sleep(autoProvisionSettle)

	if !ready {
		return map[string]any{
			"created":    true,
			"sessionId":  id,
			"dispatched": false,
			"message":    "Created worker but Claude did not start within 30s",
		}, nil
	}

	if err := d.sessions.Dispatch(id, message, false, !confirmBeforeSend); err != nil {
		return map[string]any{
			"created":    true,
			"sessionId":  id,
			"dispatched": false,
			"message":    err.Error(),
		}, nil
	}

	resp := map[string]any{
		"created":         true,
		"sessionId":       id,
		"dispatched":      true,
		"targetSessionId": id,
	}
	if confirmBeforeSend {
		resp["confirmBeforeSend"] = true
	}
	return resp, nil
}

// CreateWorker creates a worker session for an explicitly named repo
// and path, learning the repo for future route() resolution.
func (d *Dispatcher) CreateWorker(repo, repoPath, taskID, startupFlags string) (map[string]any, error) {
	if err := checkBounded("repo", repo, maxRepo); err != nil {
		return nil, err
	}
	if err := checkBounded("repoPath", repoPath, maxRepoPath); err != nil {
		return nil, err
	}
	resolved, err := ResolvePath(repoPath, d.roots)
	if err != nil {
		return nil, err
	}
	if startupFlags == "" {
		startupFlags = d.defaultFlags()
	}

	id, err := d.sessions.Create(repo, resolved, session.KindWorker, taskID, startupFlags)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	workspace.InjectMarker(filepath.Join(resolved, "CLAUDE.md"))

	if d.learned != nil {
		d.learned.Learn(workspace.RepoRecord{
			Name:         repo,
			AbsolutePath: resolved,
			Source:       workspace.SourceLearned,
		})
	}

	return map[string]any{"sessionId": id}, nil
}

// DiscoverProjects walks path (or the default workspace root) for
// repos, merges newly found ones into the projects index without
// overwriting existing entries, and refreshes the resolver's scanned
// set.
func (d *Dispatcher) DiscoverProjects(path string) (map[string]any, error) {
	root := d.defaultRoot
	if path != "" {
		resolved, err := ResolvePath(path, d.roots)
		if err != nil {
			return nil, err
		}
		root = resolved
	}

	found, err := d.discoverFn(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	d.idxMu.Lock()
	added := MergeDiscovered(d.idx, found)
	d.idxMu.Unlock()

	if added > 0 {
		if err := d.saveProjects(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
		}
	}

	if err := d.resolver.Rescan(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	return map[string]any{"discovered": len(found), "added": added}, nil
}
