package dispatch

import (
	"strings"
	"sync"
	"time"

	"github.com/varie-ai/workstation/internal/workspace"
)

// rescanCooldown bounds how often a resolve miss may trigger a
// filesystem rescan.
const rescanCooldown = 5 * time.Second

// ScanFunc performs a filesystem discovery pass and returns the repos
// found. Injected so tests never touch a real filesystem.
type ScanFunc func() ([]workspace.RepoRecord, error)

// Resolver looks a query up against three sources in order: exact hit
// in the scanned set, exact hit in the learned set, then a substring
// match with tie-breaks. A resolve miss triggers at most one rescan
// per cooldown window before giving up.
type Resolver struct {
	learned *workspace.LearnedRepos
	scan    ScanFunc

	mu         sync.Mutex
	scanned    map[string]workspace.RepoRecord // lowercase name -> record
	lastRescan time.Time
}

// NewResolver constructs a Resolver. scan is called to (re)populate the
// scanned set; it is never called synchronously from NewResolver —
// callers should call Rescan once at startup if they want an initial
// populated set.
func NewResolver(learned *workspace.LearnedRepos, scan ScanFunc) *Resolver {
	return &Resolver{
		learned: learned,
		scan:    scan,
		scanned: map[string]workspace.RepoRecord{},
	}
}

// Rescan unconditionally refreshes the scanned set, ignoring the
// cooldown. Used by discover_projects, which explicitly requests a
// fresh walk.
func (r *Resolver) Rescan() error {
	recs, err := r.scan()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanned = make(map[string]workspace.RepoRecord, len(recs))
	for _, rec := range recs {
		r.scanned[strings.ToLower(rec.Name)] = rec
	}
	r.lastRescan = time.Now()
	return nil
}

func normalizeName(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}

// Resolve looks up query against the scanned set, the learned set, and
// finally a substring match across both, triggering at most one
// cooldown-gated rescan on a miss.
func (r *Resolver) Resolve(query string) (rec workspace.RepoRecord, found bool, ambiguous bool, suggestions []string) {
	rec, found = r.resolveOnce(query)
	if found {
		return rec, true, false, nil
	}

	r.mu.Lock()
	canRescan := time.Since(r.lastRescan) >= rescanCooldown
	r.mu.Unlock()
	if canRescan && r.scan != nil {
		if err := r.Rescan(); err == nil {
			rec, found = r.resolveOnce(query)
			if found {
				return rec, true, false, nil
			}
		}
	}

	return r.substringMatch(query)
}

func (r *Resolver) resolveOnce(query string) (workspace.RepoRecord, bool) {
	q := strings.ToLower(query)
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.scanned[q]; ok {
		return rec, true
	}
	if r.learned != nil {
		if rec, ok := r.learned.Lookup(q); ok {
			return rec, true
		}
		for _, rec := range r.learned.All() {
			if strings.ToLower(rec.Name) == q {
				return rec, true
			}
		}
	}
	return workspace.RepoRecord{}, false
}

// candidateScore ranks substring matches: an exact word-boundary
// token match outranks a suffix match, which outranks a plain
// substring containment.
func candidateScore(name, query string) int {
	lname := strings.ToLower(name)
	lquery := strings.ToLower(query)
	if !strings.Contains(lname, lquery) && !strings.Contains(lquery, lname) {
		return 0
	}
	for _, tok := range strings.FieldsFunc(lname, func(r rune) bool { return r == '-' || r == '_' }) {
		if tok == lquery {
			return 3
		}
	}
	if strings.HasSuffix(lname, lquery) {
		return 2
	}
	return 1
}

func (r *Resolver) substringMatch(query string) (workspace.RepoRecord, bool, bool, []string) {
	r.mu.Lock()
	all := make([]workspace.RepoRecord, 0, len(r.scanned))
	for _, rec := range r.scanned {
		all = append(all, rec)
	}
	r.mu.Unlock()
	if r.learned != nil {
		all = append(all, r.learned.All()...)
	}

	best := 0
	var bestRec workspace.RepoRecord
	tieCount := 0
	var suggestions []string
	for _, rec := range all {
		sc := candidateScore(rec.Name, query)
		if sc == 0 {
			continue
		}
		suggestions = append(suggestions, rec.Name)
		if sc > best {
			best = sc
			bestRec = rec
			tieCount = 1
		} else if sc == best {
			tieCount++
		}
	}

	if best == 0 {
		return workspace.RepoRecord{}, false, false, nil
	}
	if tieCount > 1 {
		if len(suggestions) > 5 {
			suggestions = suggestions[:5]
		}
		return workspace.RepoRecord{}, false, true, suggestions
	}
	return bestRec, true, false, nil
}

// NamesMatch compares two repo names the way the false-positive guard
// does: case-insensitively, with '_' and '-' normalised away.
func NamesMatch(a, b string) bool {
	return normalizeName(a) == normalizeName(b)
}
