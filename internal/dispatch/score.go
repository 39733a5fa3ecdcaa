package dispatch

import (
	"strings"
	"time"

	"github.com/varie-ai/workstation/internal/session"
)

// matchThreshold is the minimum score a candidate must clear to be
// considered a fuzzy match at all.
const matchThreshold = 50

// scoreCandidate implements the fuzzy-match scoring table. query and
// taskID are matched case-insensitively; message is not scored, only
// carried through for the eventual write.
func scoreCandidate(sess *session.Session, query, taskID string) int {
	q := strings.ToLower(strings.TrimSpace(query))
	repo := strings.ToLower(sess.Repo)
	task := strings.ToLower(sess.TaskID)
	path := strings.ToLower(sess.Path)

	score := 0

	if q != "" && repo == q {
		score += 100
	}
	if taskID != "" && task != "" && task == strings.ToLower(taskID) {
		score += 80
	}
	if q != "" && strings.Contains(repo, q) {
		score += 50
	}
	if repo != "" && strings.Contains(q, repo) {
		score += 40
	}
	if taskID != "" && task != "" && strings.Contains(task, strings.ToLower(taskID)) {
		score += 30
	}
	if q != "" && strings.Contains(path, q) {
		score += 20
	}

	for _, term := range splitTerms(q) {
		if len(term) < 3 {
			continue
		}
		if strings.Contains(repo, term) {
			score += 10
		}
		if strings.Contains(task, term) {
			score += 10
		}
		if strings.Contains(path, term) {
			score += 5
		}
	}

	age := time.Since(sess.LastActivity())
	switch {
	case age < time.Hour:
		score += 15
	case age < 24*time.Hour:
		score += 5
	}

	return score
}

func splitTerms(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '/'
	})
}

// bestCandidate scans sessions, returning the single highest scorer
// that clears matchThreshold, or ok=false if none does.
func bestCandidate(sessions []*session.Session, query, taskID string) (*session.Session, bool) {
	var best *session.Session
	bestScore := 0
	for _, sess := range sessions {
		if sess.External {
			continue
		}
		sc := scoreCandidate(sess, query, taskID)
		if sc > bestScore {
			bestScore = sc
			best = sess
		}
	}
	if best == nil || bestScore < matchThreshold {
		return nil, false
	}
	return best, true
}
