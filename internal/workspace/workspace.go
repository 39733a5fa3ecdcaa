// Package workspace persists the manager's on-disk state: the
// workspace layout under <home>/.<app>/manager/, the projects index,
// learned repos, manager state autosave, and idempotent CLAUDE.md
// marker injection. It defines the projects index type and its file
// format; the in-memory index itself is held by the dispatcher, which
// is its only mutator.
package workspace

import (
	"os"
	"path/filepath"
)

// RepoSource records where a repo record came from.
type RepoSource string

const (
	SourceScanned    RepoSource = "scanned"
	SourceMarkerFile RepoSource = "marker_file"
	SourceLearned    RepoSource = "learned"
	SourceRegistry   RepoSource = "registry"
)

// RepoRecord is one known repository.
type RepoRecord struct {
	Name          string     `json:"name"`
	AbsolutePath  string     `json:"absolute_path"`
	Source        RepoSource `json:"source"`
	HasMarkerFile bool       `json:"has_marker_file"`
}

// Layout resolves every path the manager workspace owns, rooted at
// <home>/.<app>/.
type Layout struct {
	AppDir string // <home>/.<app>
}

// NewLayout returns a Layout for appName rooted at home.
func NewLayout(home, appName string) Layout {
	return Layout{AppDir: filepath.Join(home, "."+appName)}
}

// ManagerDir is the manager's own workspace directory.
func (l Layout) ManagerDir() string { return filepath.Join(l.AppDir, "manager") }

func (l Layout) ClaudeMDPath() string   { return filepath.Join(l.ManagerDir(), "CLAUDE.md") }
func (l Layout) ConfigYAMLPath() string { return filepath.Join(l.AppDir, "config.yaml") }
func (l Layout) ProjectsYAMLPath() string {
	return filepath.Join(l.ManagerDir(), "projects.yaml")
}
func (l Layout) RulesPath() string     { return filepath.Join(l.ManagerDir(), "rules.md") }
func (l Layout) DecisionsPath() string { return filepath.Join(l.ManagerDir(), "decisions.md") }
func (l Layout) StateYAMLPath() string { return filepath.Join(l.ManagerDir(), "state.yaml") }
func (l Layout) ReportsDir() string    { return filepath.Join(l.ManagerDir(), "reports") }

// DaemonDescriptorPath is <home>/.<app>/daemon.json.
func (l Layout) DaemonDescriptorPath() string { return filepath.Join(l.AppDir, "daemon.json") }

// MachineIDPath is <home>/.<app>/machine-id.
func (l Layout) MachineIDPath() string { return filepath.Join(l.AppDir, "machine-id") }

// LearnedReposPath is the JSON-persisted learned-repo registry.
func (l Layout) LearnedReposPath() string { return filepath.Join(l.AppDir, "learned-repos.json") }

// FlagFilePath returns the per-session hook handshake path.
func (l Layout) FlagFilePath(sessionID string) string {
	return filepath.Join(l.AppDir, "resume-pending-"+sessionID)
}

// EnsureDirs creates every directory the layout needs.
func (l Layout) EnsureDirs() error {
	for _, d := range []string{l.AppDir, l.ManagerDir(), l.ReportsDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}
