package workspace

import (
	"os"
)

// defaultCLAUDEMD is the manager's own identity prompt, written once
// on first run. Generate-if-missing; never overwrite an operator's
// edits afterward.
const defaultCLAUDEMD = `# Manager

You are the orchestrator session for this machine's varie workstation
daemon. Use ` + "`route`" + ` to dispatch work into the right worker session by
repo name or task id; a miss against a known repo auto-creates one.
`

const defaultRulesMD = `# Rules

- Prefer routing to an existing worker session over creating a new one.
- Never dispatch to a session you did not create or were not told about.
`

const defaultDecisionsMD = `# Decisions

Append one entry per durable decision made in this workspace. Empty on
first run.
`

// EnsureManagerFiles creates the manager's CLAUDE.md, rules.md, and
// decisions.md from their templates if they don't already exist, and
// projects.yaml as an empty index. It never overwrites a file an
// operator has already started editing.
func EnsureManagerFiles(l Layout) error {
	if err := l.EnsureDirs(); err != nil {
		return err
	}
	for path, content := range map[string]string{
		l.ClaudeMDPath():  defaultCLAUDEMD,
		l.RulesPath():     defaultRulesMD,
		l.DecisionsPath(): defaultDecisionsMD,
	} {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}
		}
	}
	if _, err := os.Stat(l.ProjectsYAMLPath()); os.IsNotExist(err) {
		if err := os.WriteFile(l.ProjectsYAMLPath(), NewProjectsIndex().Serialize(), 0o600); err != nil {
			return err
		}
	}
	return nil
}
