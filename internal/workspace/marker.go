package workspace

import (
	"os"
	"strings"
)

// MarkerHeader is the line that identifies an already-injected section,
// so repeated injection attempts are no-ops.
const MarkerHeader = "## Managed by varie"

// MarkerSection is the full block appended to a repo's CLAUDE.md when
// the daemon creates a worker session for it, documenting the session
// conventions the assistant should follow in that repo.
const MarkerSection = MarkerHeader + `

This repository is orchestrated by a varie manager session. Worker
sessions in this repo receive dispatched commands over its PTY; treat
interruptions (Ctrl-C) as a signal that a new instruction is about to
follow, not as an error.
`

// InjectMarker appends MarkerSection to the CLAUDE.md at path if it
// isn't already present. A missing file is left untouched — marker
// injection only augments a CLAUDE.md the repo already has, it never
// creates one. The write is atomic (temp file + rename) so a crash
// mid-write cannot leave a half-written CLAUDE.md behind.
func InjectMarker(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	content := string(data)
	if strings.Contains(content, MarkerHeader) {
		return nil
	}

	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if !strings.HasSuffix(content, "\n\n") {
		content += "\n"
	}
	content += MarkerSection

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
