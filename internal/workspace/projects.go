package workspace

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Projects.yaml is a bespoke, narrow YAML dialect: plain scalars and
// one level of arrays-of-records at two fixed indentation widths. A
// full YAML library would happily parse arbitrary shapes and silently
// reorder or drop unknown structure on round-trip; this hand-rolled
// parser instead enforces the exact two-level shape, which is what
// makes parse(serialise(x)) == x a guaranteed property rather than an
// accident of library behavior. It is the one format in the daemon
// that intentionally does not use gopkg.in/yaml.v3.

var nameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// RepoEntry is one repo entry under a project.
type RepoEntry struct {
	Path string
	Role string // optional
}

// Project is one entry in the projects index.
type Project struct {
	Repos          []RepoEntry
	Status         string // advisory: "discovered" | "active" | ""
	CurrentFeature string
	LastUpdated    string // raw scalar, preserved verbatim
}

// ProjectsIndex is the parsed form of projects.yaml.
type ProjectsIndex struct {
	Projects map[string]*Project
	Aliases  map[string]string // alias -> project name
}

// NewProjectsIndex returns an empty index.
func NewProjectsIndex() *ProjectsIndex {
	return &ProjectsIndex{Projects: map[string]*Project{}, Aliases: map[string]string{}}
}

func indentOf(line string) int {
	n := 0
	for n < len(line) && line[n] == ' ' {
		n++
	}
	return n
}

// ParseProjects parses the bespoke projects.yaml dialect. Unknown
// top-level keys are rejected rather than silently preserved;
// preserving them would break round-trip stability.
func ParseProjects(data []byte) (*ProjectsIndex, error) {
	idx := NewProjectsIndex()
	lines := splitLines(data)

	i := 0
	for i < len(lines) {
		raw := lines[i]
		trimmed := strings.TrimRight(raw, " \t")
		if strings.TrimSpace(trimmed) == "" {
			i++
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(trimmed), "#") {
			i++
			continue
		}
		if indentOf(trimmed) != 0 {
			return nil, fmt.Errorf("projects.yaml: unexpected indent at line %d: %q", i+1, raw)
		}

		key, inlineVal, hasColon := cutKey(trimmed)
		if !hasColon {
			return nil, fmt.Errorf("projects.yaml: malformed line %d: %q", i+1, raw)
		}

		switch key {
		case "projects":
			consumed, err := parseProjectsBlock(lines, i+1, inlineVal, idx)
			if err != nil {
				return nil, err
			}
			i = consumed
		case "repo_aliases":
			consumed, err := parseAliasesBlock(lines, i+1, inlineVal, idx)
			if err != nil {
				return nil, err
			}
			i = consumed
		default:
			return nil, fmt.Errorf("projects.yaml: unknown top-level key %q at line %d", key, i+1)
		}
	}
	return idx, nil
}

// cutKey splits "key:" or "key: value" into key and an optional inline
// value (used for the "projects: {}" template form).
func cutKey(line string) (key, val string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	val = strings.TrimSpace(line[idx+1:])
	return key, val, true
}

// parseProjectsBlock consumes the indented project entries following
// "projects:" starting at index start. Returns the index of the first
// unconsumed line.
func parseProjectsBlock(lines []string, start int, inline string, idx *ProjectsIndex) (int, error) {
	if inline == "{}" || inline == "" && blockEmpty(lines, start, 2) {
		return skipPastBlock(lines, start, 2), nil
	}

	i := start
	for i < len(lines) {
		line := strings.TrimRight(lines[i], " \t")
		if strings.TrimSpace(line) == "" {
			i++
			continue
		}
		ind := indentOf(line)
		if ind < 2 {
			break
		}
		if ind != 2 {
			return 0, fmt.Errorf("projects.yaml: expected 2-space project key at line %d: %q", i+1, line)
		}
		name, _, ok := cutKey(strings.TrimSpace(line))
		if !ok || !nameRE.MatchString(name) {
			return 0, fmt.Errorf("projects.yaml: invalid project name at line %d: %q", i+1, line)
		}
		proj := &Project{}
		i++
		i = parseProjectFields(lines, i, proj)
		idx.Projects[name] = proj
	}
	return i, nil
}

func blockEmpty(lines []string, start, minIndent int) bool {
	for i := start; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], " \t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		return indentOf(line) < minIndent
	}
	return true
}

func skipPastBlock(lines []string, start, minIndent int) int {
	i := start
	for i < len(lines) {
		line := strings.TrimRight(lines[i], " \t")
		if strings.TrimSpace(line) == "" {
			i++
			continue
		}
		if indentOf(line) < minIndent {
			break
		}
		i++
	}
	return i
}

// parseProjectFields consumes 4-space-indented fields for one project.
func parseProjectFields(lines []string, i int, proj *Project) int {
	for i < len(lines) {
		line := strings.TrimRight(lines[i], " \t")
		if strings.TrimSpace(line) == "" {
			i++
			continue
		}
		ind := indentOf(line)
		if ind < 4 {
			return i
		}
		if ind != 4 {
			// Malformed deeper content with no matching field header —
			// skip defensively rather than fail the whole parse.
			i++
			continue
		}
		key, val, ok := cutKey(strings.TrimSpace(line))
		if !ok {
			i++
			continue
		}
		switch key {
		case "repos":
			i++
			i = parseRepoList(lines, i, proj)
		case "status":
			proj.Status = val
			i++
		case "current_feature":
			proj.CurrentFeature = val
			i++
		case "last_updated":
			proj.LastUpdated = val
			i++
		default:
			i++
		}
	}
	return i
}

// parseRepoList consumes 6-space "- path: ..." list items, each
// optionally followed by 8-space per-item fields (e.g. "role: ...").
func parseRepoList(lines []string, i int, proj *Project) int {
	for i < len(lines) {
		line := strings.TrimRight(lines[i], " \t")
		if strings.TrimSpace(line) == "" {
			i++
			continue
		}
		ind := indentOf(line)
		if ind < 6 {
			return i
		}
		content := strings.TrimSpace(line)
		if !strings.HasPrefix(content, "- ") {
			i++
			continue
		}
		entryLine := strings.TrimPrefix(content, "- ")
		var entry RepoEntry
		if key, val, ok := cutKey(entryLine); ok && key == "path" {
			entry.Path = val
		}
		i++
		// Per-item fields at 8-space indent.
		for i < len(lines) {
			sub := strings.TrimRight(lines[i], " \t")
			if strings.TrimSpace(sub) == "" {
				i++
				continue
			}
			subInd := indentOf(sub)
			if subInd < 8 {
				break
			}
			if k, v, ok := cutKey(strings.TrimSpace(sub)); ok && k == "role" {
				entry.Role = v
			}
			i++
		}
		proj.Repos = append(proj.Repos, entry)
	}
	return i
}

func parseAliasesBlock(lines []string, start int, inline string, idx *ProjectsIndex) (int, error) {
	if inline == "{}" || inline == "" && blockEmpty(lines, start, 2) {
		return skipPastBlock(lines, start, 2), nil
	}
	i := start
	for i < len(lines) {
		line := strings.TrimRight(lines[i], " \t")
		if strings.TrimSpace(line) == "" {
			i++
			continue
		}
		ind := indentOf(line)
		if ind < 2 {
			break
		}
		if ind != 2 {
			return 0, fmt.Errorf("projects.yaml: expected 2-space alias entry at line %d: %q", i+1, line)
		}
		alias, target, ok := cutKey(strings.TrimSpace(line))
		if !ok {
			return 0, fmt.Errorf("projects.yaml: malformed alias at line %d: %q", i+1, line)
		}
		idx.Aliases[alias] = target
		i++
	}
	return i, nil
}

func splitLines(data []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out
}

// Serialize renders the index back into the bespoke dialect: stable,
// alphabetically sorted by project name and by alias, always using the
// newline block form (never the "{}" template shorthand) so that
// parse(serialise(x)) is a fixed point regardless of which form the
// input used.
func (idx *ProjectsIndex) Serialize() []byte {
	var b bytes.Buffer

	b.WriteString("projects:\n")
	names := make([]string, 0, len(idx.Projects))
	for n := range idx.Projects {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		p := idx.Projects[name]
		fmt.Fprintf(&b, "  %s:\n", name)
		if len(p.Repos) > 0 {
			b.WriteString("    repos:\n")
			for _, r := range p.Repos {
				fmt.Fprintf(&b, "      - path: %s\n", r.Path)
				if r.Role != "" {
					fmt.Fprintf(&b, "        role: %s\n", r.Role)
				}
			}
		}
		if p.Status != "" {
			fmt.Fprintf(&b, "    status: %s\n", p.Status)
		}
		if p.CurrentFeature != "" {
			fmt.Fprintf(&b, "    current_feature: %s\n", p.CurrentFeature)
		}
		if p.LastUpdated != "" {
			fmt.Fprintf(&b, "    last_updated: %s\n", p.LastUpdated)
		}
	}

	b.WriteString("repo_aliases:\n")
	aliases := make([]string, 0, len(idx.Aliases))
	for a := range idx.Aliases {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)
	for _, a := range aliases {
		fmt.Fprintf(&b, "  %s: %s\n", a, idx.Aliases[a])
	}

	return b.Bytes()
}
