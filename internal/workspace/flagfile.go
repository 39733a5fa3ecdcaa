package workspace

import (
	"fmt"
	"os"
	"strings"
)

// Flag-file types a hook script may hand off to the next user prompt.
const (
	FlagTypeCompact = "compact"
	FlagTypeRestart = "restart"
)

// FlagFile is one hook-handshake record: simple key=value fields plus
// named multi-line sections. Hook scripts write these; the daemon only
// ever reads them.
type FlagFile struct {
	Type     string
	Fields   map[string]string
	Sections map[string]string
}

// ParseFlagFile decodes the flag-file encoding: key=value lines first,
// then any number of "---name---" blocks each terminated by
// "---end---". Lines inside a section are kept verbatim, including
// blank lines; an unterminated section runs to end of file.
func ParseFlagFile(data []byte) (*FlagFile, error) {
	ff := &FlagFile{Fields: map[string]string{}, Sections: map[string]string{}}

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	i := 0
	for i < len(lines) {
		line := lines[i]
		if sectionName, ok := sectionHeader(line); ok {
			var body []string
			i++
			for i < len(lines) {
				if strings.TrimSpace(lines[i]) == "---end---" {
					i++
					break
				}
				body = append(body, lines[i])
				i++
			}
			ff.Sections[sectionName] = strings.Join(body, "\n")
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			i++
			continue
		}
		key, val, found := strings.Cut(trimmed, "=")
		if !found {
			return nil, fmt.Errorf("flag file: malformed line %d: %q", i+1, line)
		}
		if key == "type" {
			ff.Type = val
		} else {
			ff.Fields[key] = val
		}
		i++
	}
	return ff, nil
}

func sectionHeader(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "---") || !strings.HasSuffix(trimmed, "---") || len(trimmed) <= 6 {
		return "", false
	}
	name := trimmed[3 : len(trimmed)-3]
	if name == "" || name == "end" {
		return "", false
	}
	return name, true
}

// ConsumeFlagFile reads and deletes the flag file at path in one step,
// so a record is delivered at most once even if two readers race: the
// loser of the unlink sees a missing file and gets ok=false. A missing
// file is not an error — it just means no handoff is pending.
func ConsumeFlagFile(path string) (*FlagFile, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	ff, err := ParseFlagFile(data)
	if err != nil {
		return nil, false, err
	}
	return ff, true, nil
}
