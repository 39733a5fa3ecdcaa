package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseFlagFileFieldsAndSections(t *testing.T) {
	raw := `type=compact
sessionId=abc123
---summary---
line one
line two

line four
---end---
---context---
single line
---end---
`
	ff, err := ParseFlagFile([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ff.Type != FlagTypeCompact {
		t.Fatalf("expected type compact, got %q", ff.Type)
	}
	if ff.Fields["sessionId"] != "abc123" {
		t.Fatalf("unexpected fields: %+v", ff.Fields)
	}
	if ff.Sections["summary"] != "line one\nline two\n\nline four" {
		t.Fatalf("unexpected summary section: %q", ff.Sections["summary"])
	}
	if ff.Sections["context"] != "single line" {
		t.Fatalf("unexpected context section: %q", ff.Sections["context"])
	}
}

func TestParseFlagFileMalformedLine(t *testing.T) {
	if _, err := ParseFlagFile([]byte("type=restart\nnot a key value line\n")); err == nil {
		t.Fatal("expected error for malformed line")
	}
}

func TestConsumeFlagFileReadsAtMostOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume-pending-abc")
	if err := os.WriteFile(path, []byte("type=restart\nreason=compact overflow\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	ff, ok, err := ConsumeFlagFile(path)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !ok || ff.Type != FlagTypeRestart || ff.Fields["reason"] != "compact overflow" {
		t.Fatalf("unexpected record: ok=%v %+v", ok, ff)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected flag file deleted after consumption")
	}

	_, ok, err = ConsumeFlagFile(path)
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if ok {
		t.Fatal("expected second consume to find nothing")
	}
}

func TestConsumeFlagFileMissingIsNotAnError(t *testing.T) {
	_, ok, err := ConsumeFlagFile(filepath.Join(t.TempDir(), "nope"))
	if err != nil || ok {
		t.Fatalf("expected silent miss, got ok=%v err=%v", ok, err)
	}
}
