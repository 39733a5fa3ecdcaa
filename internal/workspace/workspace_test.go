package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLayoutPaths(t *testing.T) {
	home := t.TempDir()
	l := NewLayout(home, "varie")

	want := filepath.Join(home, ".varie")
	if l.AppDir != want {
		t.Fatalf("expected AppDir %q, got %q", want, l.AppDir)
	}
	if got := l.ManagerDir(); got != filepath.Join(want, "manager") {
		t.Fatalf("unexpected manager dir: %q", got)
	}
	if got := l.FlagFilePath("abc123"); got != filepath.Join(want, "resume-pending-abc123") {
		t.Fatalf("unexpected flag file path: %q", got)
	}
}

func TestEnsureDirsCreatesTree(t *testing.T) {
	home := t.TempDir()
	l := NewLayout(home, "varie")
	if err := l.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	for _, d := range []string{l.AppDir, l.ManagerDir(), l.ReportsDir()} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("expected %q to exist: %v", d, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be a directory", d)
		}
	}
}
