package applog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWithoutLogFileWritesToStdoutOnly(t *testing.T) {
	if err := Init("debug", ""); err != nil {
		t.Fatalf("init: %v", err)
	}
	if Log == nil {
		t.Fatal("expected Log to be set")
	}
}

func TestInitWithLogFileWritesPlainTextEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	if err := Init("info", path); err != nil {
		t.Fatalf("init: %v", err)
	}
	Info("hello world", "key", "value")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello world") {
		t.Fatalf("log file missing message: %q", data)
	}
	if !strings.Contains(string(data), "key=value") {
		t.Fatalf("log file missing attr: %q", data)
	}
}

func TestInitRejectsUnwritableLogPath(t *testing.T) {
	if err := Init("info", filepath.Join(t.TempDir(), "missing-dir", "daemon.log")); err == nil {
		t.Fatal("expected error for unwritable log path")
	}
}
