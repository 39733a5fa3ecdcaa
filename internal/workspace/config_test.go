package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigMissingFileReturnsZeroValue(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != (Config{}) {
		t.Fatalf("expected zero-value config, got %+v", cfg)
	}
}

func TestSaveThenLoadConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	want := Config{SkipPermissions: true, AutoLaunch: true, CloudRelay: true, CloudRelayToken: "tok-123"}
	if err := SaveConfig(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestLoadConfigRecognizedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := "skipPermissions: true\nautoLaunch: true\ncloudRelay: true\ncloudRelayToken: tok-abc\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Config{SkipPermissions: true, AutoLaunch: true, CloudRelay: true, CloudRelayToken: "tok-abc"}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestConfigWatcherPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := SaveConfig(path, Config{SkipPermissions: false}); err != nil {
		t.Fatalf("save: %v", err)
	}

	cw, err := WatchConfig(path, func(err error) { t.Logf("watch error: %v", err) })
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cw.Close()

	if cw.Current().SkipPermissions {
		t.Fatalf("expected initial config to have skipPermissions=false")
	}

	if err := SaveConfig(path, Config{SkipPermissions: true}); err != nil {
		t.Fatalf("save update: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cw.Current().SkipPermissions {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("config watcher never observed the update")
}
