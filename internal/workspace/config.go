package workspace

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the daemon's <home>/.<app>/config.yaml — ordinary YAML, unlike
// projects.yaml, since it has no round-trip-stability requirement and
// no bespoke dialect to honor.
type Config struct {
	SkipPermissions bool   `yaml:"skipPermissions"`
	AutoLaunch      bool   `yaml:"autoLaunch"`
	CloudRelay      bool   `yaml:"cloudRelay"`
	CloudRelayToken string `yaml:"cloudRelayToken"`
}

// ConfigWatcher loads config.yaml and keeps a live copy refreshed via
// fsnotify. Reloads are driven by the file itself rather than a
// signal, since a daemonized run has no controlling terminal to send
// one from.
type ConfigWatcher struct {
	path string

	mu  sync.RWMutex
	cur Config

	watcher *fsnotify.Watcher
	closed  atomic.Bool
	onErr   func(error)
}

// LoadConfig reads path, returning a zero-value Config if the file does
// not exist yet (first run).
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML.
func SaveConfig(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// WatchConfig starts watching path for changes, calling onErr (if
// non-nil) on any reload failure so the caller can log it without the
// watcher goroutine dying.
func WatchConfig(path string, onErr func(error)) (*ConfigWatcher, error) {
	initial, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	cw := &ConfigWatcher{path: path, cur: initial, watcher: w, onErr: onErr}
	go cw.run()
	return cw, nil
}

func (cw *ConfigWatcher) run() {
	for {
		select {
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != cw.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadConfig(cw.path)
			if err != nil {
				if cw.onErr != nil {
					cw.onErr(err)
				}
				continue
			}
			cw.mu.Lock()
			cw.cur = cfg
			cw.mu.Unlock()
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			if cw.onErr != nil {
				cw.onErr(err)
			}
		}
	}
}

// Current returns the most recently loaded config.
func (cw *ConfigWatcher) Current() Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.cur
}

// Close stops the underlying fsnotify watcher. Idempotent.
func (cw *ConfigWatcher) Close() error {
	if cw.closed.CompareAndSwap(false, true) {
		return cw.watcher.Close()
	}
	return nil
}
