// Package daemon wires the subsystems together: it is the only place
// that constructs a Session Manager, a Dispatcher, a Control Socket
// Server, and a Relay Client and hands each the references it needs,
// then owns the shutdown sequence. No subsystem package imports
// another's concrete type outside what it's handed here, so the
// dispatcher's reads of the session table never turn into an import
// cycle.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/varie-ai/workstation/internal/control"
	"github.com/varie-ai/workstation/internal/dispatch"
	"github.com/varie-ai/workstation/internal/relay"
	"github.com/varie-ai/workstation/internal/session"
	"github.com/varie-ai/workstation/internal/workspace"
)

const defaultRelayURL = "wss://relay.varie.ai/ws/daemon"

// Options configures a Daemon at construction time. Flags the CLI
// doesn't expose keep their defaults.
type Options struct {
	AppName      string // e.g. "varie" — rooted at <home>/.<app>
	AssistantBin string // e.g. "claude"
	Version      string
	Dev          bool // use the "-dev" socket suffix
	RelayURL     string
}

// Daemon owns every long-lived subsystem for the process lifetime.
type Daemon struct {
	opts   Options
	home   string
	layout workspace.Layout
	log    *slog.Logger

	cfgWatcher *workspace.ConfigWatcher
	state      *workspace.StateStore
	learned    *workspace.LearnedRepos
	idx        *workspace.ProjectsIndex

	sessions   *session.Manager
	resolver   *dispatch.Resolver
	dispatcher *dispatch.Dispatcher
	control    *control.Server
	relay      *relay.Client
}

// New constructs every subsystem and loads persisted state. The config
// watcher and the state autosave loop start here; the control socket
// and the relay connection wait for Run.
func New(opts Options) (*Daemon, error) {
	if opts.AppName == "" {
		opts.AppName = "varie"
	}
	if opts.AssistantBin == "" {
		opts.AssistantBin = "claude"
	}
	if opts.RelayURL == "" {
		opts.RelayURL = defaultRelayURL
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("daemon: resolve home dir: %w", err)
	}
	layout := workspace.NewLayout(home, opts.AppName)
	if err := workspace.EnsureManagerFiles(layout); err != nil {
		return nil, fmt.Errorf("daemon: bootstrap manager workspace: %w", err)
	}

	d := &Daemon{
		opts:   opts,
		home:   home,
		layout: layout,
		log:    slog.Default().With("component", "daemon"),
	}

	d.cfgWatcher, err = workspace.WatchConfig(layout.ConfigYAMLPath(), func(err error) {
		d.log.Warn("config reload failed", "error", err)
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: watch config: %w", err)
	}

	d.state, err = workspace.NewStateStore(layout.StateYAMLPath(), 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("daemon: load manager state: %w", err)
	}

	d.learned, err = workspace.LoadLearnedRepos(layout.LearnedReposPath())
	if err != nil {
		return nil, fmt.Errorf("daemon: load learned repos: %w", err)
	}

	d.idx, err = loadProjectsIndex(layout.ProjectsYAMLPath())
	if err != nil {
		return nil, fmt.Errorf("daemon: load projects index: %w", err)
	}

	d.sessions = session.New(home, layout.ManagerDir(), opts.AssistantBin, nil, d.onSessionEvent)

	roots := dispatch.DefaultPathRoots(home)
	d.resolver = dispatch.NewResolver(d.learned, func() ([]workspace.RepoRecord, error) {
		return dispatch.DiscoverRepos(home)
	})
	if err := d.resolver.Rescan(); err != nil {
		d.log.Warn("initial repo scan failed", "error", err)
	}

	d.dispatcher = dispatch.New(d.sessions, d.resolver, d.learned, d.idx, layout.ProjectsYAMLPath(), home, roots)
	d.dispatcher.DefaultFlags = func() string {
		if d.cfgWatcher.Current().SkipPermissions {
			return "--dangerously-skip-permissions"
		}
		return ""
	}

	d.control = control.New(d.socketPath(), layout.DaemonDescriptorPath(), opts.Version, d.onControlEvent, d.onControlCommand, d.log.With("subsystem", "control"))

	if d.cfgWatcher.Current().CloudRelay {
		if err := d.startRelay(); err != nil {
			d.log.Warn("relay init failed, continuing without it", "error", err)
		}
	}

	return d, nil
}

func (d *Daemon) socketPath() string {
	name := d.opts.AppName + ".sock"
	if d.opts.Dev {
		name = d.opts.AppName + "-dev.sock"
	}
	return filepath.Join(os.TempDir(), name)
}

func loadProjectsIndex(path string) (*workspace.ProjectsIndex, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return workspace.NewProjectsIndex(), nil
	}
	if err != nil {
		return nil, err
	}
	return workspace.ParseProjects(data)
}

func (d *Daemon) startRelay() error {
	machineID, err := relay.LoadMachineID(d.layout.MachineIDPath())
	if err != nil {
		return fmt.Errorf("load machine id: %w", err)
	}
	d.relay = relay.New(
		d.opts.RelayURL,
		machineID,
		d.opts.Version,
		func() string { return d.cfgWatcher.Current().CloudRelayToken },
		d.onRelayCommand,
		d.statusSnapshot,
		func(st relay.State, err error) {
			if err != nil {
				d.log.Warn("relay state changed", "state", st, "error", err)
			} else {
				d.log.Info("relay state changed", "state", st)
			}
		},
		d.log.With("subsystem", "relay"),
	)
	return nil
}

// statusSnapshot is the relay.StatusProvider: a fresh view of every
// live session, sent immediately on registration and after every
// lifecycle event.
func (d *Daemon) statusSnapshot() []relay.SessionSnapshot {
	sessions := d.sessions.List()
	out := make([]relay.SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, relay.SessionSnapshot{
			ID:           s.ID,
			Repo:         s.Repo,
			Task:         s.TaskID,
			Status:       string(s.State()),
			LastActivity: s.LastActivity().UTC().Format(time.RFC3339),
		})
	}
	return out
}

// onSessionEvent reacts to every session lifecycle transition: it
// keeps the autosaved active-session list current and, when the relay
// is registered, rebroadcasts a status snapshot.
func (d *Daemon) onSessionEvent(ev session.Event) {
	ids := make([]string, 0)
	for _, s := range d.sessions.List() {
		ids = append(ids, s.ID)
	}
	d.state.SetActiveSessions(ids)
	d.state.NoteContext(fmt.Sprintf("%s %s (%s)", ev.Type, ev.SessionID, ev.Repo))

	if d.relay != nil {
		d.relay.SendStatus(context.Background(), d.statusSnapshot())
	}
}

// onControlEvent handles the fire-and-forget event frames from the
// hook scripts. Events only leave a breadcrumb in the manager's recent-context ring
// — except session_start, which additionally consumes any pending
// resume flag file the hook scripts left for that session. Consumption
// deletes the file, so a handoff is delivered at most once.
func (d *Daemon) onControlEvent(_ context.Context, f control.Frame) error {
	d.state.NoteContext(fmt.Sprintf("event %s session=%s", f.Type, f.SessionID))

	if f.Type == control.EventSessionStart && f.SessionID != "" {
		ff, ok, err := workspace.ConsumeFlagFile(d.layout.FlagFilePath(f.SessionID))
		if err != nil {
			d.log.Warn("flag file consume failed", "session", f.SessionID, "error", err)
		} else if ok {
			d.log.Info("consumed resume flag file", "session", f.SessionID, "type", ff.Type)
			d.state.NoteContext(fmt.Sprintf("resume flag %s consumed for session %s", ff.Type, f.SessionID))
		}
	}
	return nil
}

// onControlCommand routes a dispatch command frame to the Dispatcher.
func (d *Daemon) onControlCommand(_ context.Context, f control.Frame) (map[string]any, error) {
	switch f.Type {
	case control.CommandListWorkers:
		return d.dispatcher.ListWorkers(), nil

	case control.CommandDispatch:
		var p struct {
			TargetSessionID   string `json:"targetSessionId"`
			Message           string `json:"message"`
			ConfirmBeforeSend bool   `json:"confirmBeforeSend"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", dispatch.ErrInvalidInput, err)
		}
		return d.dispatcher.Dispatch(p.TargetSessionID, p.Message, p.ConfirmBeforeSend)

	case control.CommandRoute:
		var p struct {
			Query             string `json:"query"`
			Message           string `json:"message"`
			TaskID            string `json:"taskId"`
			ConfirmBeforeSend bool   `json:"confirmBeforeSend"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", dispatch.ErrInvalidInput, err)
		}
		return d.dispatcher.Route(p.Query, p.Message, p.TaskID, p.ConfirmBeforeSend)

	case control.CommandCreateWorker:
		var p struct {
			Repo        string `json:"repo"`
			RepoPath    string `json:"repoPath"`
			TaskID      string `json:"taskId"`
			ClaudeFlags string `json:"claudeFlags"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", dispatch.ErrInvalidInput, err)
		}
		return d.dispatcher.CreateWorker(p.Repo, p.RepoPath, p.TaskID, p.ClaudeFlags)

	case control.CommandDiscoverProjects:
		var p struct {
			Path string `json:"path"`
		}
		if len(f.Payload) > 0 {
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				return nil, fmt.Errorf("%w: %v", dispatch.ErrInvalidInput, err)
			}
		}
		return d.dispatcher.DiscoverProjects(p.Path)

	default:
		return nil, fmt.Errorf("%w: unhandled command %q", dispatch.ErrInvalidInput, f.Type)
	}
}

// onRelayCommand delegates an inbound relayed command to the
// orchestrator session's PTY — the same text-input path a voice
// command takes — and reports the outcome back over the relay
// connection.
func (d *Daemon) onRelayCommand(ctx context.Context, cmd relay.Command) {
	result := relay.CommandResult{Timestamp: time.Now().UTC().Format(time.RFC3339)}

	var orchestrator *session.Session
	for _, s := range d.sessions.List() {
		if s.Kind == session.KindOrchestrator {
			orchestrator = s
			break
		}
	}
	if orchestrator == nil {
		result.Status = "error"
		result.Message = "no orchestrator session running"
		d.relay.SendCommandResult(ctx, cmd.RequestID, result)
		return
	}

	if err := d.sessions.Dispatch(orchestrator.ID, cmd.Command, false, true); err != nil {
		result.Status = "error"
		result.Message = err.Error()
	} else {
		result.Status = "ok"
		result.SessionID = orchestrator.ID
		result.SessionRepo = orchestrator.Repo
	}
	d.relay.SendCommandResult(ctx, cmd.RequestID, result)
}

// Run starts the control socket and (if enabled) the relay client, and
// blocks until ctx is cancelled, then performs an orderly shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.control.Start(); err != nil {
		return fmt.Errorf("daemon: start control socket: %w", err)
	}
	d.log.Info("control socket listening", "path", d.socketPath())

	relayDone := make(chan error, 1)
	if d.relay != nil {
		go func() { relayDone <- d.relay.Run(ctx) }()
	}

	select {
	case <-ctx.Done():
	case err := <-relayDone:
		if err != nil {
			d.log.Error("relay exited unexpectedly", "error", err)
		}
		<-ctx.Done()
	}

	d.shutdown()
	return nil
}

// shutdown closes every session, stops timers, persists final state,
// unlinks the socket, and releases the descriptor file.
func (d *Daemon) shutdown() {
	start := time.Now()
	sessionCount := len(d.sessions.List())

	d.sessions.CloseAll()
	if d.relay != nil {
		d.relay.Disconnect()
	}
	d.state.Close()
	d.cfgWatcher.Close()
	d.control.Shutdown(context.Background())
	os.Remove(d.layout.DaemonDescriptorPath())

	d.log.Info("shutdown complete", "sessions_closed", sessionCount, "duration", time.Since(start))
}
