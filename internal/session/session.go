// Package session owns the fleet of PTY child processes that run the
// assistant, one per session. It is the only subsystem allowed to
// mutate the session table: callers (the dispatcher, the control
// socket) hold a *Manager and never keep their own copy of session
// state.
package session

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

// Kind distinguishes the distinguished orchestrator session from worker
// sessions bound to a single repo.
type Kind string

const (
	KindOrchestrator Kind = "orchestrator"
	KindWorker       Kind = "worker"
)

// State is an advisory label for a session's startup progress. Nothing
// blocks on it except an explicit WaitForAssistantReady call.
type State string

const (
	StateSpawned        State = "spawned"
	StateStarting       State = "starting"
	StateReady          State = "ready"
	StateReadyUncertain State = "ready-uncertain"
	StateTerminated     State = "terminated"
)

// EventType is the discriminated lifecycle-event union emitted by the
// manager.
type EventType string

const (
	EventCreated EventType = "created"
	EventClosed  EventType = "closed"
)

// Event is a single lifecycle notification.
type Event struct {
	Type      EventType
	SessionID string
	Repo      string
	Kind      Kind
}

const skipPermissionsFlag = "--dangerously-skip-permissions"

// Session is an owned handle to one PTY running the assistant, or a
// record of a session whose PTY the daemon does not own (External).
type Session struct {
	ID           string
	Repo         string
	Path         string
	Kind         Kind
	TaskID       string
	CreatedAt    time.Time
	External     bool
	StartupFlags string

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	ptmx         *os.File
	cmd          *exec.Cmd
	out          *broadcaster
	done         chan struct{}
	writeMu      sync.Mutex // serializes ptmx writes so the delayed newline lands strictly after the command bytes
}

// LastActivity returns the last time this session's PTY was read from
// or written to.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// State returns the session's current advisory lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Done returns a channel closed when the session terminates (PTY exit
// or explicit Close). External sessions have no PTY to exit, so for
// them it is closed only by Close.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Manager owns every Session for the lifetime of the daemon process.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	homeDir      string // substituted when Create's path argument is missing
	managerDir   string // substituted for orchestrator sessions
	assistantBin string // e.g. "claude"

	onOutput func(sessionID string, data []byte)
	onEvent  func(Event)

	// Tunable delays. The defaults are empirical; tests shrink them to
	// avoid paying real wall-clock time.
	StartupSettle     time.Duration // time before "clear && <assistant>" is typed (default 1s)
	InterruptSettle   time.Duration // delay after interrupt byte before restart command (default 100ms)
	ReadyWaitPlain    time.Duration // dispatch(ensureAssistant) wait, no skip-permissions (default 1500ms)
	ReadyWaitSkip     time.Duration // dispatch(ensureAssistant) wait, with skip-permissions (default 4000ms)
	EnterDelay        time.Duration // command-bytes-then-newline gap (default 300ms)
	ConfirmMatchDelay time.Duration // delay after "Yes, I accept" match before arrow-down (default 300ms)
	ConfirmEnterDelay time.Duration // delay after arrow-down before newline (default 150ms)
	ConfirmTimeout    time.Duration // give up waiting for the safety prompt (default 15s)
	ReadySettleIgnore time.Duration // ignore output for this long at session start (default 1500ms)
	ReadyQuietWindow  time.Duration // no-output window that counts as "ready" (default 2000ms)
}

// New creates a Manager. onOutput is called for every byte read from
// every owned PTY (the GUI front-end's fan-out hook); onEvent is called
// for session lifecycle transitions. Both may be nil.
func New(homeDir, managerDir, assistantBin string, onOutput func(string, []byte), onEvent func(Event)) *Manager {
	return &Manager{
		sessions:          make(map[string]*Session),
		homeDir:           homeDir,
		managerDir:        managerDir,
		assistantBin:      assistantBin,
		onOutput:          onOutput,
		onEvent:           onEvent,
		StartupSettle:     time.Second,
		InterruptSettle:   100 * time.Millisecond,
		ReadyWaitPlain:    1500 * time.Millisecond,
		ReadyWaitSkip:     4000 * time.Millisecond,
		EnterDelay:        300 * time.Millisecond,
		ConfirmMatchDelay: 300 * time.Millisecond,
		ConfirmEnterDelay: 150 * time.Millisecond,
		ConfirmTimeout:    15 * time.Second,
		ReadySettleIgnore: 1500 * time.Millisecond,
		ReadyQuietWindow:  2000 * time.Millisecond,
	}
}

func genSessionID() string {
	// 32 hex chars, no dashes.
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func (m *Manager) emit(ev Event) {
	if m.onEvent != nil {
		m.onEvent(ev)
	}
}

// Get returns a snapshot session record, or false if unknown. Safe to
// call from any goroutine; the returned *Session itself is also safe
// for concurrent reads via its exported accessor methods.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns every session currently known to the manager.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// resolvePath implements the create() path-substitution rule: absolute
// paths pass through, relative paths are rooted at the user's home, a
// missing path becomes the home directory, and orchestrator sessions
// always run in the manager's workspace directory.
func (m *Manager) resolvePath(path string, kind Kind) string {
	if kind == KindOrchestrator {
		return m.managerDir
	}
	if path == "" {
		return m.homeDir
	}
	if !filepath.IsAbs(path) {
		return filepath.Join(m.homeDir, path)
	}
	return path
}

// Create spawns a login shell PTY, types the assistant startup command
// after a settle delay, and returns the new session's id.
func (m *Manager) Create(repo, path string, kind Kind, taskID, startupFlags string) (string, error) {
	resolved := m.resolvePath(path, kind)

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/bash"
	}
	cmd := exec.Command(shell, "-l")
	cmd.Dir = resolved

	id := genSessionID()
	env := append(os.Environ(), "VARIE_SESSION_ID="+id)
	if kind == KindOrchestrator {
		env = append(env, "VARIE_MANAGER_SESSION=true")
	}
	cmd.Env = env

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	sess := &Session{
		ID:           id,
		Repo:         repo,
		Path:         resolved,
		Kind:         kind,
		TaskID:       taskID,
		CreatedAt:    time.Now(),
		StartupFlags: startupFlags,
		state:        StateSpawned,
		lastActivity: time.Now(),
		ptmx:         ptmx,
		cmd:          cmd,
		out:          newBroadcaster(),
		done:         make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	go m.readLoop(sess)
	go m.startupType(sess)

	m.emit(Event{Type: EventCreated, SessionID: id, Repo: repo, Kind: kind})
	return id, nil
}

// startupType waits the settle delay then types the launch command,
// installing the skip-permissions auto-confirmer first if requested.
func (m *Manager) startupType(sess *Session) {
	select {
	case <-time.After(m.StartupSettle):
	case <-sess.Done():
		return
	}
	if hasFlag(sess.StartupFlags, skipPermissionsFlag) {
		m.installConfirmer(sess)
	}
	line := fmt.Sprintf("clear && %s %s\n", m.assistantBin, sess.StartupFlags)
	m.rawWrite(sess, []byte(line))
	sess.setState(StateStarting)
}

func hasFlag(flags, name string) bool {
	for _, f := range strings.Fields(flags) {
		if f == name {
			return true
		}
	}
	return false
}

// rawWrite writes directly to the PTY without taking the write mutex.
// Used for the one-shot startup line and by the safety-prompt
// auto-confirmer.
func (m *Manager) rawWrite(sess *Session, data []byte) {
	if len(data) == 0 {
		return
	}
	sess.ptmx.Write(data)
	sess.touch()
}

// readLoop streams PTY output to the broadcaster and the external
// fan-out callback until the child exits.
func (m *Manager) readLoop(sess *Session) {
	buf := make([]byte, 4096)
	for {
		n, err := sess.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			sess.touch()
			sess.out.publish(data)
			if m.onOutput != nil {
				m.onOutput(sess.ID, data)
			}
		}
		if err != nil {
			m.terminate(sess)
			return
		}
	}
}

func (m *Manager) terminate(sess *Session) {
	sess.mu.Lock()
	if sess.state == StateTerminated {
		sess.mu.Unlock()
		return
	}
	sess.state = StateTerminated
	sess.mu.Unlock()

	sess.out.closeAll()
	close(sess.done)
	m.emit(Event{Type: EventClosed, SessionID: sess.ID, Repo: sess.Repo, Kind: sess.Kind})
}

// RegisterExternal records a session whose PTY the daemon does not
// own. All write/resize/dispatch operations on it fail with
// ErrExternalSession.
func (m *Manager) RegisterExternal(id, repo, path string, kind Kind, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; exists {
		return fmt.Errorf("session %s already registered", id)
	}
	m.sessions[id] = &Session{
		ID:           id,
		Repo:         repo,
		Path:         path,
		Kind:         kind,
		TaskID:       taskID,
		CreatedAt:    time.Now(),
		External:     true,
		state:        StateReady,
		lastActivity: time.Now(),
		out:          newBroadcaster(),
		done:         make(chan struct{}),
	}
	return nil
}

func (m *Manager) lookup(id string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (m *Manager) checkWritable(sess *Session) error {
	if sess.External {
		return ErrExternalSession
	}
	if sess.State() == StateTerminated {
		return ErrSessionGone
	}
	return nil
}

// Write sends raw bytes to a session's PTY, refreshing last-activity.
func (m *Manager) Write(id string, data []byte) error {
	sess, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := m.checkWritable(sess); err != nil {
		return err
	}
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	_, err = sess.ptmx.Write(data)
	sess.touch()
	return err
}

// Resize changes a session's PTY dimensions.
func (m *Manager) Resize(id string, cols, rows uint16) error {
	sess, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := m.checkWritable(sess); err != nil {
		return err
	}
	sess.touch()
	return pty.Setsize(sess.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Dispatch writes command to the session's PTY, optionally restarting
// the assistant first and optionally following the command with a
// newline after the documented settle delay. The write mutex is held
// across the whole sequence so no concurrent Write can interleave the
// command bytes and the delayed newline.
func (m *Manager) Dispatch(id, command string, ensureAssistant, autoSendEnter bool) error {
	sess, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := m.checkWritable(sess); err != nil {
		return err
	}

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	skip := hasFlag(sess.StartupFlags, skipPermissionsFlag)

	if ensureAssistant {
		sess.ptmx.Write([]byte{0x03}) // interrupt
		sess.touch()
		time.Sleep(m.InterruptSettle)

		line := fmt.Sprintf("%s %s\n", m.assistantBin, sess.StartupFlags)
		sess.ptmx.Write([]byte(line))
		sess.touch()

		if skip {
			m.installConfirmer(sess)
		}

		wait := m.ReadyWaitPlain
		if skip {
			wait = m.ReadyWaitSkip
		}
		time.Sleep(wait)
	}

	if _, err := sess.ptmx.Write([]byte(command)); err != nil {
		return err
	}
	sess.touch()

	if autoSendEnter {
		time.Sleep(m.EnterDelay)
		if _, err := sess.ptmx.Write([]byte("\n")); err != nil {
			return err
		}
		sess.touch()
	}
	return nil
}

// Close kills the session's PTY (if owned) and marks it terminated.
// Idempotent.
func (m *Manager) Close(id string) error {
	sess, err := m.lookup(id)
	if err != nil {
		return err
	}
	if sess.State() == StateTerminated {
		return nil
	}
	if !sess.External && sess.cmd != nil && sess.cmd.Process != nil {
		sess.cmd.Process.Kill()
	}
	m.terminate(sess)
	return nil
}

// CloseAll closes every session. Invoked on daemon shutdown.
func (m *Manager) CloseAll() {
	for _, sess := range m.List() {
		m.Close(sess.ID)
	}
}
