// Package relay maintains the daemon's single outbound WebSocket to
// the cloud relay service: reconnect with jittered backoff, heartbeat,
// session snapshot broadcasting, and inbound command delegation. PTY
// bytes never cross the relay; only status, stream, and command
// frames do.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// State is the relay connection's lifecycle stage.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateRegistered   State = "registered"
)

const (
	connectTimeout    = 10 * time.Second
	heartbeatInterval = 25 * time.Second

	closeCodeAuthFailed = 4001
	closeCodeForbidden  = 4003
)

// TokenSource returns the current bearer token, re-read on every
// reconnect attempt since tokens expire.
type TokenSource func() string

// CommandHandler delegates an inbound relayed command into the host's
// dispatch pipeline. The host is responsible for eventually calling
// SendCommandResult with the outcome.
type CommandHandler func(ctx context.Context, cmd Command)

// StatusProvider returns a fresh session snapshot, called immediately
// on registration.
type StatusProvider func() []SessionSnapshot

// Client is the daemon's single outbound relay connection.
type Client struct {
	URL         string
	MachineID   string
	Version     string
	TokenSource TokenSource

	OnCommand     CommandHandler
	OnStatusSync  StatusProvider
	OnStateChange func(State, error)

	log *slog.Logger

	backoff *Backoff

	// HeartbeatInterval overrides the heartbeat cadence. Defaults to
	// heartbeatInterval; tests shrink it.
	HeartbeatInterval time.Duration

	mu                sync.Mutex
	state             State
	err               error
	conn              *websocket.Conn
	connectionID      string
	lastHeartbeat     time.Time
	reconnectAttempts int

	userDisconnected atomic.Bool
	noReconnect      atomic.Bool
}

// New constructs a relay Client. Call Run to start the connect loop.
func New(relayURL, machineID, version string, tokens TokenSource, onCommand CommandHandler, onStatus StatusProvider, onState func(State, error), log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		URL:               relayURL,
		MachineID:         machineID,
		Version:           version,
		TokenSource:       tokens,
		OnCommand:         onCommand,
		OnStatusSync:      onStatus,
		OnStateChange:     onState,
		log:               log,
		backoff:           NewBackoff(time.Second, 60*time.Second, 0.2),
		HeartbeatInterval: heartbeatInterval,
		state:             StateDisconnected,
	}
}

// Info is a read-only snapshot of the relay connection's state record.
type Info struct {
	Status            State
	ConnectionID      string
	MachineID         string
	LastHeartbeat     time.Time
	ReconnectAttempts int
	Err               error
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Info returns the full relay state record.
func (c *Client) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		Status:            c.state,
		ConnectionID:      c.connectionID,
		MachineID:         c.MachineID,
		LastHeartbeat:     c.lastHeartbeat,
		ReconnectAttempts: c.reconnectAttempts,
		Err:               c.err,
	}
}

func (c *Client) setState(st State, err error) {
	c.mu.Lock()
	c.state = st
	c.err = err
	c.mu.Unlock()
	if c.OnStateChange != nil {
		c.OnStateChange(st, err)
	}
}

// Run drives the connect/serve/backoff loop until ctx is cancelled or
// a permanent failure occurs (user disconnect, auth rejection).
func (c *Client) Run(ctx context.Context) error {
	c.setState(StateConnecting, nil)
	for {
		if c.userDisconnected.Load() || c.noReconnect.Load() {
			c.setState(StateDisconnected, c.lastErr())
			return nil
		}

		closeCode, err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			c.setState(StateDisconnected, ctx.Err())
			return ctx.Err()
		}

		if closeCode == closeCodeAuthFailed || closeCode == closeCodeForbidden {
			c.noReconnect.Store(true)
			msg := "Authentication failed"
			if closeCode == closeCodeForbidden {
				msg = "Forbidden"
			}
			c.setState(StateDisconnected, fmt.Errorf("%s (close code %d)", msg, closeCode))
			return nil
		}

		c.log.Warn("relay disconnected", "error", err)
		c.setState(StateDisconnected, err)

		if c.userDisconnected.Load() {
			return nil
		}

		delay := c.backoff.Next()
		c.mu.Lock()
		c.reconnectAttempts++
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected, ctx.Err())
			return ctx.Err()
		case <-time.After(delay):
		}
		c.setState(StateConnecting, nil)
	}
}

func (c *Client) lastErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Disconnect permanently stops the reconnect loop. The client never
// reconnects after a user-initiated disconnect.
func (c *Client) Disconnect() {
	c.userDisconnected.Store(true)
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "user disconnect")
	}
}

func (c *Client) connectAndServe(ctx context.Context) (closeCode int, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	dialURL, err := c.buildURL()
	if err != nil {
		return 0, err
	}

	conn, _, err := websocket.Dial(dialCtx, dialURL, nil)
	if err != nil {
		return 0, fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected, nil)

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go c.heartbeatLoop(hbCtx, conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return websocketCloseCode(err), err
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("relay: malformed inbound frame", "error", err)
			continue
		}

		switch env.Type {
		case inRegistered:
			var msg registeredMsg
			json.Unmarshal(data, &msg)
			c.backoff.Reset()
			c.mu.Lock()
			c.connectionID = msg.ConnectionID
			c.reconnectAttempts = 0
			c.mu.Unlock()
			c.setState(StateRegistered, nil)
			if c.OnStatusSync != nil {
				c.sendRaw(ctx, conn, statusMsg{Type: outStatus, Sessions: c.OnStatusSync()})
			}

		case inCommand:
			var msg commandMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				c.log.Warn("relay: malformed command frame", "error", err)
				continue
			}
			if c.OnCommand != nil {
				go c.OnCommand(ctx, Command{RequestID: msg.RequestID, Command: msg.Command, Source: msg.Source})
			}

		default:
			c.log.Debug("relay: unknown inbound frame type", "type", env.Type)
		}
	}
}

func (c *Client) buildURL() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("relay: invalid url: %w", err)
	}
	q := u.Query()
	q.Set("token", c.TokenSource())
	q.Set("machineId", c.MachineID)
	q.Set("version", c.Version)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(c.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if c.State() != StateRegistered {
				continue
			}
			c.sendRaw(ctx, conn, heartbeatMsg{Type: outHeartbeat})
			c.mu.Lock()
			c.lastHeartbeat = time.Now()
			c.mu.Unlock()
		}
	}
}

// sendRaw writes v as JSON without the registered-state gate — used
// internally for the heartbeat and the immediate post-registration
// status snapshot, both of which are only ever invoked once already
// known to be registered (or, for heartbeat, checked just above).
func (c *Client) sendRaw(ctx context.Context, conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		c.log.Debug("relay: write failed", "error", err)
	}
}

// send is the public send path: every non-control outbound message
// silently no-ops unless the connection is registered.
func (c *Client) send(ctx context.Context, v any) {
	c.mu.Lock()
	conn := c.conn
	registered := c.state == StateRegistered
	c.mu.Unlock()
	if !registered || conn == nil {
		return
	}
	c.sendRaw(ctx, conn, v)
}

// SendStatus broadcasts a session snapshot — called on registration
// (internally) and by the host on every session lifecycle change.
func (c *Client) SendStatus(ctx context.Context, sessions []SessionSnapshot) {
	c.send(ctx, statusMsg{Type: outStatus, Sessions: sessions})
}

// SendCommandResult reports the outcome of routing a relayed command.
func (c *Client) SendCommandResult(ctx context.Context, requestID string, result CommandResult) {
	c.send(ctx, commandResultMsg{Type: outCommandResult, RequestID: requestID, Result: result})
}

// SendStream forwards a PTY tool-use/activity event.
func (c *Client) SendStream(ctx context.Context, sessionID, event string, data json.RawMessage, timestamp string) {
	c.send(ctx, streamMsg{Type: outStream, SessionID: sessionID, Event: event, Data: data, Timestamp: timestamp})
}

// websocketCloseCode extracts the close status code from a read error,
// or 0 if it isn't a close error.
func websocketCloseCode(err error) int {
	return int(websocket.CloseStatus(err))
}
