package session

import "errors"

// Error taxonomy shared across the daemon; control socket responses
// map these to wire-level error strings.
var (
	ErrNotFound        = errors.New("session not found")
	ErrExternalSession = errors.New("operation not permitted on an externally-owned session")
	ErrSpawnFailed     = errors.New("pty allocation failed")
	ErrSessionGone     = errors.New("session has terminated")
)
