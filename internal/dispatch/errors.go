package dispatch

import "errors"

// Error taxonomy surfaced to control-socket clients as
// {status:"error", message:...} rather than ever crashing the daemon.
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotFound       = errors.New("session not found")
	ErrAmbiguous      = errors.New("query matched multiple registry entries")
	ErrRepoUnknown    = errors.New("query did not match any session or registry entry")
	ErrDispatchFailed = errors.New("dispatch refused")
	ErrInvalidPath    = errors.New("path outside permitted roots")
)
