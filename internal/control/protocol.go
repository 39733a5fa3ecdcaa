// Package control exposes daemon operations over a host-only stream
// socket using line-delimited JSON.
package control

import "encoding/json"

// Frame is one line of the control protocol: a JSON object with a
// required Type and a handful of optional fields. Modeled as a single
// struct with a discriminated Type rather than a family of interfaces;
// callers switch on Type.
type Frame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Context   json.RawMessage `json:"context,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Event frame types: fire-and-forget, acknowledged with a bare ok.
const (
	EventSessionStart    = "session_start"
	EventSessionEnd      = "session_end"
	EventCheckpoint      = "checkpoint"
	EventStepStarted     = "step_started"
	EventStepCompleted   = "step_completed"
	EventStepBlocked     = "step_blocked"
	EventTaskStarted     = "task_started"
	EventTaskCompleted   = "task_completed"
	EventAttentionNeeded = "attention_needed"
	EventQuestion        = "question"
	EventStatusRequest   = "status_request"
	EventToolUse         = "tool_use"
)

var eventTypes = map[string]bool{
	EventSessionStart:    true,
	EventSessionEnd:      true,
	EventCheckpoint:      true,
	EventStepStarted:     true,
	EventStepCompleted:   true,
	EventStepBlocked:     true,
	EventTaskStarted:     true,
	EventTaskCompleted:   true,
	EventAttentionNeeded: true,
	EventQuestion:        true,
	EventStatusRequest:   true,
	EventToolUse:         true,
}

// Dispatch command frame types: request/response, handled by the
// dispatcher and answered with exactly one response line.
const (
	CommandDispatch         = "dispatch"
	CommandRoute            = "route"
	CommandListWorkers      = "list_workers"
	CommandCreateWorker     = "create_worker"
	CommandDiscoverProjects = "discover_projects"
)

var commandTypes = map[string]bool{
	CommandDispatch:         true,
	CommandRoute:            true,
	CommandListWorkers:      true,
	CommandCreateWorker:     true,
	CommandDiscoverProjects: true,
}

// classOf reports which of "event", "command", or "" (unknown) a frame
// type belongs to.
func classOf(frameType string) string {
	switch {
	case eventTypes[frameType]:
		return "event"
	case commandTypes[frameType]:
		return "command"
	default:
		return ""
	}
}

// okResponse is the acknowledgement sent for a recognised event frame.
type okResponse struct {
	Status   string `json:"status"`
	Received string `json:"received"`
}

// errResponse is sent for malformed frames or any error the dispatcher
// surfaces back as a failed command.
type errResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Descriptor is the small JSON record written to daemon.json so local
// clients can find the socket without guessing its path.
type Descriptor struct {
	SocketPath string `json:"socketPath"`
	PID        int    `json:"pid"`
	StartedAt  string `json:"startedAt"`
	Version    string `json:"version"`
}
