package events

// Event type constants for kelindar/event.
const (
	TypeNodeContentChanged uint32 = iota + 1
	TypeDescendantsGrew
	TypeSessionClosed
	TypeChildStateChanged
	TypeChildLaunchFailed
	TypeCoordination
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// NodeContentChangedEvent is published when the watched node's content
// differs from the last delivered content.
type NodeContentChangedEvent struct {
	Path      string `json:"path" example:"/z" doc:"Watched node path"`
	Exists    bool   `json:"exists" example:"true" doc:"Whether the node exists"`
	Size      int    `json:"size" example:"12" doc:"Content size in bytes"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for NodeContentChangedEvent.
func (e NodeContentChangedEvent) Type() uint32 { return TypeNodeContentChanged }

// DescendantsGrewEvent is published when the descendant count increases.
type DescendantsGrewEvent struct {
	Path      string `json:"path" example:"/z" doc:"Watched node path"`
	Count     int    `json:"count" example:"3" doc:"New descendant count"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DescendantsGrewEvent.
func (e DescendantsGrewEvent) Type() uint32 { return TypeDescendantsGrew }

// SessionClosedEvent is published once when the coordination session is lost.
type SessionClosedEvent struct {
	Path      string `json:"path" example:"/z" doc:"Watched node path"`
	Code      string `json:"code" example:"session-expired" doc:"Reason the session ended"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionClosedEvent.
func (e SessionClosedEvent) Type() uint32 { return TypeSessionClosed }

// ChildStateChangedEvent is published on every child process state transition.
type ChildStateChangedEvent struct {
	ID        string `json:"id" example:"child-1" doc:"Child identifier"`
	From      string `json:"from" example:"starting" doc:"Previous state"`
	To        string `json:"to" example:"running" doc:"New state"`
	PID       int    `json:"pid" example:"4242" doc:"Process ID"`
	Error     string `json:"error,omitempty" doc:"Failure that caused the transition"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ChildStateChangedEvent.
func (e ChildStateChangedEvent) Type() uint32 { return TypeChildStateChanged }

// ChildLaunchFailedEvent is published when a child could not be started.
type ChildLaunchFailedEvent struct {
	Command   string `json:"command" example:"/usr/bin/worker" doc:"Program that failed to start"`
	Error     string `json:"error" example:"no such file or directory" doc:"Launch error"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ChildLaunchFailedEvent.
func (e ChildLaunchFailedEvent) Type() uint32 { return TypeChildLaunchFailed }

// CoordinationEvent is a raw event from the coordination service.
type CoordinationEvent struct {
	EventType string `json:"event_type" example:"node-data-changed" doc:"Coordination event type"`
	State     string `json:"state" example:"has-session" doc:"Session state"`
	Path      string `json:"path,omitempty" example:"/z" doc:"Node path, empty for session events"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CoordinationEvent.
func (e CoordinationEvent) Type() uint32 { return TypeCoordination }
