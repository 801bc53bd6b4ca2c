package coord

import (
	"errors"
	"fmt"
)

// ErrNoNode is returned by Get and ChildrenW when the node does not exist.
var ErrNoNode = errors.New("coord: node does not exist")

// EventType classifies an Event.
type EventType int

// Event types.
const (
	EventSession EventType = iota
	EventNodeCreated
	EventNodeDeleted
	EventNodeDataChanged
	EventNodeChildrenChanged
	EventNotWatching
)

var eventTypeNames = map[EventType]string{
	EventSession:             "session",
	EventNodeCreated:         "node-created",
	EventNodeDeleted:         "node-deleted",
	EventNodeDataChanged:     "node-data-changed",
	EventNodeChildrenChanged: "node-children-changed",
	EventNotWatching:         "not-watching",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("event-type(%d)", int(t))
}

// State is the session state carried by session events.
type State int

// Session states.
const (
	StateUnknown State = iota
	StateDisconnected
	StateConnecting
	StateConnected
	StateHasSession
	StateExpired
	StateAuthFailed
)

var stateNames = map[State]string{
	StateUnknown:      "unknown",
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateHasSession:   "has-session",
	StateExpired:      "expired",
	StateAuthFailed:   "auth-failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Code is the status of an asynchronous existence check.
type Code int

// Result codes. Anything other than CodeOK, CodeNoNode, CodeSessionExpired
// and CodeNoAuth is considered transient.
const (
	CodeOK Code = iota
	CodeNoNode
	CodeSessionExpired
	CodeNoAuth
	CodeConnectionLoss
	CodeOperationTimeout
	CodeClosing
	CodeUnknown
)

var codeNames = map[Code]string{
	CodeOK:               "ok",
	CodeNoNode:           "no-node",
	CodeSessionExpired:   "session-expired",
	CodeNoAuth:           "no-auth",
	CodeConnectionLoss:   "connection-loss",
	CodeOperationTimeout: "operation-timeout",
	CodeClosing:          "closing",
	CodeUnknown:          "unknown",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Fatal reports whether the code ends the session for good.
func (c Code) Fatal() bool {
	return c == CodeSessionExpired || c == CodeNoAuth
}

// Event is a session or node event delivered by the coordination service.
// Path is empty for session events.
type Event struct {
	Type  EventType
	State State
	Path  string
	Err   error
}

// Stat carries node metadata returned with an existence check.
type Stat struct {
	Version     int32
	DataLength  int32
	NumChildren int32
	Mzxid       int64
}

// ExistsResult is the outcome of an asynchronous existence check.
// Stat is nil unless Code is CodeOK.
type ExistsResult struct {
	Path string
	Code Code
	Stat *Stat
}
