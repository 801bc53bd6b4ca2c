package process

import "time"

// State represents the current state of a child process.
type State string

// Process states.
const (
	StateIdle     State = "idle"     // Not started
	StateStarting State = "starting" // Being started
	StateRunning  State = "running"  // Active
	StateStopping State = "stopping" // Being stopped
	StateExited   State = "exited"   // Terminated, exit code recorded
	StateError    State = "error"    // Failed to start
)

// Info contains information about a child process.
type Info struct {
	ID        string
	Argv      []string
	State     State
	PID       int
	StartedAt time.Time
	ExitCode  int
	LastError error
}

// Running reports whether the process is alive.
func (i Info) Running() bool {
	return i.State == StateRunning || i.State == StateStopping
}

// Usage is a resource snapshot of a running process.
type Usage struct {
	RSS        uint64
	CPUPercent float64
	Threads    int32
}
