package models

import "time"

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status: ok while the session is alive, closing after it is lost"`
	Message string `json:"message" example:"Session alive" doc:"Status message"`
	Version string `json:"version" example:"1.0.0 (abc1234)" doc:"Build version"`
}

type HealthResponse struct {
	Body HealthData
}

// Status models
type ChildData struct {
	ID         string    `json:"id" example:"child-1" doc:"Child identifier"`
	State      string    `json:"state" example:"running" doc:"Child process state"`
	PID        int       `json:"pid" example:"4242" doc:"Process ID"`
	StartedAt  time.Time `json:"started_at" doc:"Start time"`
	ExitCode   int       `json:"exit_code" example:"0" doc:"Exit code once exited"`
	RSS        uint64    `json:"rss_bytes" example:"1048576" doc:"Last sampled resident set size"`
	CPUPercent float64   `json:"cpu_percent" example:"1.5" doc:"Last sampled CPU usage"`
}

type StatusData struct {
	Path          string     `json:"path" example:"/z" doc:"Watched node path"`
	MonitorState  string     `json:"monitor_state" example:"watching" doc:"Monitor lifecycle state"`
	NodeExists    bool       `json:"node_exists" example:"true" doc:"Whether the node existed at the last delivered change"`
	ContentSize   int        `json:"content_size" example:"12" doc:"Size of the last delivered content"`
	Descendants   int        `json:"descendants" example:"3" doc:"Last observed descendant count"`
	Checks        int64      `json:"checks" example:"10" doc:"Existence checks issued"`
	Retries       int64      `json:"retries" example:"0" doc:"Checks re-issued after transient failures"`
	SessionClosed bool       `json:"session_closed" example:"false" doc:"Whether the session has been lost"`
	CloseCode     string     `json:"close_code,omitempty" example:"session-expired" doc:"Reason the session ended"`
	Child         *ChildData `json:"child,omitempty" doc:"Current child process, absent when none is running"`
}

type StatusResponse struct {
	Body StatusData
}
