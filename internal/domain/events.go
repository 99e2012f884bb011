package domain

import "time"

// EventKind classifies a progress event pushed to viewers.
type EventKind string

const (
	EventStatus   EventKind = "status"
	EventProgress EventKind = "progress"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
)

// ProgressEvent is a transient push notification about one job. Events
// are a convenience channel only; job.json remains authoritative.
type ProgressEvent struct {
	JobID     string            `json:"job_id"`
	UserID    string            `json:"-"`
	Kind      EventKind         `json:"kind"`
	Status    JobStatus         `json:"status,omitempty"`
	Progress  int               `json:"progress,omitempty"`
	Message   string            `json:"message,omitempty"`
	Outputs   map[string]string `json:"outputs,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
