package recorder

import "time"

// EventType enumerates recording lifecycle events.
type EventType string

const (
	EventStarted   EventType = "started"
	EventStopped   EventType = "stopped"
	EventRetried   EventType = "retried"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Event is published by the Manager for every lifecycle transition. It
// replaces ad hoc callback plumbing: consumers (history sinks, notification
// wiring, UIs) read the manager's event channel instead of being called
// into from supervisor goroutines.
type Event struct {
	Type         EventType `json:"type"`
	StationID    string    `json:"station_id"`
	StationName  string    `json:"station_name"`
	ProgramTitle string    `json:"program_title"`
	OutputPath   string    `json:"output_path"`
	PID          int       `json:"pid,omitempty"`
	Attempts     int       `json:"attempts"`
	OccurredAt   time.Time `json:"occurred_at"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	Err          string    `json:"error,omitempty"`
}
