// Package history exports recording lifecycle events to external systems
// for archiving and analytics.
package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/airband/radiorec/internal/recorder"
)

// Event is the flattened, sink-facing form of a recording lifecycle event.
type Event struct {
	Type         string    `json:"type"`
	OccurredAt   time.Time `json:"occurred_at"`
	StationID    string    `json:"station_id"`
	StationName  string    `json:"station_name"`
	ProgramTitle string    `json:"program_title"`
	OutputPath   string    `json:"output_path"`
	PID          int       `json:"pid"`
	Attempts     int       `json:"attempts"`
	StartedAt    time.Time `json:"started_at"`
	Error        string    `json:"error"`
}

// FromRecording converts a recorder event into its history form.
func FromRecording(e recorder.Event) Event {
	return Event{
		Type:         string(e.Type),
		OccurredAt:   e.OccurredAt,
		StationID:    e.StationID,
		StationName:  e.StationName,
		ProgramTitle: e.ProgramTitle,
		OutputPath:   e.OutputPath,
		PID:          e.PID,
		Attempts:     e.Attempts,
		StartedAt:    e.StartedAt,
		Error:        e.Err,
	}
}

// Sink is a destination for recording history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Pump drains a recorder event stream into a sink until the context ends or
// the channel closes. Send failures are logged and skipped; history is best
// effort and never back-pressures a recording.
func Pump(ctx context.Context, events <-chan recorder.Event, sink Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sink.Send(ctx, FromRecording(ev)); err != nil {
				slog.Warn("history sink send failed",
					"type", ev.Type, "station", ev.StationID, "error", err)
			}
		}
	}
}
