// Package schedule holds planned recordings and the manager that triggers,
// persists and recovers them.
package schedule

import (
	"fmt"
	"time"
)

// Execution window constants.
const (
	// ExecutionWindow is the symmetric window around StartTime inside which
	// a schedule is due. A schedule merely in the past is not due.
	ExecutionWindow = 10 * time.Second
	// MinRetryInterval prevents a schedule from re-firing inside the same
	// trigger window.
	MinRetryInterval = 60 * time.Second
)

// Status is the lifecycle state of a schedule. Transitions are monotonic:
// scheduled -> recording -> {completed|failed}, and scheduled|recording ->
// cancelled at any point. Terminal states never transition further.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRecording Status = "recording"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// RepeatType describes schedule recurrence.
type RepeatType string

const (
	RepeatNone   RepeatType = "none"
	RepeatDaily  RepeatType = "daily"
	RepeatWeekly RepeatType = "weekly"
)

// RecordingSchedule describes one planned recording. Identity is the
// composite of station id and start timestamp.
type RecordingSchedule struct {
	ID           string     `json:"id"`
	StationID    string     `json:"station_id"`
	StationName  string     `json:"station_name"`
	ProgramTitle string     `json:"program_title"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      time.Time  `json:"end_time"`
	OutputPath   string     `json:"output_path"`
	Filetype     string     `json:"filetype"`
	RepeatType   RepeatType `json:"repeat_type"`
	RepeatDays   []int      `json:"repeat_days,omitempty"` // time.Weekday values for weekly repeats
	LastExecution *time.Time `json:"last_execution,omitempty"`
	Enabled      bool       `json:"enabled"`
	Status       Status     `json:"status"`
}

// NewID builds the canonical schedule id for a station and start time.
func NewID(stationID string, start time.Time) string {
	return fmt.Sprintf("%s_%s", stationID, start.Format("20060102_150405"))
}

// normalize fills defaults for entries loaded from older persisted files.
func (s *RecordingSchedule) normalize() {
	if s.Status == "" {
		s.Status = StatusScheduled
	}
	if s.RepeatType == "" {
		s.RepeatType = RepeatNone
	}
	if s.ID == "" && s.StationID != "" {
		s.ID = NewID(s.StationID, s.StartTime)
	}
}

// ShouldExecute reports whether the schedule is due at now: enabled, not
// fired within MinRetryInterval, and within ExecutionWindow of StartTime.
func (s *RecordingSchedule) ShouldExecute(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.LastExecution != nil && now.Sub(*s.LastExecution) < MinRetryInterval {
		return false
	}
	d := s.StartTime.Sub(now)
	if d < 0 {
		d = -d
	}
	return d <= ExecutionWindow
}

// MarkExecuted records the execution time. It does not touch Status.
func (s *RecordingSchedule) MarkExecuted(now time.Time) {
	t := now
	s.LastExecution = &t
}

// TransitionTo applies a status change if the lifecycle permits it and
// reports whether anything changed. Terminal states are final.
func (s *RecordingSchedule) TransitionTo(next Status) bool {
	if s.Status.Terminal() {
		return false
	}
	switch next {
	case StatusRecording:
		if s.Status != StatusScheduled {
			return false
		}
	case StatusCompleted, StatusFailed:
		if s.Status != StatusRecording {
			return false
		}
	case StatusCancelled:
		// allowed from scheduled and recording
	case StatusScheduled:
		// only as a repeat reset from recording (next occurrence)
		if s.Status != StatusRecording {
			return false
		}
	default:
		return false
	}
	s.Status = next
	return true
}

// StatusDisplayName returns the human-readable status label.
func (s *RecordingSchedule) StatusDisplayName() string {
	switch s.Status {
	case StatusScheduled:
		return "Scheduled"
	case StatusRecording:
		return "Recording"
	case StatusCompleted:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	case StatusFailed:
		return "Failed"
	default:
		return string(s.Status)
	}
}

// AdvanceOccurrence moves a repeating schedule to its next occurrence after
// now and reports whether it advanced. RepeatNone never advances.
func (s *RecordingSchedule) AdvanceOccurrence(now time.Time) bool {
	duration := s.EndTime.Sub(s.StartTime)
	switch s.RepeatType {
	case RepeatDaily:
		next := s.StartTime.AddDate(0, 0, 1)
		for !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		s.StartTime = next
	case RepeatWeekly:
		next := s.nextWeekday(now)
		if next.IsZero() {
			return false
		}
		s.StartTime = next
	default:
		return false
	}
	s.EndTime = s.StartTime.Add(duration)
	s.ID = NewID(s.StationID, s.StartTime)
	s.LastExecution = nil
	return true
}

// nextWeekday finds the next enabled weekday occurrence after now, keeping
// the time of day. Without RepeatDays it behaves like a 7-day repeat.
func (s *RecordingSchedule) nextWeekday(now time.Time) time.Time {
	if len(s.RepeatDays) == 0 {
		next := s.StartTime.AddDate(0, 0, 7)
		for !next.After(now) {
			next = next.AddDate(0, 0, 7)
		}
		return next
	}
	allowed := make(map[time.Weekday]bool, len(s.RepeatDays))
	for _, d := range s.RepeatDays {
		allowed[time.Weekday(d%7)] = true
	}
	next := s.StartTime.AddDate(0, 0, 1)
	for i := 0; i < 14; i++ {
		if next.After(now) && allowed[next.Weekday()] {
			return next
		}
		next = next.AddDate(0, 0, 1)
	}
	return time.Time{}
}
