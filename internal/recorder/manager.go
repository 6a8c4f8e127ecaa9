package recorder

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/airband/radiorec/internal/logger"
	"github.com/airband/radiorec/internal/metrics"
	"github.com/airband/radiorec/internal/notify"
)

const (
	// MaxRetry bounds restarts after unexpected encoder exits.
	MaxRetry = 3
	// MaxRecordingDuration caps the deferred stop independent of the
	// requested end time, bounding resource usage against clock or logic
	// errors. Kept at the original's 8 hours.
	MaxRecordingDuration = 8 * time.Hour
	// stopAllTimeout bounds the shutdown fan-out join.
	stopAllTimeout = 10 * time.Second
	// eventBuffer sizes the lifecycle event channel.
	eventBuffer = 64
)

// Config carries manager-wide settings applied to every recording.
type Config struct {
	EncoderPath     string
	EncoderLogLevel string
	EncoderEnv      []string // "K=V" entries layered over the OS environment
	Log             logger.Config
	Notifier        notify.Notifier
	// MaxDuration overrides MaxRecordingDuration when > 0. Used by tests.
	MaxDuration time.Duration
}

// StartRequest describes one recording to start.
type StartRequest struct {
	StreamURL    string
	OutputPath   string // extension-less
	Description  string
	EndTime      time.Time
	Format       string
	OnComplete   func()
	StationID    string
	StationName  string
	ProgramTitle string
}

// entry is one registered recording. At most one live entry exists per
// Recorder instance; entries are removed exactly once (scheduled stop,
// explicit stop or manager-wide cleanup).
type entry struct {
	rec          *Recorder // current recorder; swapped on retry
	description  string
	retries      int
	end          time.Time
	onComplete   func()
	stationID    string
	stationName  string
	programTitle string
	startedAt    time.Time
	originalPath string
	format       string

	cancel     chan struct{} // closed when the entry is removed early
	cancelOnce sync.Once
}

// Info describes an active recording for callers asking about one.
type Info struct {
	Description string
	StartedAt   time.Time
	EndTime     time.Time
}

// Active pairs a still-recording Recorder with its registry info.
type Active struct {
	Recorder     *Recorder
	Description  string
	StationID    string
	StationName  string
	ProgramTitle string
	StartedAt    time.Time
	EndTime      time.Time
}

// Manager owns the registry of active recorders. All registry mutations
// happen under a single mutex; recorder Stop calls never hold it.
type Manager struct {
	cfg    Config
	mu     sync.Mutex
	events chan Event

	entries []*entry
}

// NewManager constructs a Manager. A nil Notifier falls back to slog.
func NewManager(cfg Config) *Manager {
	if cfg.Notifier == nil {
		cfg.Notifier = notify.LogNotifier{AppName: "radiorec"}
	}
	return &Manager{cfg: cfg, events: make(chan Event, eventBuffer)}
}

// Events returns the lifecycle event stream. The channel is buffered;
// events are dropped (and counted) rather than ever blocking a recording.
func (m *Manager) Events() <-chan Event { return m.events }

func (m *Manager) maxDuration() time.Duration {
	if m.cfg.MaxDuration > 0 {
		return m.cfg.MaxDuration
	}
	return MaxRecordingDuration
}

// StartRecording constructs a Recorder, registers it and launches the
// encoder plus an independent deferred stop at req.EndTime (capped at the
// maximum recording duration). It returns nil and logs on any failure
// rather than propagating.
func (m *Manager) StartRecording(req StartRequest) *Recorder {
	spec := Spec{
		StationID:       req.StationID,
		StationName:     req.StationName,
		ProgramTitle:    req.ProgramTitle,
		StreamURL:       req.StreamURL,
		OutputPath:      req.OutputPath,
		Format:          req.Format,
		EncoderPath:     m.cfg.EncoderPath,
		EncoderLogLevel: m.cfg.EncoderLogLevel,
		ExtraEnv:        m.cfg.EncoderEnv,
		Log:             m.cfg.Log,
	}
	e := &entry{
		description:  req.Description,
		end:          req.EndTime,
		onComplete:   req.OnComplete,
		stationID:    req.StationID,
		stationName:  req.StationName,
		programTitle: req.ProgramTitle,
		startedAt:    time.Now(),
		originalPath: req.OutputPath,
		format:       req.Format,
		cancel:       make(chan struct{}),
	}
	rec := New(spec, m.handleStreamError)
	e.rec = rec

	m.mu.Lock()
	m.entries = append(m.entries, e)
	n := len(m.entries)
	m.mu.Unlock()
	metrics.SetActiveRecordings(n)

	if err := rec.Start(); err != nil {
		m.remove(e)
		var se *StartupError
		if errors.As(err, &se) {
			slog.Error("encoder missing, recording not started", "station", req.StationID, "error", err)
			m.cfg.Notifier.Notify("Recording failed", "Encoder not found: "+se.Encoder)
		} else {
			slog.Error("failed to start recording", "station", req.StationID, "error", err)
		}
		m.emit(Event{Type: EventFailed, StationID: req.StationID, StationName: req.StationName,
			ProgramTitle: req.ProgramTitle, OutputPath: req.OutputPath, OccurredAt: time.Now(), Err: err.Error()})
		return nil
	}

	metrics.IncStart(req.StationID)
	m.emit(Event{Type: EventStarted, StationID: req.StationID, StationName: req.StationName,
		ProgramTitle: req.ProgramTitle, OutputPath: req.OutputPath, PID: rec.PID(),
		OccurredAt: time.Now(), StartedAt: e.startedAt})
	slog.Info("recording started", "station", req.StationID, "program", req.ProgramTitle, "until", req.EndTime)

	go m.deferredStop(e)
	return rec
}

// deferredStop sleeps until the entry's end time (capped), then stops the
// recorder, deregisters the entry and runs the completion callback.
func (m *Manager) deferredStop(e *entry) {
	d := time.Until(e.end)
	if max := m.maxDuration(); d > max {
		slog.Warn("recording duration capped", "station", e.stationID, "cap", max)
		d = max
	}
	if d < 0 {
		d = 0
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-e.cancel:
		return
	}

	m.mu.Lock()
	rec := e.rec
	m.mu.Unlock()
	rec.Stop()
	m.remove(e)

	metrics.IncStop(e.stationID)
	metrics.ObserveDuration(e.stationID, time.Since(e.startedAt).Seconds())
	m.runCompletion(e)
	m.emit(Event{Type: EventCompleted, StationID: e.stationID, StationName: e.stationName,
		ProgramTitle: e.programTitle, OutputPath: rec.Spec().OutputPath, Attempts: e.retries,
		OccurredAt: time.Now(), StartedAt: e.startedAt})
	slog.Info("recording finished", "station", e.stationID, "program", e.programTitle)
}

// runCompletion invokes the completion callback. Panics are logged, never
// allowed to take down a supervisor goroutine.
func (m *Manager) runCompletion(e *entry) {
	if e.onComplete == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("completion callback panicked", "station", e.stationID, "panic", r)
		}
	}()
	e.onComplete()
}

// handleStreamError is every Recorder's error callback: bounded retry with
// a disambiguated output path, then permanent failure.
func (m *Manager) handleStreamError(rec *Recorder, err error) {
	m.mu.Lock()
	e := m.findByRecorder(rec)
	if e == nil {
		// Entry already removed (raced with the deferred stop); nothing to do.
		m.mu.Unlock()
		return
	}
	canRetry := e.retries < MaxRetry
	if canRetry {
		e.retries++
	}
	attempt := e.retries
	m.mu.Unlock()

	rec.Stop() // already exited; releases the handle

	if !canRetry {
		m.remove(e)
		metrics.IncFailure(e.stationID)
		slog.Error("recording failed permanently", "station", e.stationID,
			"program", e.programTitle, "retries", attempt, "error", err)
		m.cfg.Notifier.Notify("Recording failed",
			e.description+" could not be recorded after repeated encoder failures.")
		m.emit(Event{Type: EventFailed, StationID: e.stationID, StationName: e.stationName,
			ProgramTitle: e.programTitle, OutputPath: e.originalPath, Attempts: attempt,
			OccurredAt: time.Now(), Err: err.Error()})
		return
	}

	spec := rec.Spec()
	spec.OutputPath = retryPath(e.originalPath, e.format, attempt)
	next := New(spec, m.handleStreamError)

	m.mu.Lock()
	e.rec = next
	m.mu.Unlock()

	if startErr := next.Start(); startErr != nil {
		m.remove(e)
		metrics.IncFailure(e.stationID)
		slog.Error("retry start failed", "station", e.stationID, "attempt", attempt, "error", startErr)
		m.cfg.Notifier.Notify("Recording failed", e.description+" could not be restarted.")
		m.emit(Event{Type: EventFailed, StationID: e.stationID, StationName: e.stationName,
			ProgramTitle: e.programTitle, OutputPath: spec.OutputPath, Attempts: attempt,
			OccurredAt: time.Now(), Err: startErr.Error()})
		return
	}
	metrics.IncRetry(e.stationID)
	slog.Warn("recording restarted after encoder failure",
		"station", e.stationID, "attempt", attempt, "output", spec.File())
	m.emit(Event{Type: EventRetried, StationID: e.stationID, StationName: e.stationName,
		ProgramTitle: e.programTitle, OutputPath: spec.OutputPath, Attempts: attempt,
		OccurredAt: time.Now(), PID: next.PID()})
}

// IsDuplicate reports whether an active entry matches the station and
// program. Callers check it before starting a redundant recording.
func (m *Manager) IsDuplicate(stationID, programTitle string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.stationID == stationID && e.programTitle == programTitle {
			return true
		}
	}
	return false
}

// RecordingInfo returns info for a matching active entry, or nil.
func (m *Manager) RecordingInfo(stationID, programTitle string) *Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.stationID == stationID && e.programTitle == programTitle {
			return &Info{Description: e.description, StartedAt: e.startedAt, EndTime: e.end}
		}
	}
	return nil
}

// StopStation stops every active entry for the station and returns how many
// were stopped. Iterates in reverse so in-place removals keep indices stable.
func (m *Manager) StopStation(stationID string) int {
	m.mu.Lock()
	var victims []*entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].stationID == stationID {
			victims = append(victims, m.entries[i])
		}
	}
	m.mu.Unlock()
	for _, e := range victims {
		m.mu.Lock()
		rec := e.rec
		m.mu.Unlock()
		rec.Stop()
		m.remove(e)
		metrics.IncStop(e.stationID)
		m.emit(Event{Type: EventStopped, StationID: e.stationID, StationName: e.stationName,
			ProgramTitle: e.programTitle, OutputPath: rec.Spec().OutputPath, Attempts: e.retries,
			OccurredAt: time.Now(), StartedAt: e.startedAt})
	}
	return len(victims)
}

// StopAll stops every active recorder concurrently and joins with a bounded
// timeout before clearing the registry. Used at application shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	snapshot := append([]*entry(nil), m.entries...)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range snapshot {
		m.mu.Lock()
		rec := e.rec
		m.mu.Unlock()
		wg.Add(1)
		go func(r *Recorder) {
			defer wg.Done()
			r.Stop()
		}(rec)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopAllTimeout):
		slog.Warn("timed out waiting for recorders to stop", "count", len(snapshot))
	}

	m.mu.Lock()
	old := m.entries
	m.entries = nil
	m.mu.Unlock()
	for _, e := range old {
		e.cancelOnce.Do(func() { close(e.cancel) })
	}
	metrics.SetActiveRecordings(0)
}

// ActiveRecorders returns a snapshot of entries still reporting an active
// encoder process.
func (m *Manager) ActiveRecorders() []Active {
	m.mu.Lock()
	snapshot := append([]*entry(nil), m.entries...)
	m.mu.Unlock()
	out := make([]Active, 0, len(snapshot))
	for _, e := range snapshot {
		m.mu.Lock()
		rec := e.rec
		m.mu.Unlock()
		if !rec.Recording() {
			continue
		}
		out = append(out, Active{
			Recorder:     rec,
			Description:  e.description,
			StationID:    e.stationID,
			StationName:  e.stationName,
			ProgramTitle: e.programTitle,
			StartedAt:    e.startedAt,
			EndTime:      e.end,
		})
	}
	return out
}

// ActiveCount returns the number of registered recordings.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// findByRecorder must be called with the mutex held.
func (m *Manager) findByRecorder(rec *Recorder) *entry {
	for _, e := range m.entries {
		if e.rec == rec {
			return e
		}
	}
	return nil
}

// remove deregisters the entry and cancels its deferred-stop watcher.
// Safe to call more than once; only the first call mutates anything.
func (m *Manager) remove(e *entry) {
	m.mu.Lock()
	for i, cur := range m.entries {
		if cur == e {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			break
		}
	}
	n := len(m.entries)
	m.mu.Unlock()
	e.cancelOnce.Do(func() { close(e.cancel) })
	metrics.SetActiveRecordings(n)
}

// emit publishes without ever blocking a supervisor goroutine.
func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		metrics.IncDroppedEvent()
		slog.Debug("event dropped, channel full", "type", ev.Type, "station", ev.StationID)
	}
}
