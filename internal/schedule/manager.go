package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/airband/radiorec/internal/metrics"
	"github.com/airband/radiorec/internal/notify"
	"github.com/airband/radiorec/internal/recorder"
	"github.com/airband/radiorec/internal/resolver"
)

const (
	// CheckInterval is how often the monitor scans for due schedules.
	CheckInterval = 5 * time.Second
	// workerCount bounds concurrent trigger executions.
	workerCount = 3
	// resolveAttempts is the per-trigger stream resolution budget.
	resolveAttempts = 3
	// stopJoinTimeout bounds the wait for the monitor loop on shutdown.
	stopJoinTimeout = 5 * time.Second
	// jobBuffer sizes the dispatch channel between the scan loop and the
	// worker pool.
	jobBuffer = 16
)

// Config wires a schedule Manager's collaborators.
type Config struct {
	Store     *FileStore
	Recorders *recorder.Manager
	Resolver  resolver.StreamResolver
	Notifier  notify.Notifier

	// CheckInterval and ResolveBackoff override the defaults when > 0.
	// Used by tests.
	CheckInterval  time.Duration
	ResolveBackoff time.Duration
}

// Manager owns the schedule collection, triggers due entries through a small
// worker pool and persists every mutation through its FileStore.
type Manager struct {
	cfg Config

	mu        sync.Mutex
	schedules []*RecordingSchedule

	monitorMu  sync.Mutex
	monitoring bool
	quit       chan struct{}
	done       chan struct{}
	jobs       chan *RecordingSchedule
	workers    sync.WaitGroup
}

// NewManager loads persisted schedules and returns a Manager. A corrupt
// schedule file logs a warning and starts empty rather than failing.
func NewManager(cfg Config) *Manager {
	if cfg.Notifier == nil {
		cfg.Notifier = notify.LogNotifier{AppName: "radiorec"}
	}
	m := &Manager{cfg: cfg}
	if cfg.Store != nil {
		loaded, err := cfg.Store.Load()
		if err != nil {
			slog.Warn("schedule file unreadable, starting empty", "path", cfg.Store.Path, "error", err)
		}
		m.schedules = loaded
	}
	return m
}

func (m *Manager) checkInterval() time.Duration {
	if m.cfg.CheckInterval > 0 {
		return m.cfg.CheckInterval
	}
	return CheckInterval
}

func (m *Manager) resolveBackoff() time.Duration {
	if m.cfg.ResolveBackoff > 0 {
		return m.cfg.ResolveBackoff
	}
	return 2 * time.Second
}

// Add registers a schedule and persists the collection.
func (m *Manager) Add(s *RecordingSchedule) error {
	s.normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.schedules {
		if existing.ID == s.ID {
			return fmt.Errorf("schedule %s already exists", s.ID)
		}
	}
	m.schedules = append(m.schedules, s)
	return m.persistLocked()
}

// Remove deletes a schedule by id and persists.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.schedules {
		if s.ID == id {
			m.schedules = append(m.schedules[:i], m.schedules[i+1:]...)
			return m.persistLocked()
		}
	}
	return fmt.Errorf("schedule %s not found", id)
}

// Cancel marks a schedule cancelled. A schedule already in a terminal state
// is an error. Cancelling an in-flight recording also stops it.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	var target *RecordingSchedule
	for _, s := range m.schedules {
		if s.ID == id {
			target = s
			break
		}
	}
	if target == nil {
		m.mu.Unlock()
		return fmt.Errorf("schedule %s not found", id)
	}
	wasRecording := target.Status == StatusRecording
	if !target.TransitionTo(StatusCancelled) {
		m.mu.Unlock()
		return fmt.Errorf("schedule %s already %s", id, target.Status)
	}
	err := m.persistLocked()
	stationID := target.StationID
	m.mu.Unlock()

	if wasRecording && m.cfg.Recorders != nil {
		m.cfg.Recorders.StopStation(stationID)
	}
	return err
}

// ClearAll cancels any in-flight entries, drops the whole collection and
// persists the empty file. It returns the number of removed schedules.
func (m *Manager) ClearAll() int {
	m.mu.Lock()
	var stations []string
	for _, s := range m.schedules {
		if s.TransitionTo(StatusCancelled) && s.StationID != "" {
			stations = append(stations, s.StationID)
		}
	}
	n := len(m.schedules)
	m.schedules = nil
	if err := m.persistLocked(); err != nil {
		slog.Warn("persist after clear failed", "error", err)
	}
	m.mu.Unlock()

	if m.cfg.Recorders != nil {
		for _, id := range stations {
			m.cfg.Recorders.StopStation(id)
		}
	}
	return n
}

// Schedules returns a snapshot copy of the collection.
func (m *Manager) Schedules() []*RecordingSchedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make([]*RecordingSchedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		c := *s
		if s.LastExecution != nil {
			t := *s.LastExecution
			c.LastExecution = &t
		}
		c.RepeatDays = append([]int(nil), s.RepeatDays...)
		snap = append(snap, &c)
	}
	return snap
}

// Get returns a snapshot of one schedule, or nil.
func (m *Manager) Get(id string) *RecordingSchedule {
	for _, s := range m.Schedules() {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Save persists the current collection.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistLocked()
}

func (m *Manager) persistLocked() error {
	if m.cfg.Store == nil {
		return nil
	}
	return m.cfg.Store.Save(m.schedules)
}

// StartMonitoring launches the scan loop and worker pool. Calling it while
// already monitoring is a no-op.
func (m *Manager) StartMonitoring() {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	if m.monitoring {
		return
	}
	m.monitoring = true
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	m.jobs = make(chan *RecordingSchedule, jobBuffer)
	for i := 0; i < workerCount; i++ {
		m.workers.Add(1)
		go m.worker()
	}
	go m.loop()
	slog.Info("schedule monitor started", "interval", m.checkInterval())
}

// StopMonitoring stops the scan loop, drains the worker pool and waits for
// in-flight triggers. The loop join is bounded; the worker join is not, so
// callers should stop recordings afterwards, not before.
func (m *Manager) StopMonitoring() {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	if !m.monitoring {
		return
	}
	m.monitoring = false
	close(m.quit)
	select {
	case <-m.done:
	case <-time.After(stopJoinTimeout):
		slog.Warn("schedule monitor did not stop in time")
	}
	close(m.jobs)
	m.workers.Wait()
	slog.Info("schedule monitor stopped")
}

func (m *Manager) loop() {
	defer close(m.done)
	t := time.NewTicker(m.checkInterval())
	defer t.Stop()
	for {
		select {
		case <-m.quit:
			return
		case now := <-t.C:
			m.scanOnce(now)
		}
	}
}

// scanOnce collects due schedules under the lock, marks them executed and
// dispatches them to the pool after releasing it.
func (m *Manager) scanOnce(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("schedule scan panic", "panic", r)
		}
	}()
	m.mu.Lock()
	var due []*RecordingSchedule
	for _, s := range m.schedules {
		if s.Status == StatusScheduled && s.ShouldExecute(now) {
			s.MarkExecuted(now)
			due = append(due, s)
		}
	}
	if len(due) > 0 {
		if err := m.persistLocked(); err != nil {
			slog.Warn("persist after trigger mark failed", "error", err)
		}
	}
	m.mu.Unlock()

	for _, s := range due {
		metrics.IncScheduleTrigger(s.StationID)
		select {
		case m.jobs <- s:
		case <-m.quit:
			return
		}
	}
}

func (m *Manager) worker() {
	defer m.workers.Done()
	for s := range m.jobs {
		m.execute(s)
	}
}

// execute runs one trigger: duplicate check, stream resolution with retry,
// then handing the recording to the recorder manager.
func (m *Manager) execute(s *RecordingSchedule) {
	if m.cfg.Recorders.IsDuplicate(s.StationID, s.ProgramTitle) {
		slog.Warn("skipping trigger, duplicate recording active",
			"schedule", s.ID, "station", s.StationID, "program", s.ProgramTitle)
		return
	}

	m.mu.Lock()
	ok := s.TransitionTo(StatusRecording)
	if ok {
		if err := m.persistLocked(); err != nil {
			slog.Warn("persist after status change failed", "error", err)
		}
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	src, err := m.resolveStream(s)
	if err != nil {
		m.fail(s, err)
		return
	}

	rec := m.cfg.Recorders.StartRecording(recorder.StartRequest{
		StreamURL:    src.URL,
		OutputPath:   s.OutputPath,
		Description:  fmt.Sprintf("%s %s", s.StationName, s.ProgramTitle),
		EndTime:      s.EndTime,
		Format:       s.Filetype,
		OnComplete:   func() { m.completeSchedule(s) },
		StationID:    s.StationID,
		StationName:  s.StationName,
		ProgramTitle: s.ProgramTitle,
	})
	if rec == nil {
		m.fail(s, errors.New("encoder failed to start"))
		return
	}
	slog.Info("schedule triggered", "schedule", s.ID, "station", s.StationID,
		"program", s.ProgramTitle, "until", s.EndTime)
}

// resolveStream resolves the station's stream with a small retry budget,
// resetting cached resolver state between attempts.
func (m *Manager) resolveStream(s *RecordingSchedule) (resolver.StreamSource, error) {
	var lastErr error
	ctx := context.Background()
	for attempt := 1; attempt <= resolveAttempts; attempt++ {
		src, err := m.cfg.Resolver.Resolve(ctx, s.StationID)
		if err == nil {
			return src, nil
		}
		lastErr = err
		slog.Warn("stream resolution failed", "schedule", s.ID,
			"station", s.StationID, "attempt", attempt, "error", err)
		if attempt < resolveAttempts {
			m.cfg.Resolver.Reset()
			time.Sleep(m.resolveBackoff())
		}
	}
	return resolver.StreamSource{}, lastErr
}

// completeSchedule runs when a recording finishes normally. Repeating
// schedules advance to their next occurrence; one-shot schedules complete.
func (m *Manager) completeSchedule(s *RecordingSchedule) {
	m.mu.Lock()
	if s.Status == StatusRecording {
		if s.RepeatType != RepeatNone && s.AdvanceOccurrence(time.Now()) {
			s.TransitionTo(StatusScheduled)
			slog.Info("schedule advanced to next occurrence",
				"schedule", s.ID, "next", s.StartTime)
		} else {
			s.TransitionTo(StatusCompleted)
		}
		if err := m.persistLocked(); err != nil {
			slog.Warn("persist after completion failed", "error", err)
		}
	}
	m.mu.Unlock()
	m.cfg.Notifier.Notify("Recording finished",
		fmt.Sprintf("%s %s", s.StationName, s.ProgramTitle))
}

// fail marks a trigger failed, persists and notifies. Authentication
// failures get a dedicated message so users can tell account trouble from
// flaky streams.
func (m *Manager) fail(s *RecordingSchedule, cause error) {
	m.mu.Lock()
	if s.TransitionTo(StatusFailed) {
		if err := m.persistLocked(); err != nil {
			slog.Warn("persist after failure failed", "error", err)
		}
	}
	m.mu.Unlock()

	slog.Error("schedule trigger failed", "schedule", s.ID,
		"station", s.StationID, "error", cause)
	if resolver.IsAuthError(cause) {
		m.cfg.Notifier.Notify("Authentication failed",
			fmt.Sprintf("Could not authenticate to record %s. Check your account.", s.ProgramTitle))
		return
	}
	m.cfg.Notifier.Notify("Recording failed",
		fmt.Sprintf("%s %s: %s", s.StationName, s.ProgramTitle, truncate(cause.Error(), 120)))
}

func truncate(msg string, max int) string {
	if len(msg) <= max {
		return msg
	}
	return msg[:max] + "..."
}

// Cleanup is the graceful shutdown path: stop monitoring, demote in-flight
// entries to cancelled and persist.
func (m *Manager) Cleanup() {
	m.StopMonitoring()
	m.demoteRecording(StatusCancelled)
}

// CleanupOnError is the crash path. It only rewrites state, no joins and no
// notifier calls, so it is safe from a signal handler with recordings still
// dying underneath it. In-flight entries become failed.
func (m *Manager) CleanupOnError() {
	m.demoteRecording(StatusFailed)
}

func (m *Manager) demoteRecording(to Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := false
	for _, s := range m.schedules {
		if s.Status == StatusRecording && s.TransitionTo(to) {
			changed = true
		}
	}
	if changed {
		if err := m.persistLocked(); err != nil {
			slog.Warn("persist during cleanup failed", "error", err)
		}
	}
}
