package schedule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/airband/radiorec/internal/notify"
	"github.com/airband/radiorec/internal/recorder"
	"github.com/airband/radiorec/internal/resolver"
)

type fakeResolver struct {
	mu     sync.Mutex
	src    resolver.StreamSource
	err    error
	calls  int
	resets int
}

func (f *fakeResolver) Resolve(_ context.Context, _ string) (resolver.StreamSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return resolver.StreamSource{}, f.err
	}
	return f.src, nil
}

func (f *fakeResolver) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

type captureNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (c *captureNotifier) Notify(title, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles = append(c.titles, title)
}

func (c *captureNotifier) got(title string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.titles {
		if t == title {
			return true
		}
	}
	return false
}

// fakeEncoder writes an executable sh script standing in for ffmpeg.
func fakeEncoder(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func testSchedule(dir string, start time.Time) *RecordingSchedule {
	return &RecordingSchedule{
		ID:           NewID("FMT", start),
		StationID:    "FMT",
		StationName:  "Tokyo FM",
		ProgramTitle: "Evening Show",
		StartTime:    start,
		EndTime:      start.Add(600 * time.Millisecond),
		OutputPath:   filepath.Join(dir, "evening"),
		Filetype:     "mp3",
		RepeatType:   RepeatNone,
		Enabled:      true,
		Status:       StatusScheduled,
	}
}

func TestAddRemoveCancel(t *testing.T) {
	store := &FileStore{Path: filepath.Join(t.TempDir(), "schedules.json")}
	m := NewManager(Config{Store: store, Notifier: notify.Nop{}})

	s := testSchedule(t.TempDir(), time.Now().Add(time.Hour))
	if err := m.Add(s); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := m.Add(s); err == nil {
		t.Fatal("duplicate id should be rejected")
	}
	if got := m.Get(s.ID); got == nil || got.StationID != "FMT" {
		t.Fatalf("Get = %+v", got)
	}

	if err := m.Cancel(s.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := m.Cancel(s.ID); err == nil {
		t.Fatal("cancelling a terminal schedule should error")
	}
	if err := m.Remove(s.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := m.Remove(s.ID); err == nil {
		t.Fatal("removing a missing schedule should error")
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 0 {
		t.Fatalf("persisted %d schedules after remove, want 0", len(loaded))
	}
}

func TestClearAll(t *testing.T) {
	store := &FileStore{Path: filepath.Join(t.TempDir(), "schedules.json")}
	m := NewManager(Config{Store: store, Notifier: notify.Nop{}})
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		s := testSchedule(dir, time.Now().Add(time.Duration(i+1)*time.Hour))
		if err := m.Add(s); err != nil {
			t.Fatal(err)
		}
	}
	if n := m.ClearAll(); n != 3 {
		t.Fatalf("ClearAll = %d, want 3", n)
	}
	if len(m.Schedules()) != 0 {
		t.Fatal("collection not empty after ClearAll")
	}
}

// A due schedule fires within one check cycle, records through the encoder,
// and ends completed with the recorder registry empty.
func TestTriggerAndComplete(t *testing.T) {
	dir := t.TempDir()
	store := &FileStore{Path: filepath.Join(dir, "schedules.json")}
	rec := recorder.NewManager(recorder.Config{
		EncoderPath: fakeEncoder(t, "sleep 30"),
		Notifier:    notify.Nop{},
	})
	res := &fakeResolver{src: resolver.StreamSource{URL: "https://stream.example/FMT"}}
	note := &captureNotifier{}
	m := NewManager(Config{
		Store:         store,
		Recorders:     rec,
		Resolver:      res,
		Notifier:      note,
		CheckInterval: 50 * time.Millisecond,
	})

	s := testSchedule(dir, time.Now())
	if err := m.Add(s); err != nil {
		t.Fatal(err)
	}
	m.StartMonitoring()
	defer m.StopMonitoring()

	waitFor(t, 5*time.Second, func() bool {
		got := m.Get(s.ID)
		return got != nil && got.Status == StatusCompleted && rec.ActiveCount() == 0
	})
	if !note.got("Recording finished") {
		t.Fatal("completion notification missing")
	}
	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0].Status != StatusCompleted {
		t.Fatalf("persisted state = %+v", loaded)
	}
	if loaded[0].LastExecution == nil {
		t.Fatal("LastExecution not persisted")
	}
}

func TestTriggerAuthFailure(t *testing.T) {
	dir := t.TempDir()
	store := &FileStore{Path: filepath.Join(dir, "schedules.json")}
	rec := recorder.NewManager(recorder.Config{
		EncoderPath: fakeEncoder(t, "sleep 30"),
		Notifier:    notify.Nop{},
	})
	res := &fakeResolver{err: &resolver.AuthError{StationID: "FMT", Err: errors.New("rejected")}}
	note := &captureNotifier{}
	m := NewManager(Config{
		Store:          store,
		Recorders:      rec,
		Resolver:       res,
		Notifier:       note,
		CheckInterval:  50 * time.Millisecond,
		ResolveBackoff: 10 * time.Millisecond,
	})

	s := testSchedule(dir, time.Now())
	if err := m.Add(s); err != nil {
		t.Fatal(err)
	}
	m.StartMonitoring()
	defer m.StopMonitoring()

	waitFor(t, 5*time.Second, func() bool {
		got := m.Get(s.ID)
		return got != nil && got.Status == StatusFailed
	})
	if !note.got("Authentication failed") {
		t.Fatal("auth failure notification missing")
	}
	res.mu.Lock()
	calls, resets := res.calls, res.resets
	res.mu.Unlock()
	if calls != 3 {
		t.Fatalf("resolve calls = %d, want 3", calls)
	}
	if resets != 2 {
		t.Fatalf("resolver resets = %d, want 2", resets)
	}
}

// Crash-path cleanup rewrites in-flight entries to failed without touching
// anything else, and persists.
func TestCleanupOnError(t *testing.T) {
	dir := t.TempDir()
	store := &FileStore{Path: filepath.Join(dir, "schedules.json")}
	m := NewManager(Config{Store: store, Notifier: notify.Nop{}})

	inFlight := testSchedule(dir, time.Now())
	inFlight.Status = StatusRecording
	pending := testSchedule(dir, time.Now().Add(time.Hour))
	if err := m.Add(inFlight); err != nil {
		t.Fatal(err)
	}
	if err := m.Add(pending); err != nil {
		t.Fatal(err)
	}

	m.CleanupOnError()

	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	byID := map[string]Status{}
	for _, s := range loaded {
		byID[s.ID] = s.Status
	}
	if byID[inFlight.ID] != StatusFailed {
		t.Fatalf("in-flight schedule = %s, want failed", byID[inFlight.ID])
	}
	if byID[pending.ID] != StatusScheduled {
		t.Fatalf("pending schedule = %s, want scheduled", byID[pending.ID])
	}
}

func TestCleanupDemotesToCancelled(t *testing.T) {
	store := &FileStore{Path: filepath.Join(t.TempDir(), "schedules.json")}
	m := NewManager(Config{Store: store, Notifier: notify.Nop{}})
	s := testSchedule(t.TempDir(), time.Now())
	s.Status = StatusRecording
	if err := m.Add(s); err != nil {
		t.Fatal(err)
	}
	m.Cleanup()
	if got := m.Get(s.ID); got.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
}

func TestStartMonitoringIdempotent(t *testing.T) {
	m := NewManager(Config{Notifier: notify.Nop{}, CheckInterval: 50 * time.Millisecond})
	m.StartMonitoring()
	m.StartMonitoring()
	m.StopMonitoring()
	m.StopMonitoring()
}

func TestRepeatAdvanceOnCompletion(t *testing.T) {
	dir := t.TempDir()
	store := &FileStore{Path: filepath.Join(dir, "schedules.json")}
	rec := recorder.NewManager(recorder.Config{
		EncoderPath: fakeEncoder(t, "sleep 30"),
		Notifier:    notify.Nop{},
	})
	res := &fakeResolver{src: resolver.StreamSource{URL: "https://stream.example/FMT"}}
	m := NewManager(Config{
		Store:         store,
		Recorders:     rec,
		Resolver:      res,
		Notifier:      notify.Nop{},
		CheckInterval: 50 * time.Millisecond,
	})

	s := testSchedule(dir, time.Now())
	s.RepeatType = RepeatDaily
	oldID := s.ID
	if err := m.Add(s); err != nil {
		t.Fatal(err)
	}
	m.StartMonitoring()
	defer m.StopMonitoring()

	waitFor(t, 5*time.Second, func() bool {
		all := m.Schedules()
		return len(all) == 1 && all[0].Status == StatusScheduled && all[0].ID != oldID
	})
	got := m.Schedules()[0]
	if !got.StartTime.After(time.Now()) {
		t.Fatalf("next occurrence %v not in the future", got.StartTime)
	}
	if got.LastExecution != nil {
		t.Fatal("LastExecution should reset for the next occurrence")
	}
}
