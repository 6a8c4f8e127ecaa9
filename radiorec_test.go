package radiorec

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/airband/radiorec/internal/history"
	"github.com/airband/radiorec/internal/resolver"
	"github.com/airband/radiorec/internal/schedule"
)

type staticResolver struct{ url string }

func (s staticResolver) Resolve(_ context.Context, stationID string) (resolver.StreamSource, error) {
	return resolver.StreamSource{URL: s.url + "/" + stationID}, nil
}
func (s staticResolver) Reset() {}

type memorySink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memorySink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func fakeEncoder(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nsleep 30\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RADIOREC_ENCODER_PATH", fakeEncoder(t))
	t.Setenv("RADIOREC_OUTPUT_DIR", filepath.Join(dir, "rec"))
	t.Setenv("RADIOREC_SCHEDULE_FILE", filepath.Join(dir, "schedules.json"))
	t.Setenv("RADIOREC_LISTEN", "")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	return cfg
}

func TestNewAndShutdown(t *testing.T) {
	o, err := New(testConfig(t), Options{Resolver: staticResolver{url: "https://s.example"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.Start()
	o.Start() // idempotent
	o.Shutdown()
	if o.Recorders().ActiveCount() != 0 {
		t.Fatal("recordings left after shutdown")
	}
}

func TestRecordNowAndEventsReachSink(t *testing.T) {
	sink := &memorySink{}
	o, err := New(testConfig(t), Options{
		Resolver: staticResolver{url: "https://s.example"},
		Sink:     sink,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.Start()
	defer o.Shutdown()

	ctx := context.Background()
	end := time.Now().Add(time.Hour)
	if err := o.RecordNow(ctx, "FMT", "Tokyo FM", "Evening Show", end); err != nil {
		t.Fatalf("RecordNow: %v", err)
	}
	if o.Recorders().ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d", o.Recorders().ActiveCount())
	}
	// A second identical request is a duplicate.
	if err := o.RecordNow(ctx, "FMT", "Tokyo FM", "Evening Show", end); err == nil {
		t.Fatal("duplicate RecordNow should error")
	}
	if n := o.Recorders().StopStation("FMT"); n != 1 {
		t.Fatalf("StopStation = %d", n)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && sink.count() < 2 {
		time.Sleep(20 * time.Millisecond)
	}
	if sink.count() < 2 {
		t.Fatalf("sink received %d events, want started and stopped", sink.count())
	}
}

func TestCrashCleanupPersistsFailedState(t *testing.T) {
	cfg := testConfig(t)
	o, err := New(cfg, Options{Resolver: staticResolver{url: "https://s.example"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	start := time.Now().Add(time.Hour)
	s := &RecordingSchedule{
		ID:        schedule.NewID("FMT", start),
		StationID: "FMT",
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		Filetype:  "mp3",
		Enabled:   true,
		Status:    schedule.StatusRecording,
	}
	if err := o.Schedules().Add(s); err != nil {
		t.Fatal(err)
	}

	o.CrashCleanup()

	store := &schedule.FileStore{Path: cfg.ScheduleFile}
	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0].Status != schedule.StatusFailed {
		t.Fatalf("persisted = %+v, want failed", loaded)
	}
}
