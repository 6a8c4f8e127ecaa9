package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/airband/radiorec/internal/recorder"
)

func sampleEvent() Event {
	return Event{
		Type:         "started",
		OccurredAt:   time.Date(2026, 9, 1, 21, 0, 0, 0, time.UTC),
		StationID:    "FMT",
		StationName:  "Tokyo FM",
		ProgramTitle: "Evening Show",
		OutputPath:   "/rec/FMT/20260901_210000",
		PID:          4242,
		Attempts:     0,
		StartedAt:    time.Date(2026, 9, 1, 21, 0, 0, 0, time.UTC),
	}
}

func TestFromRecording(t *testing.T) {
	now := time.Now()
	e := FromRecording(recorder.Event{
		Type:         recorder.EventFailed,
		StationID:    "FMT",
		StationName:  "Tokyo FM",
		ProgramTitle: "Evening Show",
		OutputPath:   "/rec/out",
		PID:          99,
		Attempts:     3,
		OccurredAt:   now,
		Err:          "encoder exited unexpectedly",
	})
	if e.Type != "failed" || e.StationID != "FMT" || e.Attempts != 3 {
		t.Fatalf("converted event = %+v", e)
	}
	if e.Error != "encoder exited unexpectedly" || !e.OccurredAt.Equal(now) {
		t.Fatalf("converted event = %+v", e)
	}
}

func TestSQLSinkSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	sink, err := NewSQLSinkFromDSN(path)
	if err != nil {
		t.Fatalf("NewSQLSinkFromDSN: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	if err := sink.Send(ctx, sampleEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	failed := sampleEvent()
	failed.Type = "failed"
	failed.Attempts = 3
	failed.Error = "stream dropped"
	if err := sink.Send(ctx, failed); err != nil {
		t.Fatalf("Send: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM recording_history WHERE station_id = 'FMT'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("rows = %d, want 2", n)
	}
	var event, errText string
	row := db.QueryRow(`SELECT event, error FROM recording_history WHERE attempts = 3`)
	if err := row.Scan(&event, &errText); err != nil {
		t.Fatal(err)
	}
	if event != "failed" || errText != "stream dropped" {
		t.Fatalf("row = %s/%s", event, errText)
	}
}

func TestSQLSinkEmptyDSN(t *testing.T) {
	if _, err := NewSQLSinkFromDSN("  "); err == nil {
		t.Fatal("empty DSN should error")
	}
}

func TestClickHouseHTTPSink(t *testing.T) {
	var (
		mu    sync.Mutex
		query string
		body  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		query = r.URL.Query().Get("query")
		body = string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewClickHouseSink(srv.URL, "recording_history")
	if err := sink.Send(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if query != "INSERT INTO recording_history FORMAT JSONEachRow" {
		t.Fatalf("query = %q", query)
	}
	var got Event
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &got); err != nil {
		t.Fatalf("body not a JSON row: %v (%q)", err, body)
	}
	if got.StationID != "FMT" || got.Type != "started" {
		t.Fatalf("row = %+v", got)
	}
}

func TestClickHouseHTTPSinkErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "table missing", http.StatusBadRequest)
	}))
	defer srv.Close()
	sink := NewClickHouseSink(srv.URL, "recording_history")
	if err := sink.Send(context.Background(), sampleEvent()); err == nil {
		t.Fatal("non-2xx should error")
	}
}

func TestOpenSearchSink(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		path = r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sink := NewOpenSearchSink(srv.URL, "recording-history")
	if err := sink.Send(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if path != "/recording-history/_doc" {
		t.Fatalf("path = %q", path)
	}
}

type memorySink struct {
	mu     sync.Mutex
	events []Event
}

func (m *memorySink) Send(_ context.Context, e Event) error {
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

func TestPump(t *testing.T) {
	sink := &memorySink{}
	events := make(chan recorder.Event, 4)
	events <- recorder.Event{Type: recorder.EventStarted, StationID: "FMT", OccurredAt: time.Now()}
	events <- recorder.Event{Type: recorder.EventCompleted, StationID: "FMT", OccurredAt: time.Now()}
	close(events)

	done := make(chan struct{})
	go func() {
		Pump(context.Background(), events, sink)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not drain a closed channel")
	}
	if sink.count() != 2 {
		t.Fatalf("sink received %d events, want 2", sink.count())
	}
}

func TestPumpContextCancel(t *testing.T) {
	sink := &memorySink{}
	events := make(chan recorder.Event)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Pump(ctx, events, sink)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pump ignored context cancellation")
	}
}
