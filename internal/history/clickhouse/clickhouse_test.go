package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/airband/radiorec/internal/history"
)

// setupClickHouseContainer starts a ClickHouse container for testing.
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	clickHouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start ClickHouse container: %v", err)
	}

	host, err := clickHouseContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := clickHouseContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return clickHouseContainer, host + ":" + port.Port()
}

// setupSinkWithTable creates a sink and the recording history table.
func setupSinkWithTable(ctx context.Context, t *testing.T, addr, tableName string) *Sink {
	t.Helper()

	sink, err := New(addr, tableName)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}

	err = sink.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+tableName+` (
			type String,
			occurred_at DateTime64(6),
			station_id String,
			station_name String,
			program_title String,
			output_path String,
			pid UInt32,
			attempts UInt8,
			started_at DateTime64(6),
			error String
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, station_id)
	`)
	if err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	return sink
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	}()

	sink := setupSinkWithTable(ctx, t, addr, "recording_history")
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	now := time.Now().UTC()
	events := []history.Event{
		{
			Type: "started", OccurredAt: now, StationID: "FMT",
			StationName: "Tokyo FM", ProgramTitle: "Evening Show",
			OutputPath: "/rec/FMT/20260901_210000", PID: 4242, StartedAt: now,
		},
		{
			Type: "completed", OccurredAt: now.Add(time.Hour), StationID: "FMT",
			StationName: "Tokyo FM", ProgramTitle: "Evening Show",
			OutputPath: "/rec/FMT/20260901_210000", PID: 4242, StartedAt: now,
		},
		{
			Type: "failed", OccurredAt: now.Add(2 * time.Hour), StationID: "LFR",
			StationName: "Nippon Broadcasting", ProgramTitle: "All Night",
			Attempts: 3, Error: "encoder exited unexpectedly",
		},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send event %s: %v", e.Type, err)
		}
	}

	var count uint64
	row := sink.conn.QueryRow(ctx,
		"SELECT COUNT(*) FROM recording_history WHERE station_id = 'FMT'")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 FMT events, got %d", count)
	}

	var attempts uint8
	var errText string
	row = sink.conn.QueryRow(ctx,
		"SELECT attempts, error FROM recording_history WHERE type = 'failed'")
	if err := row.Scan(&attempts, &errText); err != nil {
		t.Fatalf("Failed to read failed row: %v", err)
	}
	if attempts != 3 || errText != "encoder exited unexpectedly" {
		t.Errorf("failed row = %d/%q", attempts, errText)
	}
}
