// Package radiorec wires the recording orchestrator together: stream
// resolution, encoder supervision, schedule monitoring, history export and
// the HTTP API. It is the stable surface for embedding and for cmd/radiorec.
package radiorec

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/airband/radiorec/internal/config"
	"github.com/airband/radiorec/internal/history"
	"github.com/airband/radiorec/internal/history/factory"
	"github.com/airband/radiorec/internal/logger"
	"github.com/airband/radiorec/internal/metrics"
	"github.com/airband/radiorec/internal/notify"
	"github.com/airband/radiorec/internal/recorder"
	"github.com/airband/radiorec/internal/resolver"
	"github.com/airband/radiorec/internal/schedule"
	"github.com/airband/radiorec/internal/server"
	"github.com/airband/radiorec/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type RecordingSchedule = schedule.RecordingSchedule

type Event = recorder.Event

type HistorySink = history.Sink

type StreamResolver = resolver.StreamResolver

// LoadConfig reads the TOML configuration at path ("" for defaults).
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Options carries optional collaborator overrides for New. Zero values fall
// back to what the configuration provides.
type Options struct {
	Resolver resolver.StreamResolver
	Notifier notify.Notifier
	Sink     history.Sink
}

// Orchestrator owns every long-lived component of the recorder and the
// plumbing between them. Construct with New, start with Start, stop with
// Shutdown; CrashCleanup is the separate signal-safe path.
type Orchestrator struct {
	cfg *config.Config

	recorders *recorder.Manager
	schedules *schedule.Manager
	layout    recorder.OutputLayout
	res       resolver.StreamResolver
	notifier  notify.Notifier

	sink     history.Sink
	pumpStop context.CancelFunc
	pumpDone chan struct{}

	srv *http.Server
}

// New builds an Orchestrator from configuration. It installs the default
// logger and registers metrics as side effects.
func New(cfg *config.Config, opts Options) (*Orchestrator, error) {
	logger.Setup(cfg.LogLevel)
	_ = metrics.Register(prometheus.DefaultRegisterer)

	notifier := opts.Notifier
	if notifier == nil {
		notifier = cfg.Notifier()
	}
	res := opts.Resolver
	if res == nil {
		res = resolver.NewHTTPResolver(cfg.ResolverSettings())
	}

	recorders := recorder.NewManager(recorder.Config{
		EncoderPath:     cfg.EncoderPath,
		EncoderLogLevel: cfg.EncoderLogLevel,
		EncoderEnv:      cfg.EncoderEnv,
		Log:             cfg.LoggerConfig(),
		Notifier:        notifier,
	})
	schedules := schedule.NewManager(schedule.Config{
		Store:     &schedule.FileStore{Path: cfg.ScheduleFile},
		Recorders: recorders,
		Resolver:  res,
		Notifier:  notifier,
	})

	sink := opts.Sink
	if sink == nil && cfg.HistoryDSN() != "" {
		s, err := factory.NewSinkFromDSN(cfg.HistoryDSN())
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		sink = s
	}

	return &Orchestrator{
		cfg:       cfg,
		recorders: recorders,
		schedules: schedules,
		layout:    cfg.OutputLayout(),
		res:       res,
		notifier:  notifier,
		sink:      sink,
	}, nil
}

// Recorders exposes the recorder registry.
func (o *Orchestrator) Recorders() *recorder.Manager { return o.recorders }

// Schedules exposes the schedule collection.
func (o *Orchestrator) Schedules() *schedule.Manager { return o.schedules }

// Start launches the schedule monitor and, when a history sink is
// configured, the event pump feeding it.
func (o *Orchestrator) Start() {
	if o.sink != nil && o.pumpDone == nil {
		ctx, cancel := context.WithCancel(context.Background())
		o.pumpStop = cancel
		o.pumpDone = make(chan struct{})
		go func() {
			defer close(o.pumpDone)
			history.Pump(ctx, o.recorders.Events(), o.sink)
		}()
	}
	o.schedules.StartMonitoring()
}

// ServeHTTP starts the HTTP API on addr in the background. TLS is used
// when the configuration enables it.
func (o *Orchestrator) ServeHTTP(addr, basePath string) error {
	tlsConf, err := tls.ServerConfig(o.cfg.TLS)
	if err != nil {
		return err
	}
	o.srv = server.NewServer(addr, basePath, o.recorders, o.schedules, o.layout, o.cfg.Format, tlsConf)
	return nil
}

// RecordNow starts an immediate recording of stationID until end, outside
// the schedule collection. It resolves the stream and registers the
// recording under the given program title.
func (o *Orchestrator) RecordNow(ctx context.Context, stationID, stationName, programTitle string, end time.Time) error {
	if o.recorders.IsDuplicate(stationID, programTitle) {
		return fmt.Errorf("already recording %s %s", stationID, programTitle)
	}
	src, err := o.res.Resolve(ctx, stationID)
	if err != nil {
		return fmt.Errorf("resolve stream for %s: %w", stationID, err)
	}
	outputPath, err := o.layout.Path(stationID, programTitle, time.Now())
	if err != nil {
		return err
	}
	rec := o.recorders.StartRecording(recorder.StartRequest{
		StreamURL:    src.URL,
		OutputPath:   outputPath,
		Description:  fmt.Sprintf("%s %s", stationName, programTitle),
		EndTime:      end,
		Format:       o.cfg.Format,
		StationID:    stationID,
		StationName:  stationName,
		ProgramTitle: programTitle,
	})
	if rec == nil {
		return fmt.Errorf("failed to start recording %s", stationID)
	}
	return nil
}

// Shutdown is the graceful stop: schedule monitor first so nothing new
// fires, then every active recording, then the HTTP server and the history
// pump.
func (o *Orchestrator) Shutdown() {
	o.schedules.Cleanup()
	o.recorders.StopAll()
	if o.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = o.srv.Shutdown(ctx)
		cancel()
		o.srv = nil
	}
	if o.pumpStop != nil {
		o.pumpStop()
		select {
		case <-o.pumpDone:
		case <-time.After(5 * time.Second):
		}
		o.pumpStop = nil
		o.pumpDone = nil
	}
	if closer, ok := o.sink.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// CrashCleanup persists a truthful schedule state when the process is dying
// abnormally. It only rewrites the schedule file; no joins, no network.
func (o *Orchestrator) CrashCleanup() {
	o.schedules.CleanupOnError()
}

// Run starts everything and blocks until ctx ends or a termination signal
// arrives, then shuts down gracefully.
func (o *Orchestrator) Run(ctx context.Context) {
	o.Start()
	if o.cfg.Listen != "" {
		if err := o.ServeHTTP(o.cfg.Listen, ""); err != nil {
			slog.Error("http api disabled", "error", err)
		}
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case <-ctx.Done():
	case <-sigCh:
	}
	o.Shutdown()
}
