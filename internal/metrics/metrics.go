package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	recordingStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "radiorec",
			Subsystem: "recording",
			Name:      "starts_total",
			Help:      "Number of encoder process starts.",
		}, []string{"station"},
	)
	recordingStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "radiorec",
			Subsystem: "recording",
			Name:      "stops_total",
			Help:      "Number of recording stops (scheduled end, user stop or shutdown).",
		}, []string{"station"},
	)
	recordingRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "radiorec",
			Subsystem: "recording",
			Name:      "retries_total",
			Help:      "Number of restarts after an unexpected encoder exit.",
		}, []string{"station"},
	)
	recordingFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "radiorec",
			Subsystem: "recording",
			Name:      "failures_total",
			Help:      "Number of recordings abandoned after exhausting retries.",
		}, []string{"station"},
	)
	recordingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "radiorec",
			Subsystem: "recording",
			Name:      "duration_seconds",
			Help:      "Observed wall-clock duration of finished recordings.",
			Buckets:   prometheus.ExponentialBuckets(30, 2, 11),
		}, []string{"station"},
	)
	activeRecordings = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "radiorec",
			Subsystem: "recording",
			Name:      "active",
			Help:      "Current number of active recordings.",
		},
	)
	scheduleTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "radiorec",
			Subsystem: "schedule",
			Name:      "triggers_total",
			Help:      "Number of schedule executions dispatched to the worker pool.",
		}, []string{"station"},
	)
	droppedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "radiorec",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Number of lifecycle events dropped because the event channel was full.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		recordingStarts, recordingStops, recordingRetries, recordingFailures,
		recordingDuration, activeRecordings, scheduleTriggers, droppedEvents,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(station string) {
	if regOK.Load() {
		recordingStarts.WithLabelValues(station).Inc()
	}
}

func IncStop(station string) {
	if regOK.Load() {
		recordingStops.WithLabelValues(station).Inc()
	}
}

func IncRetry(station string) {
	if regOK.Load() {
		recordingRetries.WithLabelValues(station).Inc()
	}
}

func IncFailure(station string) {
	if regOK.Load() {
		recordingFailures.WithLabelValues(station).Inc()
	}
}

func ObserveDuration(station string, seconds float64) {
	if regOK.Load() {
		recordingDuration.WithLabelValues(station).Observe(seconds)
	}
}

func SetActiveRecordings(n int) {
	if regOK.Load() {
		activeRecordings.Set(float64(n))
	}
}

func IncScheduleTrigger(station string) {
	if regOK.Load() {
		scheduleTriggers.WithLabelValues(station).Inc()
	}
}

func IncDroppedEvent() {
	if regOK.Load() {
		droppedEvents.Inc()
	}
}
