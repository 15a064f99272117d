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

	projectStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hamal",
			Subsystem: "project",
			Name:      "starts_total",
			Help:      "Number of successful project spawns.",
		}, []string{"project"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hamal",
			Subsystem: "project",
			Name:      "spawn_failures_total",
			Help:      "Number of starts that failed to create a process.",
		}, []string{"project"},
	)
	projectCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hamal",
			Subsystem: "project",
			Name:      "crashes_total",
			Help:      "Number of runs that ended without a stop request.",
		}, []string{"project"},
	)
	projectStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hamal",
			Subsystem: "project",
			Name:      "stops_total",
			Help:      "Number of runs that ended after a stop request.",
		}, []string{"project"},
	)
	projectKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hamal",
			Subsystem: "project",
			Name:      "kills_total",
			Help:      "Number of stops that escalated to a forced kill.",
		}, []string{"project"},
	)
	projectRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hamal",
			Subsystem: "project",
			Name:      "restarts_total",
			Help:      "Number of automatic restarts after a crash.",
		}, []string{"project"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hamal",
			Subsystem: "project",
			Name:      "run_duration_seconds",
			Help:      "Time between a project reaching running and its exit.",
			Buckets:   []float64{1, 10, 60, 300, 1800, 3600, 6 * 3600, 24 * 3600},
		}, []string{"project", "outcome"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hamal",
			Subsystem: "project",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between project states.",
		}, []string{"project", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hamal",
			Subsystem: "project",
			Name:      "current_state",
			Help:      "Current state of projects (1 = in this state, 0 = not).",
		}, []string{"project", "state"},
	)
	cpuPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hamal",
			Subsystem: "project",
			Name:      "cpu_percent",
			Help:      "Last sampled CPU usage of a running project.",
		}, []string{"project"},
	)
	rssBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hamal",
			Subsystem: "project",
			Name:      "rss_bytes",
			Help:      "Last sampled resident memory of a running project.",
		}, []string{"project"},
	)

	logLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hamal",
			Subsystem: "output",
			Name:      "lines_total",
			Help:      "Number of output lines captured.",
		}, []string{"project", "stream"},
	)
	decodeWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hamal",
			Subsystem: "output",
			Name:      "decode_warnings_total",
			Help:      "Number of output lines that were not valid UTF-8.",
		}, []string{"project"},
	)

	droppedLogEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hamal",
			Subsystem: "events",
			Name:      "dropped_log_events_total",
			Help:      "Number of log events discarded because a subscriber queue was full.",
		},
	)
	subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hamal",
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Number of live event subscriptions.",
		},
	)
	historyErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hamal",
			Subsystem: "history",
			Name:      "send_errors_total",
			Help:      "Number of history events a sink failed to store.",
		}, []string{"sink"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		projectStarts, spawnFailures, projectCrashes, projectStops, projectKills, projectRestarts,
		runDuration, stateTransitions, currentStates, cpuPercent, rssBytes,
		logLines, decodeWarnings, droppedLogEvents, subscribers, historyErrors,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves the metrics of a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(project string) {
	if regOK.Load() {
		projectStarts.WithLabelValues(project).Inc()
	}
}

func IncSpawnFailure(project string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(project).Inc()
	}
}

func IncCrash(project string) {
	if regOK.Load() {
		projectCrashes.WithLabelValues(project).Inc()
	}
}

func IncStop(project string) {
	if regOK.Load() {
		projectStops.WithLabelValues(project).Inc()
	}
}

func IncKill(project string) {
	if regOK.Load() {
		projectKills.WithLabelValues(project).Inc()
	}
}

func IncRestart(project string) {
	if regOK.Load() {
		projectRestarts.WithLabelValues(project).Inc()
	}
}

func ObserveRunDuration(project, outcome string, seconds float64) {
	if regOK.Load() {
		runDuration.WithLabelValues(project, outcome).Observe(seconds)
	}
}

func RecordStateTransition(project, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(project, from, to).Inc()
	}
}

// SetCurrentState marks state as the only active state of project.
func SetCurrentState(project, state string, all []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		currentStates.WithLabelValues(project, s).Set(v)
	}
}

func SetUsage(project string, cpu float64, rss uint64) {
	if regOK.Load() {
		cpuPercent.WithLabelValues(project).Set(cpu)
		rssBytes.WithLabelValues(project).Set(float64(rss))
	}
}

// ForgetProject drops all per-project series.
func ForgetProject(project string) {
	if !regOK.Load() {
		return
	}
	l := prometheus.Labels{"project": project}
	for _, v := range []*prometheus.CounterVec{projectStarts, spawnFailures, projectCrashes, projectStops, projectKills, projectRestarts, stateTransitions, logLines, decodeWarnings} {
		v.DeletePartialMatch(l)
	}
	currentStates.DeletePartialMatch(l)
	cpuPercent.DeletePartialMatch(l)
	rssBytes.DeletePartialMatch(l)
	runDuration.DeletePartialMatch(l)
}

func IncLogLine(project, stream string) {
	if regOK.Load() {
		logLines.WithLabelValues(project, stream).Inc()
	}
}

func IncDecodeWarning(project string) {
	if regOK.Load() {
		decodeWarnings.WithLabelValues(project).Inc()
	}
}

func IncDroppedLogEvents() {
	if regOK.Load() {
		droppedLogEvents.Inc()
	}
}

func SetSubscribers(n int) {
	if regOK.Load() {
		subscribers.Set(float64(n))
	}
}

func IncHistoryError(sink string) {
	if regOK.Load() {
		historyErrors.WithLabelValues(sink).Inc()
	}
}
