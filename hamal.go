// Package hamal is the public API for embedding the hamal supervisor.
//
// Two levels are offered. NewSupervisor gives the bare engine: start, stop
// and observe projects handed to it. Open gives a full instance as run by
// "hamal serve": registry, schedules, automatic restarts and history, ready
// to be mounted with NewRouter.
package hamal

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hamalhq/hamal/internal/app"
	"github.com/hamalhq/hamal/internal/config"
	"github.com/hamalhq/hamal/internal/events"
	"github.com/hamalhq/hamal/internal/logger"
	"github.com/hamalhq/hamal/internal/logstore"
	"github.com/hamalhq/hamal/internal/metrics"
	"github.com/hamalhq/hamal/internal/process"
	"github.com/hamalhq/hamal/internal/scanner"
	"github.com/hamalhq/hamal/internal/server"
	"github.com/hamalhq/hamal/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Project = process.Project

type State = process.State

const (
	Stopped  = process.Stopped
	Starting = process.Starting
	Running  = process.Running
	Stopping = process.Stopping
	Crashed  = process.Crashed
)

type Usage = process.Usage

type LogLine = logstore.Line

type StatusEvent = events.StatusEvent

type LogEvent = events.LogEvent

type Handlers = events.Handlers

type Subscription = events.Subscription

type Info = supervisor.Info

type SupervisorConfig = supervisor.Config

type LogConfig = logger.Config

type Supervisor = supervisor.Supervisor

type Config = config.Config

type App = app.App

type View = app.View

type ScanResult = scanner.Result

var (
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning
	ErrNotFound       = supervisor.ErrNotFound
	ErrActive         = supervisor.ErrActive
	ErrShuttingDown   = supervisor.ErrShuttingDown
	ErrValidation     = process.ErrValidation
)

// NewSupervisor creates a bare supervisor. Call Shutdown to release it.
func NewSupervisor(cfg SupervisorConfig) *Supervisor { return supervisor.New(cfg) }

// LoadConfig reads a TOML config; an empty path yields the defaults.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Open builds a full instance from cfg. Close it with App.Close.
func Open(ctx context.Context, cfg *Config, lg *slog.Logger) (*App, error) {
	return app.New(ctx, cfg, lg)
}

// Scan detects the entrypoint and interpreter of a project folder.
func Scan(dir string) (ScanResult, error) { return scanner.New(nil).Scan(dir) }

// NewRouter returns the HTTP API of a for mounting in another server.
func NewRouter(a *App, basePath string) *server.Router { return server.NewRouter(a, basePath) }

// NewHTTPServer returns a standalone server exposing the API of a.
func NewHTTPServer(addr, basePath string, a *App) *http.Server {
	return server.NewServer(addr, basePath, a)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler serves the metrics of the default registry.
func MetricsHandler() http.Handler { return metrics.Handler() }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
