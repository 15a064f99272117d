// Package app wires the supervisor to the registry, schedules, restarts
// and history according to a config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hamalhq/hamal/internal/config"
	"github.com/hamalhq/hamal/internal/history"
	hfactory "github.com/hamalhq/hamal/internal/history/factory"
	"github.com/hamalhq/hamal/internal/logstore"
	"github.com/hamalhq/hamal/internal/metrics"
	"github.com/hamalhq/hamal/internal/process"
	"github.com/hamalhq/hamal/internal/registry"
	rfactory "github.com/hamalhq/hamal/internal/registry/factory"
	"github.com/hamalhq/hamal/internal/restart"
	"github.com/hamalhq/hamal/internal/scanner"
	"github.com/hamalhq/hamal/internal/schedule"
	"github.com/hamalhq/hamal/internal/supervisor"
)

// App is a running hamal instance.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Supervisor *supervisor.Supervisor
	Registry   registry.Store
	Scheduler  *schedule.Scheduler
	Restarter  *restart.Restarter
	Recorder   *history.Recorder
	Scanner    *scanner.Scanner
}

// View pairs a stored project with its live record.
type View struct {
	process.Project
	Info supervisor.Info `json:"info"`
}

// New opens the registry and sinks, seeds projects declared in the config
// and starts the scheduler. Close releases everything.
func New(ctx context.Context, cfg *config.Config, lg *slog.Logger) (*App, error) {
	if lg == nil {
		lg = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	reg, err := rfactory.Open(ctx, cfg.Registry.DSN)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	sc, err := cfg.SupervisorConfig(lg)
	if err != nil {
		_ = reg.Close()
		return nil, err
	}
	a := &App{
		Config:     cfg,
		Logger:     lg.With("component", "app"),
		Supervisor: supervisor.New(sc),
		Registry:   reg,
		Scanner:    scanner.New(lg),
	}
	if len(cfg.History.DSNs) > 0 {
		sinks, err := hfactory.NewSinks(cfg.History.DSNs)
		if err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("open history sinks: %w", err)
		}
		a.Recorder = history.NewRecorder(sinks, cfg.History.Timeout, lg)
		a.Recorder.Attach(a.Supervisor)
	}
	a.Restarter = restart.New(a.Supervisor, cfg.Restart, lg)
	a.Scheduler = schedule.New(a.Supervisor, nil, lg)

	if err := a.seed(ctx, cfg.Projects); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	all, err := reg.List(ctx)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	if err := a.Scheduler.Sync(all); err != nil {
		a.Logger.Warn("some schedules were rejected", "error", err)
	}
	a.Scheduler.Run()
	return a, nil
}

// seed upserts config-declared projects by name.
func (a *App) seed(ctx context.Context, projects []process.Project) error {
	for _, p := range projects {
		p := p
		cur, err := a.Registry.GetByName(ctx, p.Name)
		switch {
		case errors.Is(err, registry.ErrNotFound):
			if err := a.Registry.Create(ctx, &p); err != nil {
				return fmt.Errorf("seed project %s: %w", p.Name, err)
			}
		case err != nil:
			return err
		default:
			p.ID, p.CreatedAt = cur.ID, cur.CreatedAt
			if err := a.Registry.Update(ctx, &p); err != nil {
				return fmt.Errorf("seed project %s: %w", p.Name, err)
			}
		}
	}
	return nil
}

// Resolve finds a project by id, then by name.
func (a *App) Resolve(ctx context.Context, ref string) (process.Project, error) {
	p, err := a.Registry.Get(ctx, ref)
	if errors.Is(err, registry.ErrNotFound) {
		return a.Registry.GetByName(ctx, ref)
	}
	return p, err
}

func (a *App) view(p process.Project) View {
	info, _ := a.Supervisor.Info(p.ID)
	if info.Name == "" {
		info.Name = p.Name
	}
	return View{Project: p, Info: info}
}

// Projects lists all stored projects with their state, ordered by name.
func (a *App) Projects(ctx context.Context) ([]View, error) {
	list, err := a.Registry.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(list))
	for _, p := range list {
		out = append(out, a.view(p))
	}
	return out, nil
}

// Project returns one project with its state.
func (a *App) Project(ctx context.Context, ref string) (View, error) {
	p, err := a.Resolve(ctx, ref)
	if err != nil {
		return View{}, err
	}
	return a.view(p), nil
}

// Create stores a new project. Missing entrypoint or interpreter are
// filled in by scanning the work dir.
func (a *App) Create(ctx context.Context, p *process.Project) error {
	if err := a.complete(p); err != nil {
		return err
	}
	if err := schedule.Validate(*p); err != nil {
		return err
	}
	if err := a.Registry.Create(ctx, p); err != nil {
		return err
	}
	return a.Scheduler.Set(*p)
}

// Update replaces a stored project. A running child keeps its old
// definition until the next start.
func (a *App) Update(ctx context.Context, p *process.Project) error {
	if err := schedule.Validate(*p); err != nil {
		return err
	}
	if err := a.Registry.Update(ctx, p); err != nil {
		return err
	}
	return a.Scheduler.Set(*p)
}

// Delete removes an inactive project everywhere.
func (a *App) Delete(ctx context.Context, ref string) error {
	p, err := a.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	if err := a.Supervisor.Remove(p.ID); err != nil && !errors.Is(err, supervisor.ErrNotFound) {
		return err
	}
	a.Scheduler.Remove(p.ID)
	return a.Registry.Delete(ctx, p.ID)
}

func (a *App) complete(p *process.Project) error {
	if strings.TrimSpace(p.Name) == "" {
		return &process.ValidationError{ProjectID: p.ID, Field: "name", Reason: "must not be empty"}
	}
	if p.Entrypoint != "" && p.Interpreter != "" {
		return nil
	}
	res, err := a.Scanner.Scan(p.WorkDir)
	if err != nil {
		return &process.ValidationError{ProjectID: p.ID, Field: "work_dir", Path: p.WorkDir, Reason: err.Error()}
	}
	if p.Entrypoint == "" {
		p.Entrypoint = res.Entrypoint
	}
	if p.Interpreter == "" {
		p.Interpreter = res.Interpreter
	}
	if p.Entrypoint == "" {
		return &process.ValidationError{ProjectID: p.ID, Field: "entrypoint", Path: p.WorkDir, Reason: "none given and none detected"}
	}
	if p.Interpreter == "" {
		return &process.ValidationError{ProjectID: p.ID, Field: "interpreter", Reason: "none given and none detected"}
	}
	return nil
}

// Start starts a stored project.
func (a *App) Start(ctx context.Context, ref string) (View, error) {
	p, err := a.Resolve(ctx, ref)
	if err != nil {
		return View{}, err
	}
	err = a.Supervisor.Start(p)
	return a.view(p), err
}

// Stop asks a project to stop without waiting.
func (a *App) Stop(ctx context.Context, ref string) (View, error) {
	p, err := a.Resolve(ctx, ref)
	if err != nil {
		return View{}, err
	}
	err = a.Supervisor.Stop(p.ID)
	return a.view(p), err
}

// Restart stops a project, waits for it and starts the stored definition.
func (a *App) Restart(ctx context.Context, ref string) (View, error) {
	p, err := a.Resolve(ctx, ref)
	if err != nil {
		return View{}, err
	}
	err = a.Supervisor.Restart(ctx, p)
	return a.view(p), err
}

// StartAll starts every stored project that is not active.
func (a *App) StartAll(ctx context.Context) error {
	list, err := a.Registry.List(ctx)
	if err != nil {
		return err
	}
	var idle []process.Project
	for _, p := range list {
		if !a.Supervisor.Status(p.ID).Active() {
			idle = append(idle, p)
		}
	}
	return a.Supervisor.StartAll(idle)
}

// StopAll stops every running project.
func (a *App) StopAll() error { return a.Supervisor.StopAll() }

// Logs returns the newest n retained lines of a project; n <= 0 returns all.
func (a *App) Logs(ctx context.Context, ref string, n int) ([]logstore.Line, error) {
	p, err := a.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return a.Supervisor.RecentLogs(p.ID), nil
	}
	return a.Supervisor.TailLogs(p.ID, n), nil
}

// Usage samples the resources of a running project.
func (a *App) Usage(ctx context.Context, ref string) (process.Usage, error) {
	p, err := a.Resolve(ctx, ref)
	if err != nil {
		return process.Usage{}, err
	}
	return a.Supervisor.Usage(ctx, p.ID)
}

// Close stops schedules and restarts, shuts the supervisor down and closes
// the stores.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Scheduler != nil {
		errs = append(errs, a.Scheduler.Close(ctx))
	}
	if a.Restarter != nil {
		a.Restarter.Close()
	}
	errs = append(errs, a.Supervisor.Shutdown(ctx))
	if a.Recorder != nil {
		errs = append(errs, a.Recorder.Close())
	}
	errs = append(errs, a.Registry.Close())
	return errors.Join(errs...)
}
