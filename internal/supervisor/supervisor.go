// Package supervisor runs projects as child processes and tracks their
// lifecycle.
//
// Every project has one record. Start and Stop move it through
// stopped/crashed -> starting -> running -> stopping; the per-run exit
// monitor is the only writer of the terminal stopped or crashed state.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hamalhq/hamal/internal/env"
	"github.com/hamalhq/hamal/internal/events"
	"github.com/hamalhq/hamal/internal/logger"
	"github.com/hamalhq/hamal/internal/logstore"
	"github.com/hamalhq/hamal/internal/metrics"
	"github.com/hamalhq/hamal/internal/process"
)

const (
	DefaultGracePeriod  = 5 * time.Second
	DefaultDrainTimeout = 2 * time.Second
)

// Config tunes a Supervisor. Zero values select the defaults.
type Config struct {
	GracePeriod  time.Duration
	LogCapacity  int
	QueueSize    int
	DrainTimeout time.Duration
	// Env is the environment children inherit before their own overrides.
	// Nil means the supervisor's OS environment.
	Env *env.Env
	// RunLogs enables per-project run log files when File.Dir is set.
	RunLogs logger.Config
	Logger  *slog.Logger
}

// Supervisor owns the records of all projects it has started.
type Supervisor struct {
	cfg    Config
	env    env.Env
	logger *slog.Logger
	bus    *events.Bus

	mu      sync.RWMutex
	records map[string]*record

	closing atomic.Bool
	workers sync.WaitGroup
}

type record struct {
	id string

	mu        sync.Mutex
	project   process.Project
	state     process.State
	run       *run
	startedAt time.Time
	stoppedAt time.Time
	exitCode  *int
	lastError string
	runs      int
	// runFrom is the log sequence number of the current run's first line.
	runFrom   uint64
	logs      *logstore.Ring
	runLog    *logger.RunLog
	// removed is set once Remove dropped the record from the map.
	removed   bool
}

// run is one spawned child. exited closes when the OS reports the exit,
// done closes after the terminal transition.
type run struct {
	proc    *process.Process
	cmd     process.Command
	readers sync.WaitGroup
	exited  chan struct{}
	done    chan struct{}
	killed  bool
}

// New creates a supervisor. Call Shutdown to release it.
func New(cfg Config) *Supervisor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = logstore.DefaultCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := env.New()
	if cfg.Env != nil {
		e = *cfg.Env
	}
	lg := cfg.Logger.With("component", "supervisor")
	return &Supervisor{
		cfg:     cfg,
		env:     e,
		logger:  lg,
		bus:     events.NewBus(cfg.QueueSize, cfg.Logger),
		records: make(map[string]*record),
	}
}

// Subscribe registers event handlers. Handlers run on a dedicated goroutine
// per subscription.
func (s *Supervisor) Subscribe(h events.Handlers) *events.Subscription {
	return s.bus.Subscribe(h)
}

// Start validates and spawns a project. It returns a *process.ValidationError
// before touching any state, ErrAlreadyRunning while a previous run is
// active, or a *SpawnError after moving the project to crashed.
func (s *Supervisor) Start(p process.Project) error {
	cmd, err := p.Resolve()
	if err != nil {
		return err
	}
	if s.closing.Load() {
		return ErrShuttingDown
	}
	rec := s.lockRecord(p.ID)
	defer rec.mu.Unlock()
	if s.closing.Load() {
		return ErrShuttingDown
	}
	if rec.state.Active() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyRunning, p.ID, rec.state)
	}

	rec.project = p
	rec.lastError = ""
	rec.exitCode = nil
	rec.runFrom = rec.logs.Total()
	s.setStateLocked(rec, process.Starting)

	proc, err := process.Spawn(cmd, s.env.Merge(p.Env))
	if err != nil {
		rec.lastError = err.Error()
		rec.stoppedAt = time.Now()
		s.setStateLocked(rec, process.Crashed)
		metrics.IncSpawnFailure(p.ID)
		s.logger.Error("spawn failed", "project", p.ID, "error", err)
		return &SpawnError{ProjectID: p.ID, Err: err}
	}

	r := &run{proc: proc, cmd: cmd, exited: make(chan struct{}), done: make(chan struct{})}
	rec.run = r
	rec.runs++
	rec.startedAt = proc.StartedAt()
	s.openRunLogLocked(rec)
	if rec.runLog != nil {
		rec.runLog.Begin(rec.startedAt, p.DisplayName(), p.ID, proc.PID(), cmd.Args())
	}
	s.setStateLocked(rec, process.Running)
	metrics.IncStart(p.ID)
	s.logger.Info("project started", "project", p.ID, "name", p.Name, "pid", proc.PID())

	r.readers.Add(2)
	s.workers.Add(1)
	go s.readOutput(rec, r, logstore.Stdout, proc.Stdout())
	go s.readOutput(rec, r, logstore.Stderr, proc.Stderr())
	go s.monitor(rec, r)
	return nil
}

// Stop asks a running project to exit. It is a no-op unless the project is
// running. The escalation to a forced kill after the grace period runs in the
// background; the exit monitor performs the final transition to stopped.
func (s *Supervisor) Stop(id string) error {
	rec := s.lookup(id)
	if rec == nil {
		return nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.state != process.Running {
		return nil
	}
	r := rec.run
	s.setStateLocked(rec, process.Stopping)

	var stopErr error
	if err := r.proc.Terminate(); err != nil {
		s.logger.Warn("graceful stop failed, killing", "project", id, "error", err)
		if kerr := r.proc.Kill(); kerr != nil {
			stopErr = &StopError{ProjectID: id, Err: errors.Join(err, kerr)}
		} else {
			r.killed = true
			metrics.IncKill(id)
		}
	}
	s.workers.Add(1)
	go s.escalate(rec, r)
	return stopErr
}

// Wait blocks until the current run of a project, if any, has reached its
// terminal state.
func (s *Supervisor) Wait(ctx context.Context, id string) error {
	rec := s.lookup(id)
	if rec == nil {
		return nil
	}
	rec.mu.Lock()
	r := rec.run
	rec.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopWait stops a project and waits for the terminal transition.
func (s *Supervisor) StopWait(ctx context.Context, id string) error {
	if err := s.Stop(id); err != nil {
		return err
	}
	return s.Wait(ctx, id)
}

// Restart stops the project if needed and starts it again.
func (s *Supervisor) Restart(ctx context.Context, p process.Project) error {
	if err := s.StopWait(ctx, p.ID); err != nil {
		return err
	}
	return s.Start(p)
}

// StartAll starts every project, collecting the errors.
func (s *Supervisor) StartAll(projects []process.Project) error {
	var errs []error
	for _, p := range projects {
		if err := s.Start(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every running project.
func (s *Supervisor) StopAll() error {
	var errs []error
	for _, rec := range s.snapshot() {
		if err := s.Stop(rec.id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status returns the state of a project, stopped when it is unknown.
func (s *Supervisor) Status(id string) process.State {
	rec := s.lookup(id)
	if rec == nil {
		return process.Stopped
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state
}

// RecentLogs returns a copy of the retained output of the latest run.
func (s *Supervisor) RecentLogs(id string) []logstore.Line {
	rec := s.lookup(id)
	if rec == nil {
		return nil
	}
	return rec.logs.Snapshot()
}

// TailLogs returns at most n of the newest retained lines.
func (s *Supervisor) TailLogs(id string, n int) []logstore.Line {
	rec := s.lookup(id)
	if rec == nil {
		return nil
	}
	return rec.logs.Tail(n)
}

// Remove forgets an inactive project.
func (s *Supervisor) Remove(id string) error {
	rec := s.lookup(id)
	if rec == nil {
		return ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.state.Active() {
		return fmt.Errorf("%w: %s is %s", ErrActive, id, rec.state)
	}
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	rec.removed = true
	if rec.runLog != nil {
		_ = rec.runLog.Close()
		rec.runLog = nil
	}
	metrics.ForgetProject(id)
	return nil
}

// Usage samples CPU and memory of a running project.
func (s *Supervisor) Usage(ctx context.Context, id string) (process.Usage, error) {
	rec := s.lookup(id)
	if rec == nil {
		return process.Usage{}, ErrNotFound
	}
	rec.mu.Lock()
	pid := 0
	if rec.run != nil {
		pid = rec.run.proc.PID()
	}
	rec.mu.Unlock()
	if pid == 0 {
		return process.Usage{}, fmt.Errorf("%s is not running", id)
	}
	u, err := process.SampleUsage(ctx, pid)
	if err != nil {
		return u, err
	}
	metrics.SetUsage(id, u.CPUPercent, u.RSSBytes)
	return u, nil
}

// Shutdown stops all projects, waits for their exit monitors until ctx is
// done and then closes the event bus. Monitors still running at that point
// are abandoned with a warning.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Info("shutting down")
	stopErr := s.StopAll()

	done := make(chan struct{})
	go func() { s.workers.Wait(); close(done) }()
	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		var active []string
		for _, rec := range s.snapshot() {
			rec.mu.Lock()
			if rec.state.Active() {
				active = append(active, rec.id)
			}
			rec.mu.Unlock()
		}
		s.logger.Warn("abandoning exit monitors", "projects", active)
		waitErr = fmt.Errorf("shutdown: %d project(s) still active: %w", len(active), ctx.Err())
	}

	for _, rec := range s.snapshot() {
		rec.mu.Lock()
		if rec.runLog != nil && !rec.state.Active() {
			_ = rec.runLog.Close()
			rec.runLog = nil
		}
		rec.mu.Unlock()
	}
	busCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		busCtx, cancel = context.WithTimeout(context.Background(), time.Second)
		defer cancel()
	}
	busErr := s.bus.Close(busCtx)
	return errors.Join(stopErr, waitErr, busErr)
}

func (s *Supervisor) acquire(id string) *record {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		rec = &record{id: id, state: process.Stopped, logs: logstore.New(s.cfg.LogCapacity)}
		s.records[id] = rec
	}
	return rec
}

// lockRecord returns the live record of id with its lock held. A record
// removed between the lookup and the lock is replaced by a fresh one.
func (s *Supervisor) lockRecord(id string) *record {
	for {
		rec := s.acquire(id)
		rec.mu.Lock()
		if !rec.removed {
			return rec
		}
		rec.mu.Unlock()
	}
}

func (s *Supervisor) lookup(id string) *record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id]
}

// snapshot returns the records sorted by id.
func (s *Supervisor) snapshot() []*record {
	s.mu.RLock()
	out := make([]*record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (s *Supervisor) openRunLogLocked(rec *record) {
	if rec.runLog != nil {
		return
	}
	rl, err := s.cfg.RunLogs.OpenRunLog(rec.id)
	if err != nil {
		s.logger.Warn("run log unavailable", "project", rec.id, "error", err)
		return
	}
	rec.runLog = rl
}

var stateNames = func() []string {
	all := process.AllStates()
	out := make([]string, len(all))
	for i, st := range all {
		out[i] = st.String()
	}
	return out
}()

// setStateLocked records a transition and publishes it. Publishing only
// enqueues, so holding rec.mu keeps per-project events in transition order
// without running subscriber code under the lock.
func (s *Supervisor) setStateLocked(rec *record, to process.State) {
	from := rec.state
	rec.state = to
	metrics.RecordStateTransition(rec.id, from.String(), to.String())
	metrics.SetCurrentState(rec.id, to.String(), stateNames)

	ev := events.StatusEvent{
		ProjectID: rec.id,
		Name:      rec.project.Name,
		Previous:  from,
		State:     to,
		Timestamp: time.Now(),
		LastError: rec.lastError,
	}
	if rec.run != nil {
		ev.PID = rec.run.proc.PID()
	}
	if to.Terminal() && rec.exitCode != nil {
		c := *rec.exitCode
		ev.ExitCode = &c
	}
	s.bus.PublishStatus(ev)
	s.logger.Debug("state transition", "project", rec.id, "from", from.String(), "to", to.String())
}
