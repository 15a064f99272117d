// Package restart brings crashed projects back when they ask for it.
package restart

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hamalhq/hamal/internal/events"
	"github.com/hamalhq/hamal/internal/metrics"
	"github.com/hamalhq/hamal/internal/process"
)

// Policy controls the backoff between restarts.
type Policy struct {
	Delay    time.Duration `mapstructure:"delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
	// MaxAttempts of zero retries forever.
	MaxAttempts int `mapstructure:"max_attempts"`
	// A run that lasted ResetAfter clears the attempt counter.
	ResetAfter time.Duration `mapstructure:"reset_after"`
}

func DefaultPolicy() Policy {
	return Policy{Delay: time.Second, MaxDelay: time.Minute, MaxAttempts: 5, ResetAfter: time.Minute}
}

// backoff returns the delay before the n-th attempt, n starting at 1. A zero
// MaxDelay leaves the doubling unbounded.
func (p Policy) backoff(n int) time.Duration {
	d := p.Delay
	for i := 1; i < n && d < math.MaxInt64/2 && (p.MaxDelay <= 0 || d < p.MaxDelay); i++ {
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Supervisor is the part of *supervisor.Supervisor a Restarter drives.
type Supervisor interface {
	Subscribe(h events.Handlers) *events.Subscription
	Start(p process.Project) error
	Status(id string) process.State
	Project(id string) (process.Project, bool)
}

// Restarter starts projects with AutoRestart again after they crash. A
// restart is an ordinary Start; the crash itself is still reported.
type Restarter struct {
	sup    Supervisor
	policy Policy
	logger *slog.Logger

	mu       sync.Mutex
	closed   bool
	attempts map[string]int
	running  map[string]time.Time
	timers   map[string]*time.Timer
	sub      *events.Subscription
}

func New(sup Supervisor, policy Policy, logger *slog.Logger) *Restarter {
	if policy.Delay <= 0 {
		policy.Delay = DefaultPolicy().Delay
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Restarter{
		sup:      sup,
		policy:   policy,
		logger:   logger.With("component", "restart"),
		attempts: make(map[string]int),
		running:  make(map[string]time.Time),
		timers:   make(map[string]*time.Timer),
	}
	r.sub = sup.Subscribe(events.Handlers{OnStatus: r.onStatus})
	return r
}

// Attempts returns the consecutive restart attempts of a project.
func (r *Restarter) Attempts(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[id]
}

func (r *Restarter) onStatus(e events.StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	id := e.ProjectID
	switch e.State {
	case process.Running:
		r.running[id] = e.Timestamp
	case process.Stopping, process.Stopped:
		r.cancelLocked(id)
		delete(r.attempts, id)
		delete(r.running, id)
	case process.Crashed:
		r.onCrashLocked(id, e.Timestamp)
	}
}

func (r *Restarter) onCrashLocked(id string, at time.Time) {
	since, ok := r.running[id]
	delete(r.running, id)
	if ok && r.policy.ResetAfter > 0 && at.Sub(since) >= r.policy.ResetAfter {
		delete(r.attempts, id)
	}
	p, ok := r.sup.Project(id)
	if !ok || !p.AutoRestart {
		return
	}
	n := r.attempts[id] + 1
	if r.policy.MaxAttempts > 0 && n > r.policy.MaxAttempts {
		r.logger.Warn("giving up restarting", "project", id, "attempts", r.attempts[id])
		return
	}
	r.attempts[id] = n
	delay := r.policy.backoff(n)
	r.cancelLocked(id)
	r.logger.Info("restart scheduled", "project", id, "attempt", n, "delay", delay)
	r.timers[id] = time.AfterFunc(delay, func() { r.restart(id) })
}

func (r *Restarter) restart(id string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	delete(r.timers, id)
	r.mu.Unlock()

	// a manual start or a removal may have happened meanwhile
	if r.sup.Status(id) != process.Crashed {
		return
	}
	p, ok := r.sup.Project(id)
	if !ok {
		return
	}
	metrics.IncRestart(id)
	if err := r.sup.Start(p); err != nil {
		r.logger.Warn("restart failed", "project", id, "error", err)
	}
}

func (r *Restarter) cancelLocked(id string) {
	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
}

// Close unsubscribes and cancels pending restarts.
func (r *Restarter) Close() {
	r.mu.Lock()
	r.closed = true
	for id := range r.timers {
		r.cancelLocked(id)
	}
	r.mu.Unlock()
	r.sub.Close()
}
