package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hamalhq/hamal/internal/events"
	"github.com/hamalhq/hamal/internal/metrics"
)

// Subscriber is what a Recorder attaches to; *supervisor.Supervisor
// satisfies it.
type Subscriber interface {
	Subscribe(h events.Handlers) *events.Subscription
}

// Recorder forwards every status event to its sinks. A failing sink is
// logged and counted; it never blocks the others for longer than Timeout.
type Recorder struct {
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger
	sub     *events.Subscription
}

// NewRecorder creates a recorder. A zero timeout means five seconds.
func NewRecorder(sinks []Sink, timeout time.Duration, logger *slog.Logger) *Recorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sinks: sinks, timeout: timeout, logger: logger.With("component", "history")}
}

// Attach subscribes the recorder to status events.
func (r *Recorder) Attach(s Subscriber) {
	r.sub = s.Subscribe(events.Handlers{OnStatus: r.Record})
}

// Record sends one status event to all sinks.
func (r *Recorder) Record(se events.StatusEvent) {
	e := FromStatus(se)
	for _, s := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := s.Send(ctx, e)
		cancel()
		if err != nil {
			name := fmt.Sprintf("%T", s)
			metrics.IncHistoryError(name)
			r.logger.Warn("history sink failed", "sink", name, "project", e.ProjectID, "error", err)
		}
	}
}

// Close detaches from the bus and closes all sinks.
func (r *Recorder) Close() error {
	if r.sub != nil {
		r.sub.Close()
	}
	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sinks returns the configured sinks.
func (r *Recorder) Sinks() []Sink { return r.sinks }
