package supervisor

import (
	"io"
	"time"

	"github.com/hamalhq/hamal/internal/events"
	"github.com/hamalhq/hamal/internal/logstore"
	"github.com/hamalhq/hamal/internal/metrics"
	"github.com/hamalhq/hamal/internal/output"
	"github.com/hamalhq/hamal/internal/process"
)

// readOutput feeds one stream of a run into the log ring, the run log and
// the event bus. It touches no record state besides the ring.
func (s *Supervisor) readOutput(rec *record, r *run, stream logstore.Stream, src io.Reader) {
	defer r.readers.Done()
	id := rec.id
	rec.mu.Lock()
	runLog := rec.runLog
	rec.mu.Unlock()

	rd := output.Reader{
		Stream: stream,
		OnInvalid: func(raw []byte) {
			metrics.IncDecodeWarning(id)
			s.logger.Warn("output is not valid UTF-8, substituted", "project", id, "stream", string(stream), "bytes", len(raw))
		},
	}
	err := rd.Run(src, func(l logstore.Line) {
		rec.logs.Append(l)
		if runLog != nil {
			runLog.Line(l)
		}
		metrics.IncLogLine(id, string(stream))
		s.bus.PublishLog(events.LogEvent{ProjectID: id, Line: l})
	})
	if err != nil {
		s.logger.Warn("output reader stopped", "project", id, "stream", string(stream), "error", err)
	}
}

// monitor waits for the child, drains its output and writes the terminal
// state: stopped when a stop was in flight, crashed otherwise, whatever the
// exit code.
func (s *Supervisor) monitor(rec *record, r *run) {
	defer s.workers.Done()
	defer close(r.done)

	st, werr := r.proc.Wait()
	close(r.exited)
	s.drain(rec, r)
	now := time.Now()

	rec.mu.Lock()
	next := process.Crashed
	if rec.state == process.Stopping {
		next = process.Stopped
	}
	code := st.Code
	rec.exitCode = &code
	switch {
	case next == process.Stopped:
		rec.lastError = ""
	case werr != nil:
		rec.lastError = "wait failed: " + werr.Error()
	default:
		rec.lastError = crashMessage(st.String(), rec.logs.Since(rec.runFrom))
	}
	uptime := now.Sub(rec.startedAt)
	rec.stoppedAt = now
	s.setStateLocked(rec, next)
	rec.run = nil
	rec.startedAt = time.Time{}
	if rec.runLog != nil {
		rec.runLog.End(now, next.String(), st.String())
	}
	killed := r.killed
	rec.mu.Unlock()

	metrics.ObserveRunDuration(rec.id, next.String(), uptime.Seconds())
	if next == process.Crashed {
		metrics.IncCrash(rec.id)
		s.logger.Warn("project crashed", "project", rec.id, "exit", st.String(), "uptime", uptime.Round(time.Millisecond))
	} else {
		metrics.IncStop(rec.id)
		s.logger.Info("project stopped", "project", rec.id, "exit", st.String(), "killed", killed)
	}
}

// drain waits for both readers. Output inherited by a grandchild may stay
// open after the child exits, so the pipes are closed after DrainTimeout.
func (s *Supervisor) drain(rec *record, r *run) {
	done := make(chan struct{})
	go func() { r.readers.Wait(); close(done) }()
	t := time.NewTimer(s.cfg.DrainTimeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		s.logger.Warn("output still open after exit, closing pipes", "project", rec.id)
		r.proc.CloseOutput()
		<-done
	}
	r.proc.CloseOutput()
}

// escalate kills the child if it is still alive after the grace period.
func (s *Supervisor) escalate(rec *record, r *run) {
	defer s.workers.Done()
	t := time.NewTimer(s.cfg.GracePeriod)
	defer t.Stop()
	select {
	case <-r.exited:
		return
	case <-t.C:
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	select {
	case <-r.exited:
		return
	default:
	}
	s.logger.Warn("grace period elapsed, killing", "project", rec.id, "grace", s.cfg.GracePeriod)
	if err := r.proc.Kill(); err != nil {
		s.logger.Error("kill failed", "project", rec.id, "error", err)
		return
	}
	r.killed = true
	metrics.IncKill(rec.id)
}
