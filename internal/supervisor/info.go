package supervisor

import (
	"time"

	"github.com/hamalhq/hamal/internal/process"
)

// Info is a snapshot of a project's record.
type Info struct {
	ProjectID     string        `json:"project_id"`
	Name          string        `json:"name,omitempty"`
	State         process.State `json:"state"`
	PID           int           `json:"pid,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	StoppedAt     *time.Time    `json:"stopped_at,omitempty"`
	UptimeSeconds float64       `json:"uptime_seconds,omitempty"`
	ExitCode      *int          `json:"exit_code,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	Runs          int           `json:"runs"`
	LogLines      int           `json:"log_lines"`
}

// Uptime returns how long the current run has been running.
func (i Info) Uptime() time.Duration {
	return time.Duration(i.UptimeSeconds * float64(time.Second))
}

// Info returns the record of a project or ErrNotFound.
func (s *Supervisor) Info(id string) (Info, error) {
	rec := s.lookup(id)
	if rec == nil {
		return Info{ProjectID: id, State: process.Stopped}, ErrNotFound
	}
	return rec.info(time.Now()), nil
}

// InfoAll returns the records of all known projects sorted by id.
func (s *Supervisor) InfoAll() []Info {
	now := time.Now()
	recs := s.snapshot()
	out := make([]Info, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.info(now))
	}
	return out
}

// Project returns the definition a record was last started with.
func (s *Supervisor) Project(id string) (process.Project, bool) {
	rec := s.lookup(id)
	if rec == nil {
		return process.Project{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.project, true
}

func (rec *record) info(now time.Time) Info {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	in := Info{
		ProjectID: rec.id,
		Name:      rec.project.Name,
		State:     rec.state,
		LastError: rec.lastError,
		Runs:      rec.runs,
		LogLines:  rec.logs.Len(),
	}
	if rec.run != nil {
		in.PID = rec.run.proc.PID()
	}
	if !rec.startedAt.IsZero() {
		t := rec.startedAt
		in.StartedAt = &t
		in.UptimeSeconds = now.Sub(t).Seconds()
	}
	if !rec.stoppedAt.IsZero() && rec.state.Terminal() {
		t := rec.stoppedAt
		in.StoppedAt = &t
	}
	if rec.exitCode != nil {
		c := *rec.exitCode
		in.ExitCode = &c
	}
	return in
}
