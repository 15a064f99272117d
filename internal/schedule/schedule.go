// Package schedule starts and stops projects on cron expressions.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hamalhq/hamal/internal/process"
)

// Parser accepts standard five-field expressions, an optional leading
// seconds field and descriptors such as "@daily" or "@every 1h".
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks both schedule expressions of a project.
func Validate(p process.Project) error {
	var errs []error
	for field, expr := range map[string]string{"schedule_start": p.ScheduleStart, "schedule_stop": p.ScheduleStop} {
		if expr == "" {
			continue
		}
		if _, err := Parser.Parse(expr); err != nil {
			errs = append(errs, &process.ValidationError{ProjectID: p.ID, Field: field, Reason: fmt.Sprintf("invalid cron schedule %q: %v", expr, err)})
		}
	}
	return errors.Join(errs...)
}

// Controller is the part of *supervisor.Supervisor a Scheduler drives.
type Controller interface {
	Start(p process.Project) error
	Stop(id string) error
}

type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// Entry describes one registered schedule.
type Entry struct {
	ProjectID string    `json:"project_id"`
	Action    Action    `json:"action"`
	Spec      string    `json:"spec"`
	Next      time.Time `json:"next"`
}

// Scheduler owns a cron runner with at most one start and one stop entry
// per project.
type Scheduler struct {
	ctl    Controller
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string][]cron.EntryID
	specs   map[cron.EntryID]Entry
}

// New creates a stopped scheduler. loc may be nil for local time.
func New(ctl Controller, loc *time.Location, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []cron.Option{cron.WithParser(Parser)}
	if loc != nil {
		opts = append(opts, cron.WithLocation(loc))
	}
	return &Scheduler{
		ctl:     ctl,
		cron:    cron.New(opts...),
		logger:  logger.With("component", "schedule"),
		entries: make(map[string][]cron.EntryID),
		specs:   make(map[cron.EntryID]Entry),
	}
}

// Run starts the cron runner in the background.
func (s *Scheduler) Run() { s.cron.Start() }

// Close stops the runner and waits for running jobs until ctx is done.
func (s *Scheduler) Close(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Set replaces the entries of a project. A project without schedules ends
// up with none.
func (s *Scheduler) Set(p process.Project) error {
	if err := Validate(p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(p.ID)
	if p.ScheduleStart != "" {
		s.addLocked(p, ActionStart, p.ScheduleStart, func() { s.fire(p, ActionStart) })
	}
	if p.ScheduleStop != "" {
		s.addLocked(p, ActionStop, p.ScheduleStop, func() { s.fire(p, ActionStop) })
	}
	return nil
}

// Sync makes the entries match projects exactly. Invalid schedules are
// skipped and reported.
func (s *Scheduler) Sync(projects []process.Project) error {
	keep := make(map[string]bool, len(projects))
	var errs []error
	for _, p := range projects {
		keep[p.ID] = true
		if err := s.Set(p); err != nil {
			errs = append(errs, err)
		}
	}
	s.mu.Lock()
	for id := range s.entries {
		if !keep[id] {
			s.removeLocked(id)
		}
	}
	s.mu.Unlock()
	return errors.Join(errs...)
}

// Remove drops the entries of a project.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

// Entries lists registered schedules ordered by project and action.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.specs))
	for id, e := range s.specs {
		e.Next = s.cron.Entry(id).Next
		out = append(out, e)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProjectID != out[j].ProjectID {
			return out[i].ProjectID < out[j].ProjectID
		}
		return out[i].Action < out[j].Action
	})
	return out
}

func (s *Scheduler) addLocked(p process.Project, action Action, spec string, fn func()) {
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		// Validate already parsed spec with the same parser
		s.logger.Error("schedule rejected", "project", p.ID, "action", action, "error", err)
		return
	}
	s.entries[p.ID] = append(s.entries[p.ID], id)
	s.specs[id] = Entry{ProjectID: p.ID, Action: action, Spec: spec}
	s.logger.Info("schedule registered", "project", p.ID, "action", action, "spec", spec)
}

func (s *Scheduler) removeLocked(projectID string) {
	for _, id := range s.entries[projectID] {
		s.cron.Remove(id)
		delete(s.specs, id)
	}
	delete(s.entries, projectID)
}

func (s *Scheduler) fire(p process.Project, action Action) {
	var err error
	switch action {
	case ActionStart:
		err = s.ctl.Start(p)
	case ActionStop:
		err = s.ctl.Stop(p.ID)
	}
	if err != nil {
		s.logger.Warn("scheduled action failed", "project", p.ID, "action", action, "error", err)
		return
	}
	s.logger.Info("scheduled action ran", "project", p.ID, "action", action)
}
