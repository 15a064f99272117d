// Package events fans supervisor status and log events out to subscribers.
//
// Every subscriber owns a bounded queue drained by its own goroutine, so a
// slow subscriber never blocks publishers or other subscribers. When a queue
// is full the oldest log event is dropped; status events are never dropped.
package events

import (
	"time"

	"github.com/hamalhq/hamal/internal/logstore"
	"github.com/hamalhq/hamal/internal/process"
)

// StatusEvent reports one state transition of a project.
type StatusEvent struct {
	ProjectID string        `json:"project_id"`
	Name      string        `json:"name,omitempty"`
	Previous  process.State `json:"previous"`
	State     process.State `json:"state"`
	Timestamp time.Time     `json:"timestamp"`
	PID       int           `json:"pid,omitempty"`
	ExitCode  *int          `json:"exit_code,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// LogEvent carries one captured output line.
type LogEvent struct {
	ProjectID string        `json:"project_id"`
	Line      logstore.Line `json:"line"`
}

// Handlers are the callbacks of a subscriber. Either may be nil.
// They run on the subscriber's delivery goroutine, never under a supervisor lock.
type Handlers struct {
	OnStatus func(StatusEvent)
	OnLog    func(LogEvent)
}

type kind uint8

const (
	kindStatus kind = iota
	kindLog
)

type item struct {
	kind   kind
	status StatusEvent
	log    LogEvent
}
