// Package history exports project state transitions to external stores.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hamalhq/hamal/internal/events"
)

// Event is one state transition of a project.
type Event struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	ProjectID  string    `json:"project_id"`
	Name       string    `json:"name,omitempty"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	PID        int       `json:"pid,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// FromStatus converts a supervisor status event.
func FromStatus(e events.StatusEvent) Event {
	return Event{
		ID:         uuid.NewString(),
		OccurredAt: e.Timestamp.UTC(),
		ProjectID:  e.ProjectID,
		Name:       e.Name,
		From:       e.Previous.String(),
		To:         e.State.String(),
		PID:        e.PID,
		ExitCode:   e.ExitCode,
		LastError:  e.LastError,
	}
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
