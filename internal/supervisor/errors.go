package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Start for a project that is starting,
	// running or stopping.
	ErrAlreadyRunning = errors.New("already running")
	// ErrNotFound is returned for project ids the supervisor has never seen.
	ErrNotFound = errors.New("project not found")
	// ErrActive is returned by Remove for a project that still has a process.
	ErrActive = errors.New("project is active")
	// ErrShuttingDown is returned by Start once Shutdown has begun.
	ErrShuttingDown = errors.New("supervisor is shutting down")
)

// SpawnError reports that the OS could not create the child. The project is
// left in the crashed state.
type SpawnError struct {
	ProjectID string
	Err       error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("start %s: %v", e.ProjectID, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// StopError reports that neither the graceful nor the forced signal could
// be delivered.
type StopError struct {
	ProjectID string
	Err       error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("stop %s: %v", e.ProjectID, e.Err)
}

func (e *StopError) Unwrap() error { return e.Err }
