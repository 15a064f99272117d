package process

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a project whose interpreter or entrypoint cannot be used.
	ErrValidation = errors.New("invalid project")
	// ErrSpawn marks a failure of the OS to create the child process.
	ErrSpawn = errors.New("spawn failed")
)

// ValidationError describes which field of a project failed validation.
type ValidationError struct {
	ProjectID string
	Field     string
	Path      string
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid project %q: %s: %s", e.ProjectID, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid project %q: %s %q: %s", e.ProjectID, e.Field, e.Path, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
