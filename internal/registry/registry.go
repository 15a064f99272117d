// Package registry persists project definitions.
package registry

import (
	"context"
	"errors"

	"github.com/hamalhq/hamal/internal/process"
)

var (
	ErrNotFound  = errors.New("project not found")
	ErrDuplicate = errors.New("project name already exists")
)

// Store keeps project definitions. Names are unique; ids are assigned by
// Create when empty.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Create(ctx context.Context, p *process.Project) error
	Get(ctx context.Context, id string) (process.Project, error)
	GetByName(ctx context.Context, name string) (process.Project, error)
	// List returns all projects ordered by name.
	List(ctx context.Context) ([]process.Project, error)
	Update(ctx context.Context, p *process.Project) error
	Delete(ctx context.Context, id string) error
	Close() error
}
