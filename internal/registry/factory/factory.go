package factory

import (
	"context"
	"errors"
	"strings"

	"github.com/hamalhq/hamal/internal/registry"
	pg "github.com/hamalhq/hamal/internal/registry/postgres"
	sq "github.com/hamalhq/hamal/internal/registry/sqlite"
)

// NewFromDSN selects a registry implementation based on DSN.
// Supported:
//   - sqlite:  "sqlite://<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string) (registry.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(d[len("sqlite://"):])
	}
	if strings.Contains(d, "://") {
		return nil, errors.New("unsupported registry DSN: " + d)
	}
	return sq.New(d)
}

// Open creates the store and its schema.
func Open(ctx context.Context, dsn string) (registry.Store, error) {
	st, err := NewFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}
