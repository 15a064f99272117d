package sqlite

import (
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/hamalhq/hamal/internal/registry"
)

// New opens a SQLite registry (modernc.org/sqlite driver, CGO-free).
// path is a filesystem path or ":memory:".
func New(path string) (*registry.SQL, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return registry.NewSQL(d, registry.SQLite), nil
}
