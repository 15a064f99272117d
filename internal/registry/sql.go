package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hamalhq/hamal/internal/process"
)

// Dialect selects placeholder style and DDL for a SQL backend.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// SQL implements Store over database/sql. The sqlite and postgres
// subpackages open the connection and pick the dialect.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQL wraps an open database.
func NewSQL(db *sql.DB, dialect Dialect) *SQL {
	return &SQL{db: db, dialect: dialect}
}

// DB exposes the underlying connection.
func (s *SQL) DB() *sql.DB { return s.db }

func (s *SQL) EnsureSchema(ctx context.Context) error {
	ts := "TIMESTAMP"
	if s.dialect == Postgres {
		ts = "TIMESTAMPTZ"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects(
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			work_dir TEXT NOT NULL,
			entrypoint TEXT NOT NULL,
			interpreter TEXT NOT NULL,
			env TEXT NOT NULL DEFAULT '[]',
			auto_restart BOOLEAN NOT NULL DEFAULT FALSE,
			schedule_start TEXT NOT NULL DEFAULT '',
			schedule_stop TEXT NOT NULL DEFAULT '',
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_projects_name ON projects(name);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *SQL) Close() error { return s.db.Close() }

func (s *SQL) Create(ctx context.Context, p *process.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if strings.TrimSpace(p.Name) == "" {
		return &process.ValidationError{ProjectID: p.ID, Field: "name", Reason: "must not be empty"}
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	envJSON, err := encodeEnv(p.Env)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO projects(id, name, work_dir, entrypoint, interpreter, env, auto_restart, schedule_start, schedule_stop, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`),
		p.ID, p.Name, p.WorkDir, p.Entrypoint, p.Interpreter, envJSON, p.AutoRestart, p.ScheduleStart, p.ScheduleStop, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, p.Name)
		}
		return fmt.Errorf("create project %s: %w", p.Name, err)
	}
	return nil
}

func (s *SQL) Get(ctx context.Context, id string) (process.Project, error) {
	return s.one(ctx, "id", id)
}

func (s *SQL) GetByName(ctx context.Context, name string) (process.Project, error) {
	return s.one(ctx, "name", name)
}

func (s *SQL) one(ctx context.Context, col, val string) (process.Project, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(selectProjects+` WHERE `+col+`=? LIMIT 1;`), val)
	if err != nil {
		return process.Project{}, err
	}
	defer func() { _ = rows.Close() }()
	out, err := scanProjects(rows)
	if err != nil {
		return process.Project{}, err
	}
	if len(out) == 0 {
		return process.Project{}, fmt.Errorf("%w: %s", ErrNotFound, val)
	}
	return out[0], nil
}

func (s *SQL) List(ctx context.Context) ([]process.Project, error) {
	rows, err := s.db.QueryContext(ctx, selectProjects+` ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanProjects(rows)
}

func (s *SQL) Update(ctx context.Context, p *process.Project) error {
	if strings.TrimSpace(p.Name) == "" {
		return &process.ValidationError{ProjectID: p.ID, Field: "name", Reason: "must not be empty"}
	}
	envJSON, err := encodeEnv(p.Env)
	if err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE projects
		SET name=?, work_dir=?, entrypoint=?, interpreter=?, env=?, auto_restart=?, schedule_start=?, schedule_stop=?, updated_at=?
		WHERE id=?;`),
		p.Name, p.WorkDir, p.Entrypoint, p.Interpreter, envJSON, p.AutoRestart, p.ScheduleStart, p.ScheduleStop, p.UpdatedAt, p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, p.Name)
		}
		return fmt.Errorf("update project %s: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, p.ID)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM projects WHERE id=?;`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

const selectProjects = `SELECT id, name, work_dir, entrypoint, interpreter, env, auto_restart, schedule_start, schedule_stop, created_at, updated_at FROM projects`

// rebind turns ? placeholders into $n for postgres.
func (s *SQL) rebind(q string) string {
	if s.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func scanProjects(rows *sql.Rows) ([]process.Project, error) {
	out := make([]process.Project, 0)
	for rows.Next() {
		var (
			p       process.Project
			envJSON string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.WorkDir, &p.Entrypoint, &p.Interpreter, &envJSON,
			&p.AutoRestart, &p.ScheduleStart, &p.ScheduleStop, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if envJSON != "" {
			if err := json.Unmarshal([]byte(envJSON), &p.Env); err != nil {
				return nil, fmt.Errorf("project %s: decode env: %w", p.ID, err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func encodeEnv(env []string) (string, error) {
	if env == nil {
		env = []string{}
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type sqlStater interface{ SQLState() string }

// isUniqueViolation matches sqlite's constraint message and postgres 23505.
func isUniqueViolation(err error) bool {
	var st sqlStater
	if errors.As(err, &st) && st.SQLState() == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
