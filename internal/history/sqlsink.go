package history

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect selects placeholders and DDL of a SQLSink.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// SQLSink appends events to the project_history table of a relational
// database. The schema is created by NewSQLSink.
type SQLSink struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLSink wraps an open database and ensures the schema.
func NewSQLSink(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLSink, error) {
	s := &SQLSink{db: db, dialect: dialect}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) ensureSchema(ctx context.Context) error {
	id, ts := "INTEGER PRIMARY KEY AUTOINCREMENT", "TIMESTAMP"
	if s.dialect == Postgres {
		id, ts = "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS project_history(
			id ` + id + `,
			event_id TEXT NOT NULL,
			occurred_at ` + ts + ` NOT NULL,
			project_id TEXT NOT NULL,
			name TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			pid INTEGER NOT NULL,
			exit_code INTEGER NULL,
			last_error TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_project_history_project ON project_history(project_id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("history schema: %w", err)
		}
	}
	return nil
}

func (s *SQLSink) Send(ctx context.Context, e Event) error {
	q := `INSERT INTO project_history(event_id, occurred_at, project_id, name, from_state, to_state, pid, exit_code, last_error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`
	if s.dialect == Postgres {
		q = `INSERT INTO project_history(event_id, occurred_at, project_id, name, from_state, to_state, pid, exit_code, last_error)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9);`
	}
	var code, lastErr any
	if e.ExitCode != nil {
		code = *e.ExitCode
	}
	if e.LastError != "" {
		lastErr = e.LastError
	}
	_, err := s.db.ExecContext(ctx, q, e.ID, e.OccurredAt.UTC(), e.ProjectID, e.Name, e.From, e.To, e.PID, code, lastErr)
	return err
}

// Query returns the newest events of a project, newest first.
func (s *SQLSink) Query(ctx context.Context, projectID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT event_id, occurred_at, project_id, name, from_state, to_state, pid, exit_code, last_error
		FROM project_history WHERE project_id=? ORDER BY id DESC LIMIT ?;`
	if s.dialect == Postgres {
		q = `SELECT event_id, occurred_at, project_id, name, from_state, to_state, pid, exit_code, last_error
		FROM project_history WHERE project_id=$1 ORDER BY id DESC LIMIT $2;`
	}
	rows, err := s.db.QueryContext(ctx, q, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]Event, 0)
	for rows.Next() {
		var (
			e       Event
			code    sql.NullInt64
			lastErr sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.ProjectID, &e.Name, &e.From, &e.To, &e.PID, &code, &lastErr); err != nil {
			return nil, err
		}
		if code.Valid {
			c := int(code.Int64)
			e.ExitCode = &c
		}
		e.LastError = lastErr.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLSink) Close() error { return s.db.Close() }
