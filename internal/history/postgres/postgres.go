package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/hamalhq/hamal/internal/history"
)

// New creates a Postgres history sink and its table.
func New(dsn string) (*history.SQLSink, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := history.NewSQLSink(ctx, db, history.Postgres)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
