package postgres

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/hamalhq/hamal/internal/registry"
)

// New opens a Postgres registry through the pgx stdlib driver.
func New(dsn string) (*registry.SQL, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return registry.NewSQL(d, registry.Postgres), nil
}
