package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	pg := &SQL{dialect: Postgres}
	assert.Equal(t, "SELECT a FROM t WHERE x=$1 AND y=$2", pg.rebind("SELECT a FROM t WHERE x=? AND y=?"))
	lite := &SQL{dialect: SQLite}
	assert.Equal(t, "x=?", lite.rebind("x=?"))
}

type stateErr string

func (e stateErr) Error() string    { return "pg error" }
func (e stateErr) SQLState() string { return string(e) }

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: projects.name (2067)")))
	assert.True(t, isUniqueViolation(stateErr("23505")))
	assert.False(t, isUniqueViolation(stateErr("23503")))
	assert.False(t, isUniqueViolation(errors.New("disk I/O error")))
}

func TestEncodeEnv(t *testing.T) {
	s, err := encodeEnv(nil)
	assert.NoError(t, err)
	assert.Equal(t, "[]", s)
	s, err = encodeEnv([]string{"A=1"})
	assert.NoError(t, err)
	assert.Equal(t, `["A=1"]`, s)
}
