package factory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamalhq/hamal/internal/history"
	"github.com/hamalhq/hamal/internal/history/opensearch"
)

func TestNewSinkFromDSN(t *testing.T) {
	dir := t.TempDir()

	s, err := NewSinkFromDSN(filepath.Join(dir, "h.db"))
	require.NoError(t, err)
	assert.IsType(t, &history.SQLSink{}, s)
	_ = s.Close()

	s, err = NewSinkFromDSN("sqlite://" + filepath.Join(dir, "h2.db"))
	require.NoError(t, err)
	_ = s.Close()

	s, err = NewSinkFromDSN("opensearch://localhost:9200/idx")
	require.NoError(t, err)
	assert.IsType(t, &opensearch.Sink{}, s)

	_, err = NewSinkFromDSN("")
	assert.Error(t, err)
	_, err = NewSinkFromDSN("kafka://broker:9092")
	assert.ErrorContains(t, err, "unsupported DSN format")
}

func TestNewSinksClosesOnFailure(t *testing.T) {
	_, err := NewSinks([]string{filepath.Join(t.TempDir(), "ok.db"), "bogus://x"})
	assert.Error(t, err)

	sinks, err := NewSinks(nil)
	require.NoError(t, err)
	assert.Empty(t, sinks)
}
