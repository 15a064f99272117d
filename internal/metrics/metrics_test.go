package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotentAndHelpersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	// idempotent: calling again should be no-op
	require.NoError(t, Register(reg))

	IncStart("a")
	IncStart("a")
	IncSpawnFailure("a")
	IncCrash("a")
	IncStop("a")
	IncKill("a")
	IncRestart("a")
	ObserveRunDuration("a", "crashed", 12)
	RecordStateTransition("a", "running", "crashed")
	SetCurrentState("a", "crashed", []string{"stopped", "running", "crashed"})
	SetUsage("a", 12.5, 1024)
	IncLogLine("a", "stdout")
	IncDecodeWarning("a")
	IncDroppedLogEvents()
	SetSubscribers(2)
	IncHistoryError("sqlite")

	assert.Equal(t, 2.0, testutil.ToFloat64(projectStarts.WithLabelValues("a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(currentStates.WithLabelValues("a", "crashed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(currentStates.WithLabelValues("a", "running")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(rssBytes.WithLabelValues("a")))
	assert.Equal(t, 2.0, testutil.ToFloat64(subscribers))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, n := range []string{
		"hamal_project_starts_total",
		"hamal_project_crashes_total",
		"hamal_project_run_duration_seconds",
		"hamal_output_lines_total",
		"hamal_events_dropped_log_events_total",
		"hamal_history_send_errors_total",
	} {
		assert.True(t, names[n], "missing metric %s", n)
	}

	ForgetProject("a")
	assert.Equal(t, 0, testutil.CollectAndCount(projectStarts))
}

func TestHandlerForServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "hamal_test_total", Help: "t"})
	reg.MustRegister(c)
	c.Inc()

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(b), "hamal_test_total 1"))
}
