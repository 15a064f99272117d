package clickhouse

import (
	"context"
	"testing"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hamalhq/hamal/internal/history"
)

// setupClickHouse starts a ClickHouse container and returns its native address.
func setupClickHouse(ctx context.Context, t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	c, err := tcclickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		tcclickhouse.WithUsername("default"),
		tcclickhouse.WithPassword(""),
		tcclickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start ClickHouse container: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "9000")
	require.NoError(t, err)
	return host + ":" + port.Port()
}

func TestClickHouseSinkIntegration(t *testing.T) {
	ctx := context.Background()
	addr := setupClickHouse(ctx, t)

	sink, err := Open("clickhouse://default:@" + addr + "/default?table=hamal_history")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	code := 1
	evs := []history.Event{
		{ID: "1", OccurredAt: time.Now().UTC(), ProjectID: "p1", Name: "bot", From: "stopped", To: "starting"},
		{ID: "2", OccurredAt: time.Now().UTC(), ProjectID: "p1", Name: "bot", From: "running", To: "crashed", PID: 42, ExitCode: &code, LastError: "exited with code 1"},
	}
	for _, e := range evs {
		require.NoError(t, sink.Send(ctx, e))
	}
	n, err := sink.Count(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestClickHouseConnectionError(t *testing.T) {
	_, err := New(&ch.Options{Addr: []string{"127.0.0.1:1"}, DialTimeout: 200 * time.Millisecond}, "")
	assert.Error(t, err)
}

func TestInvalidTableName(t *testing.T) {
	_, err := New(&ch.Options{Addr: []string{"127.0.0.1:1"}}, "x; DROP TABLE y")
	assert.ErrorContains(t, err, "invalid clickhouse table name")
}
