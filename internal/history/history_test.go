package history

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/hamalhq/hamal/internal/events"
	"github.com/hamalhq/hamal/internal/process"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memSink) got() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func TestFromStatus(t *testing.T) {
	code := 1
	now := time.Now()
	e := FromStatus(events.StatusEvent{
		ProjectID: "p", Name: "bot", Previous: process.Running, State: process.Crashed,
		Timestamp: now, PID: 7, ExitCode: &code, LastError: "boom",
	})
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "running", e.From)
	assert.Equal(t, "crashed", e.To)
	assert.Equal(t, 7, e.PID)
	assert.Equal(t, 1, *e.ExitCode)
	assert.Equal(t, "boom", e.LastError)
	assert.True(t, e.OccurredAt.Equal(now))
}

func TestRecorderFansOutAndSurvivesFailures(t *testing.T) {
	good := &memSink{}
	bad := &memSink{err: errors.New("down")}
	bus := events.NewBus(16, nil)
	defer func() { _ = bus.Close(context.Background()) }()

	r := NewRecorder([]Sink{bad, good}, time.Second, nil)
	r.Attach(bus)
	bus.PublishStatus(events.StatusEvent{ProjectID: "p", Previous: process.Stopped, State: process.Starting})
	bus.PublishStatus(events.StatusEvent{ProjectID: "p", Previous: process.Starting, State: process.Running})
	bus.PublishLog(events.LogEvent{ProjectID: "p"})

	require.Eventually(t, func() bool { return len(good.got()) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "starting", good.got()[0].To)
	assert.Equal(t, "running", good.got()[1].To)

	require.NoError(t, r.Close())
	assert.True(t, good.closed)
	assert.True(t, bad.closed)
}

func TestSQLSinkRoundTrip(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	s, err := NewSQLSink(context.Background(), db, SQLite)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	code := 137
	require.NoError(t, s.Send(ctx, Event{ID: "a", OccurredAt: time.Now(), ProjectID: "p", Name: "bot", From: "stopped", To: "starting"}))
	require.NoError(t, s.Send(ctx, Event{ID: "b", OccurredAt: time.Now(), ProjectID: "p", Name: "bot", From: "stopping", To: "stopped", ExitCode: &code}))
	require.NoError(t, s.Send(ctx, Event{ID: "c", OccurredAt: time.Now(), ProjectID: "other", From: "stopped", To: "starting"}))

	got, err := s.Query(ctx, "p", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	require.NotNil(t, got[0].ExitCode)
	assert.Equal(t, 137, *got[0].ExitCode)
	assert.Nil(t, got[1].ExitCode)
	assert.Empty(t, got[1].LastError)
}
