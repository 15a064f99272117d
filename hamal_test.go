package hamal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.sh"), []byte(body), 0o644))
	return dir
}

func TestSupervisorFacade(t *testing.T) {
	requireUnix(t)
	sup := NewSupervisor(SupervisorConfig{GracePeriod: 500 * time.Millisecond})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})

	var mu sync.Mutex
	var states []State
	sub := sup.Subscribe(Handlers{OnStatus: func(e StatusEvent) {
		mu.Lock()
		states = append(states, e.State)
		mu.Unlock()
	}})
	defer sub.Close()

	p := Project{ID: "facade", Name: "facade", WorkDir: writeScript(t, "sleep 5\n"), Entrypoint: "main.sh", Interpreter: "sh"}
	require.NoError(t, sup.Start(p))
	assert.ErrorIs(t, sup.Start(p), ErrAlreadyRunning)
	assert.Equal(t, Running, sup.Status("facade"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sup.StopWait(ctx, "facade"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 4
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []State{Starting, Running, Stopping, Stopped}, states)
	mu.Unlock()
}

func TestValidationErrorIsExported(t *testing.T) {
	sup := NewSupervisor(SupervisorConfig{})
	defer func() { _ = sup.Shutdown(context.Background()) }()
	err := sup.Start(Project{ID: "x", WorkDir: "/definitely/not/here", Entrypoint: "a.py", Interpreter: "python3"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestOpenAndRouter(t *testing.T) {
	requireUnix(t)
	t.Setenv("HAMAL_DATA_DIR", t.TempDir())
	t.Setenv("HAMAL_METRICS_ENABLED", "false")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	a, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	p := &Project{Name: "api", WorkDir: writeScript(t, "sleep 5\n"), Entrypoint: "main.sh", Interpreter: "sh"}
	require.NoError(t, a.Create(context.Background(), p))

	srv := httptest.NewServer(NewRouter(a, "/api").Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/api/projects/api")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestScanFacade(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte("console.log(1)\n"), 0o644))
	res, err := Scan(dir)
	require.NoError(t, err)
	assert.Equal(t, "index.js", res.Entrypoint)
	assert.Equal(t, "node", res.Interpreter)
}

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterMetrics(reg))
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		assert.True(t, strings.HasPrefix(mf.GetName(), "hamal_"), mf.GetName())
	}
}
