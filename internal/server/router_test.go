package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamalhq/hamal/internal/app"
	"github.com/hamalhq/hamal/internal/config"
	"github.com/hamalhq/hamal/internal/logstore"
	"github.com/hamalhq/hamal/internal/process"
)

func setupRouter(t *testing.T) (*app.App, http.Handler) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh on Unix-like systems")
	}
	gin.SetMode(gin.TestMode)
	t.Setenv("HAMAL_DATA_DIR", t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Supervisor.GracePeriod = 500 * time.Millisecond
	cfg.Supervisor.DrainTimeout = 200 * time.Millisecond
	cfg.Metrics.Enabled = false
	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})
	return a, NewRouter(a, "/api").Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func shProject(t *testing.T, name, script string) process.Project {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.sh"), []byte(script), 0o644))
	return process.Project{Name: name, WorkDir: dir, Entrypoint: "main.sh", Interpreter: "sh"}
}

const loop = "echo up\nwhile true; do sleep 0.05; done\n"

func TestProjectLifecycle(t *testing.T) {
	a, h := setupRouter(t)

	rec := doReq(t, h, http.MethodPost, "/api/projects", shProject(t, "web", loop))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[app.View](t, rec)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, process.Stopped, created.Info.State)

	rec = doReq(t, h, http.MethodPost, "/api/projects/web/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, process.Running, decode[app.View](t, rec).Info.State)

	rec = doReq(t, h, http.MethodPost, "/api/projects/"+created.ID+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Eventually(t, func() bool {
		rec := doReq(t, h, http.MethodGet, "/api/projects/web/logs?tail=1", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var lines []logstore.Line
		_ = json.Unmarshal(rec.Body.Bytes(), &lines)
		return len(lines) == 1 && lines[0].Text == "up"
	}, 2*time.Second, 10*time.Millisecond)

	rec = doReq(t, h, http.MethodGet, "/api/projects/web/usage", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doReq(t, h, http.MethodDelete, "/api/projects/web", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doReq(t, h, http.MethodPost, "/api/projects/web/stop?wait=5s", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, process.Stopped, decode[app.View](t, rec).Info.State)

	rec = doReq(t, h, http.MethodDelete, "/api/projects/web", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = doReq(t, h, http.MethodGet, "/api/projects/web", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, process.Stopped, a.Supervisor.Status(created.ID))
}

func TestCreateRejectsBadInput(t *testing.T) {
	_, h := setupRouter(t)

	rec := doReq(t, h, http.MethodPost, "/api/projects", "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	p := shProject(t, "rel", loop)
	p.WorkDir = "relative/dir"
	rec = doReq(t, h, http.MethodPost, "/api/projects", p)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	p = shProject(t, "badid", loop)
	p.ID = "../escape"
	rec = doReq(t, h, http.MethodPost, "/api/projects", p)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	p = shProject(t, "cron", loop)
	p.ScheduleStart = "not a cron"
	rec = doReq(t, h, http.MethodPost, "/api/projects", p)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResp](t, rec).Error, "schedule_start")

	rec = doReq(t, h, http.MethodPost, "/api/projects", shProject(t, "dup", loop))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doReq(t, h, http.MethodPost, "/api/projects", shProject(t, "dup", loop))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartValidationFailure(t *testing.T) {
	_, h := setupRouter(t)
	p := shProject(t, "gone", loop)
	p.Entrypoint = "missing.sh"
	rec := doReq(t, h, http.MethodPost, "/api/projects", p)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doReq(t, h, http.MethodPost, "/api/projects/gone/start", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResp](t, rec).Error, "missing.sh")
}

func TestUpdateKeepsIdentity(t *testing.T) {
	_, h := setupRouter(t)
	rec := doReq(t, h, http.MethodPost, "/api/projects", shProject(t, "svc", loop))
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[app.View](t, rec)

	p := shProject(t, "svc-renamed", loop)
	p.AutoRestart = true
	rec = doReq(t, h, http.MethodPut, "/api/projects/svc", p)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[app.View](t, rec)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "svc-renamed", updated.Name)
	assert.True(t, updated.AutoRestart)

	rec = doReq(t, h, http.MethodPut, "/api/projects/nope", p)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListStatusAndBulk(t *testing.T) {
	_, h := setupRouter(t)
	for _, n := range []string{"b", "a"} {
		rec := doReq(t, h, http.MethodPost, "/api/projects", shProject(t, n, loop))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doReq(t, h, http.MethodGet, "/api/projects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	views := decode[[]app.View](t, rec)
	require.Len(t, views, 2)
	assert.Equal(t, "a", views[0].Name)

	rec = doReq(t, h, http.MethodPost, "/api/start-all", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = doReq(t, h, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"running"`)

	rec = doReq(t, h, http.MethodPost, "/api/stop-all", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestScanAndSchedules(t *testing.T) {
	_, h := setupRouter(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('hi')\n"), 0o644))

	rec := doReq(t, h, http.MethodPost, "/api/scan", scanReq{Path: dir})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "main.py")

	rec = doReq(t, h, http.MethodPost, "/api/scan", scanReq{Path: "rel"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	p := shProject(t, "nightly", loop)
	p.ScheduleStart = "0 3 * * *"
	rec = doReq(t, h, http.MethodPost, "/api/projects", p)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = doReq(t, h, http.MethodGet, "/api/schedules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "0 3 * * *")
}

func TestLogsRejectsBadTail(t *testing.T) {
	_, h := setupRouter(t)
	rec := doReq(t, h, http.MethodGet, "/api/projects/x/logs?tail=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doReq(t, h, http.MethodGet, "/api/projects/x/logs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := setupRouter(t)
	rec := doReq(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// gin's Stream needs a real connection, so this runs over httptest.Server.
func TestEventsStream(t *testing.T) {
	a, h := setupRouter(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	p := shProject(t, "streamed", "echo hello\nsleep 5\n")
	require.NoError(t, a.Create(context.Background(), &p))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?project=streamed&logs=1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sc := bufio.NewScanner(resp.Body)
	started := false
	var seen []string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event:") {
			seen = append(seen, strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		}
		if !started && line == "event:ready" {
			started = true
			_, err := a.Start(context.Background(), "streamed")
			require.NoError(t, err)
		}
		if strings.HasPrefix(line, "data:") && strings.Contains(line, `"hello"`) {
			break
		}
	}
	assert.Contains(t, seen, "status")
	assert.Contains(t, seen, "log")
}
