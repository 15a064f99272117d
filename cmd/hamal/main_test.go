package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamalhq/hamal/internal/app"
	"github.com/hamalhq/hamal/internal/config"
	"github.com/hamalhq/hamal/internal/server"
)

// daemon runs an in-process API and returns its base URL.
func daemon(t *testing.T) string {
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
	srv := httptest.NewServer(server.NewRouter(a, "/api").Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(ctx)
		srv.Close()
	})
	return srv.URL + "/api"
}

func run(t *testing.T, api string, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--api-url", api}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func projectDir(t *testing.T, script string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "bot")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.sh"), []byte(script), 0o644))
	return dir
}

func TestHelp(t *testing.T) {
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--help"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "hamal serve")
	for _, name := range []string{"serve", "project", "start", "stop", "logs", "events"} {
		c, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}
}

func TestDaemonUnreachable(t *testing.T) {
	_, err := run(t, "http://127.0.0.1:1/api", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon not reachable")
}

func TestProjectWorkflow(t *testing.T) {
	api := daemon(t)
	dir := projectDir(t, "echo started\nwhile true; do sleep 0.05; done\n")

	out, err := run(t, api, "project", "add", dir, "--entrypoint", "main.sh", "--interpreter", "sh")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Added bot")

	out, err = run(t, api, "project", "list")
	require.NoError(t, err, out)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "bot")
	assert.Contains(t, out, "stopped")

	out, err = run(t, api, "start", "bot")
	require.NoError(t, err, out)
	assert.Contains(t, out, "bot: running (pid ")

	_, err = run(t, api, "start", "bot")
	assert.Error(t, err)

	require.Eventually(t, func() bool {
		out, err := run(t, api, "logs", "bot", "--tail", "1")
		return err == nil && bytes.Contains([]byte(out), []byte("[OUT] started"))
	}, 3*time.Second, 20*time.Millisecond)

	out, err = run(t, api, "project", "rm", "bot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	out, err = run(t, api, "stop", "bot", "--wait", "5s")
	require.NoError(t, err, out)
	assert.Contains(t, out, "bot: stopped")

	out, err = run(t, api, "project", "edit", "bot", "--auto-restart")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Auto restart:")

	out, err = run(t, api, "project", "rm", "bot")
	require.NoError(t, err, out)
	_, err = run(t, api, "status", "bot")
	assert.Error(t, err)
}

func TestStatusJSON(t *testing.T) {
	api := daemon(t)
	dir := projectDir(t, "exit 3\n")
	_, err := run(t, api, "project", "add", dir, "--name", "failing", "--entrypoint", "main.sh", "--interpreter", "sh")
	require.NoError(t, err)
	_, err = run(t, api, "start", "failing")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		out, err := run(t, api, "--json", "status", "failing")
		return err == nil && bytes.Contains([]byte(out), []byte(`"state": "crashed"`))
	}, 3*time.Second, 20*time.Millisecond)

	out, err := run(t, api, "status", "failing")
	require.NoError(t, err)
	assert.Contains(t, out, "Exit code:")
	assert.Contains(t, out, "exited with code 3")
}

func TestScanCommand(t *testing.T) {
	api := daemon(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte("print(1)\n"), 0o644))
	out, err := run(t, api, "project", "scan", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "app.py")
	assert.Contains(t, out, "python")
}

func TestSchedulesCommand(t *testing.T) {
	api := daemon(t)
	out, err := run(t, api, "schedules")
	require.NoError(t, err)
	assert.Contains(t, out, "No schedules registered")

	dir := projectDir(t, "sleep 1\n")
	_, err = run(t, api, "project", "add", dir, "--entrypoint", "main.sh", "--interpreter", "sh", "--schedule-stop", "@daily")
	require.NoError(t, err)
	out, err = run(t, api, "schedules")
	require.NoError(t, err)
	assert.Contains(t, out, "@daily")
	assert.Contains(t, out, "stop")
}

func TestServeLockAndShutdown(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix only")
	}
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "hamal.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
data_dir = "`+dir+`"

[server]
listen = "127.0.0.1:0"

[metrics]
enabled = false
`), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfgPath, &ServeFlags{}) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "hamal.db"))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	// a second daemon on the same data dir is refused
	err := runServe(context.Background(), cfgPath, &ServeFlags{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return")
	}
}
