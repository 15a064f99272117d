package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamalhq/hamal/internal/logstore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(LevelError))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNewSloggerFormats(t *testing.T) {
	var buf bytes.Buffer
	Config{Slog: SlogConfig{Level: LevelInfo, Format: FormatJSON}}.NewSloggerTo(&buf).Info("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.NotContains(t, buf.String(), `"time"`)

	buf.Reset()
	l := Config{Slog: SlogConfig{Level: LevelWarn, TimeStamps: true}}.NewSloggerTo(&buf)
	l.Info("dropped")
	l.Warn("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "msg=kept")
	assert.Contains(t, buf.String(), "time=")
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	l := Config{Slog: SlogConfig{Level: LevelDebug, Color: true}}.NewSloggerTo(&buf)
	l.With("component", "test").Error("bad")
	l.WithGroup("g").Info("fine", "k", 1)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "\033[31mERROR\033[0m "), lines[0])
	assert.Contains(t, lines[0], "msg=bad")
	assert.Contains(t, lines[0], "component=test")
	assert.NotContains(t, lines[0], `\x1b`)
	assert.True(t, strings.HasPrefix(lines[1], "\033[32mINFO\033[0m "), lines[1])
	assert.Contains(t, lines[1], "g.k=1")
}

func TestNewSloggerToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hamal.log")
	l := Config{Slog: SlogConfig{File: path, Color: true}}.NewSlogger()
	l.Info("to file")
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "to file")
	assert.NotContains(t, string(b), "\033[")
}

func TestRunLogDisabledWithoutDir(t *testing.T) {
	rl, err := Config{}.OpenRunLog("p1")
	require.NoError(t, err)
	assert.Nil(t, rl)
	files, err := Config{}.RunLogFiles("p1")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRunLogRejectsEscapingIDs(t *testing.T) {
	root := t.TempDir()
	cfg := Config{File: FileConfig{Dir: filepath.Join(root, "logs")}}
	for _, id := range []string{"../escaped", "a/b", `a\b`, "..", ""} {
		rl, err := cfg.OpenRunLog(id)
		assert.Error(t, err, id)
		assert.Nil(t, rl)
		_, err = cfg.RunLogFiles(id)
		assert.Error(t, err, id)
	}
	_, err := os.Stat(filepath.Join(root, "escaped"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunLogWritesBannersAndLines(t *testing.T) {
	cfg := Config{File: FileConfig{Dir: t.TempDir()}}
	rl, err := cfg.OpenRunLog("p1")
	require.NoError(t, err)
	require.NotNil(t, rl)

	at := time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC)
	rl.Begin(at, "bot", "p1", 42, []string{"/usr/bin/python3", "/srv/bot/main.py"})
	rl.Line(logstore.Line{Timestamp: at, Stream: logstore.Stdout, Text: "hello"})
	rl.Line(logstore.Line{Timestamp: at.Add(time.Second), Stream: logstore.Stderr, Text: "oops"})
	rl.End(at.Add(2*time.Second), "crashed", "exited with code 1")
	require.NoError(t, rl.Err())
	require.NoError(t, rl.Close())
	require.NoError(t, rl.Close())

	b, err := os.ReadFile(cfg.RunLogPath("p1"))
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, "Project: bot (p1)")
	assert.Contains(t, out, "Command: /usr/bin/python3 /srv/bot/main.py")
	assert.Contains(t, out, "PID: 42")
	assert.Contains(t, out, "10:20:30 [OUT] hello\n")
	assert.Contains(t, out, "10:20:31 [ERR] oops\n")
	assert.Contains(t, out, "(crashed: exited with code 1)")
	assert.True(t, strings.Index(out, "Run started") < strings.Index(out, "Run ended"))

	files, err := cfg.RunLogFiles("p1")
	require.NoError(t, err)
	assert.Equal(t, []string{cfg.RunLogPath("p1")}, files)
}
