package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lj "gopkg.in/natefinch/lumberjack.v2"

	"github.com/hamalhq/hamal/internal/logstore"
)

const banner = "=============================================================="

// RunLog appends the captured output of one project to a rotating file,
// with a banner at the beginning and end of every run.
type RunLog struct {
	mu  sync.Mutex
	w   *lj.Logger
	err error
}

func safeName(id string) bool {
	return id != "" && id != "." && !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}

// RunLogPath is the active log file of a project.
func (c Config) RunLogPath(projectID string) string {
	return filepath.Join(c.File.Dir, projectID, "run.log")
}

// OpenRunLog returns the run log of a project, or nil when run logs are
// disabled.
func (c Config) OpenRunLog(projectID string) (*RunLog, error) {
	if c.File.Dir == "" {
		return nil, nil
	}
	if !safeName(projectID) {
		return nil, fmt.Errorf("run log: invalid project id %q", projectID)
	}
	p := c.RunLogPath(projectID)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return nil, fmt.Errorf("run log dir: %w", err)
	}
	return &RunLog{w: c.rotating(p)}, nil
}

// RunLogFiles lists the active and rotated run logs of a project, newest first.
func (c Config) RunLogFiles(projectID string) ([]string, error) {
	if c.File.Dir == "" {
		return nil, nil
	}
	if !safeName(projectID) {
		return nil, fmt.Errorf("run log: invalid project id %q", projectID)
	}
	dir := filepath.Dir(c.RunLogPath(projectID))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type f struct {
		path string
		mod  time.Time
	}
	var files []f
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "run") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, f{filepath.Join(dir, e.Name()), info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.After(files[j].mod) })
	out := make([]string, len(files))
	for i, x := range files {
		out[i] = x.path
	}
	return out, nil
}

// Begin writes the start banner of a run.
func (r *RunLog) Begin(at time.Time, name, id string, pid int, args []string) {
	r.printf("%s\nRun started: %s\nProject: %s (%s)\nCommand: %s\nPID: %d\n%s\n",
		banner, at.Format(time.RFC3339), name, id, strings.Join(args, " "), pid, banner)
}

// Line appends one captured output line as "15:04:05 [OUT] text".
func (r *RunLog) Line(l logstore.Line) {
	r.printf("%s [%s] %s\n", l.Timestamp.Format("15:04:05"), l.Stream.Tag(), l.Text)
}

// End writes the closing banner of a run.
func (r *RunLog) End(at time.Time, state, detail string) {
	if detail != "" {
		state += ": " + detail
	}
	r.printf("%s\nRun ended: %s (%s)\n%s\n\n", banner, at.Format(time.RFC3339), state, banner)
}

func (r *RunLog) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return
	}
	if _, err := fmt.Fprintf(r.w, format, args...); err != nil && r.err == nil {
		r.err = err
	}
}

// Err returns the first write error, if any.
func (r *RunLog) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *RunLog) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	err := r.w.Close()
	r.w = nil
	return err
}
