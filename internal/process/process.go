package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Process is the OS handle of one spawned child. Its output pipes are owned
// by the caller's readers; Wait must be called exactly once.
type Process struct {
	cmd       *exec.Cmd
	stdout    *os.File
	stderr    *os.File
	pid       int
	startedAt time.Time
}

// ExitStatus is the outcome of a finished child.
type ExitStatus struct {
	Code   int    // exit code, 128+N when killed by signal N
	Signal string // name of the terminating signal, empty on a normal exit
}

func (s ExitStatus) String() string {
	if s.Signal != "" {
		return fmt.Sprintf("killed by %s (code %d)", s.Signal, s.Code)
	}
	return fmt.Sprintf("exited with code %d", s.Code)
}

// Spawn starts the resolved command with its own pipes for stdout and stderr.
// The pipes are created with os.Pipe instead of cmd.StdoutPipe so that Wait
// does not close them before the readers drain them.
func Spawn(c Command, env []string) (*Process, error) {
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %w", ErrSpawn, err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = outR.Close()
		_ = outW.Close()
		return nil, fmt.Errorf("%w: stderr pipe: %w", ErrSpawn, err)
	}

	// #nosec G204 -- the interpreter and entrypoint come from a validated project
	cmd := exec.Command(c.Interpreter, c.Entrypoint)
	cmd.Dir = c.Dir
	cmd.Env = TextEnv(env)
	cmd.Stdout = outW
	cmd.Stderr = errW
	configureSysProcAttr(cmd)

	startErr := cmd.Start()
	// the child owns its copies of the write ends now
	_ = outW.Close()
	_ = errW.Close()
	if startErr != nil {
		_ = outR.Close()
		_ = errR.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawn, c.Interpreter, startErr)
	}
	return &Process{
		cmd:       cmd,
		stdout:    outR,
		stderr:    errR,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
	}, nil
}

func (p *Process) PID() int { return p.pid }

func (p *Process) StartedAt() time.Time { return p.startedAt }

// Stdout returns the read end of the child's stdout pipe.
func (p *Process) Stdout() io.ReadCloser { return p.stdout }

// Stderr returns the read end of the child's stderr pipe.
func (p *Process) Stderr() io.ReadCloser { return p.stderr }

// Wait blocks until the child exits. An error is returned only when the exit
// status could not be obtained at all.
func (p *Process) Wait() (ExitStatus, error) {
	err := p.cmd.Wait()
	ps := p.cmd.ProcessState
	if ps == nil {
		if err == nil {
			err = errors.New("no process state")
		}
		return ExitStatus{Code: -1}, err
	}
	st := ExitStatus{Code: ps.ExitCode()}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		st.Signal = signalName(ws.Signal())
		st.Code = 128 + int(ws.Signal())
	}
	return st, nil
}

// Terminate asks the child's process group to exit.
func (p *Process) Terminate() error { return terminate(p.pid) }

// Kill forcibly ends the child's process group.
func (p *Process) Kill() error { return kill(p.pid) }

// CloseOutput closes both read ends. Readers blocked on them return.
func (p *Process) CloseOutput() {
	_ = p.stdout.Close()
	_ = p.stderr.Close()
}

// TextEnv forces the child to produce UTF-8 text streams without buffering.
func TextEnv(env []string) []string {
	forced := map[string]string{
		"PYTHONIOENCODING": "utf-8",
		"PYTHONUTF8":       "1",
		"PYTHONUNBUFFERED": "1",
	}
	out := make([]string, 0, len(env)+len(forced)+1)
	hasLang := false
	for _, kv := range env {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := forced[k]; ok {
			continue
		}
		if k == "LANG" || k == "LC_ALL" {
			hasLang = true
		}
		out = append(out, kv)
	}
	for _, k := range []string{"PYTHONIOENCODING", "PYTHONUTF8", "PYTHONUNBUFFERED"} {
		out = append(out, k+"="+forced[k])
	}
	if !hasLang {
		out = append(out, "LANG=C.UTF-8")
	}
	return out
}
