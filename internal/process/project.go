package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Project is the registry record a supervisor runs. The supervisor only reads it.
type Project struct {
	ID          string   `json:"id" mapstructure:"id"`
	Name        string   `json:"name" mapstructure:"name"`
	WorkDir     string   `json:"work_dir" mapstructure:"work_dir"`
	Entrypoint  string   `json:"entrypoint" mapstructure:"entrypoint"`
	Interpreter string   `json:"interpreter" mapstructure:"interpreter"`
	Env         []string `json:"env,omitempty" mapstructure:"env"`

	AutoRestart   bool   `json:"auto_restart,omitempty" mapstructure:"auto_restart"`
	ScheduleStart string `json:"schedule_start,omitempty" mapstructure:"schedule_start"`
	ScheduleStop  string `json:"schedule_stop,omitempty" mapstructure:"schedule_stop"`

	CreatedAt time.Time `json:"created_at,omitempty" mapstructure:"-"`
	UpdatedAt time.Time `json:"updated_at,omitempty" mapstructure:"-"`
}

// DisplayName falls back to the id for unnamed projects.
func (p Project) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// SafeID reports whether id can name a file or directory of its own. Run logs
// live under <dir>/<id>.
func SafeID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..") && id != "."
}

// Command holds the resolved argv and working directory of a project.
type Command struct {
	Interpreter string
	Entrypoint  string
	Dir         string
}

// Args returns the argv passed to the OS.
func (c Command) Args() []string { return []string{c.Interpreter, c.Entrypoint} }

// Validate checks that the project can be spawned.
func (p Project) Validate() error {
	_, err := p.Resolve()
	return err
}

// Resolve turns the project paths into absolute ones.
// A relative entrypoint is taken relative to WorkDir. An interpreter without a
// path separator is looked up in PATH, a relative one with a separator is
// taken relative to WorkDir.
func (p Project) Resolve() (Command, error) {
	if strings.TrimSpace(p.ID) == "" {
		return Command{}, &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if !SafeID(p.ID) {
		return Command{}, &ValidationError{ProjectID: p.ID, Field: "id", Reason: "must not contain path separators or .."}
	}
	fail := func(field, path, reason string) (Command, error) {
		return Command{}, &ValidationError{ProjectID: p.ID, Field: field, Path: path, Reason: reason}
	}

	if p.WorkDir == "" {
		return fail("work_dir", "", "must not be empty")
	}
	dir, err := filepath.Abs(p.WorkDir)
	if err != nil {
		return fail("work_dir", p.WorkDir, err.Error())
	}
	if fi, err := os.Stat(dir); err != nil {
		return fail("work_dir", dir, "does not exist")
	} else if !fi.IsDir() {
		return fail("work_dir", dir, "not a directory")
	}

	if p.Entrypoint == "" {
		return fail("entrypoint", "", "must not be empty")
	}
	entry := p.Entrypoint
	if !filepath.IsAbs(entry) {
		entry = filepath.Join(dir, entry)
	}
	if err := requireFile(entry); err != nil {
		return fail("entrypoint", entry, err.Error())
	}

	if p.Interpreter == "" {
		return fail("interpreter", "", "must not be empty")
	}
	interp := p.Interpreter
	switch {
	case filepath.IsAbs(interp):
	case strings.ContainsAny(interp, `/\`):
		interp = filepath.Join(dir, interp)
	default:
		lp, err := exec.LookPath(interp)
		if err != nil {
			return fail("interpreter", interp, "not found in PATH")
		}
		interp = lp
	}
	if err := requireFile(interp); err != nil {
		return fail("interpreter", interp, err.Error())
	}

	return Command{Interpreter: interp, Entrypoint: entry, Dir: dir}, nil
}

type fileError string

func (e fileError) Error() string { return string(e) }

func requireFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fileError("does not exist")
	}
	if fi.IsDir() {
		return fileError("is a directory")
	}
	return nil
}
