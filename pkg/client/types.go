package client

import "time"

// Project is a stored project definition.
type Project struct {
	ID            string    `json:"id,omitempty"`
	Name          string    `json:"name"`
	WorkDir       string    `json:"work_dir"`
	Entrypoint    string    `json:"entrypoint,omitempty"`
	Interpreter   string    `json:"interpreter,omitempty"`
	Env           []string  `json:"env,omitempty"`
	AutoRestart   bool      `json:"auto_restart,omitempty"`
	ScheduleStart string    `json:"schedule_start,omitempty"`
	ScheduleStop  string    `json:"schedule_stop,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// Info is the live record of a project.
type Info struct {
	ProjectID     string     `json:"project_id"`
	Name          string     `json:"name,omitempty"`
	State         string     `json:"state"`
	PID           int        `json:"pid,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
	UptimeSeconds float64    `json:"uptime_seconds,omitempty"`
	ExitCode      *int       `json:"exit_code,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	Runs          int        `json:"runs"`
	LogLines      int        `json:"log_lines"`
}

// ProjectView is a project together with its live record.
type ProjectView struct {
	Project
	Info Info `json:"info"`
}

// LogLine is one captured output line.
type LogLine struct {
	Timestamp time.Time `json:"timestamp"`
	Stream    string    `json:"stream"`
	Text      string    `json:"text"`
}

// Usage is a resource sample of a running project.
type Usage struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads,omitempty"`
}

// ScanResult is what the daemon detected in a folder.
type ScanResult struct {
	Entrypoint  string  `json:"entrypoint,omitempty"`
	Interpreter string  `json:"interpreter,omitempty"`
	Language    string  `json:"language,omitempty"`
	Confidence  float64 `json:"confidence"`
	Source      string  `json:"source,omitempty"`
}

// ScheduleEntry is one registered cron entry.
type ScheduleEntry struct {
	ProjectID string    `json:"project_id"`
	Action    string    `json:"action"`
	Spec      string    `json:"spec"`
	Next      time.Time `json:"next"`
}

// StatusEvent reports a state transition.
type StatusEvent struct {
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name,omitempty"`
	Previous  string    `json:"previous"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	PID       int       `json:"pid,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// LogEvent carries one output line of a project.
type LogEvent struct {
	ProjectID string  `json:"project_id"`
	Line      LogLine `json:"line"`
}

// Event is one item of the event stream. Exactly one of Status and Log is set.
type Event struct {
	Status *StatusEvent `json:"status,omitempty"`
	Log    *LogEvent    `json:"log,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
