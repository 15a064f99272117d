// Package client talks to a hamal daemon over its HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client provides HTTP client functionality to communicate with the hamal daemon
type Client struct {
	baseURL string
	client  *http.Client
	stream  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for a daemon behind a TLS proxy.
type TLSClientConfig struct {
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// APIError is a non-2xx answer of the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

// IsConflict reports whether err is a 409 from the daemon.
func IsConflict(err error) bool { return hasStatus(err, http.StatusConflict) }

func hasStatus(err error, code int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == code
}

// New creates a new hamal API client
func New(config Config) (*Client, error) {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.TLS != nil || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			return nil, fmt.Errorf("TLS setup: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
		// the event stream is open-ended
		stream: &http.Client{Transport: transport},
	}, nil
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	isReachable := resp.StatusCode == http.StatusOK
	c.logger.Debug("Daemon reachability check", "reachable", isReachable, "status", resp.StatusCode)
	return isReachable
}

func projectPath(ref, action string) string {
	p := "/projects/" + url.PathEscape(ref)
	if action != "" {
		p += "/" + action
	}
	return p
}

// ListProjects returns all projects ordered by name.
func (c *Client) ListProjects(ctx context.Context) ([]ProjectView, error) {
	var out []ProjectView
	return out, c.doJSON(ctx, http.MethodGet, "/projects", nil, &out)
}

// GetProject returns a project by id or name.
func (c *Client) GetProject(ctx context.Context, ref string) (ProjectView, error) {
	var out ProjectView
	return out, c.doJSON(ctx, http.MethodGet, projectPath(ref, ""), nil, &out)
}

// CreateProject stores a project. Empty entrypoint or interpreter are
// detected by the daemon.
func (c *Client) CreateProject(ctx context.Context, p Project) (ProjectView, error) {
	c.logger.Debug("Creating project", "name", p.Name, "work_dir", p.WorkDir)
	var out ProjectView
	return out, c.doJSON(ctx, http.MethodPost, "/projects", p, &out)
}

// UpdateProject replaces the definition of an existing project.
func (c *Client) UpdateProject(ctx context.Context, ref string, p Project) (ProjectView, error) {
	var out ProjectView
	return out, c.doJSON(ctx, http.MethodPut, projectPath(ref, ""), p, &out)
}

// DeleteProject removes a project that is not active.
func (c *Client) DeleteProject(ctx context.Context, ref string) error {
	return c.doJSON(ctx, http.MethodDelete, projectPath(ref, ""), nil, nil)
}

// Start starts a project.
func (c *Client) Start(ctx context.Context, ref string) (ProjectView, error) {
	var out ProjectView
	return out, c.doJSON(ctx, http.MethodPost, projectPath(ref, "start"), nil, &out)
}

// Stop asks a project to stop. With wait > 0 the daemon holds the answer
// until the project has exited or wait elapsed.
func (c *Client) Stop(ctx context.Context, ref string, wait time.Duration) (ProjectView, error) {
	p := projectPath(ref, "stop")
	if wait > 0 {
		p += "?wait=" + url.QueryEscape(wait.String())
	}
	var out ProjectView
	return out, c.doJSON(ctx, http.MethodPost, p, nil, &out)
}

// Restart stops a project, waits for it and starts it again.
func (c *Client) Restart(ctx context.Context, ref string) (ProjectView, error) {
	var out ProjectView
	return out, c.doJSON(ctx, http.MethodPost, projectPath(ref, "restart"), nil, &out)
}

// Logs returns the newest tail lines of the current or last run; tail <= 0 returns all.
func (c *Client) Logs(ctx context.Context, ref string, tail int) ([]LogLine, error) {
	p := projectPath(ref, "logs")
	if tail > 0 {
		p += "?tail=" + strconv.Itoa(tail)
	}
	var out []LogLine
	return out, c.doJSON(ctx, http.MethodGet, p, nil, &out)
}

// Usage samples CPU and memory of a running project.
func (c *Client) Usage(ctx context.Context, ref string) (Usage, error) {
	var out Usage
	return out, c.doJSON(ctx, http.MethodGet, projectPath(ref, "usage"), nil, &out)
}

// Status returns the records of every project the daemon has run.
func (c *Client) Status(ctx context.Context) ([]Info, error) {
	var out []Info
	return out, c.doJSON(ctx, http.MethodGet, "/status", nil, &out)
}

// StartAll starts every idle project.
func (c *Client) StartAll(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/start-all", nil, nil)
}

// StopAll stops every running project.
func (c *Client) StopAll(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/stop-all", nil, nil)
}

// Scan asks the daemon to detect entrypoint and interpreter in dir.
func (c *Client) Scan(ctx context.Context, dir string) (ScanResult, error) {
	var out ScanResult
	return out, c.doJSON(ctx, http.MethodPost, "/scan", map[string]string{"path": dir}, &out)
}

// Schedules lists the registered cron entries.
func (c *Client) Schedules(ctx context.Context) ([]ScheduleEntry, error) {
	var out []ScheduleEntry
	return out, c.doJSON(ctx, http.MethodGet, "/schedules", nil, &out)
}

// Events streams events until ctx is done, the daemon shuts down or fn
// returns false. project narrows the stream to one project; logs adds
// output lines to it.
func (c *Client) Events(ctx context.Context, project string, logs bool, fn func(Event) bool) error {
	q := url.Values{}
	if project != "" {
		q.Set("project", project)
	}
	if logs {
		q.Set("logs", "1")
	}
	u := c.baseURL + "/events"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.checkResponse(resp); err != nil {
		return err
	}
	err = readEvents(resp.Body, fn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readEvents decodes a text/event-stream body.
func readEvents(r io.Reader, fn func(Event) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var name string
	var data []byte
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			ev, ok, err := decodeEvent(name, data)
			name, data = "", nil
			if err != nil {
				return err
			}
			if ok && !fn(ev) {
				return nil
			}
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data != nil {
				data = append(data, '\n')
			}
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")...)
		}
	}
	return sc.Err()
}

func decodeEvent(name string, data []byte) (Event, bool, error) {
	switch name {
	case "status":
		var s StatusEvent
		if err := json.Unmarshal(data, &s); err != nil {
			return Event{}, false, fmt.Errorf("decode status event: %w", err)
		}
		return Event{Status: &s}, true, nil
	case "log":
		var l LogEvent
		if err := json.Unmarshal(data, &l); err != nil {
			return Event{}, false, fmt.Errorf("decode log event: %w", err)
		}
		return Event{Log: &l}, true, nil
	}
	return Event{}, false, nil
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
	}
	if config.TLS == nil {
		return tlsConfig, nil
	}
	if config.TLS.ServerName != "" {
		tlsConfig.ServerName = config.TLS.ServerName
	}
	if config.TLS.CACert != "" {
		if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
	}
	if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

// doJSON sends in as JSON when non-nil and decodes a 2xx body into out when non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkResponse turns a non-2xx answer into an APIError.
func (c *Client) checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode}
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: errorResp.Error}
}
