package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hamalhq/hamal/internal/app"
	"github.com/hamalhq/hamal/internal/events"
	"github.com/hamalhq/hamal/internal/metrics"
	"github.com/hamalhq/hamal/internal/process"
	"github.com/hamalhq/hamal/internal/registry"
	"github.com/hamalhq/hamal/internal/supervisor"
)

// Router provides embeddable HTTP handlers for managing projects.
// Endpoints, relative to basePath:
//
//	GET    /projects                 list with live state
//	POST   /projects                 body: Project JSON
//	GET    /projects/:ref            ref is an id or a name
//	PUT    /projects/:ref
//	DELETE /projects/:ref
//	POST   /projects/:ref/start|stop|restart
//	GET    /projects/:ref/logs       query: tail=N
//	GET    /projects/:ref/usage
//	GET    /status                   records of every known project
//	POST   /start-all, /stop-all
//	POST   /scan                     body: {"path": "/abs/dir"}
//	GET    /schedules
//	GET    /events                   server-sent events; query: project=, logs=1
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	app      *app.App
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(a *app.App, basePath string) *Router {
	return &Router{app: a, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
// /metrics is served outside basePath.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.Mount(g.Group(r.basePath))
	return g
}

// Mount registers the API routes on an existing gin group.
func (r *Router) Mount(group *gin.RouterGroup) {
	group.GET("/projects", r.handleList)
	group.POST("/projects", r.handleCreate)
	group.GET("/projects/:ref", r.handleGet)
	group.PUT("/projects/:ref", r.handleUpdate)
	group.DELETE("/projects/:ref", r.handleDelete)
	group.POST("/projects/:ref/start", r.handleStart)
	group.POST("/projects/:ref/stop", r.handleStop)
	group.POST("/projects/:ref/restart", r.handleRestart)
	group.GET("/projects/:ref/logs", r.handleLogs)
	group.GET("/projects/:ref/usage", r.handleUsage)
	group.GET("/status", r.handleStatus)
	group.POST("/start-all", r.handleStartAll)
	group.POST("/stop-all", r.handleStopAll)
	group.POST("/scan", r.handleScan)
	group.GET("/schedules", r.handleSchedules)
	group.GET("/events", r.handleEvents)
}

// NewServer builds a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, a *app.App) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(a, basePath).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// /events streams, so writes are not bounded
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// statusFor maps domain errors to HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, process.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, supervisor.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrAlreadyRunning), errors.Is(err, supervisor.ErrActive), errors.Is(err, registry.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrShuttingDown):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeErr(c *gin.Context, err error) {
	writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
}

func (r *Router) handleList(c *gin.Context) {
	views, err := r.app.Projects(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, views)
}

func (r *Router) bindProject(c *gin.Context) (process.Project, bool) {
	var p process.Project
	if err := c.ShouldBindJSON(&p); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return p, false
	}
	if p.ID != "" && !isSafeName(p.ID) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid id: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return p, false
	}
	if !isSafeAbsPath(p.WorkDir) || p.WorkDir == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid work_dir: must be absolute path without traversal"})
		return p, false
	}
	return p, true
}

func (r *Router) handleCreate(c *gin.Context) {
	p, ok := r.bindProject(c)
	if !ok {
		return
	}
	if err := r.app.Create(c.Request.Context(), &p); err != nil {
		writeErr(c, err)
		return
	}
	v, err := r.app.Project(c.Request.Context(), p.ID)
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, v)
}

func (r *Router) handleGet(c *gin.Context) {
	v, err := r.app.Project(c.Request.Context(), c.Param("ref"))
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, v)
}

func (r *Router) handleUpdate(c *gin.Context) {
	ctx := c.Request.Context()
	cur, err := r.app.Resolve(ctx, c.Param("ref"))
	if err != nil {
		writeErr(c, err)
		return
	}
	p, ok := r.bindProject(c)
	if !ok {
		return
	}
	p.ID, p.CreatedAt = cur.ID, cur.CreatedAt
	if err := r.app.Update(ctx, &p); err != nil {
		writeErr(c, err)
		return
	}
	v, err := r.app.Project(ctx, p.ID)
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, v)
}

func (r *Router) handleDelete(c *gin.Context) {
	if err := r.app.Delete(c.Request.Context(), c.Param("ref")); err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStart(c *gin.Context) {
	v, err := r.app.Start(c.Request.Context(), c.Param("ref"))
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, v)
}

// handleStop returns immediately unless wait is given, e.g. wait=5s.
func (r *Router) handleStop(c *gin.Context) {
	ctx := c.Request.Context()
	v, err := r.app.Stop(ctx, c.Param("ref"))
	if err != nil {
		writeErr(c, err)
		return
	}
	if ws := c.Query("wait"); ws != "" {
		d, err := time.ParseDuration(ws)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid wait: " + err.Error()})
			return
		}
		wctx, cancel := contextWithTimeout(ctx, d)
		defer cancel()
		if err := r.app.Supervisor.Wait(wctx, v.ID); err != nil {
			writeJSON(c, http.StatusAccepted, v)
			return
		}
		v, _ = r.app.Project(ctx, v.ID)
	}
	writeJSON(c, http.StatusOK, v)
}

func (r *Router) handleRestart(c *gin.Context) {
	v, err := r.app.Restart(c.Request.Context(), c.Param("ref"))
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, v)
}

func (r *Router) handleLogs(c *gin.Context) {
	n := 0
	if ts := c.Query("tail"); ts != "" {
		v, err := strconv.Atoi(ts)
		if err != nil || v < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "tail must be a non-negative integer"})
			return
		}
		n = v
	}
	lines, err := r.app.Logs(c.Request.Context(), c.Param("ref"), n)
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, lines)
}

func (r *Router) handleUsage(c *gin.Context) {
	u, err := r.app.Usage(c.Request.Context(), c.Param("ref"))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeErr(c, err)
			return
		}
		// known but never started, or not running now
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, u)
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.app.Supervisor.InfoAll())
}

func (r *Router) handleStartAll(c *gin.Context) {
	if err := r.app.StartAll(c.Request.Context()); err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStopAll(c *gin.Context) {
	if err := r.app.StopAll(); err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

type scanReq struct {
	Path string `json:"path"`
}

func (r *Router) handleScan(c *gin.Context) {
	var req scanReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Path == "" || !isSafeAbsPath(req.Path) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid path: must be absolute path without traversal"})
		return
	}
	res, err := r.app.Scanner.Scan(req.Path)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleSchedules(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.app.Scheduler.Entries())
}

type sse struct {
	name string
	data any
}

// handleEvents streams status events, and log lines when logs=1, until the
// client goes away or the supervisor shuts down.
func (r *Router) handleEvents(c *gin.Context) {
	ctx := c.Request.Context()
	filter := c.Query("project")
	if filter != "" {
		if p, err := r.app.Resolve(ctx, filter); err == nil {
			filter = p.ID
		}
	}
	withLogs := c.Query("logs") == "1" || c.Query("logs") == "true"

	ch := make(chan sse, 64)
	send := func(ev sse) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}
	h := events.Handlers{
		OnStatus: func(e events.StatusEvent) {
			if filter == "" || e.ProjectID == filter {
				send(sse{name: "status", data: e})
			}
		},
	}
	if withLogs {
		h.OnLog = func(e events.LogEvent) {
			if filter == "" || e.ProjectID == filter {
				send(sse{name: "log", data: e})
			}
		}
	}
	sub := r.app.Supervisor.Subscribe(h)
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"subscription": sub.ID()})
	c.Writer.Flush()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-ch:
			c.SSEvent(ev.name, ev.data)
			return true
		case <-sub.Done():
			return false
		case <-ctx.Done():
			return false
		}
	})
}
