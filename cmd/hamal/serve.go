package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/hamalhq/hamal/internal/app"
	"github.com/hamalhq/hamal/internal/config"
	"github.com/hamalhq/hamal/internal/server"
	htls "github.com/hamalhq/hamal/internal/tls"
)

// ServeFlags holds flags for serve command
type ServeFlags struct {
	Listen string
}

// createServeCommand creates the serve subcommand
func createServeCommand(g *GlobalFlags) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the hamal daemon",
		Long: `Start the hamal daemon: the supervisor, schedules, automatic restarts and the HTTP API.

Examples:
  hamal serve                       # Defaults, data in ~/.hamal
  hamal serve hamal.toml            # Start with specific config file
  HAMAL_SERVER_LISTEN=:9090 hamal serve`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := g.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, path, f)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "override server.listen")
	return cmd
}

// runServe blocks until ctx is done, then shuts the daemon down within
// supervisor.shutdown_timeout.
func runServe(ctx context.Context, path string, f *ServeFlags) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if f.Listen != "" {
		cfg.Server.Listen = f.Listen
	}
	lg := cfg.Log.NewSlogger()

	if err := os.MkdirAll(filepath.Dir(cfg.Server.LockFile), 0o750); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	lock := flock.New(cfg.Server.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("daemon already running (lock %s held by another process)", cfg.Server.LockFile)
	}
	defer func() { _ = lock.Unlock() }()

	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		return err
	}
	srv := server.NewServer(cfg.Server.Listen, cfg.Server.BasePath, a)
	tc, err := htls.Setup(cfg.Server.TLS)
	if err != nil {
		_ = a.Close(context.Background())
		return err
	}
	srv.TLSConfig = tc

	errCh := make(chan error, 1)
	go func() {
		lg.Info("hamal listening", "addr", cfg.Server.Listen, "base_path", cfg.Server.BasePath, "tls", tc != nil, "data_dir", cfg.DataDir)
		var err error
		if tc != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		lg.Info("shutting down")
	case serveErr = <-errCh:
		lg.Error("server failed", "error", serveErr)
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Supervisor.ShutdownTimeout)
	defer cancel()
	// Supervisor first: stopping children closes the event streams, which
	// lets the HTTP server finish its open requests.
	closeErr := a.Close(sctx)
	if err := srv.Shutdown(sctx); err != nil {
		_ = srv.Close()
	}
	return errors.Join(serveErr, closeErr)
}
