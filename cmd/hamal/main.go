package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamalhq/hamal/pkg/client"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
	CACert     string
	JSON       bool
}

// newClient builds an API client from the global flags and checks that the
// daemon answers.
func (g *GlobalFlags) newClient(cmd *cobra.Command) (*client.Client, error) {
	cfg := client.DefaultConfig()
	if g.APIUrl != "" {
		cfg.BaseURL = g.APIUrl
	}
	if g.APITimeout > 0 {
		cfg.Timeout = g.APITimeout
	}
	cfg.Insecure = g.Insecure
	if g.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{CACert: g.CACert}
	}
	c, err := client.New(cfg)
	if err != nil {
		return nil, err
	}
	if !c.IsReachable(cmd.Context()) {
		return nil, fmt.Errorf("daemon not reachable at %s - please start daemon first with 'hamal serve'", c.BaseURL())
	}
	return c, nil
}

// buildRoot creates the root command
func buildRoot() *cobra.Command {
	g := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "hamal",
		Short: "Supervise long-running script projects",
		Long: `hamal starts, stops and watches script projects (Python, Node.js, PHP, Ruby, ...)
and keeps their recent output.

Examples:
  hamal serve --config hamal.toml   # Start daemon
  hamal project add ./bots/echo     # Register a project, entrypoint detected
  hamal start echo                  # Start it
  hamal logs echo --follow          # Watch its output
  hamal stop echo --wait 10s        # Stop it and wait for exit`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.ConfigPath, "config", "", "config file (TOML)")
	pf.StringVar(&g.APIUrl, "api-url", os.Getenv("HAMAL_API_URL"), "daemon API base URL (default http://localhost:8080/api)")
	pf.DurationVar(&g.APITimeout, "api-timeout", 10*time.Second, "API request timeout")
	pf.BoolVar(&g.Insecure, "insecure", false, "skip TLS verification")
	pf.StringVar(&g.CACert, "ca-cert", "", "CA certificate for a TLS endpoint")
	pf.BoolVar(&g.JSON, "json", false, "print JSON instead of tables")

	root.AddCommand(
		createServeCommand(g),
		createProjectCommand(g),
		createStartCommand(g),
		createStopCommand(g),
		createRestartCommand(g),
		createStatusCommand(g),
		createLogsCommand(g),
		createUsageCommand(g),
		createEventsCommand(g),
		createStartAllCommand(g),
		createStopAllCommand(g),
		createSchedulesCommand(g),
	)
	return root
}
