package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamalhq/hamal/pkg/client"
)

func createStartCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start <project>",
		Short: "Start a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.newClient(cmd)
			if err != nil {
				return err
			}
			v, err := c.Start(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return reportState(cmd, g, v)
		},
	}
}

// StopFlags holds flags for stop command
type StopFlags struct {
	Wait time.Duration
}

func createStopCommand(g *GlobalFlags) *cobra.Command {
	f := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop <project>",
		Short: "Stop a project (SIGTERM, then SIGKILL after the grace period)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.newClient(cmd)
			if err != nil {
				return err
			}
			v, err := c.Stop(cmd.Context(), args[0], f.Wait)
			if err != nil {
				return err
			}
			return reportState(cmd, g, v)
		},
	}
	cmd.Flags().DurationVar(&f.Wait, "wait", 3*time.Second, "wait up to this long for the exit (0 returns at once)")
	return cmd
}

func createRestartCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <project>",
		Short: "Stop a project, wait for it and start it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.newClient(cmd)
			if err != nil {
				return err
			}
			v, err := c.Restart(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return reportState(cmd, g, v)
		},
	}
}

func reportState(cmd *cobra.Command, g *GlobalFlags, v client.ProjectView) error {
	if g.JSON {
		return printJSON(cmd.OutOrStdout(), v)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s", v.Name, v.Info.State)
	if v.Info.PID != 0 {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), " (pid %d)", v.Info.PID)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

func createStatusCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status [project]",
		Short: "Show the state of all projects or one project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.newClient(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				v, err := c.GetProject(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if g.JSON {
					return printJSON(cmd.OutOrStdout(), v)
				}
				return printProject(cmd.OutOrStdout(), v)
			}
			views, err := c.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			if g.JSON {
				return printJSON(cmd.OutOrStdout(), views)
			}
			return printProjects(cmd.OutOrStdout(), views)
		},
	}
}

// LogsFlags holds flags for logs command
type LogsFlags struct {
	Tail   int
	Follow bool
}

func createLogsCommand(g *GlobalFlags) *cobra.Command {
	f := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "logs <project>",
		Short: "Print the retained output of the current or last run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.newClient(cmd)
			if err != nil {
				return err
			}
			ref := args[0]
			lines, err := c.Logs(cmd.Context(), ref, f.Tail)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.JSON && !f.Follow {
				return printJSON(out, lines)
			}
			printLines(out, lines)
			if !f.Follow {
				return nil
			}
			return c.Events(cmd.Context(), ref, true, func(e client.Event) bool {
				switch {
				case e.Log != nil:
					printLine(out, e.Log.Line)
				case e.Status != nil && e.Status.State != "running" && e.Status.State != "starting":
					_, _ = fmt.Fprintf(out, "-- %s\n", e.Status.State)
				}
				return true
			})
		},
	}
	cmd.Flags().IntVarP(&f.Tail, "tail", "n", 0, "only the newest N lines (0 = all retained)")
	cmd.Flags().BoolVarP(&f.Follow, "follow", "f", false, "keep streaming new output")
	return cmd
}

func createUsageCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "usage <project>",
		Short: "Show CPU and memory of a running project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.newClient(cmd)
			if err != nil {
				return err
			}
			u, err := c.Usage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if g.JSON {
				return printJSON(cmd.OutOrStdout(), u)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pid %d  cpu %.1f%%  rss %.1f MiB  threads %d\n",
				u.PID, u.CPUPercent, float64(u.RSSBytes)/(1<<20), u.Threads)
			return nil
		},
	}
}

func createEventsCommand(g *GlobalFlags) *cobra.Command {
	var project string
	var logs bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream state changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.newClient(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return c.Events(cmd.Context(), project, logs, func(e client.Event) bool {
				if g.JSON {
					_ = printJSON(out, e)
					return true
				}
				switch {
				case e.Status != nil:
					s := e.Status
					_, _ = fmt.Fprintf(out, "%s %s %s -> %s", s.Timestamp.Local().Format("15:04:05"), s.Name, s.Previous, s.State)
					if s.ExitCode != nil {
						_, _ = fmt.Fprintf(out, " (exit %d)", *s.ExitCode)
					}
					_, _ = fmt.Fprintln(out)
				case e.Log != nil:
					printLine(out, e.Log.Line)
				}
				return true
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "only this project")
	cmd.Flags().BoolVar(&logs, "logs", false, "include output lines")
	return cmd
}

func createStartAllCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start-all",
		Short: "Start every idle project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.newClient(cmd)
			if err != nil {
				return err
			}
			return c.StartAll(cmd.Context())
		},
	}
}

func createStopAllCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop-all",
		Short: "Stop every running project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.newClient(cmd)
			if err != nil {
				return err
			}
			return c.StopAll(cmd.Context())
		},
	}
}

func createSchedulesCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schedules",
		Short: "List cron entries registered in the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.newClient(cmd)
			if err != nil {
				return err
			}
			entries, err := c.Schedules(cmd.Context())
			if err != nil {
				return err
			}
			if g.JSON {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No schedules registered")
				return nil
			}
			for _, e := range entries {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%-36s  %-5s  %-20s  next %s\n",
					e.ProjectID, e.Action, e.Spec, e.Next.Local().Format(time.RFC3339))
			}
			return nil
		},
	}
}
