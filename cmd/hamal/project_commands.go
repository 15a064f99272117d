package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hamalhq/hamal/pkg/client"
)

// ProjectFlags holds flags for project add and project edit
type ProjectFlags struct {
	Name          string
	Entrypoint    string
	Interpreter   string
	Env           []string
	AutoRestart   bool
	ScheduleStart string
	ScheduleStop  string
}

func (f *ProjectFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.Name, "name", "", "project name (default: folder name)")
	fl.StringVar(&f.Entrypoint, "entrypoint", "", "script to run, relative to the folder (default: detected)")
	fl.StringVar(&f.Interpreter, "interpreter", "", "interpreter binary (default: detected)")
	fl.StringArrayVar(&f.Env, "env", nil, "KEY=VALUE, repeatable")
	fl.BoolVar(&f.AutoRestart, "auto-restart", false, "restart after a crash")
	fl.StringVar(&f.ScheduleStart, "schedule-start", "", "cron expression that starts the project")
	fl.StringVar(&f.ScheduleStop, "schedule-stop", "", "cron expression that stops the project")
}

func (f *ProjectFlags) project(dir string) (client.Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return client.Project{}, err
	}
	name := f.Name
	if name == "" {
		name = filepath.Base(abs)
	}
	return client.Project{
		Name:          name,
		WorkDir:       abs,
		Entrypoint:    f.Entrypoint,
		Interpreter:   f.Interpreter,
		Env:           f.Env,
		AutoRestart:   f.AutoRestart,
		ScheduleStart: f.ScheduleStart,
		ScheduleStop:  f.ScheduleStop,
	}, nil
}

// createProjectCommand creates the project command with subcommands
func createProjectCommand(g *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "project",
		Aliases: []string{"projects", "p"},
		Short:   "Manage registered projects",
	}
	cmd.AddCommand(
		createProjectAddCommand(g),
		createProjectEditCommand(g),
		createProjectListCommand(g),
		createProjectShowCommand(g),
		createProjectRemoveCommand(g),
		createProjectScanCommand(g),
	)
	return cmd
}

func createProjectAddCommand(g *GlobalFlags) *cobra.Command {
	f := &ProjectFlags{}
	cmd := &cobra.Command{
		Use:   "add <folder>",
		Short: "Register a project folder",
		Long: `Register a project folder. Entrypoint and interpreter are detected
from package.json, pyproject.toml or common file names when not given.

Examples:
  hamal project add ./bots/echo
  hamal project add /srv/api --name api --entrypoint server.js --auto-restart`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.newClient(cmd)
			if err != nil {
				return err
			}
			p, err := f.project(args[0])
			if err != nil {
				return err
			}
			v, err := c.CreateProject(cmd.Context(), p)
			if err != nil {
				return err
			}
			if g.JSON {
				return printJSON(cmd.OutOrStdout(), v)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s): %s %s\n", v.Name, v.ID, v.Interpreter, v.Entrypoint)
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func createProjectEditCommand(g *GlobalFlags) *cobra.Command {
	f := &ProjectFlags{}
	cmd := &cobra.Command{
		Use:   "edit <project>",
		Short: "Change a project; a running process keeps its settings until restarted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.newClient(cmd)
			if err != nil {
				return err
			}
			cur, err := c.GetProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			p := cur.Project
			fl := cmd.Flags()
			if fl.Changed("name") {
				p.Name = f.Name
			}
			if fl.Changed("entrypoint") {
				p.Entrypoint = f.Entrypoint
			}
			if fl.Changed("interpreter") {
				p.Interpreter = f.Interpreter
			}
			if fl.Changed("env") {
				p.Env = f.Env
			}
			if fl.Changed("auto-restart") {
				p.AutoRestart = f.AutoRestart
			}
			if fl.Changed("schedule-start") {
				p.ScheduleStart = f.ScheduleStart
			}
			if fl.Changed("schedule-stop") {
				p.ScheduleStop = f.ScheduleStop
			}
			v, err := c.UpdateProject(cmd.Context(), cur.ID, p)
			if err != nil {
				return err
			}
			if g.JSON {
				return printJSON(cmd.OutOrStdout(), v)
			}
			return printProject(cmd.OutOrStdout(), v)
		},
	}
	f.bind(cmd)
	return cmd
}

func createProjectListCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List projects with their state",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.newClient(cmd)
			if err != nil {
				return err
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

func createProjectShowCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <project>",
		Short: "Show one project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.newClient(cmd)
			if err != nil {
				return err
			}
			v, err := c.GetProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if g.JSON {
				return printJSON(cmd.OutOrStdout(), v)
			}
			return printProject(cmd.OutOrStdout(), v)
		},
	}
}

func createProjectRemoveCommand(g *GlobalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:     "rm <project>",
		Aliases: []string{"remove", "delete"},
		Short:   "Remove a stopped project",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.newClient(cmd)
			if err != nil {
				return err
			}
			ref := args[0]
			if force {
				if _, err := c.Stop(cmd.Context(), ref, g.APITimeout/2); err != nil && !client.IsNotFound(err) {
					return err
				}
			}
			if err := c.DeleteProject(cmd.Context(), ref); err != nil {
				if client.IsConflict(err) {
					return fmt.Errorf("%w (stop it first or use --force)", err)
				}
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", ref)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "stop the project first")
	return cmd
}

func createProjectScanCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <folder>",
		Short: "Detect entrypoint and interpreter of a folder without registering it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.newClient(cmd)
			if err != nil {
				return err
			}
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			res, err := c.Scan(cmd.Context(), abs)
			if err != nil {
				return err
			}
			if g.JSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Entrypoint:  %s\nInterpreter: %s\nLanguage:    %s\nSource:      %s (confidence %.2f)\n",
				res.Entrypoint, res.Interpreter, res.Language, res.Source, res.Confidence)
			return nil
		},
	}
}
