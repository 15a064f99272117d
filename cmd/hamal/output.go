package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hamalhq/hamal/pkg/client"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printProjects(w io.Writer, views []client.ProjectView) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSTATE\tPID\tUPTIME\tENTRYPOINT\tID")
	for _, v := range views {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			v.Name, v.Info.State, pidText(v.Info.PID), uptimeText(v.Info), v.Entrypoint, v.ID)
	}
	return tw.Flush()
}

func printProject(w io.Writer, v client.ProjectView) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row := func(k, val string) {
		if val != "" {
			_, _ = fmt.Fprintf(tw, "%s:\t%s\n", k, val)
		}
	}
	row("Name", v.Name)
	row("ID", v.ID)
	row("State", v.Info.State)
	row("PID", pidText(v.Info.PID))
	row("Uptime", uptimeText(v.Info))
	row("Work dir", v.WorkDir)
	row("Entrypoint", v.Entrypoint)
	row("Interpreter", v.Interpreter)
	if v.AutoRestart {
		row("Auto restart", "yes")
	}
	row("Schedule start", v.ScheduleStart)
	row("Schedule stop", v.ScheduleStop)
	if v.Info.ExitCode != nil {
		row("Exit code", fmt.Sprint(*v.Info.ExitCode))
	}
	row("Runs", fmt.Sprint(v.Info.Runs))
	if err := tw.Flush(); err != nil {
		return err
	}
	if v.Info.LastError != "" {
		_, _ = fmt.Fprintf(w, "Last error:\n%s\n", indent(v.Info.LastError))
	}
	return nil
}

func printLines(w io.Writer, lines []client.LogLine) {
	for _, l := range lines {
		printLine(w, l)
	}
}

func printLine(w io.Writer, l client.LogLine) {
	tag := "OUT"
	if l.Stream == "stderr" {
		tag = "ERR"
	}
	_, _ = fmt.Fprintf(w, "%s [%s] %s\n", l.Timestamp.Local().Format("15:04:05"), tag, l.Text)
}

func pidText(pid int) string {
	if pid == 0 {
		return "-"
	}
	return fmt.Sprint(pid)
}

func uptimeText(in client.Info) string {
	if in.State != "running" || in.UptimeSeconds <= 0 {
		return "-"
	}
	return (time.Duration(in.UptimeSeconds) * time.Second).String()
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
