package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/graph"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))
)

func statusStyle(s domain.RunStatus) lipgloss.Style {
	switch s {
	case domain.RunCompleted:
		return completedStyle
	case domain.RunFailed:
		return failedStyle
	case domain.RunRunning:
		return runningStyle
	default:
		return pendingStyle
	}
}

func renderStatus(s domain.RunStatus) string {
	if s == "" {
		return "-"
	}
	return statusStyle(s).Render(string(s))
}

// relTime renders a time as "3 minutes ago", or "-" when unset
func relTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return humanize.Time(*t)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

// truncate shortens s to one line of at most n runes
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func printRun(w io.Writer, run *domain.Run) {
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("Run "+run.ID), renderStatus(run.Status))
	fmt.Fprintf(w, "Chain:    %s (%s)\n", run.ChainName, run.ChainID)
	if run.ParentRunID != "" {
		fmt.Fprintf(w, "Parent:   %s (depth %d)\n", run.ParentRunID, run.Depth)
	}
	fmt.Fprintf(w, "Started:  %s\n", relTime(run.StartedAt))
	fmt.Fprintf(w, "Duration: %s\n", formatDuration(run.Duration()))
	fmt.Fprintf(w, "Steps:    %s\n", humanize.Comma(int64(len(run.NodeResults))))
	if run.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", failedStyle.Render(run.Error))
		fmt.Fprintf(w, "At node:  %s\n", run.CurrentNodeID)
	}

	fmt.Fprintln(w)
	for _, res := range run.NodeResults {
		printNodeResult(w, res)
	}

	if out := run.Output(); out != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("Output"))
		fmt.Fprintln(w, out)
	}
}

func printNodeResult(w io.Writer, res domain.ChainNodeResult) {
	mark := completedStyle.Render("✓")
	detail := truncate(res.Output, 70)
	switch {
	case res.Error != "":
		mark = failedStyle.Render("✗")
		detail = failedStyle.Render(truncate(res.Error, 70))
	case res.Skipped:
		mark = pendingStyle.Render("-")
	}

	name := res.NodeName
	if name == "" {
		name = res.NodeID
	}
	iter := ""
	if res.Iteration != nil {
		iter = dimStyle.Render(fmt.Sprintf(" [%d]", *res.Iteration))
	}
	fmt.Fprintf(w, "  %s %-24s %-13s %8s  %s\n",
		mark, truncate(name, 24)+iter, res.NodeType,
		formatDuration(time.Duration(res.DurationMs)*time.Millisecond), detail)
}

func printDiagnostics(w io.Writer, diags []graph.Diagnostic) {
	for _, d := range diags {
		style := warningStyle
		if d.Level == graph.LevelError {
			style = failedStyle
		}
		fmt.Fprintln(w, style.Render(d.String()))
	}
}
