package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"

	"github.com/ShayCichocki/baton/internal/llm"
	"github.com/ShayCichocki/baton/internal/workflow"
	"github.com/ShayCichocki/baton/pkg/models"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4ECDC4"))
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderColor = lipgloss.Color("240")
)

func okGlyph() string   { return color.GreenString("✓") }
func warnGlyph() string { return color.YellowString("⚠") }
func failGlyph() string { return color.RedString("✗") }

// printStatus prints a status line with a colored symbol.
func printStatus(w io.Writer, symbol, message string, c color.Attribute) {
	fmt.Fprintf(w, "%s %s\n", color.New(c).Sprint(symbol), message)
}

// renderTable renders rows under headers with the CLI's table style.
func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return cellStyle
		})
	return t.Render()
}

// printResult prints the outcome of a run.
func printResult(w io.Writer, res *workflow.Result) {
	switch res.State {
	case workflow.StateCompleted:
		printStatus(w, "✓", "Workflow completed", color.FgGreen)
	case workflow.StateNeedsHumanReview:
		printStatus(w, "⚠", "Workflow needs human review", color.FgYellow)
	case workflow.StateMaxIterations:
		printStatus(w, "⚠", "Workflow stopped at the iteration cap", color.FgYellow)
	default:
		printStatus(w, "✗", fmt.Sprintf("Workflow ended in %s", res.State), color.FgRed)
	}

	fmt.Fprintf(w, "  State:      %s\n", res.State)
	if res.SessionID != "" {
		fmt.Fprintf(w, "  Session:    %s\n", res.SessionID)
	}
	fmt.Fprintf(w, "  Iterations: %d\n", res.Iterations)
	fmt.Fprintf(w, "  Duration:   %s\n", formatDuration(res.Duration))
	fmt.Fprintf(w, "  Analysis:   %s\n", describeAnalysis(res.Analysis))
	if res.Reason != "" {
		fmt.Fprintf(w, "  Reason:     %s\n", res.Reason)
	}

	if len(res.History) > 0 {
		rows := make([][]string, 0, len(res.History))
		for _, rec := range res.History {
			rows = append(rows, historyRow(rec))
		}
		fmt.Fprintln(w, renderTable([]string{"#", "Agent", "Status", "Decision", "Time"}, rows))
	}

	if res.SessionID != "" && (res.State == workflow.StateNeedsHumanReview || res.State == workflow.StateMaxIterations || res.State == workflow.StateError) {
		fmt.Fprintf(w, "\nResume with: baton resume %s\n", res.SessionID)
	}
}

func historyRow(rec models.ExecutionRecord) []string {
	decision := ""
	if rec.Decision != nil {
		decision = string(rec.Decision.Action)
		if rec.Decision.Target != models.AgentUnknown {
			decision += " → " + string(rec.Decision.Target)
		}
	}
	if rec.Error != "" {
		decision = truncate(rec.Error, 40)
	}
	return []string{
		fmt.Sprintf("%d", rec.Iteration),
		string(rec.Agent),
		string(rec.Status),
		decision,
		formatDuration(rec.Duration),
	}
}

func describeAnalysis(a models.ContextAnalysis) string {
	var flags []string
	for _, f := range []struct {
		on   bool
		name string
	}{
		{a.SecurityRequirements, "security"},
		{a.PerformanceCritical, "performance"},
		{a.UserFacing, "user-facing"},
		{a.TestingRequired, "testing"},
		{a.DocumentationNeeded, "docs"},
		{a.DeploymentReady, "deployment"},
	} {
		if f.on {
			flags = append(flags, f.name)
		}
	}
	s := fmt.Sprintf("%s, %s", a.ProjectType, a.ComplexityLevel)
	if len(flags) > 0 {
		s += " (" + strings.Join(flags, ", ") + ")"
	}
	return s
}

// printUsage prints token usage for runs against a real model.
func printUsage(w io.Writer, t *llm.TokenTracker) {
	in, out := t.Total()
	if t.Calls() == 0 {
		return
	}
	fmt.Fprintf(w, "  Tokens:     %s in / %s out over %d calls (~$%.4f)\n",
		formatNumber(in), formatNumber(out), t.Calls(), t.Cost())
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if m > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dh", h)
}

// formatAge formats the time since an epoch-seconds timestamp.
func formatAge(epoch float64, now time.Time) string {
	if epoch <= 0 {
		return "-"
	}
	t := time.Unix(0, int64(epoch*float64(time.Second)))
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	if d >= 24*time.Hour {
		return fmt.Sprintf("%dd", int(d.Hours())/24)
	}
	return formatDuration(d.Truncate(time.Second))
}

// formatNumber formats a number with commas.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	offset := len(s) % 3
	if offset > 0 {
		result.WriteString(s[:offset])
	}
	for i := offset; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
