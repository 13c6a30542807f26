// Package tui renders a live terminal view of a workflow run.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/baton/internal/workflow"
	"github.com/ShayCichocki/baton/pkg/models"
)

// EventMsg wraps a workflow event for the TUI.
type EventMsg struct {
	Event workflow.Event
}

// eventsClosedMsg signals the engine stopped emitting.
type eventsClosedMsg struct{}

// maxSteps bounds the timeline kept on screen.
const maxSteps = 200

// step is one row of the timeline.
type step struct {
	Iteration  int
	Agent      models.Agent
	Status     string
	Detail     string
	Confidence float64
	Duration   time.Duration
}

// App is the bubbletea model for a single run.
type App struct {
	events  <-chan workflow.Event
	spinner spinner.Model

	runID     string
	sessionID string
	request   string
	current   models.Agent
	iteration int
	steps     []step
	notices   []string

	finished bool
	state    workflow.RunState
	reason   string

	width    int
	height   int
	quitting bool

	titleStyle   lipgloss.Style
	dimStyle     lipgloss.Style
	agentStyle   lipgloss.Style
	okStyle      lipgloss.Style
	warnStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	borderStyle  lipgloss.Style
	summaryStyle lipgloss.Style
}

// New creates an App fed by events. refresh sets the spinner frame
// interval; zero keeps the spinner's own rate.
func New(events <-chan workflow.Event, refresh time.Duration) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	if refresh > 0 {
		sp.Spinner.FPS = refresh
	}
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECDC4"))

	return &App{
		events:  events,
		spinner: sp,
		width:   80,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFC857")),
		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")),
		agentStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#45B7D1")),
		okStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#96E6A1")),
		warnStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF8E53")),
		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true),
		borderStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		summaryStyle: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1),
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.waitForEvent())
}

func (a *App) waitForEvent() tea.Cmd {
	if a.events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-a.events
		if !ok {
			return eventsClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case spinner.TickMsg:
		if a.finished {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case EventMsg:
		a.handleEvent(msg.Event)
		return a, a.waitForEvent()

	case eventsClosedMsg:
		a.finished = true
		return a, tea.Quit
	}
	return a, nil
}

func (a *App) handleEvent(e workflow.Event) {
	if e.RunID != "" {
		a.runID = e.RunID
	}
	if e.SessionID != "" {
		a.sessionID = e.SessionID
	}
	if e.Iteration > 0 {
		a.iteration = e.Iteration
	}

	switch e.Type {
	case workflow.EventRunStarted:
		a.request = e.Message
		a.current = e.Agent
	case workflow.EventAgentStarted:
		a.current = e.Agent
	case workflow.EventAgentSkipped:
		a.addStep(step{Iteration: e.Iteration, Agent: e.Agent, Status: "skipped", Detail: e.Message})
	case workflow.EventDecision:
		s := step{Iteration: e.Iteration, Agent: e.Agent, Status: "decided", Duration: e.Duration}
		if d := e.Decision; d != nil {
			s.Detail = describeDecision(*d)
			s.Confidence = d.Confidence
		}
		a.addStep(s)
	case workflow.EventLoopDetected:
		a.notices = append(a.notices, "loop detected: "+e.Message)
	case workflow.EventLoopBroken:
		a.notices = append(a.notices, "loop broken: "+e.Message)
	case workflow.EventRunFinished:
		a.finished = true
		a.state = e.State
		a.reason = e.Message
		if e.Error != "" {
			a.reason = e.Error
		}
	}
}

func (a *App) addStep(s step) {
	a.steps = append(a.steps, s)
	if len(a.steps) > maxSteps {
		a.steps = a.steps[len(a.steps)-maxSteps:]
	}
}

func describeDecision(d models.AgentDecision) string {
	switch d.Action {
	case models.ActionNextAgent:
		return fmt.Sprintf("NEXT_AGENT -> %s", d.Target)
	case models.ActionParallel:
		names := make([]string, len(d.Targets))
		for i, t := range d.Targets {
			names[i] = string(t)
		}
		return fmt.Sprintf("PARALLEL -> %s", strings.Join(names, ", "))
	case models.ActionBranch:
		return fmt.Sprintf("BRANCH (%s)", d.Condition)
	}
	return string(d.Action)
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return "Goodbye!\n"
	}

	var b strings.Builder
	b.WriteString(a.titleStyle.Render("baton"))
	if a.runID != "" {
		b.WriteString(a.dimStyle.Render(fmt.Sprintf("  run %s", shortID(a.runID))))
	}
	if a.sessionID != "" {
		b.WriteString(a.dimStyle.Render(fmt.Sprintf("  session %s", a.sessionID)))
	}
	b.WriteString("\n")
	if a.request != "" {
		b.WriteString(a.dimStyle.Render(truncate(a.request, max(a.width-4, 20))))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(a.borderStyle.Render(a.viewSteps()))
	b.WriteString("\n")

	for _, n := range a.notices {
		b.WriteString(a.warnStyle.Render("! " + n))
		b.WriteString("\n")
	}

	if a.finished {
		b.WriteString(a.viewSummary())
	} else {
		fmt.Fprintf(&b, "%s iteration %d: %s working...",
			a.spinner.View(), a.iteration, a.agentStyle.Render(string(a.current)))
	}
	b.WriteString("\n" + a.dimStyle.Render("q: quit") + "\n")
	return b.String()
}

func (a *App) viewSteps() string {
	if len(a.steps) == 0 {
		return a.dimStyle.Render("waiting for the first agent...")
	}
	steps := a.steps
	if a.height > 12 && len(steps) > a.height-12 {
		steps = steps[len(steps)-(a.height-12):]
	}
	lines := make([]string, 0, len(steps))
	for _, s := range steps {
		line := fmt.Sprintf("%3d  %-24s ", s.Iteration, a.agentStyle.Render(string(s.Agent)))
		switch s.Status {
		case "skipped":
			line += a.dimStyle.Render("skipped: " + s.Detail)
		default:
			line += fmt.Sprintf("%s %s", s.Detail, a.dimStyle.Render(fmt.Sprintf("(%.2f, %s)", s.Confidence, formatDuration(s.Duration))))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (a *App) viewSummary() string {
	style := a.okStyle
	switch a.state {
	case workflow.StateError:
		style = a.errorStyle
	case workflow.StateNeedsHumanReview, workflow.StateMaxIterations:
		style = a.warnStyle
	}
	text := fmt.Sprintf("%s after %d iterations", a.state, a.iteration)
	if a.reason != "" {
		text += ": " + a.reason
	}
	return a.summaryStyle.Inherit(style).Render(text)
}

// Finished reports whether the run has ended.
func (a *App) Finished() bool {
	return a.finished
}

// Run shows the TUI until events is closed or the user quits.
func Run(events <-chan workflow.Event, refresh time.Duration) error {
	_, err := tea.NewProgram(New(events, refresh)).Run()
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
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

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
