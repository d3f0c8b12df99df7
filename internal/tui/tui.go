// Package tui provides the run dashboard using Bubble Tea.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/azyu/storyloom/internal/production"
	"github.com/azyu/storyloom/internal/tui/styles"
	"github.com/azyu/storyloom/pkg/types"
)

const (
	pollInterval = 200 * time.Millisecond
	maxActivity  = 200
)

// Runner is the part of the production controller the dashboard drives.
type Runner interface {
	StartRun(ctx context.Context, target int) error
	Status() production.Status
	Escalations() []types.Escalation
	Pause()
	Resume()
}

type tickMsg time.Time

type runDoneMsg struct{ err error }

// Model is the run dashboard. It starts the run, polls the controller and
// quits when the run returns.
type Model struct {
	runner Runner
	title  string
	target int

	ctx    context.Context
	cancel context.CancelFunc

	status      production.Status
	escalations int
	activity    []string

	spinner    spinner.Model
	toast      Toast
	width      int
	height     int
	started    time.Time
	stopping   bool
	done       bool
	err        error
	lastState  production.State
	lastNumber int
}

// New creates a dashboard for a run of target chapters. Cancelling ctx
// stops the run.
func New(ctx context.Context, runner Runner, title string, target int) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	ctx, cancel := context.WithCancel(ctx)
	return &Model{
		runner:  runner,
		title:   title,
		target:  target,
		ctx:     ctx,
		cancel:  cancel,
		spinner: sp,
		width:   80,
		height:  24,
	}
}

// Err returns the error the run ended with.
func (m *Model) Err() error {
	return m.err
}

// Init starts the run.
func (m *Model) Init() tea.Cmd {
	m.started = time.Now()
	return tea.Batch(m.spinner.Tick, m.startRun(), tick())
}

func (m *Model) startRun() tea.Cmd {
	runner, ctx, target := m.runner, m.ctx, m.target
	return func() tea.Msg {
		return runDoneMsg{err: runner.StartRun(ctx, target)}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		if m.done {
			return m, nil
		}
		return m, tea.Batch(m.observe(), tick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case runDoneMsg:
		m.observe()
		m.done = true
		m.err = msg.err
		m.cancel()
		switch {
		case msg.err == nil:
			m.log(styles.SuccessText.Render("run finished"))
		case m.stopping:
			m.log(styles.InfoText.Render("run stopped"))
		default:
			m.log(styles.ErrorText.Render("run failed: " + msg.err.Error()))
		}
		return m, tea.Quit

	case clearToastMsg:
		m.toast.Update(msg)
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "p", " ":
		if m.done || m.stopping {
			return nil
		}
		if m.status.Paused {
			m.runner.Resume()
			m.status.Paused = false
			m.log("resumed")
			return m.toast.show("Resumed", ToastInfo)
		}
		m.runner.Pause()
		m.status.Paused = true
		m.log("pause requested")
		return m.toast.show(fmt.Sprintf("Pausing after chapter %d", m.status.CurrentChapter), ToastWarning)

	case "q", "ctrl+c", "esc":
		if m.done {
			return tea.Quit
		}
		if !m.stopping {
			m.stopping = true
			m.cancel()
			m.log("stop requested")
			return m.toast.show("Stopping; the chapter in flight is not committed", ToastWarning)
		}
	}
	return nil
}

// observe polls the runner and records what changed since the last poll.
func (m *Model) observe() tea.Cmd {
	prev := m.status
	st := m.runner.Status()
	m.status = st

	var cmd tea.Cmd
	if st.CurrentChapter != m.lastNumber || st.State != m.lastState {
		m.lastNumber, m.lastState = st.CurrentChapter, st.State
		if st.State != production.StateIdle {
			m.log(fmt.Sprintf("%s %s",
				styles.ChapterMarker.Render(fmt.Sprintf("chapter %d", st.CurrentChapter)), renderState(st.State)))
		}
	}
	if st.CommittedThisRun > prev.CommittedThisRun {
		cmd = m.toast.show(fmt.Sprintf("Chapter %d committed", st.CurrentChapter), ToastSuccess)
	}

	if escalations := m.runner.Escalations(); len(escalations) > m.escalations {
		for _, e := range escalations[m.escalations:] {
			line := fmt.Sprintf("chapter %d escalated: %s (%s)", e.Chapter, e.Reason, e.Decision)
			m.log(styles.ErrorText.Render(line))
			cmd = m.toast.show(line, ToastError)
		}
		m.escalations = len(escalations)
	}
	if st.Halted && !prev.Halted {
		m.log(styles.ErrorText.Render("run halted after consecutive failures"))
		cmd = m.toast.show("Run halted", ToastError)
	}
	return cmd
}

func (m *Model) log(line string) {
	m.activity = append(m.activity, styles.MutedText.Render(time.Now().Format("15:04:05"))+" "+line)
	if len(m.activity) > maxActivity {
		m.activity = m.activity[len(m.activity)-maxActivity:]
	}
}

func renderState(s production.State) string {
	switch s {
	case production.StateCommitted:
		return styles.SuccessText.Render(string(s))
	case production.StateEscalated:
		return styles.ErrorText.Render(string(s))
	case production.StateIdle:
		return styles.MutedText.Render(string(s))
	default:
		return styles.InfoText.Render(string(s))
	}
}

// View renders the dashboard.
func (m *Model) View() string {
	header := styles.Header.Render("storyloom · " + m.title)
	panel := styles.Panel.Width(styles.Width(m.width)).Render(m.renderStatus())
	help := m.renderHelp()

	logHeight := m.height - lipgloss.Height(header) - lipgloss.Height(panel) - lipgloss.Height(help) - 1
	activity := m.activity
	if logHeight < 1 {
		activity = nil
	} else if len(activity) > logHeight {
		activity = activity[len(activity)-logHeight:]
	}

	view := lipgloss.JoinVertical(lipgloss.Left,
		header,
		panel,
		strings.Join(activity, "\n"),
		help,
	)
	return renderToastTopRight(m.toast.View(m.width/2), view, 1)
}

func (m *Model) renderStatus() string {
	st := m.status

	state := renderState(st.State)
	if st.Running && !st.Paused && !m.done {
		state = m.spinner.View() + " " + state
	}
	if st.Paused {
		state += styles.InfoText.Render(" (paused)")
	}

	target := "until the outline ends"
	if m.target > 0 {
		target = fmt.Sprintf("%d of %d", st.CommittedThisRun, m.target)
	}

	failures := styles.Value.Render(fmt.Sprint(st.ConsecutiveFailures))
	if st.ConsecutiveFailures > 0 {
		failures = styles.InfoText.Render(fmt.Sprint(st.ConsecutiveFailures))
	}

	rows := []string{
		row("Chapter", fmt.Sprint(st.CurrentChapter)),
		row("State", state),
		row("Committed this run", fmt.Sprintf("%d", st.CommittedThisRun)),
		row("Target", target),
		row("Consecutive failures", failures),
		row("Escalations", fmt.Sprint(m.escalations)),
		row("Elapsed", time.Since(m.started).Truncate(time.Second).String()),
	}
	if n := len(st.LastIssues); n > 0 {
		rows = append(rows, row("Open issues", styles.InfoText.Render(fmt.Sprint(n))))
	}
	return strings.Join(rows, "\n")
}

func row(label, value string) string {
	return styles.Label.Render(label) + styles.Value.Render(value)
}

func (m *Model) renderHelp() string {
	pause := "pause"
	if m.status.Paused {
		pause = "resume"
	}
	return styles.StatusBar.Render(
		styles.HelpKey.Render("p") + " " + styles.HelpDesc.Render(pause) + "   " +
			styles.HelpKey.Render("q") + " " + styles.HelpDesc.Render("stop"),
	)
}
