package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azyu/storyloom/internal/production"
	"github.com/azyu/storyloom/pkg/types"
)

// ============================================================================
// Model Creation Tests
// ============================================================================

func TestNew(t *testing.T) {
	m, _ := newTestModel(t)

	assert.Equal(t, "Lantern", m.title)
	assert.Equal(t, 3, m.target)
	assert.Equal(t, spinner.Dot, m.spinner.Spinner)
	assert.False(t, m.done)
	assert.Empty(t, m.activity)
	assert.NoError(t, m.ctx.Err())
}

func TestInit(t *testing.T) {
	m, _ := newTestModel(t)
	assert.NotNil(t, m.Init(), "Init should return a command")
	assert.False(t, m.started.IsZero())
}

// ============================================================================
// Run Lifecycle Tests
// ============================================================================

// TestStartRun_ReportsResult tests that the run command delivers the run error.
func TestStartRun_ReportsResult(t *testing.T) {
	m, runner := newTestModel(t)
	runner.runErr = production.ErrRunHalted
	close(runner.release)

	msg := m.startRun()()
	done, ok := msg.(runDoneMsg)
	require.True(t, ok)
	assert.ErrorIs(t, done.err, production.ErrRunHalted)
}

// TestRunDone_Quits tests that the dashboard quits when the run returns.
func TestRunDone_Quits(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		stopping bool
		wantLog  string
	}{
		{"finished", nil, false, "run finished"},
		{"stopped by operator", context.Canceled, true, "run stopped"},
		{"failed", production.ErrCommitAborted, false, "run failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestModel(t)
			m.stopping = tt.stopping

			_, cmd := m.Update(runDoneMsg{err: tt.err})
			require.NotNil(t, cmd)
			assert.IsType(t, tea.QuitMsg{}, cmd())

			assert.True(t, m.done)
			assert.Equal(t, tt.err, m.Err())
			assert.Contains(t, m.activity[len(m.activity)-1], tt.wantLog)
		})
	}
}

// TestTick_StopsAfterDone tests that polling ends with the run.
func TestTick_StopsAfterDone(t *testing.T) {
	m, _ := newTestModel(t)

	_, cmd := m.Update(tickMsg{})
	assert.NotNil(t, cmd)

	m.done = true
	_, cmd = m.Update(tickMsg{})
	assert.Nil(t, cmd)
}

// ============================================================================
// Key Handling Tests
// ============================================================================

func TestHandleKey_PauseResume(t *testing.T) {
	m, runner := newTestModel(t)

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	assert.Equal(t, 1, runner.pauses)
	assert.True(t, m.status.Paused)
	assert.True(t, m.toast.Visible)
	assert.Contains(t, m.renderHelp(), "resume")

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	assert.Equal(t, 1, runner.resumes)
	assert.False(t, m.status.Paused)
	assert.Contains(t, m.renderHelp(), "pause")
}

func TestHandleKey_Stop(t *testing.T) {
	m, runner := newTestModel(t)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.NotNil(t, cmd, "stopping shows a toast")
	assert.True(t, m.stopping)
	assert.ErrorIs(t, m.ctx.Err(), context.Canceled)

	// Pause is ignored once stopping.
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	assert.Equal(t, 0, runner.pauses)

	err := runner.StartRun(m.ctx, 3)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandleKey_QuitAfterDone(t *testing.T) {
	m, _ := newTestModel(t)
	m.done = true

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

// ============================================================================
// Observation Tests
// ============================================================================

func TestObserve_RecordsTransitions(t *testing.T) {
	m, runner := newTestModel(t)

	runner.set(func(st *production.Status) {
		st.CurrentChapter = 4
		st.State = production.StateDrafting
	})
	m.observe()
	require.Len(t, m.activity, 1)
	assert.Contains(t, m.activity[0], "chapter 4")
	assert.Contains(t, m.activity[0], "drafting")

	// No change, no new line.
	m.observe()
	assert.Len(t, m.activity, 1)

	runner.set(func(st *production.Status) {
		st.State = production.StateCommitted
		st.CommittedThisRun = 1
	})
	cmd := m.observe()
	assert.NotNil(t, cmd)
	assert.Equal(t, ToastSuccess, m.toast.Level)
	assert.Contains(t, m.toast.Message, "Chapter 4 committed")
}

func TestObserve_Escalations(t *testing.T) {
	m, runner := newTestModel(t)

	runner.escalate(types.Escalation{
		Chapter:  2,
		Reason:   types.ReasonRevisionBudgetExceeded,
		Decision: types.DecisionSkip,
	})
	m.observe()
	assert.Equal(t, 1, m.escalations)
	assert.Equal(t, ToastError, m.toast.Level)
	assert.Contains(t, strings.Join(m.activity, "\n"), "chapter 2 escalated: revision-budget-exceeded (skip)")

	runner.set(func(st *production.Status) { st.Halted = true })
	m.observe()
	assert.Contains(t, m.activity[len(m.activity)-1], "halted")
}

// ============================================================================
// View Tests
// ============================================================================

func TestView(t *testing.T) {
	m, runner := newTestModel(t)
	runner.set(func(st *production.Status) {
		st.CurrentChapter = 7
		st.State = production.StateReviewing
		st.ConsecutiveFailures = 2
		st.LastIssues = []types.ConsistencyIssue{{Severity: types.SeverityWarning}}
	})
	m.observe()

	view := m.View()
	assert.Contains(t, view, "storyloom · Lantern")
	assert.Contains(t, view, "Chapter")
	assert.Contains(t, view, "reviewing")
	assert.Contains(t, view, "0 of 3")
	assert.Contains(t, view, "Open issues")
	assert.Contains(t, view, "pause")
}

func TestView_UnlimitedTarget(t *testing.T) {
	m, _ := newTestModel(t)
	m.target = 0
	assert.Contains(t, m.View(), "until the outline ends")
}

func TestWindowResize(t *testing.T) {
	m, _ := newTestModel(t)
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Equal(t, 120, m.width)
	assert.Equal(t, 40, m.height)
}

// ============================================================================
// Toast Tests
// ============================================================================

func TestToast_ClearOnlyCurrent(t *testing.T) {
	var toast Toast
	toast.show("first", ToastInfo)
	toast.show("second", ToastWarning)

	toast.Update(clearToastMsg{seq: 1})
	assert.True(t, toast.Visible, "a stale clear leaves the newer toast")

	toast.Update(clearToastMsg{seq: 2})
	assert.False(t, toast.Visible)
	assert.Empty(t, toast.View(80))
}

func TestToast_ViewTruncates(t *testing.T) {
	toast := Toast{Message: strings.Repeat("x", 100), Level: ToastError, Visible: true}
	view := toast.View(40)
	assert.Contains(t, view, "✗")
	assert.Contains(t, view, "...")
}

func TestPlaceOverlay(t *testing.T) {
	bg := strings.Join([]string{"..........", "..........", ".........."}, "\n")

	out := placeOverlay(6, 1, "ab", bg)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "..........", lines[0])
	assert.Equal(t, "......ab..", lines[1])

	assert.Equal(t, "big", placeOverlay(0, 0, "big", "x"))
	assert.Equal(t, bg, renderToastTopRight("", bg, 1))
}

func TestRunError_Surfaces(t *testing.T) {
	m, _ := newTestModel(t)
	boom := errors.New("boom")
	m.Update(runDoneMsg{err: boom})
	assert.ErrorIs(t, m.Err(), boom)
}
