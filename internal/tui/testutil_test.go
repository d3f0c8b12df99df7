package tui

import (
	"context"
	"sync"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/azyu/storyloom/internal/production"
	"github.com/azyu/storyloom/pkg/types"
)

func init() {
	// Disable colors for consistent test output across environments
	lipgloss.SetColorProfile(termenv.Ascii)
}

// testConfig holds common test configuration values.
var testConfig = struct {
	Width  int
	Height int
}{
	Width:  80,
	Height: 24,
}

// fakeRunner is a scriptable Runner. StartRun blocks until release is
// closed or ctx is cancelled.
type fakeRunner struct {
	mu          sync.Mutex
	status      production.Status
	escalations []types.Escalation
	pauses      int
	resumes     int
	release     chan struct{}
	runErr      error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		status:  production.Status{State: production.StateIdle, CurrentChapter: 1, Running: true},
		release: make(chan struct{}),
	}
}

func (r *fakeRunner) StartRun(ctx context.Context, _ int) error {
	select {
	case <-r.release:
		return r.runErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *fakeRunner) Status() production.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *fakeRunner) Escalations() []types.Escalation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Escalation(nil), r.escalations...)
}

func (r *fakeRunner) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauses++
	r.status.Paused = true
}

func (r *fakeRunner) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumes++
	r.status.Paused = false
}

func (r *fakeRunner) set(fn func(st *production.Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.status)
}

func (r *fakeRunner) escalate(e types.Escalation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalations = append(r.escalations, e)
}

// newTestModel creates a dashboard with default dimensions over a fake runner.
func newTestModel(t *testing.T) (*Model, *fakeRunner) {
	t.Helper()

	runner := newFakeRunner()
	m := New(context.Background(), runner, "Lantern", 3)
	m.width = testConfig.Width
	m.height = testConfig.Height
	t.Cleanup(m.cancel)
	return m, runner
}
