// Package production drives chapters through drafting, consistency checking,
// review and revision until they are committed or escalated.
package production

import (
	"context"
	"errors"
	"fmt"

	"github.com/azyu/storyloom/internal/memory"
	"github.com/azyu/storyloom/pkg/types"
)

// Errors returned by the controller.
var (
	// ErrRevisionBudgetExceeded is recorded on escalations of chapters that
	// still failed review after max_revisions revisions.
	ErrRevisionBudgetExceeded = errors.New("revision budget exceeded")

	// ErrRunHalted is returned once the run has stopped and needs an operator.
	ErrRunHalted = errors.New("run halted")

	// ErrCommitAborted is returned when the memory store refused a commit.
	ErrCommitAborted = errors.New("commit aborted")

	// ErrRunInProgress is returned when a second production is started
	// while one is still running.
	ErrRunInProgress = errors.New("production already in progress")
)

// State is the position of the current chapter in the production state machine.
type State string

const (
	StateIdle      State = "idle"
	StatePlanning  State = "planning"
	StateDrafting  State = "drafting"
	StateChecking  State = "checking"
	StateReviewing State = "reviewing"
	StateRevising  State = "revising"
	StateCommitted State = "committed"
	StateEscalated State = "escalated"
)

// CollaboratorError is a generation, revision, review or digest call that
// failed after the collaborator's own retries.
type CollaboratorError struct {
	Stage State
	Err   error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// LengthBand is the word-count band a chapter should land in.
type LengthBand struct {
	Min    int
	Target int
	Max    int
}

// GenerationRequest is the input for drafting a chapter.
type GenerationRequest struct {
	Chapter     int
	Title       string
	Outline     types.OutlineEntry
	Context     types.Context
	Length      LengthBand
	Temperature float64
	Style       types.WritingConfig
}

// RevisionRequest is the input for revising a draft. Feedback is ordered
// most severe first.
type RevisionRequest struct {
	Chapter     int
	Title       string
	Content     string
	Feedback    []string
	Outline     types.OutlineEntry
	Context     types.Context
	Length      LengthBand
	Temperature float64
	Style       types.WritingConfig
}

// DigestRequest is the input for extracting memory from a committed chapter.
type DigestRequest struct {
	Chapter         types.Chapter
	KnownCharacters []string
	OpenEvents      []types.PlotEvent
}

// Generator drafts chapters.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// Reviser rewrites a draft against feedback.
type Reviser interface {
	Revise(ctx context.Context, req RevisionRequest) (string, error)
}

// Digester extracts the memory record of a committed chapter.
type Digester interface {
	Digest(ctx context.Context, req DigestRequest) (memory.ChapterRecord, error)
}

// Outline is the project store: it plans chapters and archives their results.
type Outline interface {
	OutlineEntry(ctx context.Context, number int) (types.OutlineEntry, bool, error)
	LastChapter(ctx context.Context) (int, error)
	SaveChapter(ctx context.Context, ch types.Chapter) error
	RecordEscalation(ctx context.Context, e types.Escalation) error
}

// Resolution is an operator's answer to an escalation. Content is used
// only with DecisionEdit.
type Resolution struct {
	Decision types.EscalationDecision
	Content  string
}

// Decider answers the questions semi-automatic mode asks an operator.
type Decider interface {
	ConfirmCommit(ctx context.Context, ch types.Chapter, result types.ReviewResult) (bool, error)
	ResolveEscalation(ctx context.Context, e types.Escalation, draft types.Chapter) (Resolution, error)
}

// Result is the outcome of producing one chapter.
type Result struct {
	Chapter    types.Chapter
	Committed  bool
	Escalation *types.Escalation
}

// Status is a point-in-time view of the controller.
type Status struct {
	CurrentChapter      int
	State               State
	LastIssues          []types.ConsistencyIssue
	CommittedThisRun    int
	ConsecutiveFailures int
	Running             bool
	Paused              bool
	Halted              bool
}
