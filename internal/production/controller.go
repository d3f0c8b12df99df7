package production

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/azyu/storyloom/internal/consistency"
	"github.com/azyu/storyloom/internal/memory"
	"github.com/azyu/storyloom/internal/review"
	"github.com/azyu/storyloom/internal/token"
	"github.com/azyu/storyloom/pkg/types"
)

// rejectedFeedback is appended to review feedback when an operator declines
// a passing draft in semi-automatic mode.
const rejectedFeedback = "The operator rejected this draft; revise it before resubmitting."

// Config wires a Controller. Digester and Decider are optional, except that
// semi-automatic mode requires a Decider.
type Config struct {
	Production types.ProductionConfig
	Writing    types.WritingConfig

	Memory    *memory.Store
	Checker   *consistency.Checker
	Evaluator *review.Evaluator
	Generator Generator
	Reviser   Reviser
	Digester  Digester
	Outline   Outline
	Decider   Decider
	Logger    *zap.Logger
}

// Controller produces chapters one at a time. Status, Pause, Resume and
// Escalations are safe to call while a run is in progress.
type Controller struct {
	cfg       types.ProductionConfig
	style     types.WritingConfig
	memory    *memory.Store
	checker   *consistency.Checker
	evaluator *review.Evaluator
	generator Generator
	reviser   Reviser
	digester  Digester
	outline   Outline
	decider   Decider
	logger    *zap.Logger
	now       func() time.Time

	// run is held for the duration of a run or a single chapter.
	run sync.Mutex

	mu          sync.Mutex
	status      Status
	escalations []types.Escalation
	resume      chan struct{}
}

// job is the working state of one chapter.
type job struct {
	entry    types.OutlineEntry
	context  types.Context
	known    []string
	chapter  types.Chapter
	attempts []types.Attempt
}

// New creates a controller.
func New(cfg Config) (*Controller, error) {
	switch {
	case cfg.Memory == nil:
		return nil, errors.New("production: memory store is required")
	case cfg.Evaluator == nil:
		return nil, errors.New("production: review evaluator is required")
	case cfg.Generator == nil || cfg.Reviser == nil:
		return nil, errors.New("production: generator and reviser are required")
	case cfg.Outline == nil:
		return nil, errors.New("production: outline store is required")
	case cfg.Production.SemiAutoMode && cfg.Decider == nil:
		return nil, errors.New("production: semi-automatic mode requires a decider")
	}

	checker := cfg.Checker
	if checker == nil {
		checker = consistency.NewChecker()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Controller{
		cfg:       cfg.Production,
		style:     cfg.Writing,
		memory:    cfg.Memory,
		checker:   checker,
		evaluator: cfg.Evaluator,
		generator: cfg.Generator,
		reviser:   cfg.Reviser,
		digester:  cfg.Digester,
		outline:   cfg.Outline,
		decider:   cfg.Decider,
		logger:    logger.Named("production"),
		now:       time.Now,
		status:    Status{State: StateIdle, CurrentChapter: cfg.Memory.NextChapter()},
	}, nil
}

// StartRun produces chapters until target chapters have been committed in
// this run. A target of 0 runs until the outline has no entry for the next
// chapter. The run stops early on cancellation, a halt or a commit abort.
func (c *Controller) StartRun(ctx context.Context, target int) error {
	if !c.run.TryLock() {
		return ErrRunInProgress
	}
	defer c.run.Unlock()

	c.mu.Lock()
	c.status.Running = true
	c.status.CommittedThisRun = 0
	c.mu.Unlock()
	defer c.finish()

	c.checkArchive(ctx)
	c.logger.Info("run started", zap.Int("target", target), zap.Int("next_chapter", c.memory.NextChapter()))

	for {
		committed := c.Status().CommittedThisRun
		if target > 0 && committed >= target {
			break
		}
		if err := c.waitIfPaused(ctx); err != nil {
			return err
		}
		if target == 0 {
			next := c.memory.NextChapter()
			if _, ok, err := c.outline.OutlineEntry(ctx, next); err == nil && !ok {
				c.logger.Info("outline exhausted", zap.Int("next_chapter", next))
				break
			}
		}
		if _, err := c.produce(ctx); err != nil {
			return err
		}
	}

	c.logger.Info("run finished", zap.Int("committed", c.Status().CommittedThisRun))
	return nil
}

// ProduceOneChapter produces the next chapter. An escalation that the run
// policy absorbs is reported in the Result with a nil error.
func (c *Controller) ProduceOneChapter(ctx context.Context) (Result, error) {
	if !c.run.TryLock() {
		return Result{}, ErrRunInProgress
	}
	defer c.run.Unlock()

	c.mu.Lock()
	c.status.Running = true
	c.mu.Unlock()
	defer c.finish()

	return c.produce(ctx)
}

// Pause stops the run before the next chapter starts. The chapter in
// flight is finished first.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resume == nil {
		c.resume = make(chan struct{})
		c.status.Paused = true
		c.logger.Info("pause requested")
	}
}

// Resume releases a paused run.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resume != nil {
		close(c.resume)
		c.resume = nil
		c.status.Paused = false
		c.logger.Info("resumed")
	}
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status
	st.LastIssues = slices.Clone(c.status.LastIssues)
	return st
}

// Escalations returns the escalations raised since the controller was created.
func (c *Controller) Escalations() []types.Escalation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.escalations)
}

func (c *Controller) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Running = false
	if c.status.State != StateEscalated {
		c.status.State = StateIdle
	}
}

func (c *Controller) waitIfPaused(ctx context.Context) error {
	c.mu.Lock()
	ch := c.resume
	c.mu.Unlock()
	if ch == nil {
		return nil
	}

	c.logger.Info("run paused", zap.Int("next_chapter", c.memory.NextChapter()))
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// checkArchive warns when the project archive and the memory store
// disagree on how far the story has progressed.
func (c *Controller) checkArchive(ctx context.Context) {
	last, err := c.outline.LastChapter(ctx)
	if err != nil {
		c.logger.Warn("failed to read archive", zap.Error(err))
		return
	}
	if mem := c.memory.LastCommitted(); last != mem {
		c.logger.Warn("archive and memory disagree",
			zap.Int("archive_last", last),
			zap.Int("memory_last", mem),
		)
	}
}

func (c *Controller) produce(ctx context.Context) (Result, error) {
	if c.Status().Halted {
		return Result{}, ErrRunHalted
	}

	n := c.memory.NextChapter()
	c.setState(n, StatePlanning)
	j := c.plan(ctx, n)

	c.setState(n, StateDrafting)
	content, err := c.generator.Generate(ctx, GenerationRequest{
		Chapter:     n,
		Title:       j.entry.Title,
		Outline:     j.entry,
		Context:     j.context,
		Length:      c.lengthBand(),
		Temperature: c.cfg.Temperature,
		Style:       c.style,
	})
	if err != nil {
		if ctx.Err() != nil {
			return c.cancelled(ctx, n)
		}
		return c.escalate(ctx, j, types.ReasonCollaboratorFailure, &CollaboratorError{Stage: StateDrafting, Err: err})
	}
	j.chapter.Content = content
	c.logger.Info("chapter drafted", zap.Int("chapter", n), zap.Int("words", token.CountWords(content)))

	for {
		j.chapter.Status = types.StatusChecking
		c.setState(n, StateChecking)
		issues := c.check(n, j.chapter.Content, j.context)
		j.chapter.Issues = issues
		c.setIssues(issues)

		j.chapter.Status = types.StatusReviewing
		c.setState(n, StateReviewing)
		result, err := c.evaluator.Review(ctx, review.Draft{
			Chapter: n,
			Title:   j.chapter.Title,
			Content: j.chapter.Content,
			Outline: j.entry,
			Context: j.context,
		}, issues)
		if err != nil {
			if ctx.Err() != nil {
				return c.cancelled(ctx, n)
			}
			return c.escalate(ctx, j, types.ReasonCollaboratorFailure, &CollaboratorError{Stage: StateReviewing, Err: err})
		}

		j.chapter.Review = &result
		if result.Passed && c.cfg.SemiAutoMode {
			ok, err := c.decider.ConfirmCommit(ctx, j.chapter, result)
			if err != nil {
				if ctx.Err() != nil {
					return c.cancelled(ctx, n)
				}
				return Result{}, fmt.Errorf("failed to confirm chapter %d: %w", n, err)
			}
			if !ok {
				result.Passed = false
				result.Feedback = append(result.Feedback, rejectedFeedback)
			}
		}
		j.attempts = append(j.attempts, types.Attempt{
			Revision: j.chapter.RevisionCount,
			Issues:   result.Issues,
			Feedback: result.Feedback,
			Scores:   result.Scores,
		})

		c.logger.Info("chapter reviewed",
			zap.Int("chapter", n),
			zap.Int("revision", j.chapter.RevisionCount),
			zap.Bool("passed", result.Passed),
			zap.Int("issues", len(issues)),
		)

		if result.Passed {
			return c.commit(ctx, j, result.ResolvedEventIDs)
		}
		if j.chapter.RevisionCount >= c.cfg.MaxRevisions {
			return c.escalate(ctx, j, types.ReasonRevisionBudgetExceeded, ErrRevisionBudgetExceeded)
		}

		j.chapter.Status = types.StatusRevising
		c.setState(n, StateRevising)
		revised, err := c.reviser.Revise(ctx, RevisionRequest{
			Chapter:     n,
			Title:       j.chapter.Title,
			Content:     j.chapter.Content,
			Feedback:    result.Feedback,
			Outline:     j.entry,
			Context:     j.context,
			Length:      c.lengthBand(),
			Temperature: c.cfg.Temperature,
			Style:       c.style,
		})
		if err != nil {
			if ctx.Err() != nil {
				return c.cancelled(ctx, n)
			}
			return c.escalate(ctx, j, types.ReasonCollaboratorFailure, &CollaboratorError{Stage: StateRevising, Err: err})
		}

		j.chapter.Versions = c.appendVersion(j.chapter.Versions, j.chapter.RevisionCount, j.chapter.Content)
		j.chapter.RevisionCount++
		j.chapter.Content = revised
	}
}

// plan looks up the outline entry and assembles the narrative context. A
// missing or unreadable entry leaves the plan empty.
func (c *Controller) plan(ctx context.Context, n int) *job {
	entry, ok, err := c.outline.OutlineEntry(ctx, n)
	if err != nil {
		c.logger.Warn("failed to read outline entry", zap.Int("chapter", n), zap.Error(err))
	}
	if err != nil || !ok {
		entry = types.OutlineEntry{Number: n}
	}
	if entry.Title == "" {
		entry.Title = fmt.Sprintf("Chapter %d", n)
	}

	known := c.memory.CharacterNames()
	names := requestedCharacters(entry, known)

	j := &job{
		entry:   entry,
		context: types.Context{Chapter: n},
		known:   mergeNames(known, entry.Characters),
		chapter: types.Chapter{
			Number:    n,
			Title:     entry.Title,
			Status:    types.StatusDrafting,
			CreatedAt: c.now(),
		},
	}
	if c.cfg.EnableMemory {
		j.context = c.memory.AssembleContext(n, c.cfg.ContextChapters, names, entry.Title+"\n"+entry.Plan)
	}

	c.logger.Debug("chapter planned",
		zap.Int("chapter", n),
		zap.String("title", entry.Title),
		zap.Strings("characters", names),
		zap.Int("summaries", len(j.context.Summaries)),
		zap.Int("events", len(j.context.Events)),
	)
	return j
}

func (c *Controller) check(n int, draft string, cx types.Context) []types.ConsistencyIssue {
	if !c.cfg.EnableConsistencyCheck {
		return nil
	}

	characters := slices.Clone(cx.Characters)
	seen := make(map[string]bool, len(characters))
	for _, cs := range characters {
		seen[cs.Name] = true
	}
	for _, cs := range c.memory.CharactersMentioned(draft) {
		if !seen[cs.Name] {
			seen[cs.Name] = true
			characters = append(characters, cs)
		}
	}

	var events []types.PlotEvent
	for _, ev := range c.memory.Events(false) {
		if ev.Chapter < n {
			events = append(events, ev)
		}
	}

	return c.checker.Check(consistency.Input{
		Chapter:    n,
		Draft:      draft,
		Characters: characters,
		Events:     events,
		LastDay:    c.memory.Timeline(),
	})
}

// commit digests the chapter, records it in memory and archives it. The
// memory store rejects the commit as a whole or accepts it as a whole.
func (c *Controller) commit(ctx context.Context, j *job, resolved []string) (Result, error) {
	ch := j.chapter
	n := ch.Number
	ch.Status = types.StatusCommitted
	ch.WordCount = token.CountWords(ch.Content)
	ch.UpdatedAt = c.now()
	ch.Versions = c.appendVersion(ch.Versions, ch.RevisionCount, ch.Content)

	rec, err := c.digest(ctx, j, ch)
	if err != nil || ctx.Err() != nil {
		return c.cancelled(ctx, n)
	}
	rec.ResolvedEventIDs = c.resolvable(n, append(rec.ResolvedEventIDs, resolved...))

	// The archive goes first. It is keyed by chapter number, so a commit
	// that aborts in memory is overwritten when the chapter is produced again.
	if err := c.outline.SaveChapter(ctx, ch); err != nil {
		if ctx.Err() != nil {
			return c.cancelled(ctx, n)
		}
		c.logger.Error("chapter save failed", zap.Int("chapter", n), zap.Error(err))
		return Result{Chapter: ch}, fmt.Errorf("failed to save chapter %d: %w", n, err)
	}
	if err := c.memory.RecordChapter(ctx, rec); err != nil {
		if ctx.Err() != nil {
			return c.cancelled(ctx, n)
		}
		c.logger.Error("commit aborted", zap.Int("chapter", n), zap.Error(err))
		return Result{Chapter: ch}, fmt.Errorf("%w: chapter %d: %w", ErrCommitAborted, n, err)
	}

	c.mu.Lock()
	c.status.State = StateCommitted
	c.status.CommittedThisRun++
	c.status.ConsecutiveFailures = 0
	c.mu.Unlock()

	c.logger.Info("chapter committed",
		zap.Int("chapter", n),
		zap.String("title", ch.Title),
		zap.Int("words", ch.WordCount),
		zap.Int("revisions", ch.RevisionCount),
		zap.Strings("resolved", rec.ResolvedEventIDs),
	)
	return Result{Chapter: ch, Committed: true}, nil
}

// digest returns the chapter's memory record. A failing digester falls back
// to the heuristic digest; only cancellation is returned as an error.
func (c *Controller) digest(ctx context.Context, j *job, ch types.Chapter) (memory.ChapterRecord, error) {
	if c.digester != nil {
		rec, err := c.digester.Digest(ctx, DigestRequest{
			Chapter:         ch,
			KnownCharacters: j.known,
			OpenEvents:      c.memory.Events(true),
		})
		if err == nil {
			return normalizeRecord(rec, ch), nil
		}
		if ctx.Err() != nil {
			return memory.ChapterRecord{}, ctx.Err()
		}
		c.logger.Warn("digest failed, using heuristic digest", zap.Int("chapter", ch.Number), zap.Error(err))
	}
	return memory.HeuristicDigest(ch, j.known), nil
}

func normalizeRecord(rec memory.ChapterRecord, ch types.Chapter) memory.ChapterRecord {
	rec.Chapter = ch.Number
	rec.Summary.Chapter = ch.Number
	if rec.Summary.Title == "" {
		rec.Summary.Title = ch.Title
	}
	rec.Summary.WordCount = ch.WordCount
	for i := range rec.Events {
		rec.Events[i].Chapter = ch.Number
	}
	return rec
}

// resolvable keeps the ids of unresolved events from earlier chapters,
// dropping duplicates and anything the memory store does not know.
func (c *Controller) resolvable(n int, ids []string) []string {
	open := make(map[string]bool)
	for _, ev := range c.memory.Events(true) {
		if ev.Chapter < n {
			open[ev.ID] = true
		}
	}

	var out []string
	for _, id := range ids {
		if open[id] {
			out = append(out, id)
			delete(open, id)
		} else {
			c.logger.Debug("ignoring resolution", zap.Int("chapter", n), zap.String("event", id))
		}
	}
	return out
}

// escalate takes the chapter out of the automatic loop. In semi-automatic
// mode the decider may accept or edit the draft, which commits it.
func (c *Controller) escalate(ctx context.Context, j *job, reason types.EscalationReason, cause error) (Result, error) {
	n := j.chapter.Number
	j.chapter.Status = types.StatusEscalated
	c.setState(n, StateEscalated)

	e := types.Escalation{
		Chapter:   n,
		Title:     j.chapter.Title,
		Reason:    reason,
		Error:     cause.Error(),
		Attempts:  j.attempts,
		Decision:  types.DecisionPending,
		CreatedAt: c.now(),
	}
	c.logger.Warn("chapter escalated",
		zap.Int("chapter", n),
		zap.String("reason", string(reason)),
		zap.Int("attempts", len(j.attempts)),
		zap.Error(cause),
	)

	if c.cfg.SemiAutoMode {
		res, err := c.decider.ResolveEscalation(ctx, e, j.chapter)
		if err != nil {
			if ctx.Err() != nil {
				return c.cancelled(ctx, n)
			}
			return Result{}, fmt.Errorf("failed to resolve escalation of chapter %d: %w", n, err)
		}

		switch res.Decision {
		case types.DecisionAccept, types.DecisionEdit:
			e.Decision = res.Decision
			if res.Decision == types.DecisionEdit && strings.TrimSpace(res.Content) != "" {
				// The operator's edit is a revision of its own.
				j.chapter.Versions = c.appendVersion(j.chapter.Versions, j.chapter.RevisionCount, j.chapter.Content)
				j.chapter.RevisionCount++
				j.chapter.Content = res.Content
			}
			c.recordEscalation(ctx, e)
			result, err := c.commit(ctx, j, nil)
			result.Escalation = &e
			return result, err
		default:
			e.Decision = types.DecisionAbandon
		}
	}

	return c.fail(ctx, j, e)
}

// fail counts an escalation against the run and applies the escalation policy.
func (c *Controller) fail(ctx context.Context, j *job, e types.Escalation) (Result, error) {
	c.mu.Lock()
	c.status.ConsecutiveFailures++
	failures := c.status.ConsecutiveFailures
	c.mu.Unlock()

	action := c.cfg.OnEscalation
	if failures >= c.cfg.MaxConsecutiveFailures {
		action = types.EscalationHalt
	}
	if e.Decision == types.DecisionPending {
		e.Decision = decisionFor(action)
	}
	c.recordEscalation(ctx, e)

	result := Result{Chapter: j.chapter, Escalation: &e}
	switch action {
	case types.EscalationHalt:
		c.mu.Lock()
		c.status.Halted = true
		c.mu.Unlock()
		c.logger.Error("run halted",
			zap.Int("chapter", e.Chapter),
			zap.Int("consecutive_failures", failures),
		)
		return result, fmt.Errorf("%w: chapter %d escalated (%s) after %d consecutive failures",
			ErrRunHalted, e.Chapter, e.Reason, failures)
	case types.EscalationSkip:
		if err := c.memory.MarkSkipped(ctx, e.Chapter); err != nil {
			return result, fmt.Errorf("%w: %w", ErrCommitAborted, err)
		}
	}
	return result, nil
}

func decisionFor(action types.EscalationPolicy) types.EscalationDecision {
	switch action {
	case types.EscalationRetry:
		return types.DecisionRetry
	case types.EscalationHalt:
		return types.DecisionHalt
	default:
		return types.DecisionSkip
	}
}

func (c *Controller) recordEscalation(ctx context.Context, e types.Escalation) {
	c.mu.Lock()
	c.escalations = append(c.escalations, e)
	c.mu.Unlock()

	if err := c.outline.RecordEscalation(ctx, e); err != nil {
		c.logger.Error("failed to archive escalation", zap.Int("chapter", e.Chapter), zap.Error(err))
	}
}

func (c *Controller) cancelled(ctx context.Context, n int) (Result, error) {
	c.setState(n, StateIdle)
	c.logger.Info("chapter not committed", zap.Int("chapter", n), zap.Error(ctx.Err()))
	return Result{}, fmt.Errorf("chapter %d not committed: %w", n, context.Cause(ctx))
}

func (c *Controller) appendVersion(vs []types.VersionSnapshot, revision int, content string) []types.VersionSnapshot {
	vs = append(vs, types.VersionSnapshot{
		Revision:  revision,
		Content:   content,
		WordCount: token.CountWords(content),
		CreatedAt: c.now(),
	})
	if limit := c.cfg.MaxHistoryVersions; limit > 0 && len(vs) > limit {
		vs = slices.Clone(vs[len(vs)-limit:])
	}
	return vs
}

func (c *Controller) lengthBand() LengthBand {
	return LengthBand{Min: c.cfg.MinWords, Target: c.cfg.TargetWords, Max: c.cfg.MaxWords}
}

func (c *Controller) setState(n int, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.CurrentChapter = n
	c.status.State = s
}

func (c *Controller) setIssues(issues []types.ConsistencyIssue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.LastIssues = slices.Clone(issues)
}

// requestedCharacters returns the outline's characters plus every known
// character named in the plan.
func requestedCharacters(entry types.OutlineEntry, known []string) []string {
	names := slices.Clone(entry.Characters)
	text := entry.Title + "\n" + entry.Plan
	for _, name := range known {
		if name != "" && strings.Contains(text, name) {
			names = append(names, name)
		}
	}
	return mergeNames(nil, names)
}

func mergeNames(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, name := range slices.Concat(a, b) {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
