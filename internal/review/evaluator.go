// Package review owns the pass/fail policy applied to chapter drafts.
// Qualitative scoring is delegated to a Scorer.
package review

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/azyu/storyloom/pkg/types"
)

// ErrScorerFailed wraps any error returned by the Scorer.
var ErrScorerFailed = errors.New("review scorer failed")

// MaxScore is the top of the scoring scale.
const MaxScore = 100

// Draft is the material handed to a scorer.
type Draft struct {
	Chapter int
	Title   string
	Content string
	Outline types.OutlineEntry
	Context types.Context
	Issues  []types.ConsistencyIssue
}

// Scorer rates a draft on every review dimension.
type Scorer interface {
	Score(ctx context.Context, d Draft) (types.Scorecard, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(ctx context.Context, d Draft) (types.Scorecard, error)

// Score implements Scorer.
func (f ScorerFunc) Score(ctx context.Context, d Draft) (types.Scorecard, error) {
	return f(ctx, d)
}

// Evaluator turns consistency issues and scores into a verdict.
type Evaluator struct {
	scorer     Scorer
	thresholds types.ReviewThresholds
	logger     *zap.Logger
}

// NewEvaluator creates an evaluator. A nil logger discards output.
func NewEvaluator(scorer Scorer, thresholds types.ReviewThresholds, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		scorer:     scorer,
		thresholds: thresholds,
		logger:     logger.Named("review"),
	}
}

// Review scores the draft and decides pass or fail. The draft fails when
// any issue is critical or any dimension scores below its threshold.
func (e *Evaluator) Review(ctx context.Context, d Draft, issues []types.ConsistencyIssue) (types.ReviewResult, error) {
	d.Issues = issues
	card, err := e.scorer.Score(ctx, d)
	if err != nil {
		return types.ReviewResult{}, fmt.Errorf("%w: %w", ErrScorerFailed, err)
	}
	card.Scores = clampScores(card.Scores)

	ordered := OrderIssues(issues)
	passed := true
	critical := 0
	for _, issue := range ordered {
		if issue.Severity == types.SeverityCritical {
			passed = false
			critical++
		}
	}

	feedback := make([]string, 0, len(ordered)+len(types.Dimensions)+1)
	for _, issue := range ordered {
		feedback = append(feedback, FormatIssue(issue))
	}

	var low []string
	for _, dim := range types.Dimensions {
		score, floor := card.Scores.Get(dim), e.thresholds.Get(dim)
		note := strings.TrimSpace(card.DimensionFeedback[dim])
		if score < floor {
			passed = false
			low = append(low, string(dim))
			if note == "" {
				note = fmt.Sprintf("score %.0f is below the minimum %.0f", score, floor)
			}
		}
		if note != "" {
			feedback = append(feedback, fmt.Sprintf("[%s] %s", dim, note))
		}
	}

	if comment := strings.TrimSpace(card.Comment); comment != "" {
		feedback = append(feedback, comment)
	}

	e.logger.Debug("draft reviewed",
		zap.Int("chapter", d.Chapter),
		zap.Bool("passed", passed),
		zap.Int("critical", critical),
		zap.Strings("below_threshold", low),
	)

	return types.ReviewResult{
		Scores:           card.Scores,
		Passed:           passed,
		Feedback:         feedback,
		Issues:           ordered,
		ResolvedEventIDs: card.ResolvedEventIDs,
	}, nil
}

// OrderIssues sorts issues critical first, then warning, then info. Order
// within one severity is preserved.
func OrderIssues(issues []types.ConsistencyIssue) []types.ConsistencyIssue {
	out := slices.Clone(issues)
	slices.SortStableFunc(out, func(a, b types.ConsistencyIssue) int {
		return cmp.Compare(b.Severity.Rank(), a.Severity.Rank())
	})
	return out
}

// FormatIssue renders an issue as one line of revision feedback.
func FormatIssue(issue types.ConsistencyIssue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s/%s] %s", issue.Severity, issue.Category, issue.Description)
	if issue.Suggestion != "" {
		fmt.Fprintf(&b, " Suggestion: %s", issue.Suggestion)
	}
	return b.String()
}

func clampScores(s types.Scores) types.Scores {
	clamp := func(v float64) float64 { return max(0, min(MaxScore, v)) }
	return types.Scores{
		Logic:     clamp(s.Logic),
		Character: clamp(s.Character),
		Plot:      clamp(s.Plot),
		Prose:     clamp(s.Prose),
	}
}
