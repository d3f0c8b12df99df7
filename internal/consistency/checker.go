// Package consistency detects contradictions between a chapter draft and the
// recorded narrative history. Checks never modify history, and missing
// history is never treated as a contradiction.
package consistency

import (
	"strings"
	"unicode"

	"github.com/azyu/storyloom/pkg/types"
)

// Input is the draft plus the slice of history it is checked against.
type Input struct {
	Chapter    int
	Draft      string
	Characters []types.CharacterState
	Events     []types.PlotEvent
	LastDay    int
}

// Checker runs the consistency checks.
type Checker struct {
	checks []check
}

type check func(in Input, sentences []string) []types.ConsistencyIssue

// NewChecker creates a checker with the character-behavior, timeline, logic
// and worldbuilding checks, in that order.
func NewChecker() *Checker {
	return &Checker{
		checks: []check{
			checkCharacterBehavior,
			checkTimeline,
			checkLogic,
			checkWorldbuilding,
		},
	}
}

// Check returns every issue found in the draft. The result is ordered by
// check and, within a check, by position in the draft.
func (c *Checker) Check(in Input) []types.ConsistencyIssue {
	if strings.TrimSpace(in.Draft) == "" {
		return nil
	}

	sentences := splitSentences(in.Draft)
	var issues []types.ConsistencyIssue
	for _, fn := range c.checks {
		issues = append(issues, fn(in, sentences)...)
	}
	return issues
}

func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	for _, r := range text {
		b.WriteRune(r)
		switch r {
		case '.', '!', '?', '。', '！', '？', '\n', '…':
			flush()
		}
	}
	flush()
	return out
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func excerpt(s string) string {
	const limit = 120
	r := []rune(strings.TrimFunc(s, unicode.IsSpace))
	if len(r) <= limit {
		return string(r)
	}
	return string(r[:limit]) + "…"
}
