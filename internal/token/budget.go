package token

import (
	"sort"
)

// ModelContextLimits maps model names to their maximum context window sizes.
var ModelContextLimits = map[string]int{
	"gpt-4o":           128000,
	"gpt-4o-mini":      128000,
	"gpt-4-turbo":      128000,
	"gpt-4":            8192,
	"gpt-3.5-turbo":    16385,
	"gemini-2.0-flash": 1000000,
	"gemini-2.0-pro":   1000000,
	"gemini-1.5-pro":   2000000,
	"gemini-1.5-flash": 1000000,
}

// DefaultContextLimit is used when the model is not recognized.
const DefaultContextLimit = 8192

// Section is one part of a prompt competing for the token budget.
// Sections with a lower Priority value are kept first; KeepEnd trims from
// the front so the most recent material survives.
type Section struct {
	Name     string
	Text     string
	Priority int
	KeepEnd  bool
}

// PromptBudget fits prompt sections into a model's context window while
// reserving room for the response.
type PromptBudget struct {
	model     string
	maxTokens int
	reserve   int
}

// NewPromptBudget creates a budget for model that keeps responseTokens free.
func NewPromptBudget(model string, responseTokens int) *PromptBudget {
	return &PromptBudget{
		model:     model,
		maxTokens: ContextLimit(model),
		reserve:   max(responseTokens, 0),
	}
}

// ContextLimit returns the context limit for a model, or the default if unknown.
func ContextLimit(model string) int {
	if limit, ok := ModelContextLimits[model]; ok {
		return limit
	}
	return DefaultContextLimit
}

// ResponseTokens estimates the tokens needed for a response of maxWords words.
func ResponseTokens(maxWords int) int {
	return maxWords * 2
}

// Available returns the tokens left for the prompt.
func (b *PromptBudget) Available() int {
	return max(b.maxTokens-b.reserve, 0)
}

// MaxTokens returns the context window of the model.
func (b *PromptBudget) MaxTokens() int {
	return b.maxTokens
}

// Fit truncates sections so their total fits in Available. Sections are
// granted budget in priority order; the returned slice keeps the input
// order and drops sections that end up empty.
func (b *PromptBudget) Fit(c *Counter, sections []Section) []Section {
	order := make([]int, len(sections))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return sections[order[i]].Priority < sections[order[j]].Priority
	})

	fitted := make([]Section, len(sections))
	copy(fitted, sections)

	left := b.Available()
	for _, i := range order {
		n := c.Count(fitted[i].Text)
		if n > left {
			fitted[i].Text = c.TruncateToFit(fitted[i].Text, left, fitted[i].KeepEnd)
			n = c.Count(fitted[i].Text)
		}
		left -= n
	}

	out := fitted[:0]
	for _, s := range fitted {
		if s.Text != "" {
			out = append(out, s)
		}
	}
	return out
}
