package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/azyu/storyloom/internal/production"
	"github.com/azyu/storyloom/internal/review"
	"github.com/azyu/storyloom/pkg/types"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(22)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8")).Padding(0, 1)
	severityLook = map[types.Severity]lipgloss.Style{
		types.SeverityCritical: errorStyle,
		types.SeverityWarning:  warnStyle,
		types.SeverityInfo:     dimStyle,
	}
)

// row renders one label/value line.
func row(label string, value any) string {
	return labelStyle.Render(label) + fmt.Sprint(value)
}

func box(title string, rows ...string) string {
	body := append([]string{titleStyle.Render(title)}, rows...)
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, body...))
}

func renderState(s production.State) string {
	switch s {
	case production.StateCommitted:
		return okStyle.Render(string(s))
	case production.StateEscalated:
		return errorStyle.Render(string(s))
	case production.StateIdle:
		return dimStyle.Render(string(s))
	default:
		return warnStyle.Render(string(s))
	}
}

func renderScores(s types.Scores, t types.ReviewThresholds) string {
	parts := make([]string, 0, len(types.Dimensions))
	for _, d := range types.Dimensions {
		text := fmt.Sprintf("%s %.0f", d, s.Get(d))
		if s.Get(d) < t.Get(d) {
			parts = append(parts, warnStyle.Render(text))
		} else {
			parts = append(parts, okStyle.Render(text))
		}
	}
	return strings.Join(parts, dimStyle.Render(" · "))
}

func renderIssue(issue types.ConsistencyIssue) string {
	style, ok := severityLook[issue.Severity]
	if !ok {
		style = dimStyle
	}
	return style.Render(review.FormatIssue(issue))
}

// renderReview renders a verdict with its scores, issues and feedback.
func renderReview(ch types.Chapter, result types.ReviewResult, t types.ReviewThresholds) string {
	verdict := okStyle.Render("passed")
	if !result.Passed {
		verdict = errorStyle.Render("failed")
	}

	rows := []string{
		row("Verdict", verdict),
		row("Words", ch.WordCount),
		row("Revisions", ch.RevisionCount),
		row("Scores", renderScores(result.Scores, t)),
	}
	for _, issue := range result.Issues {
		rows = append(rows, "  "+renderIssue(issue))
	}
	for i, f := range result.Feedback {
		rows = append(rows, dimStyle.Render(fmt.Sprintf("  %d. %s", i+1, f)))
	}
	return box(fmt.Sprintf("Chapter %d: %s", ch.Number, ch.Title), rows...)
}

// renderEscalation renders an escalation report.
func renderEscalation(e types.Escalation, t types.ReviewThresholds) string {
	rows := []string{
		row("Reason", errorStyle.Render(string(e.Reason))),
		row("Decision", e.Decision),
		row("Raised", e.CreatedAt.Format("2006-01-02 15:04")),
	}
	if e.Error != "" {
		rows = append(rows, row("Error", e.Error))
	}
	for _, a := range e.Attempts {
		rows = append(rows, row(fmt.Sprintf("Attempt %d", a.Revision), renderScores(a.Scores, t)))
		for _, issue := range a.Issues {
			rows = append(rows, "  "+renderIssue(issue))
		}
	}
	return box(fmt.Sprintf("Escalation: chapter %d %s", e.Chapter, e.Title), rows...)
}
