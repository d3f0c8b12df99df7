package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/azyu/storyloom/internal/production"
	"github.com/azyu/storyloom/pkg/types"
)

// promptDecider asks the operator on the terminal in semi-automatic mode.
type promptDecider struct {
	out        io.Writer
	thresholds types.ReviewThresholds
}

var _ production.Decider = (*promptDecider)(nil)

func newPromptDecider(out io.Writer, thresholds types.ReviewThresholds) *promptDecider {
	return &promptDecider{out: out, thresholds: thresholds}
}

// ConfirmCommit shows the verdict of a passing draft and asks whether to commit it.
func (d *promptDecider) ConfirmCommit(ctx context.Context, ch types.Chapter, result types.ReviewResult) (bool, error) {
	fmt.Fprintln(d.out, renderReview(ch, result, d.thresholds))

	commit := true
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Commit chapter %d?", ch.Number)).
				Description("Declining sends the draft back for revision.").
				Affirmative("Commit").
				Negative("Revise").
				Value(&commit),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		return false, fmt.Errorf("commit confirmation failed: %w", err)
	}
	return commit, nil
}

// ResolveEscalation shows an escalation report and asks how to settle it.
func (d *promptDecider) ResolveEscalation(ctx context.Context, e types.Escalation, draft types.Chapter) (production.Resolution, error) {
	fmt.Fprintln(d.out, renderEscalation(e, d.thresholds))

	options := []huh.Option[types.EscalationDecision]{
		huh.NewOption("Abandon the draft", types.DecisionAbandon),
	}
	if strings.TrimSpace(draft.Content) != "" {
		options = append([]huh.Option[types.EscalationDecision]{
			huh.NewOption("Accept the last draft as is", types.DecisionAccept),
			huh.NewOption("Edit the last draft, then commit it", types.DecisionEdit),
		}, options...)
	}

	decision := types.DecisionAbandon
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[types.EscalationDecision]().
				Title(fmt.Sprintf("Chapter %d needs a decision", e.Chapter)).
				Options(options...).
				Value(&decision),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		return production.Resolution{}, fmt.Errorf("escalation decision failed: %w", err)
	}

	res := production.Resolution{Decision: decision}
	if decision != types.DecisionEdit {
		return res, nil
	}

	content := draft.Content
	editor := huh.NewForm(
		huh.NewGroup(
			huh.NewText().
				Title(fmt.Sprintf("Chapter %d: %s", draft.Number, draft.Title)).
				Description("ctrl+e opens $EDITOR").
				Lines(20).
				CharLimit(0).
				Value(&content),
		),
	)
	if err := editor.RunWithContext(ctx); err != nil {
		return production.Resolution{}, fmt.Errorf("draft edit failed: %w", err)
	}
	res.Content = content
	return res, nil
}
