package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/azyu/storyloom/internal/app"
	"github.com/azyu/storyloom/internal/production"
	"github.com/azyu/storyloom/internal/tui"
)

var initCmd = &cobra.Command{
	Use:   "init <name>",
	Short: "Create a new serial project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		genre, _ := cmd.Flags().GetString("genre")

		application, err := newApp()
		if err != nil {
			return err
		}

		proj, err := application.CreateProject(args[0], genre)
		if err != nil {
			return err
		}
		defer proj.Close()

		fmt.Println(box("Project created",
			row("Name", proj.Config.Name),
			row("Path", proj.Path()),
			row("Provider", proj.Config.LLM.Provider+" / "+proj.Config.LLM.Model),
		))
		fmt.Println(dimStyle.Render("Write the outline in outline.md, then run: storyloom run -p " + args[0]))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all serial projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := newApp()
		if err != nil {
			return err
		}

		projects, err := application.ListProjects()
		if err != nil {
			return fmt.Errorf("failed to list projects: %w", err)
		}

		if len(projects) == 0 {
			fmt.Println("No projects found. Create one with: storyloom init <name>")
			return nil
		}

		fmt.Println(titleStyle.Render("Projects"))
		for _, p := range projects {
			fmt.Printf("  - %s (%s) %s\n", p.Name, p.Genre, dimStyle.Render(p.Path))
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Produce chapters until the target is reached or the outline ends",
	Long: `Produce chapters one after another. With --chapters 0 the run continues
until the outline has no entry for the next chapter. The run stops early when
too many chapters fail in a row; interrupt with ctrl+c to stop without
committing the chapter in flight.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetInt("chapters")
		dashboard, _ := cmd.Flags().GetBool("tui")
		semiAuto, _ := cmd.Flags().GetBool("semi-auto")
		if dashboard && semiAuto {
			return fmt.Errorf("--tui cannot be combined with --semi-auto")
		}

		session, ctrl, err := openController(cmd)
		if err != nil {
			return err
		}
		defer session.Close()

		if dashboard {
			if session.Project.Config.Production.SemiAutoMode {
				return fmt.Errorf("the dashboard cannot ask for decisions; disable semi_auto_mode or drop --tui")
			}
			model := tui.New(cmd.Context(), ctrl, session.Project.Config.Name, target)
			if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
				return fmt.Errorf("TUI error: %w", err)
			}
			err = model.Err()
		} else {
			stopWatch := watchProgress(cmd.Context(), ctrl)
			err = ctrl.StartRun(cmd.Context(), target)
			stopWatch()
		}

		printRunSummary(session, ctrl)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, context.Canceled):
			fmt.Println(warnStyle.Render("Interrupted. The chapter in flight was not committed."))
			return nil
		default:
			return err
		}
	},
}

var produceCmd = &cobra.Command{
	Use:   "produce",
	Short: "Produce the next chapter",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, ctrl, err := openController(cmd)
		if err != nil {
			return err
		}
		defer session.Close()

		stopWatch := watchProgress(cmd.Context(), ctrl)
		res, err := ctrl.ProduceOneChapter(cmd.Context())
		stopWatch()
		if err != nil && res.Escalation == nil {
			return err
		}

		thresholds := session.Project.Config.Production.ReviewThresholds
		switch {
		case res.Committed && res.Chapter.Review != nil:
			fmt.Println(renderReview(res.Chapter, *res.Chapter.Review, thresholds))
		case res.Committed:
			fmt.Println(okStyle.Render(fmt.Sprintf("Chapter %d committed.", res.Chapter.Number)))
		case res.Escalation != nil:
			fmt.Println(renderEscalation(*res.Escalation, thresholds))
		}
		return err
	},
}

// openController opens the session and builds its controller. In
// semi-automatic mode the operator is asked on the terminal.
func openController(cmd *cobra.Command) (*app.Session, *production.Controller, error) {
	semiAuto, _ := cmd.Flags().GetBool("semi-auto")

	session, err := openSession(cmd)
	if err != nil {
		return nil, nil, err
	}

	cfg := &session.Project.Config.Production
	if semiAuto {
		cfg.SemiAutoMode = true
	}

	var decider production.Decider
	if cfg.SemiAutoMode {
		decider = newPromptDecider(os.Stdout, cfg.ReviewThresholds)
	}

	ctrl, err := session.Controller(cmd.Context(), decider)
	if err != nil {
		session.Close()
		return nil, nil, err
	}
	return session, ctrl, nil
}

// watchProgress prints state transitions to stderr until the returned stop
// function is called.
func watchProgress(ctx context.Context, ctrl *production.Controller) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()

		var last production.Status
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			st := ctrl.Status()
			if st.State == last.State && st.CurrentChapter == last.CurrentChapter {
				continue
			}
			last = st
			if st.State == production.StateIdle {
				continue
			}
			fmt.Fprintf(os.Stderr, "%s chapter %d: %s\n",
				dimStyle.Render(time.Now().Format("15:04:05")), st.CurrentChapter, renderState(st.State))
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func printRunSummary(session *app.Session, ctrl *production.Controller) {
	st := ctrl.Status()
	thresholds := session.Project.Config.Production.ReviewThresholds

	for _, e := range ctrl.Escalations() {
		fmt.Println(renderEscalation(e, thresholds))
	}

	halted := okStyle.Render("no")
	if st.Halted {
		halted = errorStyle.Render("yes")
	}
	fmt.Println(box("Run finished",
		row("Committed this run", st.CommittedThisRun),
		row("Next chapter", session.Memory.NextChapter()),
		row("Consecutive failures", st.ConsecutiveFailures),
		row("Halted", halted),
		row("Run log", dimStyle.Render(app.RunLogFile)),
	))
}

func init() {
	initCmd.Flags().String("genre", "", "Genre of the story")

	runCmd.Flags().IntP("chapters", "n", 1, "Chapters to commit in this run (0 = until the outline ends)")
	runCmd.Flags().Bool("semi-auto", false, "Ask before committing and on every escalation")
	runCmd.Flags().Bool("tui", false, "Show a live dashboard (p pauses, q stops)")
	produceCmd.Flags().Bool("semi-auto", false, "Ask before committing and on every escalation")
}
