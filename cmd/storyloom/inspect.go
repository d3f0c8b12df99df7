package main

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/azyu/storyloom/internal/production"
	"github.com/azyu/storyloom/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show project and memory status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer session.Close()

		ctx := cmd.Context()
		cfg := session.Project.Config
		stats := session.Memory.Stats()

		outline, err := session.Project.Outline()
		if err != nil {
			return fmt.Errorf("failed to read outline: %w", err)
		}
		chapters, err := session.Project.DB.ListChapters(ctx)
		if err != nil {
			return err
		}
		escalations, err := session.Project.DB.ListEscalations(ctx, 0)
		if err != nil {
			return err
		}

		words := 0
		for _, ch := range chapters {
			words += ch.WordCount
		}

		next := session.Memory.NextChapter()
		nextTitle := dimStyle.Render("(no outline entry)")
		if entry, ok := outline[next]; ok {
			nextTitle = entry.Title
		}

		mode := "automatic"
		if cfg.Production.SemiAutoMode {
			mode = "semi-automatic"
		}

		fmt.Println(box(cfg.Name,
			row("Genre", cfg.Genre),
			row("Model", cfg.LLM.Provider+" / "+cfg.LLM.Model),
			row("Mode", mode),
			row("Outline chapters", len(outline)),
			row("Committed chapters", len(chapters)),
			row("Total words", words),
			row("Skipped chapters", stats.SkippedChapters),
			row("Next chapter", fmt.Sprintf("%d %s", next, nextTitle)),
			row("Story day", stats.LastDay),
			row("Open threads", fmt.Sprintf("%d of %d events", stats.UnresolvedEvents, stats.Events)),
			row("Characters", stats.Characters),
			row("Recorded escalations", len(escalations)),
		))
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [chapter]",
	Short: "List committed chapters, or the versions of one chapter",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer session.Close()

		ctx := cmd.Context()
		if len(args) == 0 {
			chapters, err := session.Project.DB.ListChapters(ctx)
			if err != nil {
				return err
			}
			if len(chapters) == 0 {
				fmt.Println("No chapters committed yet.")
				return nil
			}
			for _, ch := range chapters {
				fmt.Printf("%4d  %-40s %6d words  %d revisions  %s\n",
					ch.Number, ch.Title, ch.WordCount, ch.RevisionCount, dimStyle.Render(ch.UpdatedAt.Format("2006-01-02 15:04")))
			}
			return nil
		}

		number, err := parseChapter(args[0])
		if err != nil {
			return err
		}
		ch, err := session.Project.LoadChapter(ctx, number)
		if err != nil {
			return err
		}

		rows := make([]string, 0, len(ch.Versions))
		for _, v := range ch.Versions {
			rows = append(rows, row(fmt.Sprintf("Revision %d", v.Revision),
				fmt.Sprintf("%d words  %s", v.WordCount, dimStyle.Render(v.CreatedAt.Format("2006-01-02 15:04")))))
		}
		fmt.Println(box(fmt.Sprintf("Chapter %d: %s", ch.Number, ch.Title), rows...))
		return nil
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff <chapter> [from] [to]",
	Short: "Show the difference between two versions of a chapter",
	Long:  "Show a unified diff between two revisions of a chapter. By default the last two kept versions are compared.",
	Args:  cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := parseChapter(args[0])
		if err != nil {
			return err
		}

		session, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer session.Close()

		ch, err := session.Project.LoadChapter(cmd.Context(), number)
		if err != nil {
			return err
		}
		if len(ch.Versions) < 2 {
			fmt.Printf("Chapter %d has a single kept version.\n", number)
			return nil
		}

		from, to := ch.Versions[len(ch.Versions)-2], ch.Versions[len(ch.Versions)-1]
		for i, arg := range args[1:] {
			rev, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("invalid revision %q", arg)
			}
			idx := slices.IndexFunc(ch.Versions, func(v types.VersionSnapshot) bool { return v.Revision == rev })
			if idx < 0 {
				return fmt.Errorf("chapter %d has no kept revision %d", number, rev)
			}
			if i == 0 {
				from = ch.Versions[idx]
			} else {
				to = ch.Versions[idx]
			}
		}

		fmt.Print(production.Diff(from, to))
		return nil
	},
}

var escalationsCmd = &cobra.Command{
	Use:   "escalations",
	Short: "Show recorded escalations, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		session, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer session.Close()

		escalations, err := session.Project.DB.ListEscalations(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(escalations) == 0 {
			fmt.Println("No escalations recorded.")
			return nil
		}
		for _, e := range escalations {
			fmt.Println(renderEscalation(e, session.Project.Config.Production.ReviewThresholds))
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Search the retained chapter summaries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer session.Close()

		found := 0
		for cs := range session.Memory.Search(args[0]) {
			found++
			fmt.Printf("%s %s\n", titleStyle.Render(fmt.Sprintf("Chapter %d:", cs.Chapter)), cs.Title)
			fmt.Printf("  %s\n", cs.Summary)
			if len(cs.Keywords) > 0 {
				fmt.Printf("  %s\n", dimStyle.Render(strings.Join(cs.Keywords, ", ")))
			}
		}
		if found == 0 {
			fmt.Println("No matching summaries.")
		}
		return nil
	},
}

var grepCmd = &cobra.Command{
	Use:   "grep <query>",
	Short: "Full-text search over every committed chapter",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		source, _ := cmd.Flags().GetString("source")

		session, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer session.Close()

		results, err := session.Project.Search.Search(cmd.Context(), strings.Join(args, " "), source, limit, "")
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No matches. Run 'storyloom reindex' if chapters were edited by hand.")
			return nil
		}
		for _, r := range results {
			fmt.Printf("%s %s\n", titleStyle.Render(r.SourcePath), dimStyle.Render(fmt.Sprintf("(%.2f)", r.Score)))
			fmt.Printf("  %s\n", r.Snippet)
		}
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <event-id>...",
	Short: "Mark plot events as resolved",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer session.Close()

		if err := session.Memory.ResolveEvents(cmd.Context(), args...); err != nil {
			return err
		}
		fmt.Println(okStyle.Render(fmt.Sprintf("Resolved %d event(s).", len(args))))
		return nil
	},
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect the story memory",
}

var memoryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer session.Close()

		s := session.Memory.Stats()
		fmt.Println(box("Memory",
			row("Retained summaries", fmt.Sprintf("%d (limit %d)", s.Summaries, session.Project.Config.Production.MemoryMaxChapters)),
			row("Oldest summary", s.OldestSummary),
			row("Last committed", s.LastCommitted),
			row("Skipped chapters", s.SkippedChapters),
			row("Characters", s.Characters),
			row("Events", s.Events),
			row("Unresolved events", s.UnresolvedEvents),
			row("Story day", s.LastDay),
		))
		return nil
	},
}

var memoryCharactersCmd = &cobra.Command{
	Use:   "characters",
	Short: "List the character ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer session.Close()

		for _, name := range session.Memory.CharacterNames() {
			c, _ := session.Memory.Character(name)
			rows := []string{
				row("Last seen", fmt.Sprintf("chapter %d", c.LastChapter)),
				row("Status", c.Status),
				row("Location", c.Location),
			}
			for _, k := range slices.Sorted(maps.Keys(c.Attributes)) {
				rows = append(rows, row(k, c.Attributes[k]))
			}
			for _, k := range slices.Sorted(maps.Keys(c.Relationships)) {
				rows = append(rows, row("→ "+k, c.Relationships[k]))
			}
			fmt.Println(box(c.Name, rows...))
		}
		return nil
	},
}

var memoryEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List plot events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		session, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer session.Close()

		for _, ev := range session.Memory.Events(!all) {
			state := warnStyle.Render("open")
			if ev.Resolved {
				state = okStyle.Render("resolved")
			}
			fmt.Printf("%s  %-13s ch.%-4d %-8s %s\n",
				dimStyle.Render(ev.ID), ev.Type, ev.Chapter, state, ev.Description)
		}
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the full-text index of the chapter archive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer session.Close()

		n, err := session.Project.Reindex(cmd.Context())
		if err != nil {
			return fmt.Errorf("reindex failed: %w", err)
		}
		fmt.Printf("Reindex complete. Indexed %d files.\n", n)
		return nil
	},
}

func parseChapter(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid chapter number %q", arg)
	}
	return n, nil
}

func init() {
	escalationsCmd.Flags().Int("limit", 10, "Maximum escalations to show")
	grepCmd.Flags().Int("limit", 10, "Maximum results")
	grepCmd.Flags().String("source", "", "Restrict to a source type: chapter or outline")
	memoryEventsCmd.Flags().Bool("all", false, "Include resolved events")

	memoryCmd.AddCommand(memoryStatsCmd)
	memoryCmd.AddCommand(memoryCharactersCmd)
	memoryCmd.AddCommand(memoryEventsCmd)
}
