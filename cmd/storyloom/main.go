// Package main is the entry point for storyloom.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/azyu/storyloom/internal/app"
)

var version = "0.1.0"

// Persistent flags.
var (
	projectRef string
	configDir  string
	logLevel   string
	verbose    bool
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		return 1
	}
	return 0
}

var rootCmd = &cobra.Command{
	Use:   "storyloom",
	Short: "Automated production of serialized fiction",
	Long: `Storyloom produces a serialized story one chapter at a time from an outline.
Every draft is checked against the story's memory of characters, events and
timeline, reviewed, revised when it falls short and committed to the archive.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func newApp() (*app.App, error) {
	application, err := app.New(app.Options{
		ConfigDir: configDir,
		LogLevel:  logLevel,
		Verbose:   verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize app: %w", err)
	}
	return application, nil
}

// openSession opens the project selected by --project.
func openSession(cmd *cobra.Command) (*app.Session, error) {
	application, err := newApp()
	if err != nil {
		return nil, err
	}
	return application.Open(cmd.Context(), projectRef)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectRef, "project", "p", "", "Project name or directory (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Configuration directory (default: ~/.config/storyloom)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Mirror the log on stderr")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(produceCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(escalationsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(grepCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(authCmd)
}
