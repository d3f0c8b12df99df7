// Package app provides application lifecycle management: configuration,
// project sessions and wiring of the production pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/azyu/storyloom/internal/consistency"
	"github.com/azyu/storyloom/internal/llm"
	"github.com/azyu/storyloom/internal/llm/adapters"
	"github.com/azyu/storyloom/internal/logging"
	"github.com/azyu/storyloom/internal/memory"
	"github.com/azyu/storyloom/internal/production"
	"github.com/azyu/storyloom/internal/project"
	"github.com/azyu/storyloom/internal/review"
	"github.com/azyu/storyloom/internal/storage"
	"github.com/azyu/storyloom/internal/token"
	"github.com/azyu/storyloom/pkg/types"
)

// RunLogFile is the project-relative path of the run log.
var RunLogFile = filepath.Join(storage.StateDir, "run.log")

// Options configures an App.
type Options struct {
	// ConfigDir overrides the user configuration directory.
	ConfigDir string
	// LogLevel overrides the configured log level.
	LogLevel string
	// Verbose mirrors the log on stderr.
	Verbose bool
}

// App represents the main application instance.
type App struct {
	Config         *ConfigManager
	Global         *types.GlobalConfig
	ProjectManager *project.Manager
	Logger         *zap.Logger
	opts           Options
}

// New creates a new application instance.
func New(opts Options) (*App, error) {
	configManager := NewConfigManagerAt(opts.ConfigDir)
	if opts.ConfigDir == "" {
		var err error
		if configManager, err = NewConfigManager(); err != nil {
			return nil, fmt.Errorf("failed to initialize config manager: %w", err)
		}
	}

	globalConfig, err := configManager.LoadGlobalConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load global config: %w", err)
	}

	a := &App{Config: configManager, Global: globalConfig, opts: opts}
	if a.Logger, err = a.newLogger(""); err != nil {
		return nil, err
	}

	a.ProjectManager, err = project.NewManager(globalConfig.ProjectsDir, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize project manager: %w", err)
	}
	return a, nil
}

func (a *App) newLogger(file string) (*zap.Logger, error) {
	level := a.Global.Logging.Level
	if a.opts.LogLevel != "" {
		level = a.opts.LogLevel
	}
	return logging.New(logging.Options{
		Level:   level,
		Console: a.Global.Logging.Console || a.opts.Verbose,
		File:    file,
	})
}

// CreateProject creates a new project using the default provider.
func (a *App) CreateProject(name, genre string) (*project.Project, error) {
	config := types.DefaultProjectConfig(name, genre)
	if provider := a.Global.Defaults.Provider; provider != "" && provider != config.LLM.Provider {
		config.LLM.Provider = provider
		config.LLM.Model = ""
		if pc, ok := a.Global.Providers[provider]; ok {
			config.LLM.Model = pc.DefaultModel
		}
	}
	proj, err := a.ProjectManager.Create(name, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return proj, nil
}

// ListProjects returns all available projects.
func (a *App) ListProjects() ([]*types.Project, error) {
	return a.ProjectManager.List()
}

// ResolveProject maps a project reference to its directory. A reference is
// either a path to a project directory or the name of a project in the
// projects directory. An empty reference means the working directory.
func (a *App) ResolveProject(ref string) (string, error) {
	if ref == "" {
		ref = "."
	}
	if isProjectDir(ref) {
		return filepath.Abs(ref)
	}
	if strings.ContainsRune(ref, filepath.Separator) || ref == "." {
		return "", fmt.Errorf("%w: %s", project.ErrProjectNotFound, ref)
	}

	path := filepath.Join(a.ProjectManager.ProjectsDir(), ref)
	if !isProjectDir(path) {
		return "", fmt.Errorf("%w: %s", project.ErrProjectNotFound, ref)
	}
	return path, nil
}

func isProjectDir(path string) bool {
	info, err := os.Stat(filepath.Join(path, storage.StateDir))
	return err == nil && info.IsDir()
}

// Session is an open project with its memory store. The session logger
// also writes to the project's run log.
type Session struct {
	Project *project.Project
	Memory  *memory.Store
	Logger  *zap.Logger

	app      *App
	provider llm.Provider
}

// Open opens a project session and restores its memory.
func (a *App) Open(ctx context.Context, ref string) (*Session, error) {
	path, err := a.ResolveProject(ref)
	if err != nil {
		return nil, err
	}

	logger, err := a.newLogger(filepath.Join(path, RunLogFile))
	if err != nil {
		return nil, err
	}

	proj, err := project.OpenAt(path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open project: %w", err)
	}

	store, err := memory.Open(ctx,
		memory.WithPersister(proj.DB),
		memory.WithMaxSummaries(proj.Config.Production.MemoryMaxChapters),
		memory.WithLogger(logger),
	)
	if err != nil {
		proj.Close()
		return nil, fmt.Errorf("failed to restore memory: %w", err)
	}

	logger.Debug("session opened",
		zap.String("project", proj.Config.Name),
		zap.Int("last_committed", store.LastCommitted()),
	)
	return &Session{Project: proj, Memory: store, Logger: logger, app: a}, nil
}

// Controller builds the production controller for the session. decider is
// required in semi-automatic mode and ignored otherwise.
func (s *Session) Controller(ctx context.Context, decider production.Decider) (*production.Controller, error) {
	cfg := s.Project.Config

	provider, err := NewProvider(ctx, s.app.Global, cfg.LLM)
	if err != nil {
		return nil, err
	}
	if s.provider != nil {
		s.provider.Close()
	}
	s.provider = provider

	counter, err := token.NewCounter(token.EncodingForModel(provider.Model()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token counter: %w", err)
	}

	collab := llm.NewCollaborator(provider, cfg.Production,
		llm.WithLogger(s.Logger),
		llm.WithCounter(counter),
		llm.WithProject(cfg.Name, cfg.Genre),
	)

	return production.New(production.Config{
		Production: cfg.Production,
		Writing:    cfg.Writing,
		Memory:     s.Memory,
		Checker:    consistency.NewChecker(),
		Evaluator:  review.NewEvaluator(collab, cfg.Production.ReviewThresholds, s.Logger),
		Generator:  collab,
		Reviser:    collab,
		Digester:   collab,
		Outline:    s.Project,
		Decider:    decider,
		Logger:     s.Logger,
	})
}

// Close releases the session's resources.
func (s *Session) Close() error {
	var errs []error
	if s.provider != nil {
		errs = append(errs, s.provider.Close())
	}
	errs = append(errs, s.Project.Close())
	_ = s.Logger.Sync()
	return errors.Join(errs...)
}

// NewProvider creates the chat provider named by cfg, falling back to the
// global default provider and the provider's default model. Any provider
// with a base URL other than gemini is treated as OpenAI-compatible.
func NewProvider(ctx context.Context, global *types.GlobalConfig, cfg types.LLMConfig) (llm.Provider, error) {
	name := cfg.Provider
	if name == "" {
		name = global.Defaults.Provider
	}

	pc, ok := global.Providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, name)
	}
	model := cfg.Model
	if model == "" {
		model = pc.DefaultModel
	}

	var (
		provider llm.Provider
		err      error
	)
	switch {
	case name == "gemini":
		provider, err = adapters.NewGeminiAdapter(ctx, pc.APIKey, model)
	case name == "openai" || pc.BaseURL != "":
		var opts []adapters.OpenAIOption
		if pc.BaseURL != "" {
			opts = append(opts, adapters.WithOpenAIBaseURL(pc.BaseURL))
		}
		provider, err = adapters.NewOpenAIAdapter(pc.APIKey, model, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", name, err)
	}
	return provider, nil
}
