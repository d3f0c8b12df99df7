// Package project provides project layout, outline and chapter archive handling.
package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/azyu/storyloom/internal/search"
	"github.com/azyu/storyloom/internal/storage"
	"github.com/azyu/storyloom/internal/token"
	"github.com/azyu/storyloom/pkg/types"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrProjectExists   = errors.New("project already exists")
	ErrInvalidName     = errors.New("invalid project name")
)

// ChaptersDir is the project-relative directory holding committed chapters.
const ChaptersDir = "chapters"

const outlineTemplate = `# %s Outline

## Chapter 1: Opening

Introduce the protagonist and the question that drives the story.

Characters:
`

// Manager handles project lifecycle operations.
type Manager struct {
	projectsDir string
	logger      *zap.Logger
}

// NewManager creates a new project manager.
func NewManager(projectsDir string, logger *zap.Logger) (*Manager, error) {
	if strings.HasPrefix(projectsDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		projectsDir = filepath.Join(home, projectsDir[2:])
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(projectsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create projects directory: %w", err)
	}

	return &Manager{projectsDir: projectsDir, logger: logger}, nil
}

// ProjectsDir returns the directory holding all projects.
func (m *Manager) ProjectsDir() string {
	return m.projectsDir
}

// Create creates a new project with an outline skeleton.
func (m *Manager) Create(name string, config *types.ProjectConfig) (*Project, error) {
	if !isValidName(name) {
		return nil, ErrInvalidName
	}
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	projectPath := filepath.Join(m.projectsDir, name)
	if _, err := os.Stat(projectPath); err == nil {
		return nil, ErrProjectExists
	}

	for _, dir := range []string{storage.StateDir, ChaptersDir} {
		if err := os.MkdirAll(filepath.Join(projectPath, dir), 0755); err != nil {
			os.RemoveAll(projectPath)
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := SaveProjectConfig(projectPath, config); err != nil {
		os.RemoveAll(projectPath)
		return nil, fmt.Errorf("failed to save project config: %w", err)
	}

	readme := fmt.Sprintf("# %s\n\nA %s serial produced with storyloom.\n\nCreated: %s\n",
		config.Name, config.Genre, config.CreatedAt.Format("2006-01-02"))
	files := map[string]string{
		"README.md": readme,
		OutlineFile: fmt.Sprintf(outlineTemplate, config.Name),
	}
	for rel, content := range files {
		if err := storage.AtomicWriteFile(filepath.Join(projectPath, rel), []byte(content)); err != nil {
			os.RemoveAll(projectPath)
			return nil, fmt.Errorf("failed to create %s: %w", rel, err)
		}
	}

	m.logger.Info("project created", zap.String("name", name), zap.String("path", projectPath))
	return m.Open(name)
}

// Open opens an existing project by name.
func (m *Manager) Open(name string) (*Project, error) {
	return OpenAt(filepath.Join(m.projectsDir, name), m.logger)
}

// List returns all available projects.
func (m *Manager) List() ([]*types.Project, error) {
	entries, err := os.ReadDir(m.projectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*types.Project{}, nil
		}
		return nil, err
	}

	var projects []*types.Project
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		projectPath := filepath.Join(m.projectsDir, entry.Name())
		config, err := LoadProjectConfig(projectPath)
		if err != nil {
			continue
		}

		info, _ := entry.Info()
		projects = append(projects, &types.Project{
			Name:      config.Name,
			Path:      projectPath,
			Genre:     config.Genre,
			CreatedAt: config.CreatedAt,
			UpdatedAt: info.ModTime(),
		})
	}

	return projects, nil
}

// isValidName checks if a project name is usable as a directory name.
func isValidName(name string) bool {
	if name == "" || len(name) > 100 {
		return false
	}

	invalid := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", "..", " "}
	for _, char := range invalid {
		if strings.Contains(name, char) {
			return false
		}
	}

	reserved := []string{".", "..", "con", "prn", "aux", "nul"}
	nameLower := strings.ToLower(name)
	for _, r := range reserved {
		if nameLower == r {
			return false
		}
	}

	return true
}

// Project is an open serial project. It is the outline and archive
// collaborator of the production controller.
type Project struct {
	Info    *types.Project
	Config  *types.ProjectConfig
	FS      *storage.FileSystem
	DB      *storage.SQLiteDB
	Search  *search.FTSEngine
	Indexer *search.Indexer
	path    string
	logger  *zap.Logger
}

// OpenAt opens the project rooted at projectPath.
func OpenAt(projectPath string, logger *zap.Logger) (*Project, error) {
	if _, err := os.Stat(projectPath); os.IsNotExist(err) {
		return nil, ErrProjectNotFound
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config, err := LoadProjectConfig(projectPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load project config: %w", err)
	}

	counter, err := token.NewCounter(token.EncodingForModel(config.LLM.Model))
	if err != nil {
		return nil, fmt.Errorf("failed to create token counter: %w", err)
	}

	db, err := storage.NewSQLiteDB(projectPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	engine := search.NewFTSEngine(db)
	return &Project{
		Info: &types.Project{
			Name:      config.Name,
			Path:      projectPath,
			Genre:     config.Genre,
			CreatedAt: config.CreatedAt,
			UpdatedAt: time.Now(),
		},
		Config:  config,
		FS:      storage.NewFileSystem(projectPath),
		DB:      db,
		Search:  engine,
		Indexer: search.NewIndexer(engine, counter, config.Index.ChunkSize, config.Index.ChunkOverlap),
		path:    projectPath,
		logger:  logger.Named("project"),
	}, nil
}

// Path returns the project's filesystem path.
func (p *Project) Path() string {
	return p.path
}

// Close releases project resources.
func (p *Project) Close() error {
	if p.DB != nil {
		return p.DB.Close()
	}
	return nil
}

// ChapterPath returns the project-relative file of a chapter.
func ChapterPath(number int) string {
	return filepath.Join(ChaptersDir, fmt.Sprintf("chapter-%03d.md", number))
}

// Outline parses the project outline. A missing outline is empty.
func (p *Project) Outline() (map[int]types.OutlineEntry, error) {
	if !p.FS.Exists(OutlineFile) {
		return map[int]types.OutlineEntry{}, nil
	}
	raw, err := p.FS.ReadFile(OutlineFile)
	if err != nil {
		return nil, err
	}
	return ParseOutline([]byte(raw)), nil
}

// OutlineEntry returns the outline entry of a chapter and whether one exists.
func (p *Project) OutlineEntry(_ context.Context, number int) (types.OutlineEntry, bool, error) {
	entries, err := p.Outline()
	if err != nil {
		return types.OutlineEntry{}, false, err
	}
	entry, ok := entries[number]
	return entry, ok, nil
}

// LastChapter returns the highest archived chapter number.
func (p *Project) LastChapter(ctx context.Context) (int, error) {
	return p.DB.LastChapterNumber(ctx)
}

// SaveChapter writes a committed chapter to disk, records its metadata and
// version history, and indexes it for full-text search.
func (p *Project) SaveChapter(ctx context.Context, ch types.Chapter) error {
	ch.FilePath = ChapterPath(ch.Number)
	if ch.UpdatedAt.IsZero() {
		ch.UpdatedAt = time.Now()
	}

	if err := p.FS.WriteChapter(ch.FilePath, ch); err != nil {
		return fmt.Errorf("failed to write chapter %d: %w", ch.Number, err)
	}
	if err := p.DB.SaveChapterMeta(ctx, ch); err != nil {
		return err
	}
	if err := p.Indexer.IndexChapter(ctx, ch.FilePath, ch.Content); err != nil {
		// The chapter is durable; a stale index is repaired by reindex.
		p.logger.Warn("chapter index failed", zap.Int("chapter", ch.Number), zap.Error(err))
	}

	p.logger.Info("chapter saved",
		zap.Int("chapter", ch.Number),
		zap.String("path", ch.FilePath),
		zap.Int("words", ch.WordCount),
		zap.Int("versions", len(ch.Versions)),
	)
	return nil
}

// LoadChapter reads an archived chapter with its version history.
func (p *Project) LoadChapter(ctx context.Context, number int) (types.Chapter, error) {
	meta, err := p.DB.GetChapterMeta(ctx, number)
	if err != nil {
		return types.Chapter{}, err
	}
	ch, err := p.FS.ReadChapter(meta.FilePath)
	if err != nil {
		return types.Chapter{}, err
	}
	ch.Status = meta.Status
	ch.CreatedAt = meta.CreatedAt
	ch.UpdatedAt = meta.UpdatedAt
	if ch.Versions, err = p.DB.ChapterVersions(ctx, number); err != nil {
		return types.Chapter{}, err
	}
	return ch, nil
}

// RecordEscalation archives an escalation report.
func (p *Project) RecordEscalation(ctx context.Context, e types.Escalation) error {
	if _, err := p.DB.InsertEscalation(ctx, e); err != nil {
		return err
	}
	return nil
}

// Reindex rebuilds the full-text index from chapter files and the outline.
func (p *Project) Reindex(ctx context.Context) (int, error) {
	n, err := p.Indexer.Rebuild(ctx, p.FS, ChaptersDir)
	if err != nil {
		return n, err
	}
	if p.FS.Exists(OutlineFile) {
		raw, err := p.FS.ReadFile(OutlineFile)
		if err != nil {
			return n, err
		}
		if err := p.Indexer.IndexContent(ctx, OutlineFile, search.SourceTypeOutline, raw, time.Now()); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
