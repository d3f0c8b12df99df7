//go:build cgo && fts5

package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azyu/storyloom/internal/storage"
	"github.com/azyu/storyloom/pkg/types"
)

func newTestProject(t *testing.T) (*Manager, *Project) {
	t.Helper()

	manager, err := NewManager(t.TempDir(), nil)
	require.NoError(t, err)

	proj, err := manager.Create("serial", types.DefaultProjectConfig("Lantern", "mystery"))
	require.NoError(t, err)
	t.Cleanup(func() { proj.Close() })
	return manager, proj
}

// =============================================================================
// Manager
// =============================================================================

func TestManager(t *testing.T) {
	t.Run("Create creates project structure", func(t *testing.T) {
		manager, proj := newTestProject(t)
		projectPath := filepath.Join(manager.ProjectsDir(), "serial")

		assert.Equal(t, "Lantern", proj.Info.Name)
		assert.Equal(t, "mystery", proj.Info.Genre)
		assert.DirExists(t, filepath.Join(projectPath, storage.StateDir))
		assert.DirExists(t, filepath.Join(projectPath, ChaptersDir))
		assert.FileExists(t, filepath.Join(projectPath, storage.StateDir, "config.yaml"))
		assert.FileExists(t, filepath.Join(projectPath, storage.StateDir, "store.db"))
		assert.FileExists(t, filepath.Join(projectPath, OutlineFile))
		assert.FileExists(t, filepath.Join(projectPath, "README.md"))
	})

	t.Run("Create rejects duplicates and bad names", func(t *testing.T) {
		manager, _ := newTestProject(t)

		_, err := manager.Create("serial", types.DefaultProjectConfig("Again", "mystery"))
		assert.ErrorIs(t, err, ErrProjectExists)

		_, err = manager.Create("bad name", types.DefaultProjectConfig("Bad", "mystery"))
		assert.ErrorIs(t, err, ErrInvalidName)
	})

	t.Run("Create rejects invalid config", func(t *testing.T) {
		manager, err := NewManager(t.TempDir(), nil)
		require.NoError(t, err)

		config := types.DefaultProjectConfig("Lantern", "mystery")
		config.Production.MaxRevisions = 0
		_, err = manager.Create("serial", config)
		require.Error(t, err)
		assert.NoDirExists(t, filepath.Join(manager.ProjectsDir(), "serial"))
	})

	t.Run("List and Open", func(t *testing.T) {
		manager, proj := newTestProject(t)
		require.NoError(t, proj.Close())

		projects, err := manager.List()
		require.NoError(t, err)
		require.Len(t, projects, 1)
		assert.Equal(t, "Lantern", projects[0].Name)

		_, err = manager.Open("missing")
		assert.ErrorIs(t, err, ErrProjectNotFound)
	})
}

// =============================================================================
// Config
// =============================================================================

func TestLoadProjectConfig(t *testing.T) {
	t.Run("partial file keeps defaults", func(t *testing.T) {
		dir := t.TempDir()
		raw := "name: Lantern\nllm:\n  provider: gemini\nproduction:\n  max_revisions: 5\n  call_timeout: 90s\n  on_escalation: halt\n"
		require.NoError(t, storage.AtomicWriteFile(filepath.Join(dir, storage.StateDir, "config.yaml"), []byte(raw)))

		config, err := LoadProjectConfig(dir)
		require.NoError(t, err)
		assert.Equal(t, "gemini", config.LLM.Provider)
		assert.Equal(t, 5, config.Production.MaxRevisions)
		assert.Equal(t, 90*time.Second, config.Production.CallTimeout)
		assert.Equal(t, types.EscalationHalt, config.Production.OnEscalation)
		assert.Equal(t, 4000, config.Production.TargetWords)
		assert.Equal(t, 60.0, config.Production.ReviewThresholds.Prose)
	})

	t.Run("validation bounds", func(t *testing.T) {
		tests := []struct {
			name string
			yaml string
		}{
			{"revisions above ten", "name: x\nproduction:\n  max_revisions: 11\n"},
			{"target below min", "name: x\nproduction:\n  min_words: 5000\n  target_words: 4000\n  max_words: 6000\n"},
			{"unknown policy", "name: x\nproduction:\n  on_escalation: panic\n"},
			{"threshold above 100", "name: x\nproduction:\n  review_thresholds:\n    logic: 101\n"},
			{"missing name", "genre: x\n"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				dir := t.TempDir()
				require.NoError(t, storage.AtomicWriteFile(filepath.Join(dir, storage.StateDir, "config.yaml"), []byte(tt.yaml)))
				_, err := LoadProjectConfig(dir)
				assert.Error(t, err)
			})
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadProjectConfig(t.TempDir())
		assert.ErrorIs(t, err, ErrConfigNotFound)
	})
}

// =============================================================================
// Archive
// =============================================================================

func TestProject_Archive(t *testing.T) {
	ctx := context.Background()
	_, proj := newTestProject(t)

	outline := "## Chapter 1: Harbor\n\nMara arrives.\nCharacters: Mara\n"
	require.NoError(t, proj.FS.WriteFile(OutlineFile, outline))

	entry, ok, err := proj.OutlineEntry(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Harbor", entry.Title)

	_, ok, err = proj.OutlineEntry(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Now()
	ch := types.Chapter{
		Number:        1,
		Title:         "Harbor",
		Content:       "Mara walked along the harbor wall.",
		WordCount:     6,
		RevisionCount: 1,
		Status:        types.StatusCommitted,
		Versions: []types.VersionSnapshot{
			{Revision: 0, Content: "Mara walked.", WordCount: 2, CreatedAt: now},
			{Revision: 1, Content: "Mara walked along the harbor wall.", WordCount: 6, CreatedAt: now},
		},
	}
	require.NoError(t, proj.SaveChapter(ctx, ch))

	last, err := proj.LastChapter(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, last)

	_, err = os.Stat(filepath.Join(proj.Path(), ChapterPath(1)))
	require.NoError(t, err)

	loaded, err := proj.LoadChapter(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ch.Content, loaded.Content)
	assert.Len(t, loaded.Versions, 2)

	results, err := proj.Search.Search(ctx, "harbor", "", 5, "")
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	require.NoError(t, proj.RecordEscalation(ctx, types.Escalation{
		Chapter: 2, Reason: types.ReasonCollaboratorFailure, Decision: types.DecisionSkip,
	}))
	escalations, err := proj.DB.ListEscalations(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, escalations, 1)

	n, err := proj.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
