//go:build cgo && fts5

package search

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azyu/storyloom/internal/storage"
	"github.com/azyu/storyloom/pkg/types"
)

// testDB creates a temporary project database with FTS5 tables.
func testDB(t *testing.T) *storage.SQLiteDB {
	t.Helper()

	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, storage.StateDir), 0755))

	db, err := storage.NewSQLiteDB(tmpDir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// ============================================================================
// TestFTSEngine
// ============================================================================

func TestFTSEngine_ReplaceAndSearch(t *testing.T) {
	ctx := context.Background()
	engine := NewFTSEngine(testDB(t))
	now := time.Now()

	require.NoError(t, engine.Replace(ctx, SourceTypeChapter, "chapters/chapter-001.md", now, []Chunk{
		{Content: "The quick brown fox jumps over the lazy dog", TokenCount: 10},
	}))
	require.NoError(t, engine.Replace(ctx, SourceTypeChapter, "chapters/chapter-002.md", now, []Chunk{
		{Content: "A lazy cat sleeps on the couch", TokenCount: 8},
	}))
	require.NoError(t, engine.Replace(ctx, SourceTypeOutline, "outline.md", now, []Chunk{
		{Content: "Dragons breathe fire and fly in the sky", TokenCount: 9},
	}))

	t.Run("matches across sources", func(t *testing.T) {
		results, err := engine.Search(ctx, "lazy", "", 10, "")
		require.NoError(t, err)
		assert.Len(t, results, 2)
		for _, r := range results {
			assert.Contains(t, r.Snippet, "**lazy**")
		}
	})

	t.Run("filters by source type", func(t *testing.T) {
		results, err := engine.Search(ctx, "dragons", SourceTypeChapter, 10, "")
		require.NoError(t, err)
		assert.Empty(t, results)

		results, err = engine.Search(ctx, "dragons", SourceTypeOutline, 10, "[]")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "outline.md", results[0].SourcePath)
	})

	t.Run("empty query", func(t *testing.T) {
		results, err := engine.Search(ctx, "  ", "", 10, "")
		require.NoError(t, err)
		assert.Nil(t, results)
	})

	t.Run("replace drops old chunks", func(t *testing.T) {
		require.NoError(t, engine.Replace(ctx, SourceTypeChapter, "chapters/chapter-002.md", now, []Chunk{
			{Content: "An alert cat guards the door", TokenCount: 6},
		}))
		results, err := engine.Search(ctx, "lazy", "", 10, "")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "chapters/chapter-001.md", results[0].SourcePath)
	})

	t.Run("delete and count", func(t *testing.T) {
		n, err := engine.ChunkCount(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		require.NoError(t, engine.DeleteBySource(ctx, "outline.md"))
		n, err = engine.ChunkCount(ctx, SourceTypeOutline)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		require.NoError(t, engine.Clear(ctx))
		n, err = engine.ChunkCount(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

// ============================================================================
// TestIndexer with the database
// ============================================================================

func TestIndexer_IndexChapterAndRebuild(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	engine := NewFTSEngine(db)
	idx := NewIndexer(engine, &mockTokenCounter{}, 5, 0)

	content := strings.Repeat("lantern harbor ", 10)
	require.NoError(t, idx.IndexChapter(ctx, "chapters/chapter-001.md", content))

	n, err := engine.ChunkCount(ctx, SourceTypeChapter)
	require.NoError(t, err)
	assert.Greater(t, n, int64(1))

	fs := storage.NewFileSystem(t.TempDir())
	require.NoError(t, fs.WriteChapter("chapters/chapter-001.md", types.Chapter{Number: 1, Title: "One", Content: "The lighthouse burned."}))
	require.NoError(t, fs.WriteFile("outline.md", "## Chapter 2: Embers\n\nThe keeper returns."))

	indexed, err := idx.Rebuild(ctx, fs, ".")
	require.NoError(t, err)
	assert.Equal(t, 2, indexed)

	results, err := engine.Search(ctx, "lighthouse", SourceTypeChapter, 5, "")
	require.NoError(t, err)
	require.NotEmpty(t, results)

	results, err = engine.Search(ctx, "lantern", "", 5, "")
	require.NoError(t, err)
	assert.Empty(t, results, "rebuild clears previous chunks")
}
