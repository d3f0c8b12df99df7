// Package search provides full-text search over committed chapters.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/azyu/storyloom/internal/storage"
)

// Source types stored alongside indexed chunks.
const (
	SourceTypeChapter = "chapter"
	SourceTypeOutline = "outline"
)

// Result is a single full-text match.
type Result struct {
	ID         int64
	Content    string
	Snippet    string
	SourceType string
	SourcePath string
	TokenCount int
	Score      float64
}

// FTSEngine implements a search engine using SQLite FTS5.
type FTSEngine struct {
	db *storage.SQLiteDB
}

// NewFTSEngine creates a new FTS5-backed search engine.
func NewFTSEngine(db *storage.SQLiteDB) *FTSEngine {
	return &FTSEngine{db: db}
}

// Search performs a full-text search with BM25 scoring. Matched terms in the
// snippet are wrapped in mark. An empty sourceType searches every source.
// Results are ordered best match first.
func (e *FTSEngine) Search(ctx context.Context, query, sourceType string, limit int, mark string) ([]Result, error) {
	sanitized := sanitizeFTS5Query(query)
	if sanitized == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if mark == "" {
		mark = "**"
	}

	q := `
		SELECT
			chunks_fts.rowid,
			chunks_fts.content,
			snippet(chunks_fts, 0, ?, ?, '...', 32),
			chunks_fts.source_type,
			chunks_fts.source_path,
			chunks_meta.token_count,
			bm25(chunks_fts) AS score
		FROM chunks_fts
		JOIN chunks_meta ON chunks_fts.rowid = chunks_meta.rowid
		WHERE chunks_fts MATCH ?`
	args := []any{mark, mark, sanitized}
	if sourceType != "" {
		q += " AND chunks_fts.source_type = ?"
		args = append(args, sourceType)
	}
	q += " ORDER BY score LIMIT ?"
	args = append(args, limit)

	rows, err := e.db.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Content, &r.Snippet, &r.SourceType, &r.SourcePath, &r.TokenCount, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search results: %w", err)
	}
	return results, nil
}

// Chunk is one indexable piece of a source document.
type Chunk struct {
	Content    string
	TokenCount int
	Metadata   string
}

// Replace atomically swaps every chunk of sourcePath for the given ones.
func (e *FTSEngine) Replace(ctx context.Context, sourceType, sourcePath string, mtime time.Time, chunks []Chunk) error {
	tx, err := e.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT rowid FROM chunks_meta WHERE source_path = ?", sourcePath)
	if err != nil {
		return fmt.Errorf("failed to query chunks for deletion: %w", err)
	}
	var rowIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan row ID: %w", err)
		}
		rowIDs = append(rowIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating row IDs: %w", err)
	}

	for _, id := range rowIDs {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks_fts WHERE rowid = ?", id); err != nil {
			return fmt.Errorf("failed to delete from FTS index: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks_meta WHERE rowid = ?", id); err != nil {
			return fmt.Errorf("failed to delete from metadata table: %w", err)
		}
	}

	now := time.Now().Unix()
	for i, chunk := range chunks {
		result, err := tx.ExecContext(ctx,
			"INSERT INTO chunks_fts (content, source_type, source_path) VALUES (?, ?, ?)",
			chunk.Content, sourceType, sourcePath,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d of %s: %w", i, sourcePath, err)
		}
		rowID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get inserted row ID: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks_meta
				(rowid, source_type, source_path, token_count, mtime, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rowID, sourceType, sourcePath, chunk.TokenCount, mtime.Unix(), chunk.Metadata, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert metadata for chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteBySource removes all chunks for a given source path from the index.
func (e *FTSEngine) DeleteBySource(ctx context.Context, sourcePath string) error {
	return e.Replace(ctx, "", sourcePath, time.Time{}, nil)
}

// Clear removes all entries from the search index.
func (e *FTSEngine) Clear(ctx context.Context) error {
	tx, err := e.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks_fts"); err != nil {
		return fmt.Errorf("failed to clear FTS index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks_meta"); err != nil {
		return fmt.Errorf("failed to clear metadata table: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear operation: %w", err)
	}
	return nil
}

// ChunkCount returns the number of indexed chunks, optionally for one source type.
func (e *FTSEngine) ChunkCount(ctx context.Context, sourceType string) (int64, error) {
	q := "SELECT COUNT(*) FROM chunks_meta"
	var args []any
	if sourceType != "" {
		q += " WHERE source_type = ?"
		args = append(args, sourceType)
	}
	var count int64
	if err := e.db.DB().QueryRowContext(ctx, q, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// sanitizeFTS5Query strips FTS5 operators so user input cannot break MATCH.
// Remaining words are joined with spaces, which FTS5 treats as AND.
func sanitizeFTS5Query(query string) string {
	var words []string
	for _, word := range strings.Fields(query) {
		if cleaned := cleanFTS5Word(word); cleaned != "" {
			words = append(words, cleaned)
		}
	}
	return strings.Join(words, " ")
}

func cleanFTS5Word(word string) string {
	const specialChars = `"*^:()-`

	var result strings.Builder
	for _, ch := range word {
		if !strings.ContainsRune(specialChars, ch) {
			result.WriteRune(ch)
		}
	}
	return result.String()
}
