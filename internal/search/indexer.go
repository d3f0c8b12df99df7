package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/azyu/storyloom/internal/storage"
)

// TokenCounter provides token counting operations for chunking content.
type TokenCounter interface {
	Count(text string) int
	Split(text string, chunkSize int, overlap float64) []string
}

// Indexer splits documents into token-bounded chunks and feeds the FTS engine.
type Indexer struct {
	engine       *FTSEngine
	counter      TokenCounter
	chunkSize    int
	chunkOverlap float64
}

// DefaultChunkSize is the default number of tokens per chunk.
const DefaultChunkSize = 800

// DefaultChunkOverlap is the default overlap fraction between chunks.
const DefaultChunkOverlap = 0.15

// NewIndexer creates a new indexer with the specified configuration.
func NewIndexer(engine *FTSEngine, counter TokenCounter, chunkSize int, overlap float64) *Indexer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= 1 {
		overlap = DefaultChunkOverlap
	}

	return &Indexer{
		engine:       engine,
		counter:      counter,
		chunkSize:    chunkSize,
		chunkOverlap: overlap,
	}
}

// IndexContent replaces the indexed chunks of path with chunks of content.
func (idx *Indexer) IndexContent(ctx context.Context, path, sourceType, content string, mtime time.Time) error {
	parts := idx.chunkContent(content)

	chunks := make([]Chunk, 0, len(parts))
	for i, part := range parts {
		metadata, err := json.Marshal(map[string]any{
			"chunk_index":  i,
			"total_chunks": len(parts),
			"chunk_id":     generateChunkID(path, i),
		})
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for chunk %d: %w", i, err)
		}
		chunks = append(chunks, Chunk{
			Content:    part,
			TokenCount: idx.counter.Count(part),
			Metadata:   string(metadata),
		})
	}

	if err := idx.engine.Replace(ctx, sourceType, path, mtime, chunks); err != nil {
		return fmt.Errorf("failed to index %s: %w", path, err)
	}
	return nil
}

// IndexChapter indexes the prose of a committed chapter.
func (idx *Indexer) IndexChapter(ctx context.Context, path, content string) error {
	return idx.IndexContent(ctx, path, SourceTypeChapter, content, time.Now())
}

// Rebuild clears the index and reindexes every markdown file under dirs.
func (idx *Indexer) Rebuild(ctx context.Context, fs *storage.FileSystem, dirs ...string) (int, error) {
	if fs == nil {
		return 0, fmt.Errorf("filesystem is required for reindex")
	}
	if err := idx.engine.Clear(ctx); err != nil {
		return 0, fmt.Errorf("failed to clear index: %w", err)
	}

	indexed := 0
	for _, dir := range dirs {
		files, err := fs.ListMarkdownFiles(dir)
		if err != nil {
			return indexed, fmt.Errorf("failed to list markdown files in %s: %w", dir, err)
		}
		for _, file := range files {
			content, err := fs.ReadFile(file.Path)
			if err != nil {
				return indexed, err
			}
			_, body := storage.SplitFrontmatter(content)
			if err := idx.IndexContent(ctx, file.Path, determineSourceType(file.Path), body, file.ModTime); err != nil {
				return indexed, err
			}
			indexed++
		}
	}
	return indexed, nil
}

func (idx *Indexer) chunkContent(content string) []string {
	if content == "" {
		return nil
	}
	return idx.counter.Split(content, idx.chunkSize, idx.chunkOverlap)
}

// generateChunkID creates a stable identifier from file path and chunk index.
func generateChunkID(path string, index int) string {
	data := fmt.Sprintf("%s:%d", path, index)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}

func determineSourceType(path string) string {
	if filepath.Base(filepath.Dir(path)) == "chapters" {
		return SourceTypeChapter
	}
	return SourceTypeOutline
}

// ChunkSize returns the current chunk size setting.
func (idx *Indexer) ChunkSize() int {
	return idx.chunkSize
}

// ChunkOverlap returns the current chunk overlap setting.
func (idx *Indexer) ChunkOverlap() float64 {
	return idx.chunkOverlap
}
