package storage

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/azyu/storyloom/internal/memory"
	"github.com/azyu/storyloom/pkg/types"
)

const (
	metaLastCommitted = "last_committed"
	metaLastDay       = "last_day"
)

var _ memory.Persister = (*SQLiteDB)(nil)

// LoadMemory reads the memory ledgers. The tables are read concurrently.
func (s *SQLiteDB) LoadMemory(ctx context.Context) (*memory.Snapshot, error) {
	snap := &memory.Snapshot{}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		snap.Summaries, err = s.loadSummaries(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Characters, err = s.loadCharacters(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Events, err = s.loadEvents(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Skipped, err = s.loadSkipped(ctx)
		return err
	})
	g.Go(func() error {
		meta, err := s.loadMeta(ctx)
		if err != nil {
			return err
		}
		snap.LastCommitted = meta[metaLastCommitted]
		snap.LastDay = meta[metaLastDay]
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load memory: %w", err)
	}
	return snap, nil
}

func (s *SQLiteDB) loadSummaries(ctx context.Context) ([]types.ChapterSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chapter, title, summary, keywords, characters, word_count
		FROM chapter_summaries
		ORDER BY chapter`)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var out []types.ChapterSummary
	for rows.Next() {
		var cs types.ChapterSummary
		var keywords, characters string
		if err := rows.Scan(&cs.Chapter, &cs.Title, &cs.Summary, &keywords, &characters, &cs.WordCount); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		if cs.Keywords, err = decodeJSON[[]string](keywords); err != nil {
			return nil, fmt.Errorf("failed to decode keywords of chapter %d: %w", cs.Chapter, err)
		}
		if cs.Characters, err = decodeJSON[[]string](characters); err != nil {
			return nil, fmt.Errorf("failed to decode characters of chapter %d: %w", cs.Chapter, err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) loadCharacters(ctx context.Context) ([]types.CharacterState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, last_chapter, location, status, relationships, attributes
		FROM character_states
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query characters: %w", err)
	}
	defer rows.Close()

	var out []types.CharacterState
	for rows.Next() {
		var cs types.CharacterState
		var rel, attrs string
		if err := rows.Scan(&cs.Name, &cs.LastChapter, &cs.Location, &cs.Status, &rel, &attrs); err != nil {
			return nil, fmt.Errorf("failed to scan character: %w", err)
		}
		if cs.Relationships, err = decodeJSON[map[string]string](rel); err != nil {
			return nil, fmt.Errorf("failed to decode relationships of %s: %w", cs.Name, err)
		}
		if cs.Attributes, err = decodeJSON[map[string]string](attrs); err != nil {
			return nil, fmt.Errorf("failed to decode attributes of %s: %w", cs.Name, err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) loadEvents(ctx context.Context) ([]types.PlotEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, description, chapter, characters, keywords, resolved
		FROM plot_events
		ORDER BY chapter, seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query plot events: %w", err)
	}
	defer rows.Close()

	var out []types.PlotEvent
	for rows.Next() {
		var ev types.PlotEvent
		var characters, keywords string
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Description, &ev.Chapter, &characters, &keywords, &ev.Resolved); err != nil {
			return nil, fmt.Errorf("failed to scan plot event: %w", err)
		}
		if ev.Characters, err = decodeJSON[[]string](characters); err != nil {
			return nil, fmt.Errorf("failed to decode characters of event %s: %w", ev.ID, err)
		}
		if ev.Keywords, err = decodeJSON[[]string](keywords); err != nil {
			return nil, fmt.Errorf("failed to decode keywords of event %s: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) loadSkipped(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT chapter FROM skipped_chapters ORDER BY chapter")
	if err != nil {
		return nil, fmt.Errorf("failed to query skipped chapters: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) loadMeta(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM memory_meta")
	if err != nil {
		return nil, fmt.Errorf("failed to query memory meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]int)
	for rows.Next() {
		var key string
		var value int
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		meta[key] = value
	}
	return meta, rows.Err()
}

// ApplyCommit writes one chapter's memory changes in a single transaction.
func (s *SQLiteDB) ApplyCommit(ctx context.Context, c memory.Commit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertSummary(ctx, tx, c.Summary); err != nil {
		return err
	}
	for _, n := range c.Evicted {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chapter_summaries WHERE chapter = ?", n); err != nil {
			return fmt.Errorf("failed to evict summary %d: %w", n, err)
		}
	}

	for _, cs := range c.Characters {
		if err := upsertCharacter(ctx, tx, cs); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM plot_events WHERE chapter = ?", c.Chapter); err != nil {
		return fmt.Errorf("failed to clear events of chapter %d: %w", c.Chapter, err)
	}
	for i, ev := range c.Events {
		if err := insertEvent(ctx, tx, ev, i); err != nil {
			return err
		}
	}
	for _, id := range c.Resolved {
		if _, err := tx.ExecContext(ctx, "UPDATE plot_events SET resolved = 1 WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to resolve event %s: %w", id, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM skipped_chapters WHERE chapter = ?", c.Chapter); err != nil {
		return fmt.Errorf("failed to clear skipped chapter: %w", err)
	}
	if err := setMeta(ctx, tx, metaLastCommitted, c.LastCommitted); err != nil {
		return err
	}
	if err := setMeta(ctx, tx, metaLastDay, c.LastDay); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit memory: %w", err)
	}
	return nil
}

func upsertSummary(ctx context.Context, tx *sql.Tx, cs types.ChapterSummary) error {
	keywords, err := encodeJSON(cs.Keywords)
	if err != nil {
		return err
	}
	characters, err := encodeJSON(cs.Characters)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO chapter_summaries (chapter, title, summary, keywords, characters, word_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chapter) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			keywords = excluded.keywords,
			characters = excluded.characters,
			word_count = excluded.word_count`,
		cs.Chapter, cs.Title, cs.Summary, keywords, characters, cs.WordCount,
	)
	if err != nil {
		return fmt.Errorf("failed to save summary of chapter %d: %w", cs.Chapter, err)
	}
	return nil
}

func upsertCharacter(ctx context.Context, tx *sql.Tx, cs types.CharacterState) error {
	rel, err := encodeJSON(cs.Relationships)
	if err != nil {
		return err
	}
	attrs, err := encodeJSON(cs.Attributes)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO character_states (name, last_chapter, location, status, relationships, attributes)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			last_chapter = excluded.last_chapter,
			location = excluded.location,
			status = excluded.status,
			relationships = excluded.relationships,
			attributes = excluded.attributes`,
		cs.Name, cs.LastChapter, cs.Location, cs.Status, rel, attrs,
	)
	if err != nil {
		return fmt.Errorf("failed to save character %s: %w", cs.Name, err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev types.PlotEvent, seq int) error {
	characters, err := encodeJSON(ev.Characters)
	if err != nil {
		return err
	}
	keywords, err := encodeJSON(ev.Keywords)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO plot_events (id, type, description, chapter, characters, keywords, resolved, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.Description, ev.Chapter, characters, keywords, ev.Resolved, seq,
	)
	if err != nil {
		return fmt.Errorf("failed to save plot event %s: %w", ev.ID, err)
	}
	return nil
}

func setMeta(ctx context.Context, tx *sql.Tx, key string, value int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memory_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// MarkResolved flags plot events as resolved.
func (s *SQLiteDB) MarkResolved(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "UPDATE plot_events SET resolved = 1 WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to resolve event %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// MarkSkipped records a skipped chapter number.
func (s *SQLiteDB) MarkSkipped(ctx context.Context, chapter int) error {
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO skipped_chapters (chapter) VALUES (?)", chapter)
	if err != nil {
		return fmt.Errorf("failed to mark chapter %d skipped: %w", chapter, err)
	}
	return nil
}
