package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/azyu/storyloom/pkg/types"
)

// SaveChapterMeta stores a committed chapter's metadata and replaces its
// version history, in one transaction.
func (s *SQLiteDB) SaveChapterMeta(ctx context.Context, ch types.Chapter) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	created := ch.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chapters (number, title, word_count, revision_count, status, file_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(number) DO UPDATE SET
			title = excluded.title,
			word_count = excluded.word_count,
			revision_count = excluded.revision_count,
			status = excluded.status,
			file_path = excluded.file_path,
			updated_at = excluded.updated_at`,
		ch.Number, ch.Title, ch.WordCount, ch.RevisionCount, string(ch.Status), ch.FilePath,
		created.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save chapter %d: %w", ch.Number, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM chapter_versions WHERE chapter = ?", ch.Number); err != nil {
		return fmt.Errorf("failed to clear versions of chapter %d: %w", ch.Number, err)
	}
	for _, v := range ch.Versions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chapter_versions (chapter, revision, content, word_count, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			ch.Number, v.Revision, v.Content, v.WordCount, v.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to save version %d of chapter %d: %w", v.Revision, ch.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chapter %d: %w", ch.Number, err)
	}
	return nil
}

// ListChapters returns committed chapter metadata in chapter order.
func (s *SQLiteDB) ListChapters(ctx context.Context) ([]types.Chapter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number, title, word_count, revision_count, status, file_path, created_at, updated_at
		FROM chapters
		ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chapters: %w", err)
	}
	defer rows.Close()

	var out []types.Chapter
	for rows.Next() {
		var ch types.Chapter
		var created, updated int64
		if err := rows.Scan(&ch.Number, &ch.Title, &ch.WordCount, &ch.RevisionCount, &ch.Status, &ch.FilePath, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan chapter: %w", err)
		}
		ch.CreatedAt = time.Unix(created, 0)
		ch.UpdatedAt = time.Unix(updated, 0)
		out = append(out, ch)
	}
	return out, rows.Err()
}

// LastChapterNumber returns the highest committed chapter number, or 0.
func (s *SQLiteDB) LastChapterNumber(ctx context.Context) (int, error) {
	var n sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(number) FROM chapters").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to query last chapter: %w", err)
	}
	return int(n.Int64), nil
}

// ChapterVersions returns the version history of a chapter, oldest first.
func (s *SQLiteDB) ChapterVersions(ctx context.Context, chapter int) ([]types.VersionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT revision, content, word_count, created_at
		FROM chapter_versions
		WHERE chapter = ?
		ORDER BY revision`, chapter)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var out []types.VersionSnapshot
	for rows.Next() {
		var v types.VersionSnapshot
		var created int64
		if err := rows.Scan(&v.Revision, &v.Content, &v.WordCount, &created); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		v.CreatedAt = time.Unix(created, 0)
		out = append(out, v)
	}
	return out, rows.Err()
}

// InsertEscalation stores an escalation report and returns its id.
func (s *SQLiteDB) InsertEscalation(ctx context.Context, e types.Escalation) (int64, error) {
	attempts, err := encodeJSON(e.Attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to encode attempts: %w", err)
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO escalations (chapter, title, reason, error, attempts, decision, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Chapter, e.Title, string(e.Reason), e.Error, attempts, string(e.Decision), created.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save escalation for chapter %d: %w", e.Chapter, err)
	}
	return result.LastInsertId()
}

// ListEscalations returns the most recent escalations, newest first.
func (s *SQLiteDB) ListEscalations(ctx context.Context, limit int) ([]types.Escalation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT chapter, title, reason, error, attempts, decision, created_at
		FROM escalations
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalations: %w", err)
	}
	defer rows.Close()

	var out []types.Escalation
	for rows.Next() {
		var e types.Escalation
		var attempts string
		var created int64
		if err := rows.Scan(&e.Chapter, &e.Title, &e.Reason, &e.Error, &attempts, &e.Decision, &created); err != nil {
			return nil, fmt.Errorf("failed to scan escalation: %w", err)
		}
		if e.Attempts, err = decodeJSON[[]types.Attempt](attempts); err != nil {
			return nil, fmt.Errorf("failed to decode attempts: %w", err)
		}
		e.CreatedAt = time.Unix(created, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ErrChapterNotFound is returned when a chapter has no stored metadata.
var ErrChapterNotFound = errors.New("chapter not found")

// GetChapterMeta returns the stored metadata of one chapter.
func (s *SQLiteDB) GetChapterMeta(ctx context.Context, number int) (types.Chapter, error) {
	var ch types.Chapter
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT number, title, word_count, revision_count, status, file_path, created_at, updated_at
		FROM chapters WHERE number = ?`, number,
	).Scan(&ch.Number, &ch.Title, &ch.WordCount, &ch.RevisionCount, &ch.Status, &ch.FilePath, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return ch, fmt.Errorf("%w: %d", ErrChapterNotFound, number)
	}
	if err != nil {
		return ch, fmt.Errorf("failed to query chapter %d: %w", number, err)
	}
	ch.CreatedAt = time.Unix(created, 0)
	ch.UpdatedAt = time.Unix(updated, 0)
	return ch, nil
}
