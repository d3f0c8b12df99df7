// Package storage provides file and database handling.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// StateDir is the per-project directory holding config, database and logs.
const StateDir = ".storyloom"

// SQLiteDB manages the SQLite database for a project.
type SQLiteDB struct {
	db   *sql.DB
	path string
}

// NewSQLiteDB opens or creates the project database.
func NewSQLiteDB(projectPath string) (*SQLiteDB, error) {
	return OpenSQLiteDB(filepath.Join(projectPath, StateDir, "store.db"))
}

// OpenSQLiteDB opens or creates a database at an explicit path.
func OpenSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqliteDB := &SQLiteDB{
		db:   db,
		path: dbPath,
	}

	if err := sqliteDB.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return sqliteDB, nil
}

// initialize creates the required tables if they don't exist.
func (s *SQLiteDB) initialize() error {
	schema := `
	-- Retained chapter summaries (bounded by memory_max_chapters)
	CREATE TABLE IF NOT EXISTS chapter_summaries (
		chapter INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		summary TEXT NOT NULL,
		keywords TEXT NOT NULL,
		characters TEXT NOT NULL,
		word_count INTEGER NOT NULL
	);

	-- Character-state ledger
	CREATE TABLE IF NOT EXISTS character_states (
		name TEXT PRIMARY KEY,
		last_chapter INTEGER NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		relationships TEXT NOT NULL,
		attributes TEXT NOT NULL
	);

	-- Plot-event ledger
	CREATE TABLE IF NOT EXISTS plot_events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		description TEXT NOT NULL,
		chapter INTEGER NOT NULL,
		characters TEXT NOT NULL,
		keywords TEXT NOT NULL,
		resolved INTEGER NOT NULL DEFAULT 0,
		seq INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_plot_events_chapter
	ON plot_events(chapter);

	-- Chapter numbers escalated and skipped by the run policy
	CREATE TABLE IF NOT EXISTS skipped_chapters (
		chapter INTEGER PRIMARY KEY
	);

	-- Scalar memory state (last committed chapter, timeline marker)
	CREATE TABLE IF NOT EXISTS memory_meta (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	-- Committed chapter metadata; content lives in chapters/*.md
	CREATE TABLE IF NOT EXISTS chapters (
		number INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		word_count INTEGER NOT NULL,
		revision_count INTEGER NOT NULL,
		status TEXT NOT NULL,
		file_path TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Version history per chapter
	CREATE TABLE IF NOT EXISTS chapter_versions (
		chapter INTEGER NOT NULL,
		revision INTEGER NOT NULL,
		content TEXT NOT NULL,
		word_count INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (chapter, revision)
	);

	-- Escalation reports
	CREATE TABLE IF NOT EXISTS escalations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chapter INTEGER NOT NULL,
		title TEXT NOT NULL,
		reason TEXT NOT NULL,
		error TEXT NOT NULL,
		attempts TEXT NOT NULL,
		decision TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	-- FTS5 virtual table for full-text search over committed chapters
	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		content,
		source_type,
		source_path,
		tokenize='porter unicode61'
	);

	-- Metadata table for chunks
	CREATE TABLE IF NOT EXISTS chunks_meta (
		rowid INTEGER PRIMARY KEY,
		source_type TEXT NOT NULL,
		source_path TEXT NOT NULL,
		token_count INTEGER NOT NULL,
		mtime INTEGER NOT NULL,
		metadata TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_meta_source
	ON chunks_meta(source_path);

	-- Schema version for migrations
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for advanced queries.
func (s *SQLiteDB) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *SQLiteDB) Path() string {
	return s.path
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSON[T any](raw string) (T, error) {
	var v T
	if raw == "" {
		return v, nil
	}
	err := json.Unmarshal([]byte(raw), &v)
	return v, err
}
