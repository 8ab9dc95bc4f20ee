package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so text columns sort chronologically.
const timeLayout = "2006-01-02 15:04:05.000000000"

type DB struct {
	conn *sql.DB
	path string

	cacheMu  sync.RWMutex
	settings map[string]string
}

func New(path string) (*DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(2)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{conn: conn, path: path, settings: make(map[string]string)}
	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if err := db.loadSettingsCache(); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseSizeBytes returns the file size of the database.
func (db *DB) DatabaseSizeBytes() (int64, error) {
	info, err := os.Stat(db.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime accepts both our fixed-width layout and SQLite's datetime('now').
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func encodeList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(list)
	return string(data)
}

func decodeList(data string) ([]string, error) {
	var list []string
	if data == "" {
		return list, nil
	}
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func (db *DB) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DB) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS topics (
			id                    INTEGER PRIMARY KEY AUTOINCREMENT,
			name                  TEXT    NOT NULL UNIQUE,
			automation_mode       TEXT    NOT NULL DEFAULT 'manual',
			holiday               INTEGER NOT NULL DEFAULT 0,
			quality_threshold     INTEGER NOT NULL DEFAULT 60,
			negative_keywords     TEXT    NOT NULL DEFAULT '[]',
			competing_regions     TEXT    NOT NULL DEFAULT '[]',
			poll_interval_minutes INTEGER NOT NULL DEFAULT 30,
			is_archived           INTEGER NOT NULL DEFAULT 0,
			last_polled_at        TEXT,
			created_at            TEXT    NOT NULL DEFAULT (datetime('now')),
			updated_at            TEXT    NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS sources (
			id                   INTEGER PRIMARY KEY AUTOINCREMENT,
			topic_id             INTEGER NOT NULL REFERENCES topics(id),
			name                 TEXT    NOT NULL DEFAULT '',
			url                  TEXT    NOT NULL,
			kind                 TEXT    NOT NULL DEFAULT 'rss',
			success_count        INTEGER NOT NULL DEFAULT 0,
			failure_count        INTEGER NOT NULL DEFAULT 0,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			last_error           TEXT    NOT NULL DEFAULT '',
			last_attempt_at      TEXT,
			created_at           TEXT    NOT NULL DEFAULT (datetime('now')),
			UNIQUE (topic_id, url)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sources_topic_id ON sources(topic_id)`,
		`CREATE TABLE IF NOT EXISTS source_attempts (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id    INTEGER NOT NULL REFERENCES sources(id),
			outcome      TEXT    NOT NULL,
			error        TEXT    NOT NULL DEFAULT '',
			attempted_at TEXT    NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_source_attempts_source ON source_attempts(source_id, attempted_at)`,
		`CREATE TABLE IF NOT EXISTS candidates (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			topic_id      INTEGER NOT NULL REFERENCES topics(id),
			source_id     INTEGER NOT NULL REFERENCES sources(id),
			title         TEXT    NOT NULL DEFAULT '',
			url           TEXT    NOT NULL DEFAULT '',
			content       TEXT    NOT NULL DEFAULT '',
			fingerprint   TEXT    NOT NULL,
			shingles      TEXT    NOT NULL DEFAULT '[]',
			fetched_at    TEXT    NOT NULL,
			status        TEXT    NOT NULL DEFAULT 'pending',
			stage         TEXT    NOT NULL DEFAULT 'gather',
			confidence    INTEGER NOT NULL DEFAULT 0,
			verdict       TEXT    NOT NULL DEFAULT '',
			matched_id    INTEGER,
			hold_reason   TEXT    NOT NULL DEFAULT '',
			overridden    INTEGER NOT NULL DEFAULT 0,
			overridden_by TEXT    NOT NULL DEFAULT '',
			summary       TEXT    NOT NULL DEFAULT '',
			slides        TEXT    NOT NULL DEFAULT '[]',
			created_at    TEXT    NOT NULL DEFAULT (datetime('now')),
			updated_at    TEXT    NOT NULL DEFAULT (datetime('now')),
			UNIQUE (source_id, fingerprint)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candidates_topic_order ON candidates(topic_id, fetched_at, id)`,
		`CREATE INDEX IF NOT EXISTS idx_candidates_topic_status ON candidates(topic_id, status)`,
		`CREATE TABLE IF NOT EXISTS verdict_overrides (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			candidate_id     INTEGER NOT NULL REFERENCES candidates(id),
			editor           TEXT    NOT NULL DEFAULT '',
			previous_verdict TEXT    NOT NULL DEFAULT '',
			confidence       INTEGER NOT NULL DEFAULT 0,
			created_at       TEXT    NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS stories (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			topic_id     INTEGER NOT NULL REFERENCES topics(id),
			candidate_id INTEGER NOT NULL UNIQUE REFERENCES candidates(id),
			title        TEXT    NOT NULL DEFAULT '',
			confidence   INTEGER NOT NULL DEFAULT 0,
			author       TEXT    NOT NULL DEFAULT '',
			status       TEXT    NOT NULL DEFAULT 'draft',
			published_at TEXT,
			created_at   TEXT    NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stories_topic ON stories(topic_id, status)`,
		`CREATE TABLE IF NOT EXISTS story_slides (
			story_id     INTEGER NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
			slide_number INTEGER NOT NULL,
			content      TEXT    NOT NULL,
			image_prompt TEXT    NOT NULL DEFAULT '',
			PRIMARY KEY (story_id, slide_number)
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w\nstatement: %s", err, stmt)
		}
	}

	return db.seedSettings()
}

func (db *DB) seedSettings() error {
	defaults := map[string]string{
		"operator_key_hash": "",
	}

	stmt, err := db.conn.Prepare(`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for key, value := range defaults {
		if _, err := stmt.Exec(key, value); err != nil {
			return err
		}
	}
	return nil
}
