package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/thinkscotty/newsroom/internal/models"
)

const sourceColumns = `id, topic_id, name, url, kind, success_count, failure_count,
	consecutive_failures, last_error, last_attempt_at, created_at`

func (db *DB) AddSource(ctx context.Context, s *models.Source) error {
	if s.Kind == "" {
		s.Kind = models.SourceKindRSS
	}
	now := time.Now()
	result, err := db.conn.ExecContext(ctx, `
		INSERT INTO sources (topic_id, name, url, kind, created_at) VALUES (?, ?, ?, ?, ?)`,
		s.TopicID, s.Name, s.URL, s.Kind, formatTime(now))
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = id
	s.CreatedAt = now.UTC()
	return nil
}

func (db *DB) GetSource(ctx context.Context, id int64) (models.Source, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	s, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("source %d: %w", id, models.ErrNotFound)
	}
	return s, err
}

// GetSourceByURL finds a source within a topic.
func (db *DB) GetSourceByURL(ctx context.Context, topicID int64, url string) (models.Source, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE topic_id = ? AND url = ?`, topicID, url)
	s, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("source %q: %w", url, models.ErrNotFound)
	}
	return s, err
}

func (db *DB) ListSourcesForTopic(ctx context.Context, topicID int64) ([]models.Source, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE topic_id = ? ORDER BY id ASC`, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []models.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// RecordSourceAttempt appends the attempt and updates the counters in one
// transaction, returning the source as committed.
func (db *DB) RecordSourceAttempt(ctx context.Context, sourceID int64, outcome models.Outcome, errMsg string, at time.Time) (models.Source, error) {
	var s models.Source
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO source_attempts (source_id, outcome, error, attempted_at) VALUES (?, ?, ?, ?)`,
			sourceID, outcome.String(), errMsg, formatTime(at)); err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}

		var result sql.Result
		var err error
		if outcome == models.OutcomeSuccess {
			result, err = tx.ExecContext(ctx, `
				UPDATE sources SET success_count = success_count + 1, consecutive_failures = 0,
				       last_error = '', last_attempt_at = ?
				WHERE id = ?`, formatTime(at), sourceID)
		} else {
			result, err = tx.ExecContext(ctx, `
				UPDATE sources SET failure_count = failure_count + 1,
				       consecutive_failures = consecutive_failures + 1,
				       last_error = ?, last_attempt_at = ?
				WHERE id = ?`, errMsg, formatTime(at), sourceID)
		}
		if err != nil {
			return fmt.Errorf("update counters: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("source %d: %w", sourceID, models.ErrNotFound)
		}

		s, err = scanSource(tx.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, sourceID))
		return err
	})
	return s, err
}

func (db *DB) ListSourceAttempts(ctx context.Context, sourceID int64, limit int) ([]models.SourceAttempt, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, source_id, outcome, error, attempted_at FROM source_attempts
		WHERE source_id = ? ORDER BY attempted_at DESC, id DESC LIMIT ?`, sourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []models.SourceAttempt
	for rows.Next() {
		var a models.SourceAttempt
		var outcome, attemptedAt string
		if err := rows.Scan(&a.ID, &a.SourceID, &outcome, &a.Error, &attemptedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if outcome != models.OutcomeSuccess.String() {
			a.Outcome = models.OutcomeFailure
		}
		a.AttemptedAt, _ = parseTime(attemptedAt)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// SourceVolumes counts candidates per source fetched at or after since.
func (db *DB) SourceVolumes(ctx context.Context, topicID int64, since time.Time) (map[int64]int, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT source_id, COUNT(*) FROM candidates
		WHERE topic_id = ? AND fetched_at >= ?
		GROUP BY source_id`, topicID, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	volumes := make(map[int64]int)
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		volumes[id] = n
	}
	return volumes, rows.Err()
}

func scanSource(row rowScanner) (models.Source, error) {
	var s models.Source
	var lastAttempt sql.NullString
	var createdAt string
	if err := row.Scan(
		&s.ID, &s.TopicID, &s.Name, &s.URL, &s.Kind, &s.SuccessCount, &s.FailureCount,
		&s.ConsecutiveFailures, &s.LastError, &lastAttempt, &createdAt,
	); err != nil {
		return s, err
	}
	s.LastAttemptAt = parseNullTime(lastAttempt)
	s.CreatedAt, _ = parseTime(createdAt)
	return s, nil
}
