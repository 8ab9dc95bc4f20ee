package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/thinkscotty/newsroom/internal/models"
	"github.com/thinkscotty/newsroom/internal/similarity"
)

const candidateColumns = `id, topic_id, source_id, title, url, content, fingerprint, shingles,
	fetched_at, status, stage, confidence, verdict, matched_id, hold_reason, overridden,
	overridden_by, summary, slides, created_at, updated_at`

// InsertCandidate stores a newly fetched item. It reports false when the
// same source already delivered identical content.
func (db *DB) InsertCandidate(ctx context.Context, c *models.CandidateItem) (bool, error) {
	if c.Status == "" {
		c.Status = models.StatusPending
	}
	if c.Stage == "" {
		c.Stage = "gather"
	}
	now := time.Now()
	result, err := db.conn.ExecContext(ctx, `
		INSERT INTO candidates (topic_id, source_id, title, url, content, fingerprint, shingles,
		                        fetched_at, status, stage, hold_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_id, fingerprint) DO NOTHING`,
		c.TopicID, c.SourceID, c.Title, c.URL, c.Content, c.Fingerprint, c.Shingles,
		formatTime(c.FetchedAt), c.Status, c.Stage, c.HoldReason, formatTime(now), formatTime(now))
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return false, err
	}
	c.ID = id
	c.CreatedAt = now.UTC()
	c.UpdatedAt = now.UTC()
	return true, nil
}

func (db *DB) GetCandidate(ctx context.Context, id int64) (models.CandidateItem, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE id = ?`, id)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("candidate %d: %w", id, models.ErrNotFound)
	}
	return c, err
}

// ListCandidates returns a topic's candidates with the given status in
// arrival order. A limit of zero or less means no limit.
func (db *DB) ListCandidates(ctx context.Context, topicID int64, status string, limit int) ([]models.CandidateItem, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+candidateColumns+` FROM candidates
		WHERE topic_id = ? AND status = ?
		ORDER BY fetched_at ASC, id ASC LIMIT ?`, topicID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCandidates(rows)
}

// SaveCandidate writes the mutable pipeline fields of c.
func (db *DB) SaveCandidate(ctx context.Context, c *models.CandidateItem) error {
	slides, err := json.Marshal(c.Slides)
	if err != nil {
		return fmt.Errorf("encode slides: %w", err)
	}
	now := time.Now()
	if err := db.execOne(ctx, fmt.Sprintf("candidate %d", c.ID), `
		UPDATE candidates SET title = ?, status = ?, stage = ?, confidence = ?, verdict = ?,
		       matched_id = ?, hold_reason = ?, summary = ?, slides = ?, updated_at = ?
		WHERE id = ?`,
		c.Title, c.Status, c.Stage, c.Confidence, c.Verdict, c.MatchedID, c.HoldReason,
		c.Summary, string(slides), formatTime(now), c.ID); err != nil {
		return err
	}
	c.UpdatedAt = now.UTC()
	return nil
}

// OverrideCandidate reverses a duplicate verdict and moves the item to
// manual review. The previous verdict is kept in verdict_overrides.
func (db *DB) OverrideCandidate(ctx context.Context, id int64, editor string) (models.CandidateItem, error) {
	var c models.CandidateItem
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		c, err = scanCandidate(tx.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("candidate %d: %w", id, models.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if c.Status != models.StatusDuplicate {
			return fmt.Errorf("%w: candidate %d has status %s, not duplicate", models.ErrInvalidArgument, id, c.Status)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO verdict_overrides (candidate_id, editor, previous_verdict, confidence, created_at)
			VALUES (?, ?, ?, ?, ?)`, id, editor, c.Verdict, c.Confidence, formatTime(time.Now())); err != nil {
			return fmt.Errorf("insert override: %w", err)
		}

		c.Status = models.StatusHeld
		c.HoldReason = "duplicate verdict overridden"
		c.Overridden = true
		c.OverriddenBy = editor
		_, err = tx.ExecContext(ctx, `
			UPDATE candidates SET status = ?, hold_reason = ?, overridden = 1, overridden_by = ?, updated_at = ?
			WHERE id = ?`, c.Status, c.HoldReason, editor, formatTime(time.Now()), id)
		return err
	})
	return c, err
}

// CandidatePage returns up to limit candidates after the cursor in
// (fetched_at, id) order.
func (db *DB) CandidatePage(ctx context.Context, topicID int64, after similarity.Cursor, limit int) ([]models.CandidateItem, error) {
	ts := ""
	if !after.FetchedAt.IsZero() {
		ts = formatTime(after.FetchedAt)
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+candidateColumns+` FROM candidates
		WHERE topic_id = ? AND (fetched_at > ? OR (fetched_at = ? AND id > ?))
		ORDER BY fetched_at ASC, id ASC LIMIT ?`, topicID, ts, ts, after.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCandidates(rows)
}

// IndexItems returns the non-filtered candidates fetched within [from, to].
func (db *DB) IndexItems(ctx context.Context, topicID int64, from, to time.Time) ([]models.CandidateItem, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+candidateColumns+` FROM candidates
		WHERE topic_id = ? AND status != ? AND fetched_at >= ? AND fetched_at <= ?
		ORDER BY fetched_at ASC, id ASC`, topicID, models.StatusFiltered, formatTime(from), formatTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCandidates(rows)
}

// ApplyVerdicts commits one scan batch atomically.
func (db *DB) ApplyVerdicts(ctx context.Context, updates []similarity.VerdictUpdate) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE candidates SET confidence = ?, verdict = ?, matched_id = ?,
			       status = CASE WHEN ? = 1 THEN 'duplicate' ELSE status END,
			       stage = CASE WHEN ? = 1 AND stage = 'gather' THEN 'dedup' ELSE stage END,
			       updated_at = ?
			WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := formatTime(time.Now())
		for _, u := range updates {
			if _, err := stmt.ExecContext(ctx, u.Confidence, u.Verdict, u.MatchedID, boolToInt(u.Flag), boolToInt(u.Flag), now, u.CandidateID); err != nil {
				return fmt.Errorf("update candidate %d: %w", u.CandidateID, err)
			}
		}
		return nil
	})
}

// CandidateCounts returns the number of a topic's candidates per status.
func (db *DB) CandidateCounts(ctx context.Context, topicID int64) (map[string]int, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM candidates WHERE topic_id = ? GROUP BY status`, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanCandidate(row rowScanner) (models.CandidateItem, error) {
	var c models.CandidateItem
	var fetchedAt, slides, createdAt, updatedAt string
	var matched sql.NullInt64
	if err := row.Scan(
		&c.ID, &c.TopicID, &c.SourceID, &c.Title, &c.URL, &c.Content, &c.Fingerprint, &c.Shingles,
		&fetchedAt, &c.Status, &c.Stage, &c.Confidence, &c.Verdict, &matched, &c.HoldReason,
		&c.Overridden, &c.OverriddenBy, &c.Summary, &slides, &createdAt, &updatedAt,
	); err != nil {
		return c, err
	}
	if matched.Valid {
		id := matched.Int64
		c.MatchedID = &id
	}
	if slides != "" && slides != "null" {
		if err := json.Unmarshal([]byte(slides), &c.Slides); err != nil {
			return c, fmt.Errorf("decode slides of candidate %d: %w", c.ID, err)
		}
	}
	c.FetchedAt, _ = parseTime(fetchedAt)
	c.CreatedAt, _ = parseTime(createdAt)
	c.UpdatedAt, _ = parseTime(updatedAt)
	return c, nil
}

func scanCandidates(rows *sql.Rows) ([]models.CandidateItem, error) {
	var items []models.CandidateItem
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}
