package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/thinkscotty/newsroom/internal/automation"
	"github.com/thinkscotty/newsroom/internal/models"
)

const topicColumns = `id, name, automation_mode, holiday, quality_threshold, negative_keywords,
	competing_regions, poll_interval_minutes, is_archived, last_polled_at, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (db *DB) ListTopics(ctx context.Context) ([]models.Topic, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+topicColumns+` FROM topics ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTopics(rows)
}

func (db *DB) ListActiveTopics(ctx context.Context) ([]models.Topic, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE is_archived = 0 ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTopics(rows)
}

func (db *DB) GetTopic(ctx context.Context, id int64) (models.Topic, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE id = ?`, id)
	t, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("topic %d: %w", id, models.ErrNotFound)
	}
	return t, err
}

func (db *DB) GetTopicByName(ctx context.Context, name string) (models.Topic, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE name = ?`, name)
	t, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("topic %q: %w", name, models.ErrNotFound)
	}
	return t, err
}

func (db *DB) CreateTopic(ctx context.Context, t *models.Topic) error {
	if !t.Mode.Valid() {
		return fmt.Errorf("%w: automation mode %d", models.ErrInvalidArgument, t.Mode)
	}
	now := time.Now()
	result, err := db.conn.ExecContext(ctx, `
		INSERT INTO topics (name, automation_mode, holiday, quality_threshold, negative_keywords,
		                    competing_regions, poll_interval_minutes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.Mode.String(), boolToInt(t.Holiday), t.QualityThreshold,
		encodeList(t.NegativeKeywords), encodeList(t.CompetingRegions),
		t.PollIntervalMinutes, formatTime(now), formatTime(now))
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = id
	t.CreatedAt = now.UTC()
	t.UpdatedAt = now.UTC()
	return nil
}

// UpdateTopicAutomation stores the mode and holiday flag together.
func (db *DB) UpdateTopicAutomation(ctx context.Context, id int64, state automation.State) error {
	return db.execOne(ctx, fmt.Sprintf("topic %d", id), `
		UPDATE topics SET automation_mode = ?, holiday = ?, updated_at = ? WHERE id = ?`,
		state.Mode.String(), boolToInt(state.Holiday), formatTime(time.Now()), id)
}

func (db *DB) UpdateTopicThreshold(ctx context.Context, id int64, threshold int) error {
	return db.execOne(ctx, fmt.Sprintf("topic %d", id),
		`UPDATE topics SET quality_threshold = ?, updated_at = ? WHERE id = ?`,
		threshold, formatTime(time.Now()), id)
}

func (db *DB) UpdateTopicFilters(ctx context.Context, id int64, negativeKeywords, competingRegions []string) error {
	return db.execOne(ctx, fmt.Sprintf("topic %d", id),
		`UPDATE topics SET negative_keywords = ?, competing_regions = ?, updated_at = ? WHERE id = ?`,
		encodeList(negativeKeywords), encodeList(competingRegions), formatTime(time.Now()), id)
}

// ArchiveTopic hides a topic from the scheduler. Its rows are kept.
func (db *DB) ArchiveTopic(ctx context.Context, id int64) error {
	return db.execOne(ctx, fmt.Sprintf("topic %d", id),
		`UPDATE topics SET is_archived = 1, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id)
}

func (db *DB) UpdateTopicPollTime(ctx context.Context, id int64, at time.Time) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE topics SET last_polled_at = ? WHERE id = ?`, formatTime(at), id)
	return err
}

// execOne runs an update that must touch exactly one row.
func (db *DB) execOne(ctx context.Context, what, query string, args ...any) error {
	result, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return nil
}

func scanTopic(row rowScanner) (models.Topic, error) {
	var t models.Topic
	var mode, negative, regions, createdAt, updatedAt string
	var lastPolled sql.NullString

	if err := row.Scan(
		&t.ID, &t.Name, &mode, &t.Holiday, &t.QualityThreshold, &negative,
		&regions, &t.PollIntervalMinutes, &t.IsArchived, &lastPolled,
		&createdAt, &updatedAt,
	); err != nil {
		return t, err
	}

	m, err := automation.ParseMode(mode)
	if err != nil {
		return t, fmt.Errorf("topic %d: %w", t.ID, err)
	}
	t.Mode = m
	if t.NegativeKeywords, err = decodeList(negative); err != nil {
		return t, fmt.Errorf("topic %d negative keywords: %w", t.ID, err)
	}
	if t.CompetingRegions, err = decodeList(regions); err != nil {
		return t, fmt.Errorf("topic %d competing regions: %w", t.ID, err)
	}
	t.LastPolledAt = parseNullTime(lastPolled)
	t.CreatedAt, _ = parseTime(createdAt)
	t.UpdatedAt, _ = parseTime(updatedAt)
	return t, nil
}

func scanTopics(rows *sql.Rows) ([]models.Topic, error) {
	var topics []models.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}
