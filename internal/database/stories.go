package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/thinkscotty/newsroom/internal/models"
)

// PromoteCandidate creates a story draft from c and marks the candidate
// ready, both in one transaction.
func (db *DB) PromoteCandidate(ctx context.Context, c *models.CandidateItem, author string) (models.Story, error) {
	story := models.Story{
		TopicID:     c.TopicID,
		CandidateID: c.ID,
		Title:       c.Title,
		Slides:      c.Slides,
		Confidence:  c.Confidence,
		Author:      author,
		Status:      models.StoryDraft,
	}
	now := time.Now()

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO stories (topic_id, candidate_id, title, confidence, author, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			story.TopicID, story.CandidateID, story.Title, story.Confidence, story.Author,
			story.Status, formatTime(now))
		if err != nil {
			return fmt.Errorf("insert story: %w", err)
		}
		story.ID, err = result.LastInsertId()
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO story_slides (story_id, slide_number, content, image_prompt) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, s := range story.Slides {
			if _, err := stmt.ExecContext(ctx, story.ID, s.SlideNumber, s.Content, s.ImagePrompt); err != nil {
				return fmt.Errorf("insert slide %d: %w", s.SlideNumber, err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE candidates SET status = ?, stage = ?, hold_reason = '', updated_at = ? WHERE id = ?`,
			models.StatusReady, c.Stage, formatTime(now), c.ID)
		return err
	})
	if err != nil {
		return models.Story{}, err
	}

	c.Status = models.StatusReady
	c.HoldReason = ""
	story.CreatedAt = now.UTC()
	return story, nil
}

func (db *DB) GetStory(ctx context.Context, id int64) (models.Story, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, topic_id, candidate_id, title, confidence, author, status, published_at, created_at
		FROM stories WHERE id = ?`, id)
	s, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("story %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return s, err
	}
	s.Slides, err = db.storySlides(ctx, id)
	return s, err
}

// ListStories returns a topic's stories, newest first. An empty status
// matches every story.
func (db *DB) ListStories(ctx context.Context, topicID int64, status string, limit int) ([]models.Story, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, topic_id, candidate_id, title, confidence, author, status, published_at, created_at
		FROM stories
		WHERE topic_id = ? AND (? = '' OR status = ?)
		ORDER BY created_at DESC, id DESC LIMIT ?`, topicID, status, status, limit)
	if err != nil {
		return nil, err
	}

	var stories []models.Story
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan story: %w", err)
		}
		stories = append(stories, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range stories {
		if stories[i].Slides, err = db.storySlides(ctx, stories[i].ID); err != nil {
			return nil, err
		}
	}
	return stories, nil
}

// PublishStory marks a draft published. Published stories never change.
func (db *DB) PublishStory(ctx context.Context, id int64, author string, at time.Time) (models.Story, error) {
	result, err := db.conn.ExecContext(ctx, `
		UPDATE stories SET status = ?, published_at = ?, author = CASE WHEN ? = '' THEN author ELSE ? END
		WHERE id = ? AND status = ?`,
		models.StoryPublished, formatTime(at), author, author, id, models.StoryDraft)
	if err != nil {
		return models.Story{}, err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		existing, err := db.GetStory(ctx, id)
		if err != nil {
			return existing, err
		}
		return existing, fmt.Errorf("story %d: %w", id, models.ErrImmutable)
	}
	return db.GetStory(ctx, id)
}

// StoryCounts returns the number of a topic's stories per status.
func (db *DB) StoryCounts(ctx context.Context, topicID int64) (map[string]int, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM stories WHERE topic_id = ? GROUP BY status`, topicID)
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

func (db *DB) storySlides(ctx context.Context, storyID int64) ([]models.Slide, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT slide_number, content, image_prompt FROM story_slides
		WHERE story_id = ? ORDER BY slide_number ASC`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slides []models.Slide
	for rows.Next() {
		var s models.Slide
		if err := rows.Scan(&s.SlideNumber, &s.Content, &s.ImagePrompt); err != nil {
			return nil, err
		}
		slides = append(slides, s)
	}
	return slides, rows.Err()
}

func scanStory(row rowScanner) (models.Story, error) {
	var s models.Story
	var publishedAt sql.NullString
	var createdAt string
	if err := row.Scan(&s.ID, &s.TopicID, &s.CandidateID, &s.Title, &s.Confidence, &s.Author,
		&s.Status, &publishedAt, &createdAt); err != nil {
		return s, err
	}
	s.PublishedAt = parseNullTime(publishedAt)
	s.CreatedAt, _ = parseTime(createdAt)
	return s, nil
}
