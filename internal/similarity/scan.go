package similarity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thinkscotty/newsroom/internal/models"
)

// Cursor is a keyset position in (FetchedAt, ID) order.
type Cursor struct {
	FetchedAt time.Time
	ID        int64
}

// VerdictUpdate is one resolved item written back by a scan batch.
type VerdictUpdate struct {
	CandidateID int64
	Confidence  int
	Verdict     string
	MatchedID   *int64
	// Flag moves the item to the duplicate status.
	Flag bool
}

// ScanStore is the storage a backlog scan reads from and commits to.
type ScanStore interface {
	CandidatePage(ctx context.Context, topicID int64, after Cursor, limit int) ([]models.CandidateItem, error)
	IndexItems(ctx context.Context, topicID int64, from, to time.Time) ([]models.CandidateItem, error)
	ApplyVerdicts(ctx context.Context, updates []VerdictUpdate) error
}

// Scanner re-resolves a topic's existing backlog in bounded batches.
type Scanner struct {
	store    ScanStore
	resolver *Resolver
	pause    time.Duration
}

// NewScanID returns an identifier for a duplicate scan run.
func NewScanID() string {
	return uuid.NewString()
}

func NewScanner(store ScanStore, resolver *Resolver, pause time.Duration) *Scanner {
	return &Scanner{store: store, resolver: resolver, pause: pause}
}

// rescannable reports whether a scan may change the item's status. Stories
// already promoted, filtered items and operator overrides are left alone.
func rescannable(item models.CandidateItem) bool {
	if item.Overridden {
		return false
	}
	switch item.Status {
	case models.StatusPending, models.StatusProcessing, models.StatusHeld, models.StatusDuplicate:
		return true
	}
	return false
}

// Scan walks the topic backlog in (FetchedAt, ID) order. lock is held only
// while a batch is resolved and committed, so the topic worker can make
// progress between batches. Cancelling ctx stops the scan before the next
// batch; committed batches stay committed. An empty scanID gets a fresh one.
func (s *Scanner) Scan(ctx context.Context, scanID string, topicID int64, batchSize int, lock sync.Locker, onBatch func(models.BatchReport)) (models.ScanReport, error) {
	if batchSize <= 0 {
		return models.ScanReport{}, fmt.Errorf("%w: batch size must be positive", models.ErrInvalidArgument)
	}
	if scanID == "" {
		scanID = NewScanID()
	}

	report := models.ScanReport{
		ScanID:    scanID,
		TopicID:   topicID,
		StartedAt: time.Now(),
	}

	var cursor Cursor
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			report.Cancelled = true
			report.FinishedAt = time.Now()
			return report, nil
		}

		lock.Lock()
		batch, next, err := s.scanBatch(ctx, topicID, cursor, batchSize)
		lock.Unlock()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				report.Cancelled = true
				report.FinishedAt = time.Now()
				return report, nil
			}
			report.Error = err.Error()
			report.FinishedAt = time.Now()
			return report, fmt.Errorf("scan batch %d: %w", n, err)
		}
		if batch.Processed == 0 {
			break
		}

		batch.Batch = n
		report.Batches = append(report.Batches, batch)
		report.Processed += batch.Processed
		report.Duplicates += batch.Duplicates
		report.NewlyFlagged += batch.NewlyFlagged
		if onBatch != nil {
			onBatch(batch)
		}
		slog.Debug("Duplicate scan batch committed", "topic_id", topicID, "batch", n,
			"processed", batch.Processed, "duplicates", batch.Duplicates)

		if batch.Processed < batchSize {
			break
		}
		cursor = next

		if err := s.yield(ctx); err != nil {
			report.Cancelled = true
			report.FinishedAt = time.Now()
			return report, nil
		}
	}

	report.FinishedAt = time.Now()
	return report, nil
}

func (s *Scanner) scanBatch(ctx context.Context, topicID int64, after Cursor, limit int) (models.BatchReport, Cursor, error) {
	var br models.BatchReport

	items, err := s.store.CandidatePage(ctx, topicID, after, limit)
	if err != nil {
		return br, after, fmt.Errorf("load page: %w", err)
	}
	if len(items) == 0 {
		return br, after, nil
	}

	first, last := items[0], items[len(items)-1]
	from := first.FetchedAt
	if h := s.resolver.Horizon(); h > 0 {
		from = from.Add(-h)
	}
	indexed, err := s.store.IndexItems(ctx, topicID, from, last.FetchedAt)
	if err != nil {
		return br, after, fmt.Errorf("load index: %w", err)
	}
	idx := NewIndex()
	for _, it := range indexed {
		idx.Add(EntryFromItem(it))
	}

	var updates []VerdictUpdate
	for _, item := range items {
		br.Processed++
		if item.Status == models.StatusFiltered {
			continue
		}
		res := s.resolver.Resolve(item, idx)
		if res.Verdict == models.VerdictDuplicate {
			br.Duplicates++
		}
		if !rescannable(item) {
			continue
		}
		flag := res.Verdict == models.VerdictDuplicate && item.Status != models.StatusDuplicate
		if flag {
			br.NewlyFlagged++
		}
		if flag || item.Verdict == "" || (item.Status != models.StatusDuplicate && item.Verdict != res.Verdict) {
			updates = append(updates, VerdictUpdate{
				CandidateID: item.ID,
				Confidence:  res.Confidence,
				Verdict:     res.Verdict,
				MatchedID:   res.MatchedID,
				Flag:        flag,
			})
		}
	}

	if len(updates) > 0 {
		if err := s.store.ApplyVerdicts(ctx, updates); err != nil {
			return br, after, fmt.Errorf("apply verdicts: %w", err)
		}
	}
	return br, Cursor{FetchedAt: last.FetchedAt, ID: last.ID}, nil
}

func (s *Scanner) yield(ctx context.Context) error {
	if s.pause <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.pause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
