// Package health tracks per-source fetch reliability and decides which
// sources are eligible to be polled.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/thinkscotty/newsroom/internal/models"
	"github.com/thinkscotty/newsroom/internal/retry"
)

const (
	// MinSuccessRate is the success percentage below which a source is suspended.
	MinSuccessRate = 50.0
	// MaxConsecutiveFailures suspends a source regardless of its rate.
	MaxConsecutiveFailures = 3

	healthyPercent  = 80.0
	degradedPercent = 50.0

	volumeWindow = 7 * 24 * time.Hour
)

// Store is the persistence the tracker needs.
type Store interface {
	GetSource(ctx context.Context, id int64) (models.Source, error)
	ListSourcesForTopic(ctx context.Context, topicID int64) ([]models.Source, error)
	RecordSourceAttempt(ctx context.Context, sourceID int64, outcome models.Outcome, errMsg string, at time.Time) (models.Source, error)
	SourceVolumes(ctx context.Context, topicID int64, since time.Time) (map[int64]int, error)
}

// Tracker is the only writer of source health counters. Attempts for one
// source are applied one at a time, whether they come from a poll or an
// operator test.
type Tracker struct {
	store  Store
	policy retry.Policy
	now    func() time.Time

	locks    sync.Map // source ID -> *sync.Mutex
	degraded sync.Map // topic ID -> struct{}
}

func NewTracker(store Store, policy retry.Policy) *Tracker {
	return &Tracker{store: store, policy: policy, now: time.Now}
}

func (t *Tracker) sourceLock(id int64) *sync.Mutex {
	mu, _ := t.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// SuccessRate is the percentage of successful attempts. A source that was
// never attempted counts as fully successful.
func SuccessRate(success, failure int) float64 {
	total := success + failure
	if total == 0 {
		return 100
	}
	return float64(success) / float64(total) * 100
}

// Eligible applies the suspension rule to a set of counters.
func Eligible(success, failure, consecutive int) bool {
	return SuccessRate(success, failure) >= MinSuccessRate && consecutive < MaxConsecutiveFailures
}

// Level maps the eligible share of a topic's sources to an aggregate level.
// A topic without sources is critical.
func Level(eligible, total int) (float64, string) {
	if total == 0 {
		return 0, models.HealthCritical
	}
	pct := float64(eligible) / float64(total) * 100
	switch {
	case pct >= healthyPercent:
		return pct, models.HealthHealthy
	case pct >= degradedPercent:
		return pct, models.HealthDegraded
	default:
		return pct, models.HealthCritical
	}
}

func snapshot(s models.Source) models.HealthSnapshot {
	return models.HealthSnapshot{
		SourceID:            s.ID,
		TopicID:             s.TopicID,
		Name:                s.Name,
		URL:                 s.URL,
		SuccessCount:        s.SuccessCount,
		FailureCount:        s.FailureCount,
		ConsecutiveFailures: s.ConsecutiveFailures,
		SuccessRate:         math.Round(SuccessRate(s.SuccessCount, s.FailureCount)*10) / 10,
		Eligible:            Eligible(s.SuccessCount, s.FailureCount, s.ConsecutiveFailures),
		LastError:           s.LastError,
		LastAttemptAt:       s.LastAttemptAt,
	}
}

// RecordAttempt applies one fetch outcome. If the write cannot be persisted
// after retries, the returned snapshot is the last committed state, the
// topic is flagged degraded and a *models.PersistenceError is returned.
func (t *Tracker) RecordAttempt(ctx context.Context, sourceID int64, outcome models.Outcome, errMsg string) (models.HealthSnapshot, error) {
	mu := t.sourceLock(sourceID)
	mu.Lock()
	defer mu.Unlock()

	before, err := t.store.GetSource(ctx, sourceID)
	if err != nil {
		return models.HealthSnapshot{}, fmt.Errorf("load source %d: %w", sourceID, err)
	}

	var after models.Source
	at := t.now()
	err = retry.Do(ctx, t.policy, "record source attempt", func() error {
		var err error
		after, err = t.store.RecordSourceAttempt(ctx, sourceID, outcome, errMsg, at)
		return err
	})
	if err != nil {
		if models.IsPersistence(err) {
			t.degraded.Store(before.TopicID, struct{}{})
			slog.Error("Source health update lost", "source_id", sourceID, "topic_id", before.TopicID,
				"outcome", outcome.String(), "error", err)
		}
		return snapshot(before), err
	}

	t.degraded.Delete(after.TopicID)
	snap := snapshot(after)
	if snapshot(before).Eligible && !snap.Eligible {
		slog.Warn("Source suspended", "source_id", sourceID, "name", after.Name,
			"success_rate", snap.SuccessRate, "consecutive_failures", snap.ConsecutiveFailures)
	} else if !snapshot(before).Eligible && snap.Eligible {
		slog.Info("Source reinstated", "source_id", sourceID, "name", after.Name)
	}
	return snap, nil
}

// IsEligible reports whether the source may be polled.
func (t *Tracker) IsEligible(ctx context.Context, sourceID int64) (bool, error) {
	s, err := t.store.GetSource(ctx, sourceID)
	if err != nil {
		return false, err
	}
	return Eligible(s.SuccessCount, s.FailureCount, s.ConsecutiveFailures), nil
}

// EligibleSources returns the topic's sources that may be polled.
func (t *Tracker) EligibleSources(ctx context.Context, topicID int64) ([]models.Source, error) {
	sources, err := t.store.ListSourcesForTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	var eligible []models.Source
	for _, s := range sources {
		if Eligible(s.SuccessCount, s.FailureCount, s.ConsecutiveFailures) {
			eligible = append(eligible, s)
		}
	}
	return eligible, nil
}

// Snapshot returns per-source health and the topic aggregate.
func (t *Tracker) Snapshot(ctx context.Context, topicID int64) (models.TopicHealth, error) {
	sources, err := t.store.ListSourcesForTopic(ctx, topicID)
	if err != nil {
		return models.TopicHealth{}, err
	}
	volumes, err := t.store.SourceVolumes(ctx, topicID, t.now().Add(-volumeWindow))
	if err != nil {
		return models.TopicHealth{}, err
	}

	th := models.TopicHealth{
		TopicID:  topicID,
		Sources:  make([]models.HealthSnapshot, 0, len(sources)),
		Total:    len(sources),
		Degraded: t.Degraded(topicID),
	}
	for _, s := range sources {
		snap := snapshot(s)
		snap.ArticlesLast7Days = volumes[s.ID]
		if snap.Eligible {
			th.Eligible++
		}
		th.Sources = append(th.Sources, snap)
	}
	th.Percent, th.Level = Level(th.Eligible, th.Total)
	return th, nil
}

// Degraded reports whether a health write for the topic was lost and not
// yet followed by a successful one.
func (t *Tracker) Degraded(topicID int64) bool {
	_, ok := t.degraded.Load(topicID)
	return ok
}
