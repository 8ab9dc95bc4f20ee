package health

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkscotty/newsroom/internal/database"
	"github.com/thinkscotty/newsroom/internal/models"
	"github.com/thinkscotty/newsroom/internal/retry"
)

// fakeStore keeps sources in memory and can be told to fail writes.
type fakeStore struct {
	mu         sync.Mutex
	sources    map[int64]models.Source
	failWrites int
	writes     int
}

func newFakeStore(sources ...models.Source) *fakeStore {
	f := &fakeStore{sources: make(map[int64]models.Source)}
	for _, s := range sources {
		f.sources[s.ID] = s
	}
	return f
}

func (f *fakeStore) GetSource(_ context.Context, id int64) (models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sources[id]
	if !ok {
		return s, models.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) ListSourcesForTopic(_ context.Context, topicID int64) ([]models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Source
	for id := int64(1); id <= int64(len(f.sources)); id++ {
		if s, ok := f.sources[id]; ok && s.TopicID == topicID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) RecordSourceAttempt(_ context.Context, id int64, outcome models.Outcome, errMsg string, at time.Time) (models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.failWrites > 0 {
		f.failWrites--
		return models.Source{}, errors.New("database is locked")
	}
	s := f.sources[id]
	if outcome == models.OutcomeSuccess {
		s.SuccessCount++
		s.ConsecutiveFailures = 0
		s.LastError = ""
	} else {
		s.FailureCount++
		s.ConsecutiveFailures++
		s.LastError = errMsg
	}
	s.LastAttemptAt = &at
	f.sources[id] = s
	return s, nil
}

func (f *fakeStore) SourceVolumes(context.Context, int64, time.Time) (map[int64]int, error) {
	return map[int64]int{1: 12}, nil
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestEligibilityRule(t *testing.T) {
	tests := []struct {
		name        string
		success     int
		failure     int
		consecutive int
		want        bool
	}{
		{"never attempted", 0, 0, 0, true},
		{"all good", 10, 0, 0, true},
		{"exactly half", 5, 5, 0, true},
		{"below half", 4, 6, 1, false},
		{"two in a row", 8, 2, 2, true},
		{"three in a row", 97, 3, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Eligible(tt.success, tt.failure, tt.consecutive))
		})
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		eligible, total int
		want            string
	}{
		{0, 0, models.HealthCritical},
		{4, 5, models.HealthHealthy},
		{3, 5, models.HealthDegraded},
		{1, 2, models.HealthDegraded},
		{2, 5, models.HealthCritical},
	}
	for _, tt := range tests {
		_, got := Level(tt.eligible, tt.total)
		assert.Equal(t, tt.want, got, "Level(%d, %d)", tt.eligible, tt.total)
	}
}

func TestTrailingFailuresSuspendDespiteRate(t *testing.T) {
	store := newFakeStore(models.Source{ID: 1, TopicID: 1, Name: "Gazette"})
	tr := NewTracker(store, fastPolicy())
	ctx := context.Background()

	outcomes := []models.Outcome{
		models.OutcomeSuccess, models.OutcomeSuccess, models.OutcomeSuccess, models.OutcomeSuccess,
		models.OutcomeSuccess, models.OutcomeSuccess, models.OutcomeSuccess,
		models.OutcomeFailure, models.OutcomeFailure, models.OutcomeFailure,
	}
	var snap models.HealthSnapshot
	for _, o := range outcomes {
		var err error
		snap, err = tr.RecordAttempt(ctx, 1, o, "timeout")
		require.NoError(t, err)
	}

	assert.Equal(t, 70.0, snap.SuccessRate)
	assert.Equal(t, 3, snap.ConsecutiveFailures)
	assert.False(t, snap.Eligible)

	ok, err := tr.IsEligible(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	// an operator test that succeeds reinstates the source
	snap, err = tr.RecordAttempt(ctx, 1, models.OutcomeSuccess, "")
	require.NoError(t, err)
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.True(t, snap.Eligible)
}

func TestSuccessAlwaysResetsConsecutiveFailures(t *testing.T) {
	store := newFakeStore(models.Source{ID: 1, TopicID: 1})
	tr := NewTracker(store, fastPolicy())
	ctx := context.Background()

	prev := 0
	for i := 0; i < 40; i++ {
		outcome := models.OutcomeFailure
		if i%3 == 0 || i%7 == 0 {
			outcome = models.OutcomeSuccess
		}
		snap, err := tr.RecordAttempt(ctx, 1, outcome, "")
		require.NoError(t, err)
		if outcome == models.OutcomeSuccess {
			assert.Zero(t, snap.ConsecutiveFailures)
		} else {
			assert.Equal(t, prev+1, snap.ConsecutiveFailures)
		}
		assert.InDelta(t, SuccessRate(snap.SuccessCount, snap.FailureCount), snap.SuccessRate, 0.05)
		prev = snap.ConsecutiveFailures
	}
}

func TestPersistenceFailureKeepsCommittedState(t *testing.T) {
	store := newFakeStore(models.Source{ID: 1, TopicID: 7, SuccessCount: 4})
	tr := NewTracker(store, fastPolicy())
	ctx := context.Background()

	store.failWrites = 3
	snap, err := tr.RecordAttempt(ctx, 1, models.OutcomeFailure, "boom")
	require.Error(t, err)
	assert.True(t, models.IsPersistence(err))
	assert.Equal(t, 3, store.writes)
	assert.Equal(t, 4, snap.SuccessCount)
	assert.Zero(t, snap.FailureCount)
	assert.True(t, tr.Degraded(7))

	th, err := tr.Snapshot(ctx, 7)
	require.NoError(t, err)
	assert.True(t, th.Degraded)

	// a transient failure within the retry budget is absorbed
	store.failWrites = 1
	snap, err = tr.RecordAttempt(ctx, 1, models.OutcomeFailure, "boom")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.FailureCount)
	assert.False(t, tr.Degraded(7))
}

func TestSnapshotAggregate(t *testing.T) {
	store := newFakeStore(
		models.Source{ID: 1, TopicID: 1, SuccessCount: 9, FailureCount: 1},
		models.Source{ID: 2, TopicID: 1, SuccessCount: 1, FailureCount: 9, ConsecutiveFailures: 5},
		models.Source{ID: 3, TopicID: 1},
		models.Source{ID: 4, TopicID: 2},
	)
	tr := NewTracker(store, fastPolicy())

	th, err := tr.Snapshot(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, th.Total)
	assert.Equal(t, 2, th.Eligible)
	assert.Equal(t, models.HealthDegraded, th.Level)
	assert.Equal(t, 12, th.Sources[0].ArticlesLast7Days)
	assert.Equal(t, 100.0, th.Sources[2].SuccessRate)

	empty, err := tr.Snapshot(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, models.HealthCritical, empty.Level)
}

func TestConcurrentAttemptsAreSerialized(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "health.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	topic := models.Topic{Name: "Riverside"}
	require.NoError(t, db.CreateTopic(ctx, &topic))
	src := models.Source{TopicID: topic.ID, URL: "https://gazette.example/feed.xml"}
	require.NoError(t, db.AddSource(ctx, &src))

	tr := NewTracker(db, retry.Policy{MaxTries: 10, InitialInterval: time.Millisecond, MaxInterval: 10 * time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome := models.OutcomeSuccess
			if i%4 == 0 {
				outcome = models.OutcomeFailure
			}
			_, err := tr.RecordAttempt(ctx, src.ID, outcome, "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := db.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.SuccessCount)
	assert.Equal(t, 10, got.FailureCount)

	attempts, err := db.ListSourceAttempts(ctx, src.ID, 100)
	require.NoError(t, err)
	assert.Len(t, attempts, 40)
}
