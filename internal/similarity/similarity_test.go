package similarity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkscotty/newsroom/internal/models"
)

var t0 = time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)

func newTestResolver() *Resolver {
	return New(3, 7*24*time.Hour, 500)
}

func item(r *Resolver, id int64, fetched time.Time, content string) models.CandidateItem {
	it := models.CandidateItem{ID: id, TopicID: 1, Content: content, FetchedAt: fetched, Status: models.StatusPending}
	r.Prepare(&it)
	return it
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello, World!", "hello world"},
		{"  Council   votes\ton\nbudget ", "council votes on budget"},
		{"Mayor's office: \"no comment\"", "mayors office no comment"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestFingerprintCollidesOnNormalizedContent(t *testing.T) {
	a := Fingerprint("The Bridge closes Monday.")
	b := Fingerprint("the   bridge closes monday")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Fingerprint("The bridge opens Monday."))
}

func TestClassifyBands(t *testing.T) {
	tests := []struct {
		confidence int
		want       string
	}{
		{100, models.VerdictOriginal},
		{80, models.VerdictOriginal},
		{79, models.VerdictLikelyOriginal},
		{50, models.VerdictLikelyOriginal},
		{49, models.VerdictDuplicate},
		{0, models.VerdictDuplicate},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.confidence), "Classify(%d)", tt.confidence)
	}
}

func TestJaccard(t *testing.T) {
	a := map[string]struct{}{"a": {}, "b": {}, "c": {}}
	b := map[string]struct{}{"b": {}, "c": {}, "d": {}}
	assert.InDelta(t, 0.5, Jaccard(a, b), 1e-9)
	assert.Equal(t, 1.0, Jaccard(nil, nil))
	assert.Equal(t, 0.0, Jaccard(a, nil))
}

func TestIdenticalContentFromDifferentSourcesIsHardDuplicate(t *testing.T) {
	r := newTestResolver()
	first := item(r, 1, t0, "Fire crews contained a grass fire near the river trail on Sunday.")
	first.SourceID = 10
	second := item(r, 2, t0.Add(time.Minute), "FIRE crews contained a grass fire near the river trail on Sunday!")
	second.SourceID = 11

	idx := NewIndex(EntryFromItem(first))
	res := r.Resolve(second, idx)

	assert.Equal(t, 0, res.Confidence)
	assert.Equal(t, models.VerdictDuplicate, res.Verdict)
	require.NotNil(t, res.MatchedID)
	assert.Equal(t, int64(1), *res.MatchedID)
}

func TestSameBodyUnderDifferentHeadlinesIsHardDuplicate(t *testing.T) {
	r := newTestResolver()
	body := "The county water district will flush hydrants on the east side from Monday through Thursday next week."
	wire := models.CandidateItem{ID: 1, SourceID: 10, Title: "Hydrant flushing starts Monday", Content: body, FetchedAt: t0}
	r.Prepare(&wire)
	syndicated := models.CandidateItem{ID: 2, SourceID: 11, Title: "East side residents may see discolored water", Content: body, FetchedAt: t0.Add(time.Minute)}
	r.Prepare(&syndicated)

	assert.Equal(t, wire.Fingerprint, syndicated.Fingerprint)

	res := r.Resolve(syndicated, NewIndex(EntryFromItem(wire)))
	assert.Equal(t, 0, res.Confidence)
	assert.Equal(t, models.VerdictDuplicate, res.Verdict)
	require.NotNil(t, res.MatchedID)
	assert.Equal(t, int64(1), *res.MatchedID)
}

func TestFingerprintFallsBackToTitleWithoutBody(t *testing.T) {
	r := newTestResolver()
	a := models.CandidateItem{Title: "Bridge closes Monday"}
	b := models.CandidateItem{Title: "Parade route announced"}
	r.Prepare(&a)
	r.Prepare(&b)
	assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
}

func TestShinglesFromJSON(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    int
		wantErr bool
	}{
		{"empty column", "", 0, false},
		{"stored set", `["a b c","b c d"]`, 2, false},
		{"corrupt", `["a b c"`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := ShinglesFromJSON(tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, set, tt.want)
		})
	}
}

func TestCorruptStoredShinglesAreRebuilt(t *testing.T) {
	r := newTestResolver()
	prior := item(r, 1, t0, "Fire crews contained a grass fire near the river trail on Sunday afternoon.")
	candidate := item(r, 2, t0.Add(time.Minute), "Fire crews contained a grass fire near the river trail on Sunday evening.")
	want := r.Resolve(candidate, NewIndex(EntryFromItem(prior)))

	candidate.Shingles = "{not json"
	got := r.Resolve(candidate, NewIndex(EntryFromItem(prior)))
	assert.Equal(t, want, got)
	assert.Equal(t, models.VerdictDuplicate, got.Verdict)
}

func TestResolveOnlyComparesEarlierArrivals(t *testing.T) {
	r := newTestResolver()
	early := item(r, 1, t0, "Library extends weekend opening hours for the exam season.")
	late := item(r, 2, t0.Add(time.Hour), "Library extends weekend opening hours for the exam season.")

	idx := NewIndex(EntryFromItem(early), EntryFromItem(late))

	assert.Equal(t, models.VerdictOriginal, r.Resolve(early, idx).Verdict)
	assert.Equal(t, 100, r.Resolve(early, idx).Confidence)
	assert.Equal(t, models.VerdictDuplicate, r.Resolve(late, idx).Verdict)
}

func TestResolveIsIdempotent(t *testing.T) {
	r := newTestResolver()
	idx := NewIndex(
		EntryFromItem(item(r, 1, t0, "School board approves new bus routes for the north district.")),
		EntryFromItem(item(r, 2, t0.Add(time.Minute), "Farmers market moves indoors for the winter months.")),
	)
	candidate := item(r, 3, t0.Add(time.Hour), "School board approves new bus routes for the south district.")

	first := r.Resolve(candidate, idx)
	second := r.Resolve(candidate, idx)
	assert.Equal(t, first, second)
	assert.Less(t, first.Confidence, 100)
}

func TestResolveRespectsHorizon(t *testing.T) {
	r := New(3, 24*time.Hour, 500)
	old := item(r, 1, t0, "Road resurfacing on Main Street starts next week.")
	fresh := item(r, 2, t0.Add(48*time.Hour), "Road resurfacing on Main Street starts next week.")

	res := r.Resolve(fresh, NewIndex(EntryFromItem(old)))
	assert.Equal(t, models.VerdictOriginal, res.Verdict)
}

func TestIndexPruneAndOrder(t *testing.T) {
	idx := NewIndex(
		Entry{ID: 3, FetchedAt: t0.Add(2 * time.Hour)},
		Entry{ID: 1, FetchedAt: t0},
		Entry{ID: 2, FetchedAt: t0.Add(time.Hour)},
	)
	require.Equal(t, 3, idx.Len())

	prior := idx.Before(Entry{ID: 9, FetchedAt: t0.Add(3 * time.Hour)}, 0, 2)
	require.Len(t, prior, 2)
	assert.Equal(t, int64(2), prior[0].ID)
	assert.Equal(t, int64(3), prior[1].ID)

	assert.Equal(t, 1, idx.Prune(t0.Add(30*time.Minute)))
	assert.Equal(t, 2, idx.Len())
}

// memStore is an in-memory ScanStore.
type memStore struct {
	mu    sync.Mutex
	items []models.CandidateItem
}

func (m *memStore) CandidatePage(_ context.Context, topicID int64, after Cursor, limit int) ([]models.CandidateItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CandidateItem
	for _, it := range m.items {
		if it.TopicID != topicID {
			continue
		}
		if it.FetchedAt.Before(after.FetchedAt) || (it.FetchedAt.Equal(after.FetchedAt) && it.ID <= after.ID) {
			continue
		}
		out = append(out, it)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) IndexItems(_ context.Context, topicID int64, from, to time.Time) ([]models.CandidateItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CandidateItem
	for _, it := range m.items {
		if it.TopicID == topicID && it.Status != models.StatusFiltered &&
			!it.FetchedAt.Before(from) && !it.FetchedAt.After(to) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memStore) ApplyVerdicts(_ context.Context, updates []VerdictUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range updates {
		for i := range m.items {
			if m.items[i].ID != u.CandidateID {
				continue
			}
			m.items[i].Confidence = u.Confidence
			m.items[i].Verdict = u.Verdict
			if u.Flag {
				m.items[i].Status = models.StatusDuplicate
			}
		}
	}
	return nil
}

var vocabulary = strings.Fields(`council budget river bridge school library market fire police
park traffic festival harbor museum election water housing transit weather hospital`)

func backlog(r *Resolver, n int) *memStore {
	store := &memStore{}
	for i := 0; i < n; i++ {
		var content string
		if i%5 == 4 {
			// exact copy of an earlier item
			content = store.items[i-3].Content
		} else {
			words := make([]string, 0, 12)
			for j := 0; j < 12; j++ {
				words = append(words, vocabulary[(i*7+j*(i%13+1))%len(vocabulary)])
			}
			content = fmt.Sprintf("%s report %d", strings.Join(words, " "), i)
		}
		store.items = append(store.items, item(r, int64(i+1), t0.Add(time.Duration(i)*time.Minute), content))
	}
	sort.Slice(store.items, func(a, b int) bool { return store.items[a].ID < store.items[b].ID })
	return store
}

func TestScanTotalsIndependentOfBatchSize(t *testing.T) {
	r := newTestResolver()

	var totals []int
	for _, size := range []int{50, 500, 7} {
		store := backlog(r, 500)
		report, err := NewScanner(store, r, 0).Scan(context.Background(), "", 1, size, &sync.Mutex{}, nil)
		require.NoError(t, err)
		assert.Equal(t, 500, report.Processed)
		assert.False(t, report.Cancelled)
		totals = append(totals, report.Duplicates)
	}

	assert.GreaterOrEqual(t, totals[0], 100)
	assert.Equal(t, totals[0], totals[1])
	assert.Equal(t, totals[0], totals[2])
}

func TestScanBatchesAndRerunIsIdempotent(t *testing.T) {
	r := newTestResolver()
	store := backlog(r, 500)
	scanner := NewScanner(store, r, 0)

	var batches []models.BatchReport
	first, err := scanner.Scan(context.Background(), "", 1, 50, &sync.Mutex{}, func(b models.BatchReport) {
		batches = append(batches, b)
	})
	require.NoError(t, err)
	assert.Len(t, batches, 10)
	for _, b := range batches {
		assert.Equal(t, 50, b.Processed)
	}
	assert.Equal(t, first.Duplicates, first.NewlyFlagged)

	second, err := scanner.Scan(context.Background(), "", 1, 50, &sync.Mutex{}, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Duplicates, second.Duplicates)
	assert.Zero(t, second.NewlyFlagged)
}

func TestScanCancellationKeepsCommittedBatches(t *testing.T) {
	r := newTestResolver()
	store := backlog(r, 500)

	ctx, cancel := context.WithCancel(context.Background())
	report, err := NewScanner(store, r, 0).Scan(ctx, "", 1, 50, &sync.Mutex{}, func(b models.BatchReport) {
		if b.Batch == 2 {
			cancel()
		}
	})
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Len(t, report.Batches, 2)
	assert.Equal(t, 100, report.Processed)

	flagged := 0
	for _, it := range store.items {
		if it.Status == models.StatusDuplicate {
			flagged++
		}
	}
	assert.Equal(t, report.NewlyFlagged, flagged)
}

func TestScanSkipsOverriddenItems(t *testing.T) {
	r := newTestResolver()
	store := &memStore{items: []models.CandidateItem{
		item(r, 1, t0, "Harbor festival returns with fireworks on Saturday."),
		item(r, 2, t0.Add(time.Minute), "Harbor festival returns with fireworks on Saturday."),
	}}
	store.items[1].Overridden = true
	store.items[1].Status = models.StatusHeld

	report, err := NewScanner(store, r, 0).Scan(context.Background(), "", 1, 10, &sync.Mutex{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Duplicates)
	assert.Zero(t, report.NewlyFlagged)
	assert.Equal(t, models.StatusHeld, store.items[1].Status)
}

func TestScanRejectsBadBatchSize(t *testing.T) {
	_, err := NewScanner(&memStore{}, newTestResolver(), 0).Scan(context.Background(), "", 1, 0, &sync.Mutex{}, nil)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}
