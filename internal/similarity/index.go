package similarity

import (
	"log/slog"
	"sort"
	"time"

	"github.com/thinkscotty/newsroom/internal/models"
)

// Entry is one indexed item. Entries are ordered by (FetchedAt, ID).
type Entry struct {
	ID          int64
	Fingerprint string
	Shingles    map[string]struct{}
	FetchedAt   time.Time
}

// EntryFromItem builds an index entry from a prepared candidate. Stored
// shingles that fail to decode are logged and leave Shingles nil; the entry
// then still matches on its fingerprint.
func EntryFromItem(item models.CandidateItem) Entry {
	shingles, err := ShinglesFromJSON(item.Shingles)
	if err != nil {
		slog.Warn("Corrupt shingles, matching on fingerprint only", "candidate_id", item.ID, "error", err)
	}
	return Entry{
		ID:          item.ID,
		Fingerprint: item.Fingerprint,
		Shingles:    shingles,
		FetchedAt:   item.FetchedAt,
	}
}

func (e Entry) before(other Entry) bool {
	if !e.FetchedAt.Equal(other.FetchedAt) {
		return e.FetchedAt.Before(other.FetchedAt)
	}
	return e.ID < other.ID
}

// Index is a topic's recent-content index. It is not safe for concurrent
// use; the owning topic worker serializes access.
type Index struct {
	entries []Entry
}

func NewIndex(entries ...Entry) *Index {
	idx := &Index{}
	for _, e := range entries {
		idx.Add(e)
	}
	return idx
}

func (idx *Index) Len() int { return len(idx.entries) }

// Add inserts e in order. Re-adding an ID replaces the previous entry.
func (idx *Index) Add(e Entry) {
	idx.Remove(e.ID)
	i := sort.Search(len(idx.entries), func(i int) bool {
		return e.before(idx.entries[i])
	})
	idx.entries = append(idx.entries, Entry{})
	copy(idx.entries[i+1:], idx.entries[i:])
	idx.entries[i] = e
}

// Remove drops the entry with the given ID, if present.
func (idx *Index) Remove(id int64) {
	for i := range idx.entries {
		if idx.entries[i].ID == id {
			idx.entries = append(idx.entries[:i], idx.entries[i+1:]...)
			return
		}
	}
}

// Prune drops entries fetched before cutoff.
func (idx *Index) Prune(cutoff time.Time) int {
	i := sort.Search(len(idx.entries), func(i int) bool {
		return !idx.entries[i].FetchedAt.Before(cutoff)
	})
	idx.entries = idx.entries[i:]
	return i
}

// Before returns the entries strictly preceding e within horizon, newest
// last, limited to the most recent max (0 means unlimited).
func (idx *Index) Before(e Entry, horizon time.Duration, max int) []Entry {
	end := sort.Search(len(idx.entries), func(i int) bool {
		return !idx.entries[i].before(e)
	})
	start := 0
	if horizon > 0 {
		cutoff := e.FetchedAt.Add(-horizon)
		start = sort.Search(end, func(i int) bool {
			return !idx.entries[i].FetchedAt.Before(cutoff)
		})
	}
	if max > 0 && end-start > max {
		start = end - max
	}
	return idx.entries[start:end]
}
