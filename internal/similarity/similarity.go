// Package similarity resolves the originality of ingested content against a
// topic's recent-content index.
package similarity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/thinkscotty/newsroom/internal/models"
)

// Confidence band boundaries. Downstream gating depends on these exactly.
const (
	OriginalMin       = 80
	LikelyOriginalMin = 50
)

// Normalize case-folds, strips punctuation and collapses whitespace.
func Normalize(text string) string {
	var sb strings.Builder
	prevSpace := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			prevSpace = false
		} else if unicode.IsSpace(r) && !prevSpace {
			sb.WriteRune(' ')
			prevSpace = true
		}
	}
	return strings.TrimSpace(sb.String())
}

// Fingerprint is the SHA-256 of the normalized text, so identical content
// from different sources collides.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// Classify maps a confidence to its verdict band.
func Classify(confidence int) string {
	switch {
	case confidence >= OriginalMin:
		return models.VerdictOriginal
	case confidence >= LikelyOriginalMin:
		return models.VerdictLikelyOriginal
	default:
		return models.VerdictDuplicate
	}
}

// Result is the outcome of resolving one candidate.
type Result struct {
	Confidence int    `json:"confidence"`
	Verdict    string `json:"verdict"`
	MatchedID  *int64 `json:"matched_id,omitempty"`
}

type Resolver struct {
	shingleSize int
	horizon     time.Duration
	maxCompare  int
}

func New(shingleSize int, horizon time.Duration, maxCompare int) *Resolver {
	if shingleSize < 1 {
		shingleSize = 1
	}
	return &Resolver{shingleSize: shingleSize, horizon: horizon, maxCompare: maxCompare}
}

func (r *Resolver) Horizon() time.Duration { return r.horizon }

// Shingles returns the set of word k-shingles of the normalized text.
// Texts with fewer than k words fall back to single words.
func (r *Resolver) Shingles(text string) map[string]struct{} {
	words := strings.Fields(Normalize(text))
	set := make(map[string]struct{})
	k := r.shingleSize
	if len(words) < k {
		k = 1
	}
	for i := 0; i <= len(words)-k; i++ {
		set[strings.Join(words[i:i+k], " ")] = struct{}{}
	}
	return set
}

// ShinglesToJSON serializes a shingle set for storage.
func ShinglesToJSON(shingles map[string]struct{}) string {
	list := make([]string, 0, len(shingles))
	for k := range shingles {
		list = append(list, k)
	}
	data, _ := json.Marshal(list)
	return string(data)
}

// ShinglesFromJSON deserializes a stored shingle set. An empty column is an
// empty set.
func ShinglesFromJSON(data string) (map[string]struct{}, error) {
	var list []string
	if data != "" {
		if err := json.Unmarshal([]byte(data), &list); err != nil {
			return nil, fmt.Errorf("decode shingles: %w", err)
		}
	}
	set := make(map[string]struct{}, len(list))
	for _, s := range list {
		set[s] = struct{}{}
	}
	return set, nil
}

// Jaccard computes |A intersection B| / |A union B|.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}

	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	intersection := 0
	for k := range small {
		if _, ok := large[k]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Prepare fills in the fingerprint and shingles of an item. The fingerprint
// covers the body alone so syndicated copy under a new headline still
// collides; an item without a body is fingerprinted by its title.
func (r *Resolver) Prepare(item *models.CandidateItem) {
	body := item.Content
	if Normalize(body) == "" {
		body = item.Title
	}
	item.Fingerprint = Fingerprint(body)
	item.Shingles = ShinglesToJSON(r.Shingles(shingleText(*item)))
}

func shingleText(item models.CandidateItem) string {
	return item.Title + "\n" + item.Content
}

// Resolve scores item against the entries of idx that arrived before it.
// It never mutates idx, so resolving an unchanged item against an unchanged
// index always yields the same result.
func (r *Resolver) Resolve(item models.CandidateItem, idx *Index) Result {
	entry := EntryFromItem(item)
	if entry.Shingles == nil {
		entry.Shingles = r.Shingles(shingleText(item))
	}
	prior := idx.Before(entry, r.horizon, r.maxCompare)

	best := 0.0
	var matched *int64
	for i := range prior {
		e := prior[i]
		if e.Fingerprint == entry.Fingerprint {
			id := e.ID
			return Result{Confidence: 0, Verdict: models.VerdictDuplicate, MatchedID: &id}
		}
		if sim := Jaccard(entry.Shingles, e.Shingles); sim > best {
			best = sim
			id := e.ID
			matched = &id
		}
	}

	confidence := 100 - int(math.Round(best*100))
	if confidence > 100 {
		confidence = 100
	}
	if confidence < 0 {
		confidence = 0
	}
	if best == 0 {
		matched = nil
	}
	return Result{Confidence: confidence, Verdict: Classify(confidence), MatchedID: matched}
}
