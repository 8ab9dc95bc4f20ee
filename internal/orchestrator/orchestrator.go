// Package orchestrator runs each topic's content pipeline: polling eligible
// sources, resolving duplicates and advancing items through the stages the
// topic's automation mode permits.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thinkscotty/newsroom/internal/automation"
	"github.com/thinkscotty/newsroom/internal/config"
	"github.com/thinkscotty/newsroom/internal/health"
	"github.com/thinkscotty/newsroom/internal/models"
	"github.com/thinkscotty/newsroom/internal/retry"
	"github.com/thinkscotty/newsroom/internal/similarity"
)

// Store is the persistence the orchestrator drives.
type Store interface {
	similarity.ScanStore

	ListTopics(ctx context.Context) ([]models.Topic, error)
	ListActiveTopics(ctx context.Context) ([]models.Topic, error)
	GetTopic(ctx context.Context, id int64) (models.Topic, error)
	GetTopicByName(ctx context.Context, name string) (models.Topic, error)
	CreateTopic(ctx context.Context, t *models.Topic) error
	UpdateTopicAutomation(ctx context.Context, id int64, state automation.State) error
	UpdateTopicThreshold(ctx context.Context, id int64, threshold int) error
	UpdateTopicFilters(ctx context.Context, id int64, negativeKeywords, competingRegions []string) error
	ArchiveTopic(ctx context.Context, id int64) error
	UpdateTopicPollTime(ctx context.Context, id int64, at time.Time) error

	AddSource(ctx context.Context, s *models.Source) error
	GetSource(ctx context.Context, id int64) (models.Source, error)
	GetSourceByURL(ctx context.Context, topicID int64, url string) (models.Source, error)
	StoryCounts(ctx context.Context, topicID int64) (map[string]int, error)
	ListSourceAttempts(ctx context.Context, sourceID int64, limit int) ([]models.SourceAttempt, error)

	InsertCandidate(ctx context.Context, c *models.CandidateItem) (bool, error)
	GetCandidate(ctx context.Context, id int64) (models.CandidateItem, error)
	ListCandidates(ctx context.Context, topicID int64, status string, limit int) ([]models.CandidateItem, error)
	SaveCandidate(ctx context.Context, c *models.CandidateItem) error
	OverrideCandidate(ctx context.Context, id int64, editor string) (models.CandidateItem, error)
	CandidateCounts(ctx context.Context, topicID int64) (map[string]int, error)

	PromoteCandidate(ctx context.Context, c *models.CandidateItem, author string) (models.Story, error)
	GetStory(ctx context.Context, id int64) (models.Story, error)
	ListStories(ctx context.Context, topicID int64, status string, limit int) ([]models.Story, error)
	PublishStory(ctx context.Context, id int64, author string, at time.Time) (models.Story, error)
}

// Fetcher is the ingestion collaborator.
type Fetcher interface {
	Fetch(ctx context.Context, source models.Source) models.FetchResult
}

// SourceResolver is optionally implemented by a Fetcher to normalize new
// sources, such as swapping a web page for the feed it advertises.
type SourceResolver interface {
	ResolveSource(ctx context.Context, rawURL, kind string) (string, string, error)
}

// Generator is the content-generation collaborator.
type Generator interface {
	Simplify(ctx context.Context, topic models.Topic, item models.CandidateItem) (string, []models.Slide, error)
	Illustrate(ctx context.Context, topic models.Topic, title string, slides []models.Slide) ([]models.Slide, error)
}

// advanceBatch bounds how many processing items one cycle advances.
const advanceBatch = 25

type Orchestrator struct {
	store     Store
	tracker   *health.Tracker
	fetcher   Fetcher
	generator Generator
	resolver  *similarity.Resolver
	scanner   *similarity.Scanner

	cfg       config.PipelineConfig
	scanBatch int
	policy    retry.Policy
	now       func() time.Time

	mu     sync.Mutex
	topics map[int64]*topicState
}

// topicState is owned by one topic. mu serializes the topic's cycles,
// approvals and scan batches; the index is only touched under it.
type topicState struct {
	mu        sync.Mutex
	index     *similarity.Index
	indexFrom time.Time

	paused   atomic.Bool
	degraded atomic.Bool

	scanMu     sync.Mutex
	scanCancel context.CancelFunc
	lastScan   *models.ScanReport

	// autoMu serializes read-modify-write of the automation state.
	autoMu sync.Mutex
}

func New(store Store, tracker *health.Tracker, fetcher Fetcher, generator Generator, resolver *similarity.Resolver, cfg config.Config) *Orchestrator {
	policy := retry.DefaultPolicy()
	if cfg.Pipeline.PersistRetries > 0 {
		policy.MaxTries = uint(cfg.Pipeline.PersistRetries)
	}
	return &Orchestrator{
		store:     store,
		tracker:   tracker,
		fetcher:   fetcher,
		generator: generator,
		resolver:  resolver,
		scanner:   similarity.NewScanner(store, resolver, cfg.Dedup.ScanPause()),
		cfg:       cfg.Pipeline,
		scanBatch: cfg.Dedup.ScanBatchSize,
		policy:    policy,
		now:       time.Now,
		topics:    make(map[int64]*topicState),
	}
}

func (o *Orchestrator) state(topicID int64) *topicState {
	o.mu.Lock()
	defer o.mu.Unlock()
	ts, ok := o.topics[topicID]
	if !ok {
		ts = &topicState{}
		o.topics[topicID] = ts
	}
	return ts
}

// persist retries a write. A lost write marks the topic degraded until the
// next write that succeeds.
func (o *Orchestrator) persist(ctx context.Context, ts *topicState, op string, fn func() error) error {
	err := retry.Do(ctx, o.policy, op, fn)
	switch {
	case err == nil:
		ts.degraded.Store(false)
	case models.IsPersistence(err):
		ts.degraded.Store(true)
	}
	return err
}
