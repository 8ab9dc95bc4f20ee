package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/thinkscotty/newsroom/internal/automation"
	"github.com/thinkscotty/newsroom/internal/config"
	"github.com/thinkscotty/newsroom/internal/metrics"
	"github.com/thinkscotty/newsroom/internal/models"
	"github.com/thinkscotty/newsroom/internal/similarity"
)

// CreateTopic validates and stores a new topic, filling defaults.
func (o *Orchestrator) CreateTopic(ctx context.Context, t *models.Topic) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("%w: topic name is required", models.ErrInvalidArgument)
	}
	if t.QualityThreshold < 0 || t.QualityThreshold > 100 {
		return fmt.Errorf("%w: quality threshold %d out of range 0-100", models.ErrInvalidArgument, t.QualityThreshold)
	}
	if t.QualityThreshold == 0 {
		t.QualityThreshold = o.cfg.DefaultQualityThreshold
	}
	if t.PollIntervalMinutes <= 0 {
		t.PollIntervalMinutes = o.cfg.DefaultPollMinutes
	}
	if err := o.store.CreateTopic(ctx, t); err != nil {
		return err
	}
	slog.Info("Topic created", "topic", t.Name, "topic_id", t.ID, "mode", t.Mode.String())
	return nil
}

func (o *Orchestrator) Topic(ctx context.Context, id int64) (models.Topic, error) {
	return o.store.GetTopic(ctx, id)
}

func (o *Orchestrator) Topics(ctx context.Context) ([]models.Topic, error) {
	return o.store.ListTopics(ctx)
}

// ArchiveTopic stops polling the topic; its worker exits on the next reconcile.
func (o *Orchestrator) ArchiveTopic(ctx context.Context, id int64) error {
	if err := o.store.ArchiveTopic(ctx, id); err != nil {
		return err
	}
	slog.Info("Topic archived", "topic_id", id)
	return nil
}

// AddSource registers a source on a topic. When the fetcher can resolve
// sources, an HTML page advertising a feed is stored as that feed.
func (o *Orchestrator) AddSource(ctx context.Context, topicID int64, name, rawURL, kind string) (models.Source, error) {
	if _, err := o.store.GetTopic(ctx, topicID); err != nil {
		return models.Source{}, err
	}
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return models.Source{}, fmt.Errorf("%w: source url is required", models.ErrInvalidArgument)
	}
	if kind != "" && kind != models.SourceKindRSS && kind != models.SourceKindHTML {
		return models.Source{}, fmt.Errorf("%w: source kind %q", models.ErrInvalidArgument, kind)
	}

	if r, ok := o.fetcher.(SourceResolver); ok {
		resolved, resolvedKind, err := r.ResolveSource(ctx, rawURL, kind)
		if err != nil {
			return models.Source{}, fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
		}
		rawURL, kind = resolved, resolvedKind
	}
	if name == "" {
		name = rawURL
	}

	src := models.Source{TopicID: topicID, Name: name, URL: rawURL, Kind: kind}
	if err := o.store.AddSource(ctx, &src); err != nil {
		return models.Source{}, err
	}
	slog.Info("Source added", "topic_id", topicID, "source_id", src.ID, "url", src.URL, "kind", src.Kind)
	return src, nil
}

// Seed creates configured topics and sources that do not exist yet.
// Topics match by name and sources by URL, so seeding is repeatable.
func (o *Orchestrator) Seed(ctx context.Context, seeds []config.TopicSeed) error {
	for _, seed := range seeds {
		topic, err := o.store.GetTopicByName(ctx, seed.Name)
		if errors.Is(err, models.ErrNotFound) {
			topic = models.Topic{
				Name:                seed.Name,
				Mode:                seed.Mode,
				QualityThreshold:    seed.QualityThreshold,
				NegativeKeywords:    seed.NegativeKeywords,
				CompetingRegions:    seed.CompetingRegions,
				PollIntervalMinutes: seed.PollIntervalMinutes,
			}
			err = o.CreateTopic(ctx, &topic)
		}
		if err != nil {
			return fmt.Errorf("seed topic %q: %w", seed.Name, err)
		}

		for _, ss := range seed.Sources {
			_, err := o.store.GetSourceByURL(ctx, topic.ID, ss.URL)
			if err == nil {
				continue
			}
			if !errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("seed source %q: %w", ss.URL, err)
			}
			src := models.Source{TopicID: topic.ID, Name: ss.Name, URL: ss.URL, Kind: ss.Kind}
			if src.Name == "" {
				src.Name = ss.URL
			}
			if err := o.store.AddSource(ctx, &src); err != nil {
				return fmt.Errorf("seed source %q: %w", ss.URL, err)
			}
			slog.Info("Source seeded", "topic", topic.Name, "url", src.URL)
		}
	}
	return nil
}

// SetMode applies an editor-facing mode label, including "holiday".
func (o *Orchestrator) SetMode(ctx context.Context, topicID int64, label string) (models.Topic, error) {
	ev, err := automation.ParseLabel(label)
	if err != nil {
		return models.Topic{}, fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}
	return o.applyEvent(ctx, topicID, ev)
}

// SetHoliday enters or leaves holiday. The stored mode is untouched.
func (o *Orchestrator) SetHoliday(ctx context.Context, topicID int64, on bool) (models.Topic, error) {
	ev := automation.Event{Kind: automation.ExitHoliday}
	if on {
		ev.Kind = automation.EnterHoliday
	}
	return o.applyEvent(ctx, topicID, ev)
}

func (o *Orchestrator) applyEvent(ctx context.Context, topicID int64, ev automation.Event) (models.Topic, error) {
	ts := o.state(topicID)
	ts.autoMu.Lock()
	defer ts.autoMu.Unlock()

	topic, err := o.store.GetTopic(ctx, topicID)
	if err != nil {
		return topic, err
	}
	prev := topic.State()
	next := automation.Transition(prev, ev)
	if next == prev {
		return topic, nil
	}
	if err := o.persist(ctx, ts, "update automation", func() error {
		return o.store.UpdateTopicAutomation(ctx, topicID, next)
	}); err != nil {
		return topic, err
	}
	topic.Mode, topic.Holiday = next.Mode, next.Holiday
	slog.Info("Automation state changed", "topic", topic.Name,
		"mode", next.Mode.String(), "holiday", next.Holiday, "permitted", automation.Permitted(next).String())
	return topic, nil
}

func (o *Orchestrator) SetQualityThreshold(ctx context.Context, topicID int64, threshold int) error {
	if threshold < 0 || threshold > 100 {
		return fmt.Errorf("%w: quality threshold %d out of range 0-100", models.ErrInvalidArgument, threshold)
	}
	return o.store.UpdateTopicThreshold(ctx, topicID, threshold)
}

func (o *Orchestrator) SetFilters(ctx context.Context, topicID int64, negativeKeywords, competingRegions []string) error {
	return o.store.UpdateTopicFilters(ctx, topicID, negativeKeywords, competingRegions)
}

// TestSource fetches a source once on demand. The outcome counts toward its
// health like any poll, which is how a recovered source gets reinstated.
// Fetched items are discarded.
func (o *Orchestrator) TestSource(ctx context.Context, sourceID int64) (models.HealthSnapshot, error) {
	src, err := o.store.GetSource(ctx, sourceID)
	if err != nil {
		return models.HealthSnapshot{}, err
	}
	fctx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout())
	res := o.fetchOne(fctx, src)
	cancel()

	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	snap, err := o.tracker.RecordAttempt(ctx, sourceID, res.Outcome, errMsg)
	if err != nil {
		if models.IsPersistence(err) {
			metrics.RecordPersistenceError("source_attempt")
		}
		return snap, err
	}
	slog.Info("Source tested", "source_id", sourceID, "outcome", res.Outcome.String(),
		"items", len(res.Items), "eligible", snap.Eligible)
	return snap, nil
}

// SourceAttempts returns a source's most recent fetch attempts.
func (o *Orchestrator) SourceAttempts(ctx context.Context, sourceID int64, limit int) ([]models.SourceAttempt, error) {
	if _, err := o.store.GetSource(ctx, sourceID); err != nil {
		return nil, err
	}
	return o.store.ListSourceAttempts(ctx, sourceID, limit)
}

// ScanRun is a reserved duplicate scan. The topic's scan slot is held from
// ReserveScan until Run returns.
type ScanRun struct {
	ID      string
	TopicID int64

	o      *Orchestrator
	ts     *topicState
	ctx    context.Context
	cancel context.CancelFunc
}

// ReserveScan claims the topic's scan slot so the scan can be cancelled at
// once, even before Run starts. It fails with ErrScanRunning while another
// scan holds the slot. The caller must call Run.
func (o *Orchestrator) ReserveScan(ctx context.Context, topicID int64) (*ScanRun, error) {
	if _, err := o.store.GetTopic(ctx, topicID); err != nil {
		return nil, err
	}
	ts := o.state(topicID)

	ts.scanMu.Lock()
	defer ts.scanMu.Unlock()
	if ts.scanCancel != nil {
		return nil, models.ErrScanRunning
	}
	sctx, cancel := context.WithCancel(ctx)
	ts.scanCancel = cancel
	return &ScanRun{
		ID:      similarity.NewScanID(),
		TopicID: topicID,
		o:       o,
		ts:      ts,
		ctx:     sctx,
		cancel:  cancel,
	}, nil
}

// Run re-resolves the topic backlog in batches and releases the scan slot.
// The topic worker keeps running between batches.
func (r *ScanRun) Run() (models.ScanReport, error) {
	o, ts := r.o, r.ts
	slog.Info("Duplicate scan started", "topic_id", r.TopicID, "scan_id", r.ID)
	report, err := o.scanner.Scan(r.ctx, r.ID, r.TopicID, o.scanBatch, &ts.mu, metrics.RecordScanBatch)
	r.cancel()

	ts.scanMu.Lock()
	ts.scanCancel = nil
	ts.lastScan = &report
	ts.scanMu.Unlock()

	if err != nil {
		slog.Error("Duplicate scan failed", "topic_id", r.TopicID, "scan_id", r.ID, "error", err)
		return report, err
	}
	slog.Info("Duplicate scan finished", "topic_id", r.TopicID, "scan_id", r.ID,
		"processed", report.Processed, "newly_flagged", report.NewlyFlagged, "cancelled", report.Cancelled)
	return report, nil
}

// ScanDuplicates reserves and runs a scan in one call. Only one scan per
// topic runs at a time.
func (o *Orchestrator) ScanDuplicates(ctx context.Context, topicID int64) (models.ScanReport, error) {
	run, err := o.ReserveScan(ctx, topicID)
	if err != nil {
		return models.ScanReport{}, err
	}
	return run.Run()
}

// ScanRunning reports whether a duplicate scan is in progress for the topic.
func (o *Orchestrator) ScanRunning(topicID int64) bool {
	ts := o.state(topicID)
	ts.scanMu.Lock()
	defer ts.scanMu.Unlock()
	return ts.scanCancel != nil
}

// CancelScan stops a running scan before its next batch.
func (o *Orchestrator) CancelScan(topicID int64) bool {
	ts := o.state(topicID)
	ts.scanMu.Lock()
	defer ts.scanMu.Unlock()
	if ts.scanCancel == nil {
		return false
	}
	ts.scanCancel()
	return true
}

// OverrideDuplicate sends a flagged duplicate to manual review. Scans never
// flag it again.
func (o *Orchestrator) OverrideDuplicate(ctx context.Context, candidateID int64, editor string) (models.CandidateItem, error) {
	c, err := o.store.OverrideCandidate(ctx, candidateID, editor)
	if err != nil {
		return c, err
	}
	slog.Info("Duplicate verdict overridden", "candidate_id", candidateID, "editor", editor)
	return c, nil
}

// ApproveCandidate runs the remaining generation stages of a held or
// waiting item and turns it into a draft story. Approval is refused while
// the topic is on holiday.
func (o *Orchestrator) ApproveCandidate(ctx context.Context, candidateID int64, editor string) (models.Story, error) {
	c, err := o.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return models.Story{}, err
	}
	ts := o.state(c.TopicID)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	// reload under the topic lock, the worker may have moved it
	if c, err = o.store.GetCandidate(ctx, candidateID); err != nil {
		return models.Story{}, err
	}
	topic, err := o.store.GetTopic(ctx, c.TopicID)
	if err != nil {
		return models.Story{}, err
	}
	if topic.Holiday {
		return models.Story{}, models.ErrHolidayFrozen
	}
	if c.Status != models.StatusProcessing && c.Status != models.StatusHeld {
		return models.Story{}, fmt.Errorf("candidate %d is %s: %w", candidateID, c.Status, models.ErrNotHeld)
	}
	if !dedupDone(c.Stage) {
		return models.Story{}, fmt.Errorf("candidate %d has not been deduplicated: %w", candidateID, models.ErrNotHeld)
	}

	c.Status = models.StatusProcessing
	c.HoldReason = ""
	for next, ok := nextStage(c.Stage); ok; next, ok = nextStage(c.Stage) {
		if err := o.runStage(ctx, topic, &c, next); err != nil {
			metrics.RecordStage(topic.Name, next.String(), "failed")
			o.hold(ctx, ts, &c, fmt.Sprintf("%s failed: %v", next, err))
			return models.Story{}, fmt.Errorf("approve candidate %d: %s: %w", candidateID, next, err)
		}
		metrics.RecordStage(topic.Name, next.String(), "ok")
		if err := o.persist(ctx, ts, "save stage", func() error { return o.store.SaveCandidate(ctx, &c) }); err != nil {
			return models.Story{}, err
		}
	}

	story, err := o.promote(ctx, ts, &c, editor)
	if err != nil {
		return story, err
	}
	slog.Info("Candidate approved", "candidate_id", candidateID, "story_id", story.ID, "editor", editor)
	return story, nil
}

// PublishStory publishes a draft. Refused while the topic is on holiday.
func (o *Orchestrator) PublishStory(ctx context.Context, storyID int64, editor string) (models.Story, error) {
	story, err := o.store.GetStory(ctx, storyID)
	if err != nil {
		return story, err
	}
	topic, err := o.store.GetTopic(ctx, story.TopicID)
	if err != nil {
		return story, err
	}
	if topic.Holiday {
		return story, models.ErrHolidayFrozen
	}
	story, err = o.store.PublishStory(ctx, storyID, editor, o.now())
	if err != nil {
		return story, err
	}
	metrics.RecordStage(topic.Name, automation.Publish.String(), "ok")
	slog.Info("Story published", "topic", topic.Name, "story_id", storyID, "editor", editor)
	return story, nil
}

func (o *Orchestrator) Candidates(ctx context.Context, topicID int64, status string, limit int) ([]models.CandidateItem, error) {
	return o.store.ListCandidates(ctx, topicID, status, limit)
}

func (o *Orchestrator) Candidate(ctx context.Context, id int64) (models.CandidateItem, error) {
	return o.store.GetCandidate(ctx, id)
}

func (o *Orchestrator) Stories(ctx context.Context, topicID int64, status string, limit int) ([]models.Story, error) {
	return o.store.ListStories(ctx, topicID, status, limit)
}

// Stats recomputes the topic's pipeline projection from storage.
func (o *Orchestrator) Stats(ctx context.Context, topicID int64) (models.PipelineStats, error) {
	counts, err := o.store.CandidateCounts(ctx, topicID)
	if err != nil {
		return models.PipelineStats{}, err
	}
	stories, err := o.store.StoryCounts(ctx, topicID)
	if err != nil {
		return models.PipelineStats{}, err
	}
	ts := o.state(topicID)

	stats := models.PipelineStats{
		TopicID:         topicID,
		PendingArticles: counts[models.StatusPending],
		ProcessingQueue: counts[models.StatusProcessing] + counts[models.StatusHeld],
		ReadyStories:    counts[models.StatusReady],
		HeldForReview:   counts[models.StatusHeld],
		Duplicates:      counts[models.StatusDuplicate],
		Filtered:        counts[models.StatusFiltered],
		DraftStories:    stories[models.StoryDraft],
		Published:       stories[models.StoryPublished],
		IngestionPaused: ts.paused.Load(),
		Degraded:        ts.degraded.Load() || o.tracker.Degraded(topicID),
	}

	ts.scanMu.Lock()
	if ts.lastScan != nil {
		scan := *ts.lastScan
		stats.LastScan = &scan
	}
	ts.scanMu.Unlock()
	return stats, nil
}

// Health returns per-source health and the topic aggregate.
func (o *Orchestrator) Health(ctx context.Context, topicID int64) (models.TopicHealth, error) {
	topic, err := o.store.GetTopic(ctx, topicID)
	if err != nil {
		return models.TopicHealth{}, err
	}
	h, err := o.tracker.Snapshot(ctx, topicID)
	if err != nil {
		return h, err
	}
	h.Degraded = h.Degraded || o.state(topicID).degraded.Load()
	metrics.RecordHealth(topic.Name, h)
	return h, nil
}
