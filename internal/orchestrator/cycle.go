package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/thinkscotty/newsroom/internal/automation"
	"github.com/thinkscotty/newsroom/internal/metrics"
	"github.com/thinkscotty/newsroom/internal/models"
	"github.com/thinkscotty/newsroom/internal/similarity"
)

var farFuture = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// maxErrorLength bounds the fetch error kept in a source attempt.
const maxErrorLength = 500

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Cycle runs one unattended pass over a topic: backpressure, gather when a
// poll is due, dedup and stage advancement, each only as far as the topic's
// automation state permits.
func (o *Orchestrator) Cycle(ctx context.Context, topicID int64) (models.PipelineStats, error) {
	return o.run(ctx, topicID, false)
}

// IngestNow gathers and dedups a topic immediately on an editor's request,
// whatever its mode. Backpressure still applies.
func (o *Orchestrator) IngestNow(ctx context.Context, topicID int64) (models.PipelineStats, error) {
	return o.run(ctx, topicID, true)
}

func (o *Orchestrator) run(ctx context.Context, topicID int64, attended bool) (models.PipelineStats, error) {
	ts := o.state(topicID)
	ts.mu.Lock()

	topic, err := o.store.GetTopic(ctx, topicID)
	if err != nil {
		ts.mu.Unlock()
		return models.PipelineStats{}, err
	}
	if topic.IsArchived {
		ts.mu.Unlock()
		return models.PipelineStats{}, fmt.Errorf("%w: topic %d is archived", models.ErrInvalidArgument, topicID)
	}

	permitted := automation.Permitted(topic.State())
	if attended {
		permitted |= automation.NewStageSet(automation.Gather, automation.Dedup)
	}

	if err := o.checkBackpressure(ctx, ts, topic); err != nil {
		slog.Error("Failed to check backpressure", "topic", topic.Name, "error", err)
	}
	if permitted.Has(automation.Gather) && !ts.paused.Load() && (attended || o.pollDue(topic)) {
		o.gather(ctx, ts, topic)
	}
	if permitted.Has(automation.Dedup) {
		o.dedup(ctx, ts, topic)
	}
	o.advance(ctx, ts, topic.ID)
	ts.mu.Unlock()

	stats, err := o.Stats(ctx, topicID)
	if err != nil {
		return stats, err
	}
	metrics.RecordStats(topic.Name, stats)
	return stats, nil
}

func (o *Orchestrator) pollDue(topic models.Topic) bool {
	if topic.LastPolledAt == nil {
		return true
	}
	minutes := topic.PollIntervalMinutes
	if minutes <= 0 {
		minutes = o.cfg.DefaultPollMinutes
	}
	return !o.now().Before(topic.LastPolledAt.Add(time.Duration(minutes) * time.Minute))
}

// checkBackpressure pauses ingestion once the processing queue exceeds the
// high watermark and resumes it only after the queue drains below the low one.
func (o *Orchestrator) checkBackpressure(ctx context.Context, ts *topicState, topic models.Topic) error {
	counts, err := o.store.CandidateCounts(ctx, topic.ID)
	if err != nil {
		return err
	}
	queue := counts[models.StatusProcessing] + counts[models.StatusHeld]

	switch {
	case !ts.paused.Load() && queue > o.cfg.HighWatermark:
		ts.paused.Store(true)
		slog.Warn("Ingestion paused by backpressure", "topic", topic.Name, "queue", queue, "high_watermark", o.cfg.HighWatermark)
	case ts.paused.Load() && queue < o.cfg.LowWatermark:
		ts.paused.Store(false)
		slog.Info("Ingestion resumed", "topic", topic.Name, "queue", queue, "low_watermark", o.cfg.LowWatermark)
	}
	return nil
}

// fetchAll polls sources in parallel, each bounded by the fetch timeout.
func (o *Orchestrator) fetchAll(ctx context.Context, sources []models.Source) ([]models.FetchResult, []time.Time) {
	results := make([]models.FetchResult, len(sources))
	fetchedAt := make([]time.Time, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.cfg.MaxParallelFetches, 1))
	for i, src := range sources {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, o.cfg.FetchTimeout())
			defer cancel()
			results[i] = o.fetchOne(fctx, src)
			fetchedAt[i] = o.now()
			return nil
		})
	}
	g.Wait()
	return results, fetchedAt
}

func (o *Orchestrator) fetchOne(ctx context.Context, src models.Source) (res models.FetchResult) {
	defer func() {
		if r := recover(); r != nil {
			res = models.FetchResult{
				SourceID: src.ID,
				Outcome:  models.OutcomeFailure,
				Err:      &models.FetchError{SourceID: src.ID, URL: src.URL, Err: fmt.Errorf("panic while fetching: %v", r)},
			}
		}
	}()
	res = o.fetcher.Fetch(ctx, src)
	res.SourceID = src.ID
	if res.Outcome == models.OutcomeSuccess && res.Err != nil {
		res.Outcome = models.OutcomeFailure
	}
	return res
}

func (o *Orchestrator) gather(ctx context.Context, ts *topicState, topic models.Topic) {
	sources, err := o.tracker.EligibleSources(ctx, topic.ID)
	if err != nil {
		slog.Error("Failed to list eligible sources", "topic", topic.Name, "error", err)
		return
	}

	results, fetchedAt := o.fetchAll(ctx, sources)

	var items []models.CandidateItem
	failed := 0
	for i, res := range results {
		errMsg := ""
		if res.Err != nil {
			errMsg = truncate(res.Err.Error(), maxErrorLength)
		}
		if _, err := o.tracker.RecordAttempt(ctx, res.SourceID, res.Outcome, errMsg); err != nil {
			if models.IsPersistence(err) {
				metrics.RecordPersistenceError("source_attempt")
			}
			slog.Error("Failed to record source attempt", "source_id", res.SourceID, "error", err)
		}
		metrics.RecordFetch(topic.Name, res.Outcome)
		if res.Outcome != models.OutcomeSuccess {
			failed++
			continue
		}

		for _, fi := range res.Items {
			c := models.CandidateItem{
				TopicID:   topic.ID,
				SourceID:  res.SourceID,
				Title:     fi.Title,
				URL:       fi.URL,
				Content:   fi.Content,
				FetchedAt: fetchedAt[i],
				Status:    models.StatusPending,
				Stage:     automation.Gather.String(),
			}
			o.resolver.Prepare(&c)
			if reason := filterReason(topic, c); reason != "" {
				c.Status = models.StatusFiltered
				c.HoldReason = reason
			}
			items = append(items, c)
		}
	}

	sort.SliceStable(items, func(a, b int) bool {
		return items[a].FetchedAt.Before(items[b].FetchedAt)
	})

	inserted, filtered := 0, 0
	for i := range items {
		c := &items[i]
		var ok bool
		err := o.persist(ctx, ts, "insert candidate", func() error {
			var err error
			ok, err = o.store.InsertCandidate(ctx, c)
			return err
		})
		if err != nil {
			metrics.RecordPersistenceError("insert_candidate")
			slog.Error("Failed to store candidate", "topic", topic.Name, "source_id", c.SourceID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		inserted++
		if c.Status == models.StatusFiltered {
			filtered++
			continue
		}
		if ts.index != nil {
			ts.index.Add(similarity.EntryFromItem(*c))
		}
	}

	if err := o.store.UpdateTopicPollTime(ctx, topic.ID, o.now()); err != nil {
		slog.Error("Failed to update poll time", "topic", topic.Name, "error", err)
	}
	slog.Info("Topic gathered", "topic", topic.Name, "sources", len(sources), "failed", failed,
		"new_items", inserted, "filtered", filtered)
}

// ensureIndex loads the topic's recent-content index covering everything
// fetched at or after from.
func (o *Orchestrator) ensureIndex(ctx context.Context, ts *topicState, topicID int64, from time.Time) error {
	if ts.index != nil && !from.Before(ts.indexFrom) {
		return nil
	}
	items, err := o.store.IndexItems(ctx, topicID, from, farFuture)
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}
	idx := similarity.NewIndex()
	for _, it := range items {
		idx.Add(similarity.EntryFromItem(it))
	}
	ts.index = idx
	ts.indexFrom = from
	return nil
}

// dedup resolves pending items in arrival order against the topic index.
func (o *Orchestrator) dedup(ctx context.Context, ts *topicState, topic models.Topic) {
	pending, err := o.store.ListCandidates(ctx, topic.ID, models.StatusPending, 0)
	if err != nil {
		slog.Error("Failed to list pending candidates", "topic", topic.Name, "error", err)
		return
	}

	from := o.now()
	if len(pending) > 0 && pending[0].FetchedAt.Before(from) {
		from = pending[0].FetchedAt
	}
	if h := o.resolver.Horizon(); h > 0 {
		from = from.Add(-h)
	} else {
		from = time.Time{}
	}
	if err := o.ensureIndex(ctx, ts, topic.ID, from); err != nil {
		slog.Error("Failed to load content index", "topic", topic.Name, "error", err)
		return
	}
	ts.index.Prune(from)
	if from.After(ts.indexFrom) {
		ts.indexFrom = from
	}

	duplicates := 0
	for i := range pending {
		c := &pending[i]
		ts.index.Add(similarity.EntryFromItem(*c))
		res := o.resolver.Resolve(*c, ts.index)
		c.Confidence = res.Confidence
		c.Verdict = res.Verdict
		c.MatchedID = res.MatchedID
		c.Stage = automation.Dedup.String()
		c.Status = models.StatusProcessing
		if res.Verdict == models.VerdictDuplicate {
			c.Status = models.StatusDuplicate
			duplicates++
		}

		if err := o.persist(ctx, ts, "save verdict", func() error { return o.store.SaveCandidate(ctx, c) }); err != nil {
			metrics.RecordPersistenceError("save_verdict")
			slog.Error("Failed to store verdict", "candidate_id", c.ID, "error", err)
			continue
		}
		metrics.RecordVerdict(topic.Name, res.Verdict)
	}

	if len(pending) > 0 {
		slog.Info("Topic deduplicated", "topic", topic.Name, "resolved", len(pending), "duplicates", duplicates)
	}
}

// dedupDone reports whether an item at the given stage has been resolved
// against the topic index.
func dedupDone(stage string) bool {
	switch stage {
	case automation.Dedup.String(), automation.Simplify.String(), automation.Illustrate.String():
		return true
	}
	return false
}

// nextStage returns the generation stage that follows the last completed one.
func nextStage(completed string) (automation.Stage, bool) {
	switch completed {
	case automation.Dedup.String():
		return automation.Simplify, true
	case automation.Simplify.String():
		return automation.Illustrate, true
	}
	return 0, false
}

// advance moves processing items through the stages the topic permits.
// The topic is re-read per item so a mode or holiday change applies at once.
func (o *Orchestrator) advance(ctx context.Context, ts *topicState, topicID int64) {
	items, err := o.store.ListCandidates(ctx, topicID, models.StatusProcessing, 0)
	if err != nil {
		slog.Error("Failed to list processing candidates", "topic_id", topicID, "error", err)
		return
	}

	worked := 0
	for i := range items {
		if ctx.Err() != nil || worked >= advanceBatch {
			return
		}
		topic, err := o.store.GetTopic(ctx, topicID)
		if err != nil {
			slog.Error("Failed to reload topic", "topic_id", topicID, "error", err)
			return
		}
		if o.advanceItem(ctx, ts, topic, &items[i]) {
			worked++
		}
	}
}

// advanceItem reports whether it ran or gated a stage for c.
func (o *Orchestrator) advanceItem(ctx context.Context, ts *topicState, topic models.Topic, c *models.CandidateItem) bool {
	decision := automation.Gate(topic.State(), c.Confidence, topic.QualityThreshold)

	worked := false
	for {
		next, ok := nextStage(c.Stage)
		if !ok {
			break
		}
		if !decision.Stages.Has(next) {
			if decision.Held {
				o.hold(ctx, ts, c, fmt.Sprintf("quality gate: confidence %d below threshold %d", c.Confidence, topic.QualityThreshold))
				return true
			}
			// awaiting editor approval
			return worked
		}

		worked = true
		if err := o.runStage(ctx, topic, c, next); err != nil {
			metrics.RecordStage(topic.Name, next.String(), "failed")
			slog.Warn("Stage failed, holding for review", "candidate_id", c.ID, "stage", next.String(), "error", err)
			o.hold(ctx, ts, c, fmt.Sprintf("%s failed: %v", next, err))
			return true
		}
		metrics.RecordStage(topic.Name, next.String(), "ok")
		if err := o.persist(ctx, ts, "save stage", func() error { return o.store.SaveCandidate(ctx, c) }); err != nil {
			metrics.RecordPersistenceError("save_stage")
			slog.Error("Failed to store stage result", "candidate_id", c.ID, "error", err)
			return true
		}
	}

	story, err := o.promote(ctx, ts, c, "")
	if err != nil {
		slog.Error("Failed to promote candidate", "candidate_id", c.ID, "error", err)
		return true
	}
	if decision.Stages.Has(automation.Publish) {
		if _, err := o.store.PublishStory(ctx, story.ID, "", o.now()); err != nil {
			slog.Error("Failed to publish story", "story_id", story.ID, "error", err)
			return true
		}
		metrics.RecordStage(topic.Name, automation.Publish.String(), "ok")
		slog.Info("Story published", "topic", topic.Name, "story_id", story.ID, "title", story.Title)
	}
	return true
}

func (o *Orchestrator) runStage(ctx context.Context, topic models.Topic, c *models.CandidateItem, stage automation.Stage) error {
	gctx, cancel := context.WithTimeout(ctx, o.cfg.GenerateTimeout())
	defer cancel()

	switch stage {
	case automation.Simplify:
		title, slides, err := o.generator.Simplify(gctx, topic, *c)
		if err != nil {
			return err
		}
		texts := make([]string, len(slides))
		for i, s := range slides {
			texts[i] = s.Content
		}
		c.Title = title
		c.Slides = slides
		c.Summary = strings.Join(texts, " ")
	case automation.Illustrate:
		slides, err := o.generator.Illustrate(gctx, topic, c.Title, c.Slides)
		if err != nil {
			return err
		}
		c.Slides = slides
	default:
		return fmt.Errorf("stage %s is not a generation stage", stage)
	}
	c.Stage = stage.String()
	return nil
}

func (o *Orchestrator) hold(ctx context.Context, ts *topicState, c *models.CandidateItem, reason string) {
	c.Status = models.StatusHeld
	c.HoldReason = reason
	if err := o.persist(ctx, ts, "hold candidate", func() error { return o.store.SaveCandidate(ctx, c) }); err != nil {
		metrics.RecordPersistenceError("hold_candidate")
		slog.Error("Failed to hold candidate", "candidate_id", c.ID, "error", err)
		return
	}
	slog.Info("Candidate held for review", "candidate_id", c.ID, "reason", reason)
}

func (o *Orchestrator) promote(ctx context.Context, ts *topicState, c *models.CandidateItem, author string) (models.Story, error) {
	var story models.Story
	err := o.persist(ctx, ts, "promote candidate", func() error {
		var err error
		story, err = o.store.PromoteCandidate(ctx, c, author)
		return err
	})
	if err != nil {
		return story, err
	}
	slog.Info("Story draft created", "topic_id", c.TopicID, "story_id", story.ID, "candidate_id", c.ID)
	return story, nil
}
