package models

import (
	"time"

	"github.com/thinkscotty/newsroom/internal/automation"
)

type Topic struct {
	ID                  int64           `json:"id"`
	Name                string          `json:"name"`
	Mode                automation.Mode `json:"automation_mode"`
	Holiday             bool            `json:"holiday"`
	QualityThreshold    int             `json:"quality_threshold"`
	NegativeKeywords    []string        `json:"negative_keywords"`
	CompetingRegions    []string        `json:"competing_regions"`
	PollIntervalMinutes int             `json:"poll_interval_minutes"`
	IsArchived          bool            `json:"is_archived"`
	LastPolledAt        *time.Time      `json:"last_polled_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// State returns the automation state stored on the topic.
func (t Topic) State() automation.State {
	return automation.State{Mode: t.Mode, Holiday: t.Holiday}
}

const (
	SourceKindRSS  = "rss"
	SourceKindHTML = "html"
)

type Source struct {
	ID                  int64      `json:"id"`
	TopicID             int64      `json:"topic_id"`
	Name                string     `json:"name"`
	URL                 string     `json:"url"`
	Kind                string     `json:"kind"`
	SuccessCount        int        `json:"success_count"`
	FailureCount        int        `json:"failure_count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	LastAttemptAt       *time.Time `json:"last_attempt_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// Outcome is the typed result of one fetch attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}
	return "failure"
}

// FetchedItem is one piece of content returned by a source poll.
type FetchedItem struct {
	Title       string
	URL         string
	Content     string
	PublishedAt *time.Time
}

// FetchResult is the outcome of polling one source. Failures are reported
// through Outcome and Err, never by panicking.
type FetchResult struct {
	SourceID int64
	Items    []FetchedItem
	Outcome  Outcome
	Err      error
}

// SourceAttempt is the append-only audit record of one fetch attempt.
type SourceAttempt struct {
	ID          int64     `json:"id"`
	SourceID    int64     `json:"source_id"`
	Outcome     Outcome   `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// HealthSnapshot is the read-only health projection of a single source.
type HealthSnapshot struct {
	SourceID            int64      `json:"source_id"`
	TopicID             int64      `json:"topic_id"`
	Name                string     `json:"name"`
	URL                 string     `json:"url"`
	SuccessCount        int        `json:"success_count"`
	FailureCount        int        `json:"failure_count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	SuccessRate         float64    `json:"success_rate"`
	Eligible            bool       `json:"eligible"`
	LastError           string     `json:"last_error,omitempty"`
	LastAttemptAt       *time.Time `json:"last_attempt_at,omitempty"`
	ArticlesLast7Days   int        `json:"articles_last_7_days"`
}

// Aggregate health levels for a topic.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthCritical = "critical"
)

type TopicHealth struct {
	TopicID  int64            `json:"topic_id"`
	Sources  []HealthSnapshot `json:"sources"`
	Eligible int              `json:"eligible"`
	Total    int              `json:"total"`
	Percent  float64          `json:"percent"`
	Level    string           `json:"level"`
	// Degraded is raised when a counter update could not be persisted.
	Degraded bool `json:"persistence_degraded"`
}

// Candidate statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusHeld       = "held"
	StatusReady      = "ready"
	StatusDuplicate  = "duplicate"
	StatusFiltered   = "filtered"
)

// Dedup verdicts.
const (
	VerdictOriginal       = "original"
	VerdictLikelyOriginal = "likely_original"
	VerdictDuplicate      = "duplicate"
)

type CandidateItem struct {
	ID           int64     `json:"id"`
	TopicID      int64     `json:"topic_id"`
	SourceID     int64     `json:"source_id"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	Content      string    `json:"-"`
	Fingerprint  string    `json:"fingerprint"`
	Shingles     string    `json:"-"`
	FetchedAt    time.Time `json:"fetched_at"`
	Status       string    `json:"status"`
	Stage        string    `json:"stage"`
	Confidence   int       `json:"confidence"`
	Verdict      string    `json:"verdict,omitempty"`
	MatchedID    *int64    `json:"matched_id,omitempty"`
	HoldReason   string    `json:"hold_reason,omitempty"`
	Overridden   bool      `json:"overridden"`
	OverriddenBy string    `json:"overridden_by,omitempty"`
	Summary      string    `json:"-"`
	Slides       []Slide   `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Slide struct {
	SlideNumber int    `json:"slide_number"`
	Content     string `json:"content"`
	ImagePrompt string `json:"image_prompt,omitempty"`
}

const (
	StoryDraft     = "draft"
	StoryPublished = "published"
)

type Story struct {
	ID          int64      `json:"id"`
	TopicID     int64      `json:"topic_id"`
	CandidateID int64      `json:"candidate_id"`
	Title       string     `json:"title"`
	Slides      []Slide    `json:"slides"`
	Confidence  int        `json:"confidence"`
	Author      string     `json:"author,omitempty"`
	Status      string     `json:"status"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// PipelineStats is a projection recomputed from candidate and story counts.
type PipelineStats struct {
	TopicID         int64       `json:"topic_id"`
	PendingArticles int         `json:"pending_articles"`
	ProcessingQueue int         `json:"processing_queue"`
	ReadyStories    int         `json:"ready_stories"`
	HeldForReview   int         `json:"held_for_review"`
	Duplicates      int         `json:"duplicates"`
	Filtered        int         `json:"filtered"`
	DraftStories    int         `json:"draft_stories"`
	Published       int         `json:"published_stories"`
	IngestionPaused bool        `json:"ingestion_paused"`
	Degraded        bool        `json:"persistence_degraded"`
	LastScan        *ScanReport `json:"last_scan,omitempty"`
}

// BatchReport summarizes one committed batch of a duplicate-cleanup scan.
type BatchReport struct {
	Batch        int `json:"batch"`
	Processed    int `json:"processed"`
	Duplicates   int `json:"duplicates"`
	NewlyFlagged int `json:"newly_flagged"`
}

type ScanReport struct {
	ScanID       string        `json:"scan_id"`
	TopicID      int64         `json:"topic_id"`
	Batches      []BatchReport `json:"batches"`
	Processed    int           `json:"processed"`
	Duplicates   int           `json:"duplicates"`
	NewlyFlagged int           `json:"newly_flagged"`
	Cancelled    bool          `json:"cancelled"`
	Error        string        `json:"error,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
}
