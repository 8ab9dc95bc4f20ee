// Package scraper polls topic sources: RSS/Atom feeds through gofeed and
// plain web pages through colly.
package scraper

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/thinkscotty/newsroom/internal/config"
	"github.com/thinkscotty/newsroom/internal/models"
)

const maxContentLength = 50000

// Scraper handles source polling.
type Scraper struct {
	userAgent      string
	requestTimeout time.Duration
	maxItems       int
	client         *http.Client
	limiter        *HostRateLimiter
	policy         *bluemonday.Policy
}

// New creates a Scraper from the scraper section of the config.
func New(cfg config.ScraperConfig, requestTimeout time.Duration) *Scraper {
	return &Scraper{
		userAgent:      cfg.UserAgent,
		requestTimeout: requestTimeout,
		maxItems:       cfg.MaxItemsPerFetch,
		client:         &http.Client{Timeout: requestTimeout},
		limiter:        NewHostRateLimiter(time.Duration(cfg.HostIntervalMillis) * time.Millisecond),
		policy:         bluemonday.StrictPolicy(),
	}
}

// Fetch polls one source. Every failure, including an empty source, is
// reported as OutcomeFailure in the result.
func (s *Scraper) Fetch(ctx context.Context, source models.Source) models.FetchResult {
	result := models.FetchResult{SourceID: source.ID, Outcome: models.OutcomeFailure}

	items, err := s.fetch(ctx, source)
	if err == nil && len(items) == 0 {
		err = fmt.Errorf("no usable content")
	}
	if err != nil {
		result.Err = &models.FetchError{SourceID: source.ID, URL: source.URL, Err: err}
		slog.Debug("Source fetch failed", "source_id", source.ID, "url", source.URL, "error", err)
		return result
	}

	if s.maxItems > 0 && len(items) > s.maxItems {
		items = items[:s.maxItems]
	}
	result.Items = items
	result.Outcome = models.OutcomeSuccess
	return result
}

func (s *Scraper) fetch(ctx context.Context, source models.Source) (items []models.FetchedItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while fetching: %v", r)
		}
	}()

	if err := ValidateURL(source.URL); err != nil {
		return nil, err
	}
	if err := s.limiter.WaitForHost(ctx, source.URL); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	switch source.Kind {
	case models.SourceKindHTML:
		return s.fetchPage(ctx, source)
	default:
		return s.fetchFeed(ctx, source)
	}
}

// sanitize strips markup and collapses whitespace.
func (s *Scraper) sanitize(raw string) string {
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = cleanText(text)
	return truncate(text, maxContentLength)
}

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

// ValidateURL checks if a URL is valid and uses http/https.
func ValidateURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL must use http or https scheme")
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

func cleanText(s string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}
