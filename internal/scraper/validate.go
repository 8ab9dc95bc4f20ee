package scraper

import (
	"context"
	"time"

	"github.com/thinkscotty/newsroom/internal/models"
)

// ResolveSource normalizes a source before it is added to a topic. A web
// page that advertises a feed is stored as that feed.
func (s *Scraper) ResolveSource(ctx context.Context, rawURL, kind string) (string, string, error) {
	if err := ValidateURL(rawURL); err != nil {
		return "", "", err
	}
	if kind == "" {
		kind = models.SourceKindRSS
	}
	if kind != models.SourceKindHTML {
		return rawURL, kind, nil
	}

	discoverCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if feedURL := s.DiscoverFeed(discoverCtx, rawURL); feedURL != "" {
		return feedURL, models.SourceKindRSS, nil
	}
	return rawURL, models.SourceKindHTML, nil
}
