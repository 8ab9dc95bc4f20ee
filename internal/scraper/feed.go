package scraper

import (
	"context"
	"fmt"

	"github.com/mmcdole/gofeed"

	"github.com/thinkscotty/newsroom/internal/models"
)

func (s *Scraper) fetchFeed(ctx context.Context, source models.Source) ([]models.FetchedItem, error) {
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	fp := gofeed.NewParser()
	fp.Client = s.client
	fp.UserAgent = s.userAgent
	feed, err := fp.ParseURLWithContext(source.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	var items []models.FetchedItem
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		body := it.Content
		if body == "" {
			body = it.Description
		}
		item := models.FetchedItem{
			Title:       s.sanitize(it.Title),
			URL:         it.Link,
			Content:     s.sanitize(body),
			PublishedAt: it.PublishedParsed,
		}
		if item.Title == "" && item.Content == "" {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}
