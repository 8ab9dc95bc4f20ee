package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gocolly/colly/v2"

	"github.com/thinkscotty/newsroom/internal/models"
)

// minPageText is the least article text a page must yield.
const minPageText = 100

// fetchPage scrapes a web page into a single item built from its article
// text.
func (s *Scraper) fetchPage(ctx context.Context, source models.Source) ([]models.FetchedItem, error) {
	c := colly.NewCollector(
		colly.UserAgent(s.userAgent),
		colly.MaxDepth(1),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(s.requestTimeout)

	var content strings.Builder
	var title, headline string
	var mu sync.Mutex

	c.OnHTML("title", func(e *colly.HTMLElement) {
		mu.Lock()
		defer mu.Unlock()
		if title == "" {
			title = cleanText(e.Text)
		}
	})

	c.OnHTML("h1", func(e *colly.HTMLElement) {
		mu.Lock()
		defer mu.Unlock()
		text := cleanText(e.Text)
		if headline == "" && len(text) > 10 && len(text) < 200 {
			headline = text
		}
	})

	c.OnHTML("article p, main p, .entry-content p, #content p", func(e *colly.HTMLElement) {
		mu.Lock()
		defer mu.Unlock()
		text := cleanText(e.Text)
		if len(text) > 50 && len(text) < 2000 {
			content.WriteString(text)
			content.WriteString("\n")
		}
	})

	var scrapeErr error
	c.OnError(func(r *colly.Response, err error) {
		scrapeErr = fmt.Errorf("scrape %s: %w (status: %d)", source.URL, err, r.StatusCode)
	})

	if err := c.Visit(source.URL); err != nil {
		return nil, fmt.Errorf("visit %s: %w", source.URL, err)
	}
	c.Wait()

	if scrapeErr != nil {
		return nil, scrapeErr
	}

	text := s.sanitize(content.String())
	if len(text) < minPageText {
		return nil, fmt.Errorf("insufficient content scraped from %s", source.URL)
	}
	if headline != "" {
		title = headline
	}

	return []models.FetchedItem{{
		Title:   title,
		URL:     source.URL,
		Content: text,
	}}, nil
}
