// Package ai turns candidate articles into slide stories through a chat
// completion provider.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/thinkscotty/newsroom/internal/config"
	"github.com/thinkscotty/newsroom/internal/models"
)

// Client is the content-generation entry point. It builds prompts, calls the
// provider and parses the responses.
type Client struct {
	provider    Provider
	temperature float64
	maxSlides   int
}

func NewClient(provider Provider, cfg config.AIConfig) *Client {
	maxSlides := cfg.MaxSlides
	if maxSlides <= 0 {
		maxSlides = 5
	}
	return &Client{provider: provider, temperature: cfg.Temperature, maxSlides: maxSlides}
}

type simplifyResponse struct {
	Title  string   `json:"title"`
	Slides []string `json:"slides"`
}

type illustrateResponse struct {
	Prompts []string `json:"prompts"`
}

// Simplify rewrites an item into a headline and numbered slides.
func (c *Client) Simplify(ctx context.Context, topic models.Topic, item models.CandidateItem) (string, []models.Slide, error) {
	prompt := BuildSimplifyPrompt(topic.Name, item.Title, item.Content, c.maxSlides)

	var out simplifyResponse
	if err := c.chatJSON(ctx, prompt, &out); err != nil {
		return "", nil, fmt.Errorf("simplify candidate %d: %w", item.ID, err)
	}

	var slides []models.Slide
	for _, text := range out.Slides {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		slides = append(slides, models.Slide{SlideNumber: len(slides) + 1, Content: text})
		if len(slides) == c.maxSlides {
			break
		}
	}
	if len(slides) == 0 {
		return "", nil, fmt.Errorf("simplify candidate %d: %s returned no slides", item.ID, c.provider.Name())
	}

	title := strings.TrimSpace(out.Title)
	if title == "" {
		title = item.Title
	}
	return title, slides, nil
}

// Illustrate attaches an image prompt to every slide.
func (c *Client) Illustrate(ctx context.Context, topic models.Topic, title string, slides []models.Slide) ([]models.Slide, error) {
	if len(slides) == 0 {
		return nil, fmt.Errorf("illustrate: no slides")
	}
	prompt := BuildIllustratePrompt(topic.Name, title, slides)

	var out illustrateResponse
	if err := c.chatJSON(ctx, prompt, &out); err != nil {
		return nil, fmt.Errorf("illustrate %q: %w", title, err)
	}
	if len(out.Prompts) != len(slides) {
		return nil, fmt.Errorf("illustrate %q: got %d image prompts for %d slides", title, len(out.Prompts), len(slides))
	}

	illustrated := make([]models.Slide, len(slides))
	for i, s := range slides {
		s.ImagePrompt = strings.TrimSpace(out.Prompts[i])
		illustrated[i] = s
	}
	return illustrated, nil
}

func (c *Client) chatJSON(ctx context.Context, prompt string, v any) error {
	resp, err := c.provider.Chat(ctx, ChatRequest{
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
		MaxTokens:   2048,
		JSONMode:    true,
	})
	if err != nil {
		return err
	}

	responseText := ExtractJSON(resp.Content)
	if responseText == "" {
		return fmt.Errorf("empty response from %s", c.provider.Name())
	}
	if err := json.Unmarshal([]byte(responseText), v); err != nil {
		return fmt.Errorf("failed to parse JSON from %s: %w (response: %s)", c.provider.Name(), err, responseText)
	}

	slog.Debug("Generation complete", "provider", resp.Provider, "model", resp.Model, "tokens", resp.TokensUsed)
	return nil
}
