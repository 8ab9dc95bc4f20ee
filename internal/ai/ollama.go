package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// OpenAI-compatible request/response types for Ollama (unexported).

type ollamaChatRequest struct {
	Model          string          `json:"model"`
	Messages       []ollamaMessage `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Stream         bool            `json:"stream"`
	ResponseFormat *ollamaRespFmt  `json:"response_format,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRespFmt struct {
	Type string `json:"type"`
}

type ollamaChatResponse struct {
	Choices []ollamaChoice `json:"choices"`
	Usage   *ollamaUsage   `json:"usage,omitempty"`
	Model   string         `json:"model"`
}

type ollamaChoice struct {
	Message ollamaMessage `json:"message"`
}

type ollamaUsage struct {
	TotalTokens int `json:"total_tokens"`
}

// OllamaProvider implements Provider for Ollama's OpenAI-compatible API.
type OllamaProvider struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// NewOllamaProvider creates an Ollama provider. Requests are bounded by the
// caller's context.
func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "mistral-nemo"
	}
	return &OllamaProvider{
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
	}
}

func (o *OllamaProvider) Name() string { return "ollama" }

func (o *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	msgs := make([]ollamaMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = ollamaMessage{Role: m.Role, Content: m.Content}
	}

	body := ollamaChatRequest{
		Model:       o.model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      false,
	}
	if req.JSONMode {
		body.ResponseFormat = &ollamaRespFmt{Type: "json_object"}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		errMsg := extractOllamaError(respBody)
		if errMsg == "" {
			errMsg = string(respBody)
		}
		slog.Error("Ollama API error", "status", resp.StatusCode, "model", o.model, "error", errMsg)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, errMsg)
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("parse ollama response: %w", err)
	}

	tokensUsed := 0
	if chatResp.Usage != nil {
		tokensUsed = chatResp.Usage.TotalTokens
	}
	content := ""
	if len(chatResp.Choices) > 0 {
		content = chatResp.Choices[0].Message.Content
	}

	return &ChatResponse{
		Content:    content,
		TokensUsed: tokensUsed,
		Model:      o.model,
		Provider:   o.Name(),
	}, nil
}

// TestConnection checks if the Ollama server is reachable.
func (o *OllamaProvider) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("cannot connect to Ollama at %s: %w", o.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}

// extractOllamaError parses Ollama's JSON error responses to extract a human-readable message.
// Ollama can return either {"error":"message"} or {"error":{"message":"text","type":"api_error"}}.
func extractOllamaError(body []byte) string {
	var flat struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &flat) == nil && flat.Error != "" {
		return flat.Error
	}

	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	return ""
}
