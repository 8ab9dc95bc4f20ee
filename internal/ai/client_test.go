package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkscotty/newsroom/internal/config"
	"github.com/thinkscotty/newsroom/internal/models"
)

// ollamaStub answers chat completions with the given content.
func ollamaStub(t *testing.T, status int, content string) (*httptest.Server, *ollamaChatRequest) {
	t.Helper()
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(status)
		if status != http.StatusOK {
			w.Write([]byte(`{"error":{"message":"model not found","type":"api_error"}}`))
			return
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Choices: []ollamaChoice{{Message: ollamaMessage{Role: "assistant", Content: content}}},
			Usage:   &ollamaUsage{TotalTokens: 42},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func testClient(baseURL string) *Client {
	cfg := config.DefaultConfig().AI
	cfg.MaxSlides = 3
	return NewClient(NewOllamaProvider(baseURL, "test-model"), cfg)
}

var topic = models.Topic{ID: 1, Name: "Riverside"}

func TestSimplify(t *testing.T) {
	content := "```json\n" + `{"title": "Bridge closes Monday", "slides": ["The Elm St bridge closes.", "", "Detours via Oak Ave.", "Work lasts two weeks.", "Extra."]}` + "\n```"
	srv, req := ollamaStub(t, http.StatusOK, content)
	c := testClient(srv.URL)

	title, slides, err := c.Simplify(context.Background(), topic, models.CandidateItem{ID: 7, Title: "Bridge", Content: "The Elm Street bridge closes Monday."})
	require.NoError(t, err)
	assert.Equal(t, "Bridge closes Monday", title)
	require.Len(t, slides, 3)
	assert.Equal(t, 1, slides[0].SlideNumber)
	assert.Equal(t, "Detours via Oak Ave.", slides[1].Content)
	assert.Equal(t, 2, slides[1].SlideNumber)

	assert.Equal(t, "test-model", req.Model)
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, "json_object", req.ResponseFormat.Type)
	assert.Contains(t, req.Messages[0].Content, "Riverside")
}

func TestSimplifyFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		content string
		want    string
	}{
		{"server error", http.StatusNotFound, "", "model not found"},
		{"not json", http.StatusOK, "I cannot help with that", "failed to parse JSON"},
		{"no slides", http.StatusOK, `{"title": "x", "slides": []}`, "no slides"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := ollamaStub(t, tt.status, tt.content)
			_, _, err := testClient(srv.URL).Simplify(context.Background(), topic, models.CandidateItem{ID: 1})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestIllustrate(t *testing.T) {
	slides := []models.Slide{{SlideNumber: 1, Content: "a"}, {SlideNumber: 2, Content: "b"}}

	srv, _ := ollamaStub(t, http.StatusOK, `Sure! {"prompts": ["a closed bridge", "a detour sign"]}`)
	got, err := testClient(srv.URL).Illustrate(context.Background(), topic, "Bridge", slides)
	require.NoError(t, err)
	assert.Equal(t, "a detour sign", got[1].ImagePrompt)
	assert.Empty(t, slides[1].ImagePrompt)

	srv, _ = ollamaStub(t, http.StatusOK, `{"prompts": ["only one"]}`)
	_, err = testClient(srv.URL).Illustrate(context.Background(), topic, "Bridge", slides)
	assert.Error(t, err)
}

func TestTestConnection(t *testing.T) {
	srv, _ := ollamaStub(t, http.StatusOK, "")
	assert.NoError(t, NewOllamaProvider(srv.URL, "").TestConnection(context.Background()))
	assert.Error(t, NewOllamaProvider("http://127.0.0.1:1", "").TestConnection(context.Background()))
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{`Here you go: {"a":[1]} thanks`, `{"a":[1]}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractJSON(tt.in))
	}
	assert.True(t, strings.HasPrefix(BuildSimplifyPrompt("T", "", "body", 4), "You are an editor"))
}
