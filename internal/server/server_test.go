package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkscotty/newsroom/internal/auth"
	"github.com/thinkscotty/newsroom/internal/config"
	"github.com/thinkscotty/newsroom/internal/database"
	"github.com/thinkscotty/newsroom/internal/health"
	"github.com/thinkscotty/newsroom/internal/models"
	"github.com/thinkscotty/newsroom/internal/orchestrator"
	"github.com/thinkscotty/newsroom/internal/retry"
	"github.com/thinkscotty/newsroom/internal/similarity"
)

const testKey = "nr_test-operator-key"

type staticFetcher struct{}

func (staticFetcher) Fetch(ctx context.Context, src models.Source) models.FetchResult {
	return models.FetchResult{
		SourceID: src.ID,
		Outcome:  models.OutcomeSuccess,
		Items: []models.FetchedItem{{
			Title:   "Library extends hours",
			URL:     "https://gazette.example/library",
			Content: "the downtown library will stay open until nine on weeknights starting in november",
		}},
	}
}

type echoGenerator struct{}

func (echoGenerator) Simplify(ctx context.Context, topic models.Topic, item models.CandidateItem) (string, []models.Slide, error) {
	return item.Title, []models.Slide{{SlideNumber: 1, Content: item.Content}}, nil
}

func (echoGenerator) Illustrate(ctx context.Context, topic models.Topic, title string, slides []models.Slide) ([]models.Slide, error) {
	return slides, nil
}

type testServer struct {
	*httptest.Server
	srv *Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hash, err := auth.HashKey(testKey)
	require.NoError(t, err)
	require.NoError(t, db.SetSetting(KeySetting, hash))

	cfg := config.DefaultConfig()
	tracker := health.NewTracker(db, retry.Policy{MaxTries: 1})
	resolver := similarity.New(cfg.Dedup.ShingleSize, cfg.Dedup.Window(), cfg.Dedup.MaxCompare)
	pipeline := orchestrator.New(db, tracker, staticFetcher{}, echoGenerator{}, resolver, cfg)

	s := New(cfg, db, pipeline, "test")
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Shutdown(context.Background())
	})
	return &testServer{Server: ts, srv: s}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func TestAPIKeyRequired(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong bearer", "Bearer nope", "", http.StatusUnauthorized},
		{"bearer", "Bearer " + testKey, "", http.StatusOK},
		{"query parameter", "", "?api_key=" + testKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/topics"+tt.query, nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestHealthzAndMetricsArePublic(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEditorialFlow(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/topics", map[string]any{
		"name":            "Riverside",
		"automation_mode": "auto_gather",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	topicID := int64(body["id"].(float64))
	assert.Equal(t, "auto_gather", body["automation_mode"])
	base := fmt.Sprintf("/api/v1/topics/%d", topicID)

	resp, _ = ts.do(t, http.MethodPost, base+"/sources", map[string]any{"name": "Gazette", "url": "https://gazette.example/feed.xml"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPost, base+"/ingest", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["processing_queue"])

	resp, body = ts.do(t, http.MethodGet, base+"/candidates?status=processing", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	candidates := body["candidates"].([]any)
	require.Len(t, candidates, 1)
	candidateID := int64(candidates[0].(map[string]any)["id"].(float64))

	// holiday freezes approval
	resp, body = ts.do(t, http.MethodPut, base+"/mode", map[string]any{"mode": "holiday"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"gather", "dedup"}, body["permitted"])

	resp, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/candidates/%d/approve", candidateID), map[string]any{"editor": "dana"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPut, base+"/holiday", map[string]any{"holiday": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/candidates/%d/approve", candidateID), map[string]any{"editor": "dana"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "draft", body["status"])
	assert.Equal(t, "dana", body["author"])
	storyID := int64(body["id"].(float64))

	resp, body = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/stories/%d/publish", storyID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "published", body["status"])

	resp, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/stories/%d/publish", storyID), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, base+"/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["ready_stories"])
	assert.Equal(t, float64(1), body["published_stories"])
	assert.Equal(t, float64(0), body["draft_stories"])

	resp, body = ts.do(t, http.MethodGet, base+"/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.HealthHealthy, body["level"])
}

func TestRequestErrors(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/topics", map[string]any{"name": "Riverside"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	base := fmt.Sprintf("/api/v1/topics/%d", int64(body["id"].(float64)))

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown topic", http.MethodGet, "/api/v1/topics/999", nil, http.StatusNotFound},
		{"bad id", http.MethodGet, "/api/v1/topics/abc", nil, http.StatusBadRequest},
		{"unknown mode", http.MethodPut, base + "/mode", map[string]any{"mode": "full_auto"}, http.StatusBadRequest},
		{"threshold out of range", http.MethodPut, base + "/threshold", map[string]any{"quality_threshold": 150}, http.StatusBadRequest},
		{"missing topic name", http.MethodPost, "/api/v1/topics", map[string]any{"name": " "}, http.StatusBadRequest},
		{"unknown status", http.MethodGet, base + "/candidates?status=lost", nil, http.StatusBadRequest},
		{"override unknown candidate", http.MethodPost, "/api/v1/candidates/999/override", nil, http.StatusNotFound},
		{"unknown story", http.MethodPost, "/api/v1/stories/999/publish", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestScanEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/topics", map[string]any{"name": "Riverside"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	topicID := int64(body["id"].(float64))
	base := fmt.Sprintf("/api/v1/topics/%d", topicID)

	resp, body = ts.do(t, http.MethodPost, base+"/scan", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "started", body["status"])
	scanID, _ := body["scan_id"].(string)
	require.NotEmpty(t, scanID)

	require.Eventually(t, func() bool {
		stats, err := ts.srv.pipeline.Stats(context.Background(), topicID)
		return err == nil && stats.LastScan != nil && stats.LastScan.ScanID == scanID
	}, 5*time.Second, 10*time.Millisecond)

	resp, body = ts.do(t, http.MethodDelete, base+"/scan", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["cancelled"])

	resp, _ = ts.do(t, http.MethodPost, "/api/v1/topics/999/scan", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScanStartWhileScanHoldsSlot(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/topics", map[string]any{"name": "Riverside"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	topicID := int64(body["id"].(float64))
	base := fmt.Sprintf("/api/v1/topics/%d", topicID)

	run, err := ts.srv.pipeline.ReserveScan(context.Background(), topicID)
	require.NoError(t, err)

	_, body = ts.do(t, http.MethodGet, base, nil)
	assert.Equal(t, true, body["scan_running"])

	resp, body = ts.do(t, http.MethodPost, base+"/scan", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	// a reserved scan is cancellable before it starts
	resp, body = ts.do(t, http.MethodDelete, base+"/scan", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["cancelled"])

	report, err := run.Run()
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Equal(t, run.ID, report.ScanID)

	resp, _ = ts.do(t, http.MethodPost, base+"/scan", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestTopicListIsNeverNull(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/topics", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	assert.True(t, strings.Contains(buf.String(), `"topics":[]`))
}
