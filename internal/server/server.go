// Package server exposes pipeline observation and operator actions as a
// JSON API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thinkscotty/newsroom/internal/config"
	"github.com/thinkscotty/newsroom/internal/database"
	"github.com/thinkscotty/newsroom/internal/orchestrator"
)

// KeySetting is the settings key holding the bcrypt hash of the operator key.
const KeySetting = "operator_key_hash"

type Server struct {
	cfg      config.Config
	db       *database.DB
	pipeline *orchestrator.Orchestrator
	version  string
	httpSrv  *http.Server

	// background work started by requests, such as duplicate scans
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	keyMu     sync.Mutex
	cachedKey string
	cachedFor string
}

func New(cfg config.Config, db *database.DB, pipeline *orchestrator.Orchestrator, version string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		db:       db,
		pipeline: pipeline,
		version:  version,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Handler returns the routed handler wrapped in logging and recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)
	return recoveryMiddleware(loggingMiddleware(mux))
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSeconds) * time.Second,
	}

	slog.Info("Starting server", "addr", addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops the listener and cancels background scans.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.cfg.Server.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.requireAPIKey(h))
	}

	api("GET /api/v1/topics", s.handleTopicList)
	api("POST /api/v1/topics", s.handleTopicCreate)
	api("GET /api/v1/topics/{id}", s.handleTopicGet)
	api("DELETE /api/v1/topics/{id}", s.handleTopicArchive)
	api("PUT /api/v1/topics/{id}/mode", s.handleTopicMode)
	api("PUT /api/v1/topics/{id}/holiday", s.handleTopicHoliday)
	api("PUT /api/v1/topics/{id}/threshold", s.handleTopicThreshold)
	api("PUT /api/v1/topics/{id}/filters", s.handleTopicFilters)
	api("GET /api/v1/topics/{id}/stats", s.handleTopicStats)
	api("GET /api/v1/topics/{id}/health", s.handleTopicHealth)
	api("POST /api/v1/topics/{id}/ingest", s.handleTopicIngest)
	api("POST /api/v1/topics/{id}/scan", s.handleScanStart)
	api("DELETE /api/v1/topics/{id}/scan", s.handleScanCancel)
	api("POST /api/v1/topics/{id}/sources", s.handleSourceCreate)
	api("GET /api/v1/topics/{id}/candidates", s.handleCandidateList)
	api("GET /api/v1/topics/{id}/stories", s.handleStoryList)

	api("POST /api/v1/sources/{id}/test", s.handleSourceTest)
	api("GET /api/v1/sources/{id}/attempts", s.handleSourceAttempts)
	api("GET /api/v1/candidates/{id}", s.handleCandidateGet)
	api("POST /api/v1/candidates/{id}/override", s.handleCandidateOverride)
	api("POST /api/v1/candidates/{id}/approve", s.handleCandidateApprove)
	api("POST /api/v1/stories/{id}/publish", s.handleStoryPublish)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "version": s.version}
	if size, err := s.db.DatabaseSizeBytes(); err == nil {
		resp["database_bytes"] = size
	}
	jsonResponse(w, resp)
}
