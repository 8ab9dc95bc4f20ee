package server

import (
	"net/http"

	"github.com/thinkscotty/newsroom/internal/automation"
	"github.com/thinkscotty/newsroom/internal/models"
)

type topicRequest struct {
	Name                string          `json:"name"`
	Mode                automation.Mode `json:"automation_mode"`
	QualityThreshold    int             `json:"quality_threshold"`
	NegativeKeywords    []string        `json:"negative_keywords"`
	CompetingRegions    []string        `json:"competing_regions"`
	PollIntervalMinutes int             `json:"poll_interval_minutes"`
}

func (s *Server) handleTopicList(w http.ResponseWriter, r *http.Request) {
	topics, err := s.pipeline.Topics(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if topics == nil {
		topics = []models.Topic{}
	}
	jsonResponse(w, map[string]any{"topics": topics})
}

func (s *Server) handleTopicCreate(w http.ResponseWriter, r *http.Request) {
	var req topicRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	topic := models.Topic{
		Name:                req.Name,
		Mode:                req.Mode,
		QualityThreshold:    req.QualityThreshold,
		NegativeKeywords:    req.NegativeKeywords,
		CompetingRegions:    req.CompetingRegions,
		PollIntervalMinutes: req.PollIntervalMinutes,
	}
	if err := s.pipeline.CreateTopic(r.Context(), &topic); err != nil {
		writeError(w, r, err)
		return
	}
	jsonStatus(w, http.StatusCreated, topic)
}

func (s *Server) handleTopicGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	topic, err := s.pipeline.Topic(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, map[string]any{
		"topic":        topic,
		"permitted":    automation.Permitted(topic.State()),
		"scan_running": s.pipeline.ScanRunning(id),
	})
}

func (s *Server) handleTopicArchive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.pipeline.ArchiveTopic(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTopicMode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	topic, err := s.pipeline.SetMode(r.Context(), id, req.Mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, map[string]any{
		"topic":     topic,
		"permitted": automation.Permitted(topic.State()),
	})
}

func (s *Server) handleTopicHoliday(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Holiday bool `json:"holiday"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	topic, err := s.pipeline.SetHoliday(r.Context(), id, req.Holiday)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, map[string]any{
		"topic":     topic,
		"permitted": automation.Permitted(topic.State()),
	})
}

func (s *Server) handleTopicThreshold(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		QualityThreshold int `json:"quality_threshold"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.pipeline.SetQualityThreshold(r.Context(), id, req.QualityThreshold); err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, map[string]any{"quality_threshold": req.QualityThreshold})
}

func (s *Server) handleTopicFilters(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		NegativeKeywords []string `json:"negative_keywords"`
		CompetingRegions []string `json:"competing_regions"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.pipeline.SetFilters(r.Context(), id, req.NegativeKeywords, req.CompetingRegions); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTopicStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.pipeline.Topic(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := s.pipeline.Stats(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, stats)
}

func (s *Server) handleTopicHealth(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h, err := s.pipeline.Health(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, h)
}

func (s *Server) handleTopicIngest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := s.pipeline.IngestNow(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, stats)
}

// handleScanStart reserves the topic's scan slot and runs the scan in the
// background; its report shows up in the topic stats when it finishes.
func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	run, err := s.pipeline.ReserveScan(s.baseCtx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		run.Run()
	}()
	jsonStatus(w, http.StatusAccepted, map[string]any{"status": "started", "topic_id": id, "scan_id": run.ID})
}

func (s *Server) handleScanCancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, map[string]any{"cancelled": s.pipeline.CancelScan(id)})
}

func (s *Server) handleSourceCreate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Name string `json:"name"`
		URL  string `json:"url"`
		Kind string `json:"kind"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	src, err := s.pipeline.AddSource(r.Context(), id, req.Name, req.URL, req.Kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonStatus(w, http.StatusCreated, src)
}
