package server

import (
	"net/http"

	"github.com/thinkscotty/newsroom/internal/models"
)

var candidateStatuses = map[string]bool{
	models.StatusPending:    true,
	models.StatusProcessing: true,
	models.StatusHeld:       true,
	models.StatusReady:      true,
	models.StatusDuplicate:  true,
	models.StatusFiltered:   true,
}

func (s *Server) handleCandidateList(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.StatusHeld
	}
	if !candidateStatuses[status] {
		jsonError(w, "Unknown status "+status, http.StatusBadRequest)
		return
	}

	items, err := s.pipeline.Candidates(r.Context(), id, status, listLimit(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []models.CandidateItem{}
	}
	jsonResponse(w, map[string]any{"status": status, "candidates": items})
}

func (s *Server) handleCandidateGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.pipeline.Candidate(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, map[string]any{
		"candidate": c,
		"summary":   c.Summary,
		"slides":    c.Slides,
	})
}

func (s *Server) handleCandidateOverride(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	who, err := editor(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.pipeline.OverrideDuplicate(r.Context(), id, who)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, c)
}

func (s *Server) handleCandidateApprove(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	who, err := editor(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	story, err := s.pipeline.ApproveCandidate(r.Context(), id, who)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonStatus(w, http.StatusCreated, story)
}

func (s *Server) handleStoryList(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := r.URL.Query().Get("status")
	if status != "" && status != models.StoryDraft && status != models.StoryPublished {
		jsonError(w, "Unknown status "+status, http.StatusBadRequest)
		return
	}
	stories, err := s.pipeline.Stories(r.Context(), id, status, listLimit(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if stories == nil {
		stories = []models.Story{}
	}
	jsonResponse(w, map[string]any{"stories": stories})
}

func (s *Server) handleStoryPublish(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	who, err := editor(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	story, err := s.pipeline.PublishStory(r.Context(), id, who)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, story)
}

func (s *Server) handleSourceTest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := s.pipeline.TestSource(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, snap)
}

func (s *Server) handleSourceAttempts(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	attempts, err := s.pipeline.SourceAttempts(r.Context(), id, listLimit(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []models.SourceAttempt{}
	}
	jsonResponse(w, map[string]any{"attempts": attempts})
}
