package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/thinkscotty/newsroom/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBodyBytes     = 1 << 20
)

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	jsonStatus(w, status, map[string]string{"error": message})
}

// writeError maps pipeline errors to HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrInvalidArgument):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrHolidayFrozen),
		errors.Is(err, models.ErrScanRunning),
		errors.Is(err, models.ErrNotHeld),
		errors.Is(err, models.ErrImmutable):
		jsonError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("API request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		jsonError(w, "Internal error", http.StatusInternalServerError)
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", models.ErrInvalidArgument, r.PathValue("id"))
	}
	return id, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", models.ErrInvalidArgument, err)
	}
	return nil
}

func listLimit(r *http.Request) int {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, maxListLimit)
		}
	}
	return limit
}

type editorRequest struct {
	Editor string `json:"editor"`
}

// editor reads the acting editor from an optional JSON body.
func editor(w http.ResponseWriter, r *http.Request) (string, error) {
	var req editorRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			return "", err
		}
	}
	if req.Editor == "" {
		req.Editor = "operator"
	}
	return req.Editor, nil
}
