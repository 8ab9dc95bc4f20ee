package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/thinkscotty/newsroom/internal/auth"
)

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		slog.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start).String(),
		)
	})
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered", "error", err, "path", r.URL.Path, "stack", string(debug.Stack()))
				jsonError(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireAPIKey checks the operator key via Bearer token or query parameter
// against the bcrypt hash in settings. The last verified key is remembered
// so repeated requests skip the bcrypt comparison.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var providedKey string

		if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
			providedKey = strings.TrimPrefix(authz, "Bearer ")
		}
		if providedKey == "" {
			providedKey = r.URL.Query().Get("api_key")
		}

		if providedKey == "" {
			jsonError(w, "API key required", http.StatusUnauthorized)
			return
		}

		storedHash, err := s.db.GetSetting(KeySetting)
		if err != nil || storedHash == "" {
			slog.Error("API key not configured")
			jsonError(w, "API key not configured", http.StatusServiceUnavailable)
			return
		}

		if !s.keyVerified(providedKey, storedHash) {
			if err := auth.CheckKey(providedKey, storedHash); err != nil {
				jsonError(w, "Invalid API key", http.StatusUnauthorized)
				return
			}
			s.rememberKey(providedKey, storedHash)
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) keyVerified(key, hash string) bool {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	return s.cachedFor == hash && subtle.ConstantTimeCompare([]byte(key), []byte(s.cachedKey)) == 1
}

func (s *Server) rememberKey(key, hash string) {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	s.cachedKey, s.cachedFor = key, hash
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
