package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/gdg-hunt/cryptic-hunt/internal/leaderboard"
	"github.com/gdg-hunt/cryptic-hunt/internal/models"
	"github.com/gdg-hunt/cryptic-hunt/internal/storage"
)

// Response helpers

type apiResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Degraded() || s.deps.Registry == nil {
		respondError(w, http.StatusServiceUnavailable, "not_configured", "backend or identity not configured")
		return
	}

	results := s.deps.Registry.HealthCheckAll(r.Context())
	checks := make(map[string]string, len(results))
	failed := []string{}
	for _, name := range s.deps.Registry.List() {
		err, ok := results[name]
		if !ok {
			continue
		}
		if err != nil {
			slog.Warn("readiness check failed", "service", name, "error", err)
			checks[name] = err.Error()
			failed = append(failed, name)
			continue
		}
		checks[name] = "ok"
	}

	if len(failed) > 0 {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"checks": checks,
			"failed": failed,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"checks": checks,
	})
}

// Leaderboard API

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := s.config.Hunt.LeaderboardLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n < limit {
			limit = n
		}
	}

	ctx := r.Context()
	if session := SessionFromContext(ctx); session != nil {
		ctx = storage.WithCaller(ctx, storage.Caller{UserID: session.UserID})
	}

	entries, err := s.deps.Store.Leaderboard(ctx, limit)
	if err != nil {
		slog.Error("failed to load leaderboard", "error", err, "request_id", requestID(r))
		respondError(w, http.StatusBadGateway, "leaderboard_unavailable", leaderboard.ErrorMessage)
		return
	}
	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}

	respondJSON(w, http.StatusOK, models.LeaderboardSnapshot{Entries: entries})
}
