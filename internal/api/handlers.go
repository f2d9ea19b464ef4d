package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlinkers/digicon/internal/models"
	"github.com/nextlinkers/digicon/internal/registration"
	"github.com/nextlinkers/digicon/internal/storage"
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
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

// respondStorageError maps storage sentinels onto the wire contract shared
// by every handler that touches the store.
func respondStorageError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, storage.ErrTeamExists):
		respondError(w, http.StatusConflict, "duplicate_team", "team has already registered")
	case errors.Is(err, storage.ErrProblemFull):
		respondError(w, http.StatusConflict, "problem_full", "problem statement has no slots left")
	case errors.Is(err, storage.ErrProblemNotFound):
		respondError(w, http.StatusNotFound, "not_found", "problem statement not found")
	case errors.Is(err, storage.ErrLockTimeout):
		respondError(w, http.StatusServiceUnavailable, "storage_busy", "storage is busy, try again")
	default:
		slog.Error(fallback, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", fallback)
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	// Check if the storage backend is reachable
	if err := s.service.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "service not ready")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// Public handlers

func (s *Server) handleListProblems(w http.ResponseWriter, r *http.Request) {
	catalog, err := s.service.PublicProblems(r.Context())
	if err != nil {
		respondStorageError(w, err, "failed to list problem statements")
		return
	}

	respondJSON(w, http.StatusOK, catalog)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	result, err := s.service.Register(r.Context(), req)
	if err != nil {
		var vErr *registration.ValidationError
		switch {
		case errors.As(err, &vErr):
			respondError(w, http.StatusBadRequest, "validation_error", vErr.Error())
		case errors.Is(err, registration.ErrNotOnRoster):
			respondError(w, http.StatusBadRequest, "validation_error", "team number is not on the participant roster")
		default:
			respondStorageError(w, err, "failed to register team")
		}
		return
	}

	respondJSON(w, http.StatusCreated, result)
}
