package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// --- Admin handlers (session cookie auth) ---

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.Password == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "password is required")
		return
	}

	if err := s.auth.Login(w, req.Password); err != nil {
		if errors.Is(err, ErrBadCredentials) {
			slog.Warn("failed admin login attempt", "remote_addr", r.RemoteAddr)
			respondError(w, http.StatusUnauthorized, "invalid_credentials", "password does not match")
			return
		}
		slog.Error("failed to issue admin session", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to log in")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "logged in",
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if session := SessionFromContext(r.Context()); session != nil {
		slog.Info("admin session ended", "session_id", session.ID)
	}

	s.auth.Logout(w)
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "logged out",
	})
}

// handleAdminProblems lists the full catalog regardless of the release flag.
func (s *Server) handleAdminProblems(w http.ResponseWriter, r *http.Request) {
	statements, err := s.service.Problems(r.Context())
	if err != nil {
		respondStorageError(w, err, "failed to list problem statements")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"problemStatements": statements,
		"total":             len(statements),
	})
}

func (s *Server) handleListRegistrations(w http.ResponseWriter, r *http.Request) {
	registrations, err := s.service.Registrations(r.Context())
	if err != nil {
		respondStorageError(w, err, "failed to list registrations")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"registrations": registrations,
		"total":         len(registrations),
	})
}

func (s *Server) handleDeleteRegistration(w http.ResponseWriter, r *http.Request) {
	teamNumber := chi.URLParam(r, "teamNumber")
	if teamNumber == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "team number is required")
		return
	}

	deleted, err := s.service.Deregister(r.Context(), teamNumber)
	if err != nil {
		respondStorageError(w, err, "failed to delete registration")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": deleted,
	})
}

func (s *Server) handleExportRegistrations(w http.ResponseWriter, r *http.Request) {
	filename := fmt.Sprintf("registrations-%s.csv", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	if err := s.service.ExportCSV(r.Context(), w); err != nil {
		// Headers are already on the wire, all we can do is log.
		slog.Error("failed to export registrations", "error", err)
	}
}
