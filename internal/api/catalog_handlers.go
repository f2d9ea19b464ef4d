package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/nextlinkers/digicon/internal/models"
	"github.com/nextlinkers/digicon/internal/registration"
	"github.com/nextlinkers/digicon/internal/roster"
)

// Catalog handlers: admin bulk operations on the problem statement catalog

func (s *Server) handleReplaceCatalog(w http.ResponseWriter, r *http.Request) {
	doc, ok := decodeCatalog(w, r)
	if !ok {
		return
	}

	written, err := s.service.ReplaceCatalog(r.Context(), doc)
	if err != nil {
		var vErr *registration.ValidationError
		if errors.As(err, &vErr) {
			respondError(w, http.StatusBadRequest, "validation_error", "catalog must contain at least one problem statement")
			return
		}
		respondStorageError(w, err, "failed to replace catalog")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"replaced": written,
	})
}

func (s *Server) handleImportCatalog(w http.ResponseWriter, r *http.Request) {
	doc, ok := decodeCatalog(w, r)
	if !ok {
		return
	}

	written, err := s.service.ImportCatalog(r.Context(), doc)
	if err != nil {
		var vErr *registration.ValidationError
		if errors.As(err, &vErr) {
			respondError(w, http.StatusBadRequest, "validation_error", "catalog must contain at least one problem statement")
			return
		}
		respondStorageError(w, err, "failed to import catalog")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"imported": written,
	})
}

func decodeCatalog(w http.ResponseWriter, r *http.Request) (models.CatalogDocument, bool) {
	var doc models.CatalogDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return models.CatalogDocument{}, false
	}
	return doc, true
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Reset(r.Context()); err != nil {
		respondStorageError(w, err, "failed to reset catalog")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "catalog reset to defaults",
	})
}

// Release flag handlers

type releaseRequest struct {
	ProblemsReleased *bool `json:"problemsReleased"`
}

func (s *Server) handleGetRelease(w http.ResponseWriter, r *http.Request) {
	settings, err := s.service.Settings(r.Context())
	if err != nil {
		respondStorageError(w, err, "failed to load settings")
		return
	}

	respondJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSetRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.ProblemsReleased == nil {
		respondError(w, http.StatusBadRequest, "validation_error", "problemsReleased is required")
		return
	}

	settings, err := s.service.SetProblemsReleased(r.Context(), *req.ProblemsReleased)
	if err != nil {
		respondStorageError(w, err, "failed to update settings")
		return
	}

	respondJSON(w, http.StatusOK, settings)
}

// Roster handler

// handleUploadRoster accepts the team roster as a raw CSV body or as a
// multipart form with a "roster" file field.
func (s *Server) handleUploadRoster(w http.ResponseWriter, r *http.Request) {
	var reader io.Reader = r.Body

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && mediaType == "multipart/form-data" {
		file, _, ferr := r.FormFile("roster")
		if ferr != nil {
			respondError(w, http.StatusBadRequest, "validation_error", "multipart upload requires a roster file field")
			return
		}
		defer file.Close()
		reader = file
	}

	entries, err := roster.Parse(reader)
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "roster is not valid CSV")
		return
	}
	if len(entries) == 0 {
		respondError(w, http.StatusBadRequest, "validation_error", "roster contains no teams")
		return
	}

	teams := s.service.SetRoster(entries)
	slog.Info("team roster replaced", "teams", teams)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"teams": teams,
	})
}
