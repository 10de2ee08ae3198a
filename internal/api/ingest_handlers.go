package api

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/backroomhq/backroom/internal/ingest"
)

func (s *Server) processedDir() string {
	return filepath.Join(s.sharedDir, "processed")
}

// uploadFile stages a catalog document for extraction.
func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		s.writeError(w, http.StatusBadRequest, "file too big", err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid file", err.Error())
		return
	}
	defer file.Close()

	path, err := s.store.SaveUpload(r.Context(), header.Filename, header.Size, file)
	if err != nil {
		s.logger.Error().Err(err).Str("file", header.Filename).Msg("Upload failed")
		s.writeError(w, http.StatusInternalServerError, "upload failed", err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{
		"status": "uploaded",
		"path":   path,
	})
}

// triggerExtraction hands a staged file to the extraction worker.
func (s *Server) triggerExtraction(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		s.writeError(w, http.StatusBadRequest, "filename is required", "")
		return
	}

	supplierID := parseSupplierID(r.URL.Query().Get("supplier_id"))

	if err := s.store.Trigger(r.Context(), filename, supplierID); err != nil {
		if errors.Is(err, ingest.ErrNotStaged) {
			s.writeError(w, http.StatusNotFound, "file not found in staging", "")
			return
		}
		s.logger.Error().Err(err).Str("file", filename).Msg("Trigger failed")
		s.writeError(w, http.StatusInternalServerError, "failed to trigger processing", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "triggered"})
}

// pollExtraction reports job status. A file the server knows nothing about
// is a 404, which pollers treat as "not yet", not as failure.
func (s *Server) pollExtraction(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		s.writeError(w, http.StatusBadRequest, "filename is required", "")
		return
	}

	res, err := s.store.Poll(r.Context(), filename)
	if err != nil {
		if errors.Is(err, ingest.ErrNotRegistered) {
			s.writeError(w, http.StatusNotFound, "no job registered for file", "")
			return
		}
		s.logger.Error().Err(err).Str("file", filename).Msg("Poll failed")
		s.writeError(w, http.StatusInternalServerError, "failed to read job status", err.Error())
		return
	}

	if res.Status == "processing" {
		s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"status":       "processing",
			"current_page": res.CurrentPage,
			"total_pages":  res.TotalPages,
			"message":      res.Message,
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "preview",
		"products":     res.Preview.Products,
		"missing_skus": res.Preview.MissingSKUs,
		"mode":         res.Preview.Mode,
	})
}

// listSourceFiles returns the upload ledger with manifest readiness.
func (s *Server) listSourceFiles(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.store.Files(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list files", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, statuses)
}

func parseSupplierID(raw string) *int64 {
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}
