package api

import (
	"net/http"

	"github.com/coloring-service/internal/errors"
	"github.com/coloring-service/internal/service"
)

// handleUpload registers a source image. The body is the raw image bytes
// with its Content-Type header; the response carries the id a later job
// submission references.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondError(w, errors.NewUnauthorizedError("missing bearer token"))
		return
	}

	contentType := r.Header.Get("Content-Type")
	body := http.MaxBytesReader(w, r.Body, service.MaxUploadBytes+1)
	defer body.Close()

	upload, err := s.uploads.Register(r.Context(), userID, contentType, body)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, upload)
}
