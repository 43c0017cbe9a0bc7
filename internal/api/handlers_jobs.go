package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/coloring-service/internal/errors"
	"github.com/coloring-service/internal/models"
)

// submitJobResponse wraps a submission result.
type submitJobResponse struct {
	Job     *models.Job `json:"job"`
	Created bool        `json:"created"`
}

// handleSubmitJob accepts a generation request. Identical resubmissions
// return the existing job with a 200 instead of a new 202.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondError(w, errors.NewUnauthorizedError("missing bearer token"))
		return
	}

	var params models.JobParams
	if err := parseJSONBody(r, &params); err != nil {
		respondError(w, err)
		return
	}

	job, created, err := s.generation.Submit(r.Context(), userID, params)
	if err != nil {
		respondError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	respondJSON(w, status, submitJobResponse{Job: job, Created: created})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondError(w, errors.NewUnauthorizedError("missing bearer token"))
		return
	}

	jobID, err := parseJobID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	view, err := s.status.GetJob(r.Context(), userID, jobID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondError(w, errors.NewUnauthorizedError("missing bearer token"))
		return
	}

	limit, offset := parsePagination(r)
	views, err := s.status.ListJobs(r.Context(), userID, limit, offset)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  views,
		"count": len(views),
	})
}

// handleGetVersions returns the edit lineage of a job, original first.
func (s *Server) handleGetVersions(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondError(w, errors.NewUnauthorizedError("missing bearer token"))
		return
	}

	jobID, err := parseJobID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	chain, err := s.chains.Resolve(r.Context(), userID, jobID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, chain)
}

// handleDownloadAsset redirects to a freshly signed link for one artifact.
func (s *Server) handleDownloadAsset(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondError(w, errors.NewUnauthorizedError("missing bearer token"))
		return
	}

	jobID, err := parseJobID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	kind, err := models.ParseOutputKind(mux.Vars(r)["kind"])
	if err != nil {
		respondError(w, errors.NewValidationError(err.Error()))
		return
	}

	url, err := s.status.DownloadURL(r.Context(), userID, jobID, kind)
	if err != nil {
		respondError(w, err)
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

func parseJobID(r *http.Request) (uuid.UUID, error) {
	raw := mux.Vars(r)["id"]
	jobID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.NewValidationError("invalid job id: " + raw)
	}
	return jobID, nil
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}
