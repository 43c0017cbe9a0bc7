package api

import (
	"encoding/json"
	"net/http"

	"github.com/coloring-service/internal/errors"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse wraps an error for the API.
type ErrorResponse struct {
	Error errorBody `json:"error"`
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError converts any error into the standard error envelope. Raw
// internal errors are never leaked to the client.
func respondError(w http.ResponseWriter, err error) {
	catErr := errors.Categorize(err)

	body := errorBody{
		Code:    catErr.Code,
		Message: catErr.Message,
		Details: catErr.Details,
	}
	if catErr.Category == errors.CategoryDatabase || catErr.Category == errors.CategorySystem {
		body.Message = "An internal error occurred"
		body.Details = nil
	}

	respondJSON(w, catErr.StatusCode, ErrorResponse{Error: body})
}

// parseJSONBody parses a JSON request body strictly.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return errors.NewValidationError("invalid request body: " + err.Error())
	}
	return nil
}
