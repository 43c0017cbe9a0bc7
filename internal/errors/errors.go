// Package errors defines the categorized error taxonomy shared by the
// services, repositories, and the HTTP layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents malformed input (4xx)
	CategoryValidation ErrorCategory = "validation"
	// CategoryAuthorization represents authentication/authorization errors
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryCredits represents credit ledger errors
	CategoryCredits ErrorCategory = "credits"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategoryPolicy represents policy rejections such as the edit-depth ceiling
	CategoryPolicy ErrorCategory = "policy"
	// CategoryQueue represents queue submission errors
	CategoryQueue ErrorCategory = "queue"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryUpstream represents external storage/queue/auth failures
	CategoryUpstream ErrorCategory = "upstream"
	// CategorySystem represents internal errors (5xx)
	CategorySystem ErrorCategory = "system"
)

// Stable machine-readable error codes.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeNotFound            = "NOT_FOUND"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeRateLimited         = "RATE_LIMIT_EXCEEDED"
	CodeEditLimitReached    = "EDIT_LIMIT_REACHED"
	CodeQueueSubmission     = "QUEUE_SUBMISSION_FAILED"
	CodeLedgerInconsistency = "LEDGER_INCONSISTENCY"
	CodeUpstreamFailure     = "UPSTREAM_FAILURE"
	CodeDatabase            = "DATABASE_ERROR"
	CodeInternal            = "INTERNAL_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a malformed-input error. Reported before any
// state mutation.
func NewValidationError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeValidation,
		Message:    message,
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       CodeUnauthorized,
		Message:    message,
	}
}

// NewNotFoundError creates a not found error. Also used for non-owned
// resources so lookups never leak existence.
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewInsufficientCreditsError creates an insufficient-balance error.
// No debit was performed.
func NewInsufficientCreditsError(required int64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCredits,
		StatusCode: http.StatusPaymentRequired,
		Code:       CodeInsufficientCredits,
		Message:    "not enough credits for this generation",
		Details: map[string]interface{}{
			"required": required,
		},
	}
}

// NewRateLimitError creates a rate limit error; retryAfter is in seconds.
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeRateLimited,
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// NewEditLimitReachedError rejects an edit submission once a chain is at
// its configured depth ceiling. Raised before any credit is debited.
func NewEditLimitReachedError(maxEdits int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPolicy,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeEditLimitReached,
		Message:    fmt.Sprintf("this page already has the maximum number of edits (%d)", maxEdits),
		Details: map[string]interface{}{
			"max_edits": maxEdits,
		},
	}
}

// NewQueueSubmissionError reports a failed enqueue after the job row was
// created. The caller has already issued the compensating refund.
func NewQueueSubmissionError(jobID string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryQueue,
		StatusCode: http.StatusServiceUnavailable,
		Code:       CodeQueueSubmission,
		Message:    "failed to queue the generation job",
		Cause:      cause,
		Details: map[string]interface{}{
			"job_id": jobID,
		},
	}
}

// NewLedgerInconsistencyError reports a refund that could not be confirmed.
// A lost refund is a correctness bug; this is alerting-worthy, never
// silently swallowed.
func NewLedgerInconsistencyError(userID, jobID string, amount int64, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeLedgerInconsistency,
		Message:    "refund could not be confirmed",
		Cause:      cause,
		Details: map[string]interface{}{
			"user_id": userID,
			"job_id":  jobID,
			"amount":  amount,
		},
	}
}

// NewUpstreamError creates an error for an unreachable external service
func NewUpstreamError(service string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusBadGateway,
		Code:       CodeUpstreamFailure,
		Message:    fmt.Sprintf("upstream service unavailable: %s", service),
		Cause:      cause,
		Details: map[string]interface{}{
			"service": service,
		},
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabase,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternal,
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code string) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Code == code
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryUpstream, CategoryDatabase, CategoryQueue:
		return true
	case CategorySystem:
		// Ledger inconsistencies need reconciliation, not blind retries.
		return catErr.Code != CodeLedgerInconsistency &&
			catErr.StatusCode == http.StatusServiceUnavailable
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
