package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a generation job. Transitions are
// monotonic: queued -> running -> succeeded|failed, with no way back.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// SourceKind distinguishes what the generation starts from.
type SourceKind string

const (
	SourceUpload SourceKind = "upload"
	SourcePrompt SourceKind = "prompt"
)

// Complexity controls how much detail the line extraction keeps.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityStandard Complexity = "standard"
	ComplexityDetailed Complexity = "detailed"
)

// LineThickness controls stroke weight in the rendered page.
type LineThickness string

const (
	LineThin   LineThickness = "thin"
	LineMedium LineThickness = "medium"
	LineThick  LineThickness = "thick"
)

const maxPromptLength = 2000

// JobParams is the request payload for a generation. Exactly one of
// SourceAssetID or Prompt is set, selected by SourceKind. EditParentID is
// set when this job refines an earlier one.
type JobParams struct {
	SourceKind    SourceKind    `json:"source_kind"`
	SourceAssetID *uuid.UUID    `json:"source_asset_id,omitempty"`
	Prompt        string        `json:"prompt,omitempty"`
	Complexity    Complexity    `json:"complexity"`
	LineThickness LineThickness `json:"line_thickness"`
	EditParentID  *uuid.UUID    `json:"edit_parent_id,omitempty"`
}

// Validate checks the tagged union and enum fields.
func (p *JobParams) Validate() error {
	switch p.SourceKind {
	case SourceUpload:
		if p.SourceAssetID == nil {
			return fmt.Errorf("source_asset_id is required for upload jobs")
		}
		if p.Prompt != "" {
			return fmt.Errorf("prompt must be empty for upload jobs")
		}
	case SourcePrompt:
		if p.Prompt == "" {
			return fmt.Errorf("prompt is required for prompt jobs")
		}
		if len(p.Prompt) > maxPromptLength {
			return fmt.Errorf("prompt exceeds %d characters", maxPromptLength)
		}
		if p.SourceAssetID != nil {
			return fmt.Errorf("source_asset_id must be empty for prompt jobs")
		}
	default:
		return fmt.Errorf("invalid source_kind: %q", p.SourceKind)
	}

	switch p.Complexity {
	case ComplexitySimple, ComplexityStandard, ComplexityDetailed:
	default:
		return fmt.Errorf("invalid complexity: %q", p.Complexity)
	}

	switch p.LineThickness {
	case LineThin, LineMedium, LineThick:
	default:
		return fmt.Errorf("invalid line_thickness: %q", p.LineThickness)
	}

	return nil
}

// idempotencyPayload is the canonical shape hashed into the dedupe key.
// Field order is fixed; adding a field changes every key, so only append.
type idempotencyPayload struct {
	UserID        string        `json:"user_id"`
	SourceKind    SourceKind    `json:"source_kind"`
	SourceAssetID string        `json:"source_asset_id"`
	Prompt        string        `json:"prompt"`
	Complexity    Complexity    `json:"complexity"`
	LineThickness LineThickness `json:"line_thickness"`
	EditParentID  string        `json:"edit_parent_id"`
}

// IdempotencyKey derives the deterministic submission key for these params
// on behalf of userID. Equal inputs always hash to the same key.
func (p *JobParams) IdempotencyKey(userID string) string {
	payload := idempotencyPayload{
		UserID:        userID,
		SourceKind:    p.SourceKind,
		Prompt:        p.Prompt,
		Complexity:    p.Complexity,
		LineThickness: p.LineThickness,
	}
	if p.SourceAssetID != nil {
		payload.SourceAssetID = p.SourceAssetID.String()
	}
	if p.EditParentID != nil {
		payload.EditParentID = p.EditParentID.String()
	}

	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Job is one generation request and its lifecycle record.
type Job struct {
	ID             uuid.UUID  `json:"id"`
	UserID         string     `json:"user_id"`
	Status         JobStatus  `json:"status"`
	Params         JobParams  `json:"params"`
	IdempotencyKey string     `json:"-"`
	Cost           int64      `json:"cost"`
	Model          string     `json:"model"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Error          *string    `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsEdit reports whether this job refines an earlier job's output.
func (j *Job) IsEdit() bool {
	return j.Params.EditParentID != nil
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == JobSucceeded || j.Status == JobFailed
}

// VersionType labels a job's place in an edit chain.
type VersionType string

const (
	VersionOriginal VersionType = "original"
	VersionEdit     VersionType = "edit"
)

// JobView is a job decorated for API responses: short-lived download links
// for finished output plus its position in the edit chain. DownloadURLs is
// always present but stays empty until the job succeeds; the links expire
// on their own.
type JobView struct {
	Job
	DownloadURLs map[AssetKind]string `json:"download_urls"`
	VersionType  VersionType          `json:"version_type"`
	VersionOrder int                  `json:"version_order"`
}

// ChainMetadata summarizes an edit chain for policy decisions on the client.
type ChainMetadata struct {
	HasEdits  bool `json:"has_edits"`
	EditCount int  `json:"edit_count"`
	MaxEdits  int  `json:"max_edits"`
}

// ChainView is the full version history of a job, ordered original first.
type ChainView struct {
	TotalVersions  int           `json:"total_versions"`
	OriginalJobID  uuid.UUID     `json:"original_job_id"`
	RequestedJobID uuid.UUID     `json:"requested_job_id"`
	Versions       []*JobView    `json:"versions"`
	Metadata       ChainMetadata `json:"metadata"`
}
