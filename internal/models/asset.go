// Package models holds the domain types shared across the service: jobs,
// the credit ledger, and stored artifacts.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AssetKind names the artifact types a job reads and produces.
type AssetKind string

const (
	AssetOriginal     AssetKind = "original"
	AssetPreprocessed AssetKind = "preprocessed"
	AssetEdgeMap      AssetKind = "edge_map"
	AssetPDF          AssetKind = "pdf"
)

// OutputKinds are the artifacts a finished job exposes for download.
var OutputKinds = []AssetKind{AssetEdgeMap, AssetPDF}

// ParseOutputKind validates a client-supplied artifact kind against the
// downloadable set.
func ParseOutputKind(s string) (AssetKind, error) {
	for _, k := range OutputKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown artifact kind %q", s)
}

// Asset is one stored artifact. StoragePath locates the object in the
// object store; download URLs are derived on demand and never persisted.
type Asset struct {
	ID          uuid.UUID `json:"id"`
	UserID      string    `json:"user_id"`
	JobID       uuid.UUID `json:"job_id"`
	Kind        AssetKind `json:"kind"`
	StoragePath string    `json:"-"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	SizeBytes   int64     `json:"size_bytes"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"created_at"`
}

// ObjectPath builds the canonical object key for a job artifact.
func ObjectPath(userID string, jobID uuid.UUID, filename string) string {
	return fmt.Sprintf("%s/%s/%s", userID, jobID, filename)
}

// SourceAsset is a user-uploaded image registered before any job refers
// to it. Upload-based generations point at one through SourceAssetID.
type SourceAsset struct {
	ID          uuid.UUID `json:"id"`
	UserID      string    `json:"user_id"`
	StoragePath string    `json:"-"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"created_at"`
}

// UploadPath builds the object key for a source upload.
func UploadPath(userID string, uploadID uuid.UUID) string {
	return fmt.Sprintf("%s/uploads/%s", userID, uploadID)
}
