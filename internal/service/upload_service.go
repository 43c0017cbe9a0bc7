package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/coloring-service/internal/errors"
	"github.com/coloring-service/internal/logging"
	"github.com/coloring-service/internal/models"
)

// MaxUploadBytes caps a single source image.
const MaxUploadBytes = 10 << 20

// UploadStore is the persistence surface for source uploads.
type UploadStore interface {
	Create(ctx context.Context, upload *models.SourceAsset) error
	GetForUser(ctx context.Context, id uuid.UUID, userID string) (*models.SourceAsset, error)
}

// ObjectUploader streams object bytes into storage.
type ObjectUploader interface {
	Upload(ctx context.Context, objectPath string, reader io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, objectPath string) error
}

// UploadService registers source images for upload-based generations.
// The bytes land in the object store; only the descriptor is persisted.
type UploadService struct {
	uploads UploadStore
	store   ObjectUploader
	logger  *logging.Logger
}

func NewUploadService(uploads UploadStore, store ObjectUploader, logger *logging.Logger) *UploadService {
	return &UploadService{uploads: uploads, store: store, logger: logger}
}

// Register stores one uploaded image and returns its descriptor. The
// returned id is what a later submission references as source_asset_id.
func (s *UploadService) Register(ctx context.Context, userID, contentType string, body io.Reader) (*models.SourceAsset, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return nil, errors.NewValidationError("content type must be an image")
	}

	data, err := io.ReadAll(io.LimitReader(body, MaxUploadBytes+1))
	if err != nil {
		return nil, errors.NewValidationError("failed to read upload body")
	}
	if len(data) == 0 {
		return nil, errors.NewValidationError("upload body is empty")
	}
	if len(data) > MaxUploadBytes {
		return nil, errors.NewValidationError("upload exceeds the size limit")
	}

	upload := &models.SourceAsset{
		ID:          uuid.New(),
		UserID:      userID,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
	}
	upload.StoragePath = models.UploadPath(userID, upload.ID)

	sum := sha256.Sum256(data)
	upload.SHA256 = hex.EncodeToString(sum[:])

	if err := s.store.Upload(ctx, upload.StoragePath, bytes.NewReader(data), upload.SizeBytes, contentType); err != nil {
		return nil, errors.NewUpstreamError("object store", err)
	}

	if err := s.uploads.Create(ctx, upload); err != nil {
		// The object is orphaned without its descriptor row.
		if rmErr := s.store.Remove(ctx, upload.StoragePath); rmErr != nil {
			s.logger.WithError(rmErr).WithField("path", upload.StoragePath).Warn("failed to remove orphaned upload")
		}
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"upload_id": upload.ID.String(),
		"user_id":   userID,
		"bytes":     upload.SizeBytes,
	}).Info("source image registered")

	return upload, nil
}
