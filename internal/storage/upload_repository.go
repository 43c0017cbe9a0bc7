package storage

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coloring-service/internal/errors"
	"github.com/coloring-service/internal/models"
)

// UploadRepository persists registered source uploads.
type UploadRepository struct {
	db *PostgresDB
}

func NewUploadRepository(db *PostgresDB) *UploadRepository {
	return &UploadRepository{db: db}
}

// Create registers an uploaded source image.
func (r *UploadRepository) Create(ctx context.Context, upload *models.SourceAsset) error {
	if upload.ID == uuid.Nil {
		upload.ID = uuid.New()
	}
	if upload.CreatedAt.IsZero() {
		upload.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO source_assets (id, user_id, storage_path, content_type, size_bytes, sha256, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		upload.ID,
		upload.UserID,
		upload.StoragePath,
		upload.ContentType,
		upload.SizeBytes,
		upload.SHA256,
		upload.CreatedAt,
	)
	if err != nil {
		return errors.NewDatabaseError("upload insert", err)
	}

	return nil
}

// GetForUser retrieves a source upload scoped to its owner. Someone
// else's upload is reported as not found.
func (r *UploadRepository) GetForUser(ctx context.Context, id uuid.UUID, userID string) (*models.SourceAsset, error) {
	var upload models.SourceAsset
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, user_id, storage_path, content_type, size_bytes, sha256, created_at
		FROM source_assets
		WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(
		&upload.ID,
		&upload.UserID,
		&upload.StoragePath,
		&upload.ContentType,
		&upload.SizeBytes,
		&upload.SHA256,
		&upload.CreatedAt,
	)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NewNotFoundError("upload", id.String())
		}
		return nil, errors.NewDatabaseError("upload lookup", err)
	}

	return &upload, nil
}
