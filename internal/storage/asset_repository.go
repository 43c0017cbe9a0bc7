package storage

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/coloring-service/internal/errors"
	"github.com/coloring-service/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AssetRepository handles artifact records. Rows are written once by the
// worker after successful processing and never mutated.
type AssetRepository struct {
	db *PostgresDB
}

// NewAssetRepository creates a new asset repository
func NewAssetRepository(db *PostgresDB) *AssetRepository {
	return &AssetRepository{db: db}
}

// Create records an artifact. A job has at most one artifact per kind;
// a reprocessed attempt overwrites what the earlier attempt wrote.
func (r *AssetRepository) Create(ctx context.Context, asset *models.Asset) error {
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO assets (id, user_id, job_id, kind, storage_path, width, height, size_bytes, sha256, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (job_id, kind) DO UPDATE
		SET storage_path = EXCLUDED.storage_path,
		    width = EXCLUDED.width,
		    height = EXCLUDED.height,
		    size_bytes = EXCLUDED.size_bytes,
		    sha256 = EXCLUDED.sha256
	`,
		asset.ID,
		asset.UserID,
		asset.JobID,
		asset.Kind,
		asset.StoragePath,
		asset.Width,
		asset.Height,
		asset.SizeBytes,
		asset.SHA256,
		asset.CreatedAt,
	)
	if err != nil {
		return errors.NewDatabaseError("asset insert", err)
	}

	return nil
}

// ListByJob retrieves a job's assets restricted to the given kinds,
// scoped to the owning user.
func (r *AssetRepository) ListByJob(ctx context.Context, userID string, jobID uuid.UUID, kinds []models.AssetKind) ([]*models.Asset, error) {
	kindStrs := make([]string, len(kinds))
	for i, k := range kinds {
		kindStrs[i] = string(k)
	}

	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, user_id, job_id, kind, storage_path, width, height, size_bytes, sha256, created_at
		FROM assets
		WHERE user_id = $1 AND job_id = $2 AND kind = ANY($3)
		ORDER BY kind ASC
	`, userID, jobID, kindStrs)
	if err != nil {
		return nil, errors.NewDatabaseError("asset list", err)
	}
	defer rows.Close()

	var assets []*models.Asset
	for rows.Next() {
		var asset models.Asset
		if err := rows.Scan(
			&asset.ID,
			&asset.UserID,
			&asset.JobID,
			&asset.Kind,
			&asset.StoragePath,
			&asset.Width,
			&asset.Height,
			&asset.SizeBytes,
			&asset.SHA256,
			&asset.CreatedAt,
		); err != nil {
			return nil, errors.NewDatabaseError("asset scan", err)
		}
		assets = append(assets, &asset)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("asset iteration", err)
	}

	return assets, nil
}

// GetByJobAndKind retrieves one specific artifact of a job.
func (r *AssetRepository) GetByJobAndKind(ctx context.Context, userID string, jobID uuid.UUID, kind models.AssetKind) (*models.Asset, error) {
	var asset models.Asset
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, user_id, job_id, kind, storage_path, width, height, size_bytes, sha256, created_at
		FROM assets
		WHERE user_id = $1 AND job_id = $2 AND kind = $3
	`, userID, jobID, kind).Scan(
		&asset.ID,
		&asset.UserID,
		&asset.JobID,
		&asset.Kind,
		&asset.StoragePath,
		&asset.Width,
		&asset.Height,
		&asset.SizeBytes,
		&asset.SHA256,
		&asset.CreatedAt,
	)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NewNotFoundError("asset", string(kind))
		}
		return nil, errors.NewDatabaseError("asset lookup", err)
	}

	return &asset, nil
}
