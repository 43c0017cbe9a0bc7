package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/coloring-service/internal/errors"
	"github.com/coloring-service/internal/logging"
	"github.com/coloring-service/internal/models"
)

// StatusService answers owner-scoped job reads. Download links are signed
// on every read with a short expiry and are never stored anywhere.
type StatusService struct {
	jobs   JobStore
	assets AssetStore
	signer URLSigner
	urlTTL time.Duration
	logger *logging.Logger
}

func NewStatusService(jobs JobStore, assets AssetStore, signer URLSigner, urlTTL time.Duration, logger *logging.Logger) *StatusService {
	return &StatusService{
		jobs:   jobs,
		assets: assets,
		signer: signer,
		urlTTL: urlTTL,
		logger: logger,
	}
}

// GetJob returns one job for its owner. Jobs owned by someone else are
// reported as not found.
func (s *StatusService) GetJob(ctx context.Context, userID string, jobID uuid.UUID) (*models.JobView, error) {
	job, err := s.jobs.GetByIDForUser(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	return s.Decorate(ctx, job)
}

// ListJobs returns the user's jobs, newest first.
func (s *StatusService) ListJobs(ctx context.Context, userID string, limit, offset int) ([]*models.JobView, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	jobs, err := s.jobs.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	views := make([]*models.JobView, 0, len(jobs))
	for _, job := range jobs {
		view, err := s.Decorate(ctx, job)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// DownloadURL signs a fresh link for one artifact of a finished job.
// Unlike Decorate, a signing failure here is the caller's error.
func (s *StatusService) DownloadURL(ctx context.Context, userID string, jobID uuid.UUID, kind models.AssetKind) (string, error) {
	job, err := s.jobs.GetByIDForUser(ctx, jobID, userID)
	if err != nil {
		return "", err
	}
	if job.Status != models.JobSucceeded {
		return "", errors.NewValidationError("job has no downloadable output")
	}

	asset, err := s.assets.GetByJobAndKind(ctx, userID, jobID, kind)
	if err != nil {
		return "", err
	}
	return s.signer.PresignedURL(ctx, asset.StoragePath, s.urlTTL)
}

// Decorate wraps a job for the API: version labeling plus fresh download
// links for finished output. A link that cannot be signed is dropped from
// the map rather than failing the whole read.
func (s *StatusService) Decorate(ctx context.Context, job *models.Job) (*models.JobView, error) {
	view := &models.JobView{
		Job:          *job,
		VersionType:  models.VersionOriginal,
		DownloadURLs: map[models.AssetKind]string{},
	}
	if job.IsEdit() {
		view.VersionType = models.VersionEdit
	}

	if job.Status != models.JobSucceeded {
		return view, nil
	}

	assets, err := s.assets.ListByJob(ctx, job.UserID, job.ID, models.OutputKinds)
	if err != nil {
		return nil, err
	}

	for _, asset := range assets {
		url, err := s.signer.PresignedURL(ctx, asset.StoragePath, s.urlTTL)
		if err != nil {
			s.logger.WithError(err).WithFields(map[string]interface{}{
				"job_id": job.ID.String(),
				"kind":   string(asset.Kind),
			}).Warn("failed to sign download url")
			continue
		}
		view.DownloadURLs[asset.Kind] = url
	}
	return view, nil
}
