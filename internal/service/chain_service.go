package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/coloring-service/internal/errors"
	"github.com/coloring-service/internal/models"
)

// ChainService resolves the edit lineage of a job: the original plus every
// refinement between it and the requested job, oldest first.
type ChainService struct {
	jobs     JobStore
	status   *StatusService
	maxEdits int
}

func NewChainService(jobs JobStore, status *StatusService, maxEdits int) *ChainService {
	return &ChainService{jobs: jobs, status: status, maxEdits: maxEdits}
}

// Resolve walks from the requested job up to the chain's original and
// returns every version in order. The walk is owner-scoped throughout, so
// a chain touching another user's job is reported as not found.
func (s *ChainService) Resolve(ctx context.Context, userID string, jobID uuid.UUID) (*models.ChainView, error) {
	requested, err := s.jobs.GetByIDForUser(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}

	// Collect requested-to-root, guarding against rows that somehow form
	// a longer chain than policy allows.
	lineage := []*models.Job{requested}
	current := requested
	for current.Params.EditParentID != nil {
		if len(lineage) > s.maxEdits+1 {
			return nil, errors.NewInternalError("edit chain exceeds policy depth", nil)
		}
		parent, err := s.jobs.GetByIDForUser(ctx, *current.Params.EditParentID, userID)
		if err != nil {
			return nil, err
		}
		lineage = append(lineage, parent)
		current = parent
	}

	// Reverse into oldest-first order and number the versions.
	versions := make([]*models.JobView, 0, len(lineage))
	for i := len(lineage) - 1; i >= 0; i-- {
		view, err := s.status.Decorate(ctx, lineage[i])
		if err != nil {
			return nil, err
		}
		view.VersionOrder = len(versions)
		versions = append(versions, view)
	}

	original := versions[0]
	return &models.ChainView{
		TotalVersions:  len(versions),
		OriginalJobID:  original.Job.ID,
		RequestedJobID: requested.ID,
		Versions:       versions,
		Metadata: models.ChainMetadata{
			HasEdits:  len(versions) > 1,
			EditCount: len(versions) - 1,
			MaxEdits:  s.maxEdits,
		},
	}, nil
}
