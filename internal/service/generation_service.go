package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/coloring-service/internal/config"
	"github.com/coloring-service/internal/errors"
	"github.com/coloring-service/internal/logging"
	"github.com/coloring-service/internal/models"
	"github.com/coloring-service/internal/queue"
	"github.com/coloring-service/internal/retry"
)

// enqueueRetry bounds the stream submission attempts made inline with the
// request. Anything still failing after this is compensated, not queued.
var enqueueRetry = &retry.Config{
	MaxAttempts:  2,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     time.Second,
	Multiplier:   2.0,
}

// GenerationService accepts generation requests. A submission is admitted
// in a fixed order: validation, edit depth policy, idempotent dedupe,
// credit debit, conditional job insert, enqueue. The debit happens only
// for genuinely new work, and any step failing after the debit refunds it.
type GenerationService struct {
	jobs    JobStore
	ledger  Ledger
	queue   QueueSender
	credits *CreditService
	uploads UploadStore
	cfg     *config.CreditsConfig
	logger  *logging.Logger
}

func NewGenerationService(jobs JobStore, ledger Ledger, sender QueueSender, credits *CreditService, uploads UploadStore, cfg *config.CreditsConfig, logger *logging.Logger) *GenerationService {
	return &GenerationService{
		jobs:    jobs,
		ledger:  ledger,
		queue:   sender,
		credits: credits,
		uploads: uploads,
		cfg:     cfg,
		logger:  logger,
	}
}

// Submit admits one generation request. It returns the job plus whether
// this call created it; a resubmission of identical content returns the
// existing job without charging again.
func (s *GenerationService) Submit(ctx context.Context, userID string, params models.JobParams) (*models.Job, bool, error) {
	if err := params.Validate(); err != nil {
		return nil, false, errors.NewValidationError(err.Error())
	}

	if params.SourceKind == models.SourceUpload {
		// The referenced upload must exist and belong to the submitter.
		if _, err := s.uploads.GetForUser(ctx, *params.SourceAssetID, userID); err != nil {
			return nil, false, err
		}
	}

	if params.EditParentID != nil {
		if err := s.checkEditPolicy(ctx, userID, *params.EditParentID); err != nil {
			return nil, false, err
		}
	}

	key := params.IdempotencyKey(userID)

	// Resubmission check before any money moves.
	existing, err := s.jobs.GetByIdempotencyKey(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.IsCode(err, errors.CodeNotFound) {
		return nil, false, err
	}

	job := &models.Job{
		ID:             uuid.New(),
		UserID:         userID,
		Params:         params,
		IdempotencyKey: key,
		Cost:           s.cfg.JobCost,
		Model:          s.cfg.Model,
	}

	if _, err := s.ledger.Debit(ctx, userID, s.cfg.JobCost, models.ReasonDebitForJob, &job.ID); err != nil {
		return nil, false, err
	}

	created, persisted, err := s.jobs.CreateIdempotent(ctx, job)
	if err != nil {
		s.credits.Refund(ctx, userID, job.ID, s.cfg.JobCost, models.ReasonRefundFailed)
		return nil, false, err
	}
	if !created {
		// A concurrent identical submission won the insert race. Its
		// debit stands; ours is given back.
		s.credits.Refund(ctx, userID, job.ID, s.cfg.JobCost, models.ReasonRefundFailed)
		return persisted, false, nil
	}

	msg := queue.Message{JobID: job.ID, UserID: userID, EnqueuedAt: time.Now().UTC()}
	sendErr := retry.Do(ctx, enqueueRetry, func(ctx context.Context, _ int) error {
		_, err := s.queue.Send(ctx, msg, key)
		return err
	})
	if sendErr != nil {
		if markErr := s.jobs.MarkFailed(ctx, job.ID, "queue submission failed"); markErr != nil {
			s.logger.WithError(markErr).WithField("job_id", job.ID.String()).Error("failed to mark unqueued job failed")
		}
		s.credits.Refund(ctx, userID, job.ID, s.cfg.JobCost, models.ReasonRefundFailed)
		return nil, false, errors.NewQueueSubmissionError(job.ID.String(), sendErr)
	}

	s.logger.WithFields(map[string]interface{}{
		"job_id":  job.ID.String(),
		"user_id": userID,
		"source":  string(params.SourceKind),
	}).Info("job accepted")

	return job, true, nil
}

// checkEditPolicy verifies the parent exists, belongs to the user, has
// finished successfully, and that the chain has room for one more edit.
func (s *GenerationService) checkEditPolicy(ctx context.Context, userID string, parentID uuid.UUID) error {
	parent, err := s.jobs.GetByIDForUser(ctx, parentID, userID)
	if err != nil {
		return err
	}
	if parent.Status != models.JobSucceeded {
		return errors.NewValidationError("edit parent has not completed successfully")
	}

	depth, err := s.chainDepth(ctx, userID, parent)
	if err != nil {
		return err
	}
	if depth+1 > s.cfg.MaxEdits {
		return errors.NewEditLimitReachedError(s.cfg.MaxEdits)
	}
	return nil
}

// chainDepth counts edits between job and the chain's original.
func (s *GenerationService) chainDepth(ctx context.Context, userID string, job *models.Job) (int, error) {
	depth := 0
	current := job
	for current.Params.EditParentID != nil {
		depth++
		if depth > s.cfg.MaxEdits+1 {
			return 0, errors.NewInternalError("edit chain exceeds policy depth", nil)
		}
		parent, err := s.jobs.GetByIDForUser(ctx, *current.Params.EditParentID, userID)
		if err != nil {
			return 0, err
		}
		current = parent
	}
	return depth, nil
}
