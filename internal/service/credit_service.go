package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/coloring-service/internal/errors"
	"github.com/coloring-service/internal/logging"
	"github.com/coloring-service/internal/models"
)

// CreditService exposes the ledger to the API and compensates failed jobs.
type CreditService struct {
	ledger Ledger
	logger *logging.Logger
}

func NewCreditService(ledger Ledger, logger *logging.Logger) *CreditService {
	return &CreditService{ledger: ledger, logger: logger}
}

// Balance returns the user's current balance. Users the ledger has never
// seen have a balance of zero.
func (s *CreditService) Balance(ctx context.Context, userID string) (int64, error) {
	return s.ledger.Balance(ctx, userID)
}

// Events returns the user's ledger history, newest first.
func (s *CreditService) Events(ctx context.Context, userID string, limit, offset int) ([]*models.CreditEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.ledger.Events(ctx, userID, limit, offset)
}

// Purchase grants purchased credits, recording the payment reference in
// the audit trail.
func (s *CreditService) Purchase(ctx context.Context, userID string, amount int64, paymentRef string) (int64, error) {
	if amount <= 0 {
		return 0, errors.NewValidationError("purchase amount must be positive")
	}
	if paymentRef == "" {
		return 0, errors.NewValidationError("payment_ref is required")
	}
	return s.ledger.Credit(ctx, userID, amount, models.ReasonPurchase, nil, &paymentRef)
}

// Grant adds promotional credits.
func (s *CreditService) Grant(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, errors.NewValidationError("grant amount must be positive")
	}
	return s.ledger.Credit(ctx, userID, amount, models.ReasonPromotional, nil, nil)
}

// Refund gives back a job's debit after the job failed. A refund that
// cannot be written leaves the ledger short, so the failure is logged
// loudly for reconciliation but never turns a failed job into a stuck one.
func (s *CreditService) Refund(ctx context.Context, userID string, jobID uuid.UUID, amount int64, reason models.CreditReason) {
	if _, err := s.ledger.Credit(ctx, userID, amount, reason, &jobID, nil); err != nil {
		inconsistency := errors.NewLedgerInconsistencyError(userID, jobID.String(), amount, err)
		s.logger.WithError(inconsistency).WithFields(map[string]interface{}{
			"user_id": userID,
			"job_id":  jobID.String(),
			"amount":  amount,
			"reason":  reason,
		}).Error("refund failed, ledger requires reconciliation")
	}
}
