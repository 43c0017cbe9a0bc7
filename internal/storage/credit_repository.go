package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/coloring-service/internal/errors"
	"github.com/coloring-service/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreditRepository is the durable credit ledger. Balances are mutated only
// through atomic conditional updates; every mutation appends exactly one
// credit_events row in the same database transaction.
type CreditRepository struct {
	db *PostgresDB
}

// NewCreditRepository creates a new credit repository
func NewCreditRepository(db *PostgresDB) *CreditRepository {
	return &CreditRepository{db: db}
}

// Debit atomically subtracts amount from the user's balance and appends the
// audit event. The update is conditional on balance >= amount; a zero
// affected-row count is reported as InsufficientCredits without retrying.
func (r *CreditRepository) Debit(ctx context.Context, userID string, amount int64, reason models.CreditReason, jobID *uuid.UUID) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return 0, errors.NewDatabaseError("debit begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var newBalance int64
	err = tx.QueryRow(ctx, `
		UPDATE credits
		SET balance = balance - $2, updated_at = NOW()
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance
	`, userID, amount).Scan(&newBalance)

	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			// Either no credits row or balance < amount. One failed
			// conditional attempt is final; no read-then-write retry.
			return 0, errors.NewInsufficientCreditsError(amount)
		}
		return 0, errors.NewDatabaseError("debit update", err)
	}

	if err := insertCreditEvent(ctx, tx, userID, -amount, reason, jobID, nil); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.NewDatabaseError("debit commit", err)
	}

	return newBalance, nil
}

// Credit atomically adds amount to the user's balance, creating the row if
// absent, and appends the audit event.
func (r *CreditRepository) Credit(ctx context.Context, userID string, amount int64, reason models.CreditReason, jobID *uuid.UUID, paymentRef *string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return 0, errors.NewDatabaseError("credit begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var newBalance int64
	err = tx.QueryRow(ctx, `
		INSERT INTO credits (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET balance = credits.balance + EXCLUDED.balance, updated_at = NOW()
		RETURNING balance
	`, userID, amount).Scan(&newBalance)
	if err != nil {
		return 0, errors.NewDatabaseError("credit upsert", err)
	}

	if err := insertCreditEvent(ctx, tx, userID, amount, reason, jobID, paymentRef); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.NewDatabaseError("credit commit", err)
	}

	return newBalance, nil
}

// insertCreditEvent appends one immutable ledger entry inside tx.
func insertCreditEvent(ctx context.Context, tx pgx.Tx, userID string, delta int64, reason models.CreditReason, jobID *uuid.UUID, paymentRef *string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO credit_events (id, user_id, delta, reason, job_id, payment_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, uuid.New(), userID, delta, reason, jobID, paymentRef)
	if err != nil {
		return errors.NewDatabaseError("credit event insert", err)
	}
	return nil
}

// Balance returns the user's current balance; users without a credits row
// have a balance of zero.
func (r *CreditRepository) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.db.Pool().QueryRow(ctx,
		`SELECT balance FROM credits WHERE user_id = $1`, userID,
	).Scan(&balance)

	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, errors.NewDatabaseError("balance lookup", err)
	}

	return balance, nil
}

// Events retrieves the user's ledger history, newest first.
func (r *CreditRepository) Events(ctx context.Context, userID string, limit, offset int) ([]*models.CreditEvent, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, user_id, delta, reason, job_id, payment_ref, created_at
		FROM credit_events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, errors.NewDatabaseError("event list", err)
	}
	defer rows.Close()

	var events []*models.CreditEvent
	for rows.Next() {
		var ev models.CreditEvent
		var jobID *uuid.UUID
		var paymentRef *string
		var createdAt time.Time

		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Delta, &ev.Reason, &jobID, &paymentRef, &createdAt); err != nil {
			return nil, errors.NewDatabaseError("event scan", err)
		}

		ev.JobID = jobID
		ev.PaymentRef = paymentRef
		ev.CreatedAt = createdAt
		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("event iteration", err)
	}

	return events, nil
}
