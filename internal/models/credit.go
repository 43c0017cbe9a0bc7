package models

import (
	"time"

	"github.com/google/uuid"
)

// CreditReason classifies a ledger entry. Reasons are part of the audit
// record and must stay stable once written.
type CreditReason string

const (
	ReasonDebitForJob    CreditReason = "debit_for_job"
	ReasonRefundFailed   CreditReason = "refund_failed_job"
	ReasonRefundJobError CreditReason = "refund_job_error"
	ReasonPurchase       CreditReason = "purchase"
	ReasonPromotional    CreditReason = "promotional"
)

// Credits is a user's current balance row. The balance is only ever
// changed through conditional updates and never goes negative.
type Credits struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreditEvent is one append-only ledger entry. Delta is negative for
// debits and positive for grants and refunds.
type CreditEvent struct {
	ID         uuid.UUID    `json:"id"`
	UserID     string       `json:"user_id"`
	Delta      int64        `json:"delta"`
	Reason     CreditReason `json:"reason"`
	JobID      *uuid.UUID   `json:"job_id,omitempty"`
	PaymentRef *string      `json:"payment_ref,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}
