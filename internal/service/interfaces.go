// Package service contains the application logic between the HTTP surface
// and storage: credit accounting, job submission, status reads, and the
// edit version chain.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/coloring-service/internal/models"
	"github.com/coloring-service/internal/queue"
)

// JobStore is the persistence surface the services need for jobs.
type JobStore interface {
	CreateIdempotent(ctx context.Context, job *models.Job) (bool, *models.Job, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Job, error)
	GetByIDForUser(ctx context.Context, id uuid.UUID, userID string) (*models.Job, error)
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Job, error)
}

// Ledger is the credit balance and audit trail surface.
type Ledger interface {
	Debit(ctx context.Context, userID string, amount int64, reason models.CreditReason, jobID *uuid.UUID) (int64, error)
	Credit(ctx context.Context, userID string, amount int64, reason models.CreditReason, jobID *uuid.UUID, paymentRef *string) (int64, error)
	Balance(ctx context.Context, userID string) (int64, error)
	Events(ctx context.Context, userID string, limit, offset int) ([]*models.CreditEvent, error)
}

// QueueSender enqueues accepted jobs for the worker.
type QueueSender interface {
	Send(ctx context.Context, msg queue.Message, dedupeKey string) (bool, error)
}

// AssetStore is the persistence surface for job artifacts.
type AssetStore interface {
	ListByJob(ctx context.Context, userID string, jobID uuid.UUID, kinds []models.AssetKind) ([]*models.Asset, error)
	GetByJobAndKind(ctx context.Context, userID string, jobID uuid.UUID, kind models.AssetKind) (*models.Asset, error)
}

// URLSigner issues short-lived download links for stored objects.
type URLSigner interface {
	PresignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
}
