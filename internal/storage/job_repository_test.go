package storage

import (
	stderrors "errors"
	"testing"

	"github.com/google/uuid"

	"github.com/coloring-service/internal/models"
)

func testJob(userID string) *models.Job {
	params := models.JobParams{
		SourceKind:    models.SourcePrompt,
		Prompt:        "a lighthouse at dusk " + uuid.NewString(),
		Complexity:    models.ComplexityStandard,
		LineThickness: models.LineMedium,
	}
	return &models.Job{
		ID:             uuid.New(),
		UserID:         userID,
		Params:         params,
		IdempotencyKey: params.IdempotencyKey(userID),
		Cost:           1,
		Model:          "lineart-v2",
	}
}

func TestCreateIdempotentDeduplicates(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := testContext(t)

	userID := "it-user-" + uuid.NewString()
	job := testJob(userID)

	created, persisted, err := repo.CreateIdempotent(ctx, job)
	if err != nil {
		t.Fatalf("CreateIdempotent() error = %v", err)
	}
	if !created {
		t.Fatal("CreateIdempotent() created = false for a fresh key")
	}
	if persisted.Status != models.JobQueued {
		t.Errorf("new job Status = %s, want %s", persisted.Status, models.JobQueued)
	}

	dup := testJob(userID)
	dup.Params = job.Params
	dup.IdempotencyKey = job.IdempotencyKey

	created, existing, err := repo.CreateIdempotent(ctx, dup)
	if err != nil {
		t.Fatalf("CreateIdempotent() duplicate error = %v", err)
	}
	if created {
		t.Error("CreateIdempotent() created = true for a duplicate key")
	}
	if existing.ID != job.ID {
		t.Errorf("duplicate resolved to job %s, want %s", existing.ID, job.ID)
	}
}

func TestStatusTransitionsAreGuarded(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := testContext(t)

	userID := "it-user-" + uuid.NewString()
	job := testJob(userID)
	if _, _, err := repo.CreateIdempotent(ctx, job); err != nil {
		t.Fatalf("CreateIdempotent() error = %v", err)
	}

	// queued cannot jump straight to succeeded.
	if err := repo.MarkSucceeded(ctx, job.ID); !stderrors.Is(err, ErrInvalidTransition) {
		t.Errorf("MarkSucceeded() from queued error = %v, want ErrInvalidTransition", err)
	}

	if err := repo.MarkRunning(ctx, job.ID); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	if err := repo.MarkRunning(ctx, job.ID); !stderrors.Is(err, ErrInvalidTransition) {
		t.Errorf("MarkRunning() twice error = %v, want ErrInvalidTransition", err)
	}

	if err := repo.MarkSucceeded(ctx, job.ID); err != nil {
		t.Fatalf("MarkSucceeded() error = %v", err)
	}

	// Terminal states never move again.
	if err := repo.MarkFailed(ctx, job.ID, "late failure"); !stderrors.Is(err, ErrInvalidTransition) {
		t.Errorf("MarkFailed() after succeeded error = %v, want ErrInvalidTransition", err)
	}

	got, err := repo.GetByIDForUser(ctx, job.ID, userID)
	if err != nil {
		t.Fatalf("GetByIDForUser() error = %v", err)
	}
	if got.Status != models.JobSucceeded {
		t.Errorf("Status = %s, want %s", got.Status, models.JobSucceeded)
	}
	if got.StartedAt == nil || got.EndedAt == nil {
		t.Error("StartedAt and EndedAt must be stamped on a finished job")
	}
}

func TestGetByIDForUserScopesOwnership(t *testing.T) {
	db := setupTestDB(t)
	repo := NewJobRepository(db)
	ctx := testContext(t)

	job := testJob("it-user-" + uuid.NewString())
	if _, _, err := repo.CreateIdempotent(ctx, job); err != nil {
		t.Fatalf("CreateIdempotent() error = %v", err)
	}

	if _, err := repo.GetByIDForUser(ctx, job.ID, "it-someone-else"); err == nil {
		t.Error("GetByIDForUser() with a foreign owner must not find the job")
	}
}
