package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coloring-service/internal/errors"
	"github.com/coloring-service/internal/models"
	"github.com/coloring-service/internal/queue"
)

type fakeJobStore struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]*models.Job
	byKey     map[string]*models.Job
	createErr error
	failed    map[uuid.UUID]string
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		byID:   make(map[uuid.UUID]*models.Job),
		byKey:  make(map[string]*models.Job),
		failed: make(map[uuid.UUID]string),
	}
}

func (f *fakeJobStore) put(job *models.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[job.ID] = job
	if job.IdempotencyKey != "" {
		f.byKey[job.IdempotencyKey] = job
	}
}

func (f *fakeJobStore) CreateIdempotent(_ context.Context, job *models.Job) (bool, *models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return false, nil, f.createErr
	}
	if existing, ok := f.byKey[job.IdempotencyKey]; ok {
		return false, existing, nil
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = models.JobQueued
	job.CreatedAt = time.Now().UTC()
	job.UpdatedAt = job.CreatedAt
	f.byID[job.ID] = job
	f.byKey[job.IdempotencyKey] = job
	return true, job, nil
}

func (f *fakeJobStore) GetByIdempotencyKey(_ context.Context, key string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.byKey[key]; ok {
		return job, nil
	}
	return nil, errors.NewNotFoundError("job", key)
}

func (f *fakeJobStore) GetByIDForUser(_ context.Context, id uuid.UUID, userID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.byID[id]
	if !ok || job.UserID != userID {
		return nil, errors.NewNotFoundError("job", id.String())
	}
	return job, nil
}

func (f *fakeJobStore) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.byID[id]; ok {
		job.Status = models.JobFailed
		job.Error = &errMsg
	}
	f.failed[id] = errMsg
	return nil
}

func (f *fakeJobStore) ListByUser(_ context.Context, userID string, limit, offset int) ([]*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var jobs []*models.Job
	for _, job := range f.byID {
		if job.UserID == userID {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

type fakeLedger struct {
	mu        sync.Mutex
	balances  map[string]int64
	events    []*models.CreditEvent
	creditErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[string]int64)}
}

func (f *fakeLedger) Debit(_ context.Context, userID string, amount int64, reason models.CreditReason, jobID *uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances[userID] < amount {
		return 0, errors.NewInsufficientCreditsError(amount)
	}
	f.balances[userID] -= amount
	f.events = append(f.events, &models.CreditEvent{
		ID: uuid.New(), UserID: userID, Delta: -amount, Reason: reason, JobID: jobID,
	})
	return f.balances[userID], nil
}

func (f *fakeLedger) Credit(_ context.Context, userID string, amount int64, reason models.CreditReason, jobID *uuid.UUID, paymentRef *string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.creditErr != nil {
		return 0, f.creditErr
	}
	f.balances[userID] += amount
	f.events = append(f.events, &models.CreditEvent{
		ID: uuid.New(), UserID: userID, Delta: amount, Reason: reason, JobID: jobID, PaymentRef: paymentRef,
	})
	return f.balances[userID], nil
}

func (f *fakeLedger) Balance(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID], nil
}

func (f *fakeLedger) Events(_ context.Context, userID string, limit, offset int) ([]*models.CreditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.CreditEvent
	for _, ev := range f.events {
		if ev.UserID == userID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeLedger) eventsByReason(reason models.CreditReason) []*models.CreditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.CreditEvent
	for _, ev := range f.events {
		if ev.Reason == reason {
			out = append(out, ev)
		}
	}
	return out
}

type fakeUploadStore struct {
	mu        sync.Mutex
	uploads   map[uuid.UUID]*models.SourceAsset
	createErr error
}

func newFakeUploadStore() *fakeUploadStore {
	return &fakeUploadStore{uploads: make(map[uuid.UUID]*models.SourceAsset)}
}

func (f *fakeUploadStore) Create(_ context.Context, upload *models.SourceAsset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if upload.ID == uuid.Nil {
		upload.ID = uuid.New()
	}
	f.uploads[upload.ID] = upload
	return nil
}

func (f *fakeUploadStore) GetForUser(_ context.Context, id uuid.UUID, userID string) (*models.SourceAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	upload, ok := f.uploads[id]
	if !ok || upload.UserID != userID {
		return nil, errors.NewNotFoundError("upload", id.String())
	}
	return upload, nil
}

type fakeQueue struct {
	mu   sync.Mutex
	sent []queue.Message
	err  error
}

func (f *fakeQueue) Send(_ context.Context, msg queue.Message, dedupeKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.sent = append(f.sent, msg)
	return true, nil
}

type fakeAssetStore struct {
	assets map[uuid.UUID][]*models.Asset
}

func (f *fakeAssetStore) ListByJob(_ context.Context, userID string, jobID uuid.UUID, kinds []models.AssetKind) ([]*models.Asset, error) {
	var out []*models.Asset
	for _, asset := range f.assets[jobID] {
		if asset.UserID != userID {
			continue
		}
		for _, kind := range kinds {
			if asset.Kind == kind {
				out = append(out, asset)
			}
		}
	}
	return out, nil
}

func (f *fakeAssetStore) GetByJobAndKind(_ context.Context, userID string, jobID uuid.UUID, kind models.AssetKind) (*models.Asset, error) {
	for _, asset := range f.assets[jobID] {
		if asset.UserID == userID && asset.Kind == kind {
			return asset, nil
		}
	}
	return nil, errors.NewNotFoundError("asset", jobID.String())
}

type fakeSigner struct {
	failPaths map[string]bool
}

func (f *fakeSigner) PresignedURL(_ context.Context, objectPath string, ttl time.Duration) (string, error) {
	if f.failPaths[objectPath] {
		return "", fmt.Errorf("signing unavailable")
	}
	return "https://store.local/" + objectPath + "?expires=" + ttl.String(), nil
}
