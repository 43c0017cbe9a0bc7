package worker

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coloring-service/internal/errors"
	"github.com/coloring-service/internal/logging"
	"github.com/coloring-service/internal/models"
	"github.com/coloring-service/internal/queue"
	"github.com/coloring-service/internal/storage"
)

type fakeJobStore struct {
	jobs      map[uuid.UUID]*models.Job
	failed    map[uuid.UUID]string
	succeeded map[uuid.UUID]bool
	expired   []*models.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		jobs:      make(map[uuid.UUID]*models.Job),
		failed:    make(map[uuid.UUID]string),
		succeeded: make(map[uuid.UUID]bool),
	}
}

func (f *fakeJobStore) GetByID(_ context.Context, id uuid.UUID) (*models.Job, error) {
	if job, ok := f.jobs[id]; ok {
		return job, nil
	}
	return nil, errors.NewNotFoundError("job", id.String())
}

func (f *fakeJobStore) MarkRunning(_ context.Context, id uuid.UUID) error {
	job := f.jobs[id]
	if job.Status != models.JobQueued {
		return storage.ErrInvalidTransition
	}
	job.Status = models.JobRunning
	return nil
}

func (f *fakeJobStore) MarkSucceeded(_ context.Context, id uuid.UUID) error {
	job := f.jobs[id]
	if job.Status != models.JobRunning {
		return storage.ErrInvalidTransition
	}
	job.Status = models.JobSucceeded
	f.succeeded[id] = true
	return nil
}

func (f *fakeJobStore) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	job, ok := f.jobs[id]
	if !ok {
		return storage.ErrInvalidTransition
	}
	if job.Terminal() {
		return storage.ErrInvalidTransition
	}
	job.Status = models.JobFailed
	f.failed[id] = errMsg
	return nil
}

func (f *fakeJobStore) FindExpired(_ context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	return f.expired, nil
}

type fakeAssetWriter struct {
	created []*models.Asset
	err     error
}

func (f *fakeAssetWriter) Create(_ context.Context, asset *models.Asset) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, asset)
	return nil
}

type refundCall struct {
	userID string
	jobID  uuid.UUID
	amount int64
	reason models.CreditReason
}

type fakeRefunder struct {
	calls []refundCall
}

func (f *fakeRefunder) Refund(_ context.Context, userID string, jobID uuid.UUID, amount int64, reason models.CreditReason) {
	f.calls = append(f.calls, refundCall{userID, jobID, amount, reason})
}

type fakeQueue struct {
	acked      []string
	requeued   []string
	requeueErr error
}

func (f *fakeQueue) Claim(_ context.Context, consumer string, block time.Duration) (*queue.Delivery, error) {
	return nil, nil
}

func (f *fakeQueue) Ack(_ context.Context, id string) error {
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeQueue) Requeue(_ context.Context, d *queue.Delivery) error {
	if f.requeueErr != nil {
		return f.requeueErr
	}
	f.requeued = append(f.requeued, d.ID)
	return nil
}

func workerLogger() *logging.Logger {
	logger := logging.NewLogger(logging.LevelError, logging.FormatJSON)
	logger.SetOutput(io.Discard)
	return logger
}

func newConsumerFixture(t *testing.T, processor Processor) (*Consumer, *fakeJobStore, *fakeAssetWriter, *fakeRefunder, *fakeQueue) {
	t.Helper()
	jobs := newFakeJobStore()
	assets := &fakeAssetWriter{}
	refunder := &fakeRefunder{}
	q := &fakeQueue{}

	consumer, err := NewConsumer(&ConsumerConfig{
		Name:      "test-worker",
		Queue:     q,
		Jobs:      jobs,
		Assets:    assets,
		Refunder:  refunder,
		Processor: processor,
		Logger:    workerLogger(),
	})
	require.NoError(t, err)
	return consumer, jobs, assets, refunder, q
}

func queuedJob() *models.Job {
	return &models.Job{
		ID:     uuid.New(),
		UserID: "user-1",
		Status: models.JobQueued,
		Cost:   1,
	}
}

func delivery(job *models.Job, attempt int) *queue.Delivery {
	return &queue.Delivery{
		ID:  fmt.Sprintf("1-%d", attempt),
		Msg: queue.Message{JobID: job.ID, UserID: job.UserID, Attempt: attempt},
	}
}

func TestHandleSuccess(t *testing.T) {
	job := queuedJob()
	processor := ProcessorFunc(func(_ context.Context, j *models.Job) ([]Output, error) {
		return []Output{
			{Kind: models.AssetEdgeMap, StoragePath: models.ObjectPath(j.UserID, j.ID, "page.png")},
			{Kind: models.AssetPDF, StoragePath: models.ObjectPath(j.UserID, j.ID, "page.pdf")},
		}, nil
	})
	consumer, jobs, assets, refunder, q := newConsumerFixture(t, processor)
	jobs.jobs[job.ID] = job

	consumer.handle(context.Background(), delivery(job, 0))

	assert.Equal(t, models.JobSucceeded, job.Status)
	assert.Len(t, assets.created, 2)
	assert.Equal(t, job.ID, assets.created[0].JobID)
	assert.Len(t, q.acked, 1)
	assert.Empty(t, refunder.calls)
}

func TestHandleReclaimedRunningJobIsProcessed(t *testing.T) {
	job := queuedJob()
	job.Status = models.JobRunning
	processor := ProcessorFunc(func(_ context.Context, j *models.Job) ([]Output, error) {
		return []Output{
			{Kind: models.AssetPDF, StoragePath: models.ObjectPath(j.UserID, j.ID, "page.pdf")},
		}, nil
	})
	consumer, jobs, assets, refunder, q := newConsumerFixture(t, processor)
	jobs.jobs[job.ID] = job

	// First delivery of a job another consumer started but never
	// finished; it must run to completion, not be skipped.
	consumer.handle(context.Background(), delivery(job, 0))

	assert.Equal(t, models.JobSucceeded, job.Status)
	assert.Len(t, assets.created, 1)
	assert.Len(t, q.acked, 1)
	assert.Empty(t, refunder.calls)
}

func TestHandleFailureRequeues(t *testing.T) {
	job := queuedJob()
	processor := ProcessorFunc(func(context.Context, *models.Job) ([]Output, error) {
		return nil, fmt.Errorf("engine unavailable")
	})
	consumer, jobs, _, refunder, q := newConsumerFixture(t, processor)
	jobs.jobs[job.ID] = job

	consumer.handle(context.Background(), delivery(job, 0))

	// Still in flight: requeued, not failed, nothing refunded.
	assert.Equal(t, models.JobRunning, job.Status)
	assert.Len(t, q.requeued, 1)
	assert.Empty(t, jobs.failed)
	assert.Empty(t, refunder.calls)
}

func TestHandleExhaustedRetriesFailsAndRefunds(t *testing.T) {
	job := queuedJob()
	job.Status = models.JobRunning
	processor := ProcessorFunc(func(context.Context, *models.Job) ([]Output, error) {
		return nil, fmt.Errorf("engine unavailable")
	})
	consumer, jobs, _, refunder, q := newConsumerFixture(t, processor)
	jobs.jobs[job.ID] = job
	q.requeueErr = queue.ErrRetryExhausted

	consumer.handle(context.Background(), delivery(job, 2))

	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, jobs.failed[job.ID], "engine unavailable")
	require.Len(t, refunder.calls, 1)
	assert.Equal(t, models.ReasonRefundJobError, refunder.calls[0].reason)
	assert.Equal(t, int64(1), refunder.calls[0].amount)
	assert.Len(t, q.acked, 1)
}

func TestHandleTerminalJobIsAcked(t *testing.T) {
	job := queuedJob()
	job.Status = models.JobFailed
	processor := ProcessorFunc(func(context.Context, *models.Job) ([]Output, error) {
		t.Fatal("processor should not run for terminal jobs")
		return nil, nil
	})
	consumer, jobs, _, refunder, q := newConsumerFixture(t, processor)
	jobs.jobs[job.ID] = job

	consumer.handle(context.Background(), delivery(job, 1))

	assert.Len(t, q.acked, 1)
	assert.Empty(t, refunder.calls)
}

func TestHandleAssetWriteFailureRetries(t *testing.T) {
	job := queuedJob()
	processor := ProcessorFunc(func(_ context.Context, j *models.Job) ([]Output, error) {
		return []Output{{Kind: models.AssetPDF, StoragePath: "p"}}, nil
	})
	consumer, jobs, assets, _, q := newConsumerFixture(t, processor)
	jobs.jobs[job.ID] = job
	assets.err = fmt.Errorf("insert failed")

	consumer.handle(context.Background(), delivery(job, 0))

	assert.Len(t, q.requeued, 1)
	assert.NotEqual(t, models.JobSucceeded, job.Status)
}
