package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coloring-service/internal/models"
)

func TestSweepFailsAndRefundsExpiredJobs(t *testing.T) {
	jobs := newFakeJobStore()
	refunder := &fakeRefunder{}

	stale := &models.Job{ID: uuid.New(), UserID: "user-1", Status: models.JobQueued, Cost: 1}
	stuck := &models.Job{ID: uuid.New(), UserID: "user-2", Status: models.JobRunning, Cost: 1}
	jobs.jobs[stale.ID] = stale
	jobs.jobs[stuck.ID] = stuck
	jobs.expired = []*models.Job{stale, stuck}

	sweeper, err := NewSweeper(jobs, refunder, 30*time.Minute, time.Minute, workerLogger())
	require.NoError(t, err)

	swept, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, swept)

	assert.Equal(t, models.JobFailed, stale.Status)
	assert.Equal(t, models.JobFailed, stuck.Status)
	assert.Equal(t, expiredReason, jobs.failed[stale.ID])

	require.Len(t, refunder.calls, 2)
	for _, call := range refunder.calls {
		assert.Equal(t, models.ReasonRefundFailed, call.reason)
		assert.Equal(t, int64(1), call.amount)
	}
}

func TestSweepSkipsJobsThatJustFinished(t *testing.T) {
	jobs := newFakeJobStore()
	refunder := &fakeRefunder{}

	// Listed as expired but a worker completed it between the scan and
	// the guarded update.
	done := &models.Job{ID: uuid.New(), UserID: "user-1", Status: models.JobSucceeded, Cost: 1}
	jobs.jobs[done.ID] = done
	jobs.expired = []*models.Job{done}

	sweeper, err := NewSweeper(jobs, refunder, 30*time.Minute, time.Minute, workerLogger())
	require.NoError(t, err)

	swept, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, swept)
	assert.Empty(t, refunder.calls)
	assert.Equal(t, models.JobSucceeded, done.Status)
}

func TestNewSweeperValidation(t *testing.T) {
	_, err := NewSweeper(nil, &fakeRefunder{}, time.Minute, time.Minute, workerLogger())
	assert.Error(t, err)

	_, err = NewSweeper(newFakeJobStore(), nil, time.Minute, time.Minute, workerLogger())
	assert.Error(t, err)

	_, err = NewSweeper(newFakeJobStore(), &fakeRefunder{}, 0, time.Minute, workerLogger())
	assert.Error(t, err)
}
