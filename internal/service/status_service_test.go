package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coloring-service/internal/errors"
	"github.com/coloring-service/internal/models"
)

func newStatusFixture() (*StatusService, *fakeJobStore, *fakeAssetStore, *fakeSigner) {
	jobs := newFakeJobStore()
	assets := &fakeAssetStore{assets: make(map[uuid.UUID][]*models.Asset)}
	signer := &fakeSigner{failPaths: make(map[string]bool)}
	svc := NewStatusService(jobs, assets, signer, time.Hour, testLogger())
	return svc, jobs, assets, signer
}

func succeededJob(userID string) *models.Job {
	job := &models.Job{
		ID:     uuid.New(),
		UserID: userID,
		Status: models.JobSucceeded,
		Params: promptParams("a fox"),
	}
	job.IdempotencyKey = job.Params.IdempotencyKey(userID)
	return job
}

func outputAssets(job *models.Job) []*models.Asset {
	var out []*models.Asset
	for _, kind := range models.OutputKinds {
		out = append(out, &models.Asset{
			ID:          uuid.New(),
			UserID:      job.UserID,
			JobID:       job.ID,
			Kind:        kind,
			StoragePath: models.ObjectPath(job.UserID, job.ID, string(kind)),
		})
	}
	return out
}

func TestGetJobSignsOutputLinks(t *testing.T) {
	svc, jobs, assets, _ := newStatusFixture()
	ctx := context.Background()

	job := succeededJob("user-1")
	jobs.put(job)
	assets.assets[job.ID] = outputAssets(job)

	view, err := svc.GetJob(ctx, "user-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VersionOriginal, view.VersionType)
	require.Len(t, view.DownloadURLs, 2)
	assert.Contains(t, view.DownloadURLs[models.AssetPDF], "https://store.local/")
	assert.Contains(t, view.DownloadURLs[models.AssetEdgeMap], job.ID.String())
}

func TestGetJobPendingHasNoLinks(t *testing.T) {
	svc, jobs, _, _ := newStatusFixture()
	ctx := context.Background()

	job := succeededJob("user-1")
	job.Status = models.JobQueued
	jobs.put(job)

	view, err := svc.GetJob(ctx, "user-1", job.ID)
	require.NoError(t, err)
	require.NotNil(t, view.DownloadURLs, "the map is present even before completion")
	assert.Empty(t, view.DownloadURLs)
}

func TestGetJobSigningFailureIsPartial(t *testing.T) {
	svc, jobs, assets, signer := newStatusFixture()
	ctx := context.Background()

	job := succeededJob("user-1")
	jobs.put(job)
	assets.assets[job.ID] = outputAssets(job)
	signer.failPaths[models.ObjectPath(job.UserID, job.ID, string(models.AssetPDF))] = true

	view, err := svc.GetJob(ctx, "user-1", job.ID)
	require.NoError(t, err)
	require.Len(t, view.DownloadURLs, 1)
	assert.Contains(t, view.DownloadURLs, models.AssetEdgeMap)
}

func TestDownloadURLForFinishedJob(t *testing.T) {
	svc, jobs, assets, _ := newStatusFixture()
	ctx := context.Background()

	job := succeededJob("user-1")
	jobs.put(job)
	assets.assets[job.ID] = outputAssets(job)

	url, err := svc.DownloadURL(ctx, "user-1", job.ID, models.AssetPDF)
	require.NoError(t, err)
	assert.Contains(t, url, "https://store.local/")
	assert.Contains(t, url, job.ID.String())
}

func TestDownloadURLRejectsUnfinishedJob(t *testing.T) {
	svc, jobs, _, _ := newStatusFixture()
	ctx := context.Background()

	job := succeededJob("user-1")
	job.Status = models.JobRunning
	jobs.put(job)

	_, err := svc.DownloadURL(ctx, "user-1", job.ID, models.AssetPDF)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}

func TestDownloadURLMissingArtifactIsNotFound(t *testing.T) {
	svc, jobs, _, _ := newStatusFixture()
	ctx := context.Background()

	job := succeededJob("user-1")
	jobs.put(job)

	_, err := svc.DownloadURL(ctx, "user-1", job.ID, models.AssetEdgeMap)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestGetJobForeignOwnerIsNotFound(t *testing.T) {
	svc, jobs, _, _ := newStatusFixture()
	ctx := context.Background()

	job := succeededJob("user-1")
	jobs.put(job)

	_, err := svc.GetJob(ctx, "user-2", job.ID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}
