package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coloring-service/internal/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestQueue(t *testing.T) (*Client, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	client, err := NewClient(rdb, &config.QueueConfig{
		Stream:        "jobs:test",
		Group:         "workers",
		DedupeHorizon: 10 * time.Minute,
		RetryLimit:    2,
		ReclaimIdle:   5 * time.Minute,
	})
	if err != nil {
		mr.Close()
		t.Fatalf("failed to create queue client: %v", err)
	}

	if err := client.EnsureGroup(context.Background()); err != nil {
		mr.Close()
		t.Fatalf("failed to create group: %v", err)
	}

	cleanup := func() {
		_ = rdb.Close()
		mr.Close()
	}

	return client, mr, cleanup
}

func TestSendClaimAck(t *testing.T) {
	client, _, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	jobID := uuid.New()

	queued, err := client.Send(ctx, Message{JobID: jobID, UserID: "user-1"}, "key-1")
	require.NoError(t, err)
	assert.True(t, queued)

	d, err := client.Claim(ctx, "worker-1", 0)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, jobID, d.Msg.JobID)
	assert.Equal(t, "user-1", d.Msg.UserID)
	assert.Equal(t, 0, d.Msg.Attempt)

	require.NoError(t, client.Ack(ctx, d.ID))

	d, err = client.Claim(ctx, "worker-1", 0)
	require.NoError(t, err)
	assert.Nil(t, d, "acked message must not be redelivered")
}

func TestClaimDrainedStreamReturnsPromptly(t *testing.T) {
	client, _, cleanup := setupTestQueue(t)
	defer cleanup()

	done := make(chan struct{})
	go func() {
		defer close(done)
		d, err := client.Claim(context.Background(), "worker-1", 0)
		assert.NoError(t, err)
		assert.Nil(t, d)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("claim with no block duration did not return on a drained stream")
	}
}

func TestClaimReclaimsAbandonedDelivery(t *testing.T) {
	client, mr, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	jobID := uuid.New()

	_, err := client.Send(ctx, Message{JobID: jobID, UserID: "user-1"}, "")
	require.NoError(t, err)

	// worker-1 claims and then disappears without acking.
	d, err := client.Claim(ctx, "worker-1", 0)
	require.NoError(t, err)
	require.NotNil(t, d)

	// Still within the idle window the delivery belongs to worker-1.
	d2, err := client.Claim(ctx, "worker-2", 0)
	require.NoError(t, err)
	assert.Nil(t, d2)

	mr.FastForward(6 * time.Minute)

	d2, err = client.Claim(ctx, "worker-2", 0)
	require.NoError(t, err)
	require.NotNil(t, d2)
	assert.Equal(t, jobID, d2.Msg.JobID)
	require.NoError(t, client.Ack(ctx, d2.ID))
}

func TestSendDeduplicates(t *testing.T) {
	client, _, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	jobID := uuid.New()

	queued, err := client.Send(ctx, Message{JobID: jobID, UserID: "user-1"}, "same-key")
	require.NoError(t, err)
	assert.True(t, queued)

	// Identical semantic content within the horizon collapses into the
	// already-queued unit of work.
	queued, err = client.Send(ctx, Message{JobID: uuid.New(), UserID: "user-1"}, "same-key")
	require.NoError(t, err)
	assert.False(t, queued)

	depth, err := client.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestDedupeMarkerExpires(t *testing.T) {
	client, mr, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()

	queued, err := client.Send(ctx, Message{JobID: uuid.New(), UserID: "user-1"}, "key")
	require.NoError(t, err)
	assert.True(t, queued)

	mr.FastForward(11 * time.Minute)

	queued, err = client.Send(ctx, Message{JobID: uuid.New(), UserID: "user-1"}, "key")
	require.NoError(t, err)
	assert.True(t, queued, "marker past the horizon must not suppress")
}

func TestRequeueBoundedRetry(t *testing.T) {
	client, _, cleanup := setupTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	jobID := uuid.New()

	_, err := client.Send(ctx, Message{JobID: jobID, UserID: "user-1"}, "")
	require.NoError(t, err)

	// Attempts 0 and 1 fail and are requeued with the counter bumped.
	for want := 0; want <= 1; want++ {
		d, err := client.Claim(ctx, "worker-1", 0)
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, want, d.Msg.Attempt)

		require.NoError(t, client.Requeue(ctx, d))
	}

	// The final attempt cannot be requeued again.
	d, err := client.Claim(ctx, "worker-1", 0)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 2, d.Msg.Attempt)

	err = client.Requeue(ctx, d)
	assert.ErrorIs(t, err, ErrRetryExhausted)
	require.NoError(t, client.Ack(ctx, d.ID))
}
