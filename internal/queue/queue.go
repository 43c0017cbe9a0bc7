// Package queue implements the durable job queue on Redis streams, with
// idempotent submission and bounded redelivery.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/coloring-service/internal/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRetryExhausted is returned when a message has already used all of its
// processing attempts.
var ErrRetryExhausted = errors.New("retry limit exhausted for queued job")

// Message is the unit handed to the worker through the stream.
type Message struct {
	JobID      uuid.UUID
	UserID     string
	Attempt    int // 0 for the first delivery
	EnqueuedAt time.Time
}

// Delivery is a claimed message plus its stream id for acknowledgement.
type Delivery struct {
	ID  string
	Msg Message
}

// Client is the durable queue client. It is constructed once at service
// start and injected; there is no lazily-initialized shared connection.
type Client struct {
	redis       *redis.Client
	stream      string
	group       string
	dedupeTTL   time.Duration
	retryLimit  int
	reclaimIdle time.Duration
}

// NewClient creates a queue client for the configured stream and group.
func NewClient(rdb *redis.Client, cfg *config.QueueConfig) (*Client, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Stream == "" || cfg.Group == "" {
		return nil, errors.New("stream and group are required")
	}

	reclaimIdle := cfg.ReclaimIdle
	if reclaimIdle <= 0 {
		reclaimIdle = 5 * time.Minute
	}

	return &Client{
		redis:       rdb,
		stream:      cfg.Stream,
		group:       cfg.Group,
		dedupeTTL:   cfg.DedupeHorizon,
		retryLimit:  cfg.RetryLimit,
		reclaimIdle: reclaimIdle,
	}, nil
}

// RetryLimit returns the configured redelivery ceiling.
func (c *Client) RetryLimit() int {
	return c.retryLimit
}

// EnsureGroup creates the consumer group if it does not exist yet.
func (c *Client) EnsureGroup(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

func (c *Client) dedupeKey(key string) string {
	return "queue:dedupe:" + c.stream + ":" + key
}

// Send appends a message to the stream. When dedupeKey is non-empty, a
// second Send with the same key within the dedupe horizon is suppressed
// and reported with queued=false; suppression is not an error.
func (c *Client) Send(ctx context.Context, msg Message, dedupeKey string) (bool, error) {
	if dedupeKey != "" {
		set, err := c.redis.SetNX(ctx, c.dedupeKey(dedupeKey), msg.JobID.String(), c.dedupeTTL).Result()
		if err != nil {
			return false, fmt.Errorf("failed to set dedupe marker: %w", err)
		}
		if !set {
			return false, nil
		}
	}

	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}

	err := c.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream,
		Values: map[string]interface{}{
			"job_id":      msg.JobID.String(),
			"user_id":     msg.UserID,
			"attempt":     msg.Attempt,
			"enqueued_at": msg.EnqueuedAt.Unix(),
		},
	}).Err()
	if err != nil {
		// Roll the marker back so a later resubmission is not suppressed
		// by an enqueue that never happened.
		if dedupeKey != "" {
			_ = c.redis.Del(ctx, c.dedupeKey(dedupeKey)).Err()
		}
		return false, fmt.Errorf("failed to append to stream: %w", err)
	}

	return true, nil
}

// Claim returns the next message for the consumer: first any delivery
// left unacknowledged past the reclaim idle time, whose consumer is
// presumed dead, then a fresh entry. Blocks up to the given duration;
// a non-positive block returns immediately when the stream is drained.
// Returns nil when nothing arrived.
func (c *Client) Claim(ctx context.Context, consumer string, block time.Duration) (*Delivery, error) {
	if d, err := c.reclaim(ctx, consumer); d != nil || err != nil {
		return d, err
	}

	if block <= 0 {
		block = -1 // a zero Block would wait forever
	}

	streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: consumer,
		Streams:  []string{c.stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	return c.toDelivery(ctx, streams[0].Messages[0])
}

// reclaim takes over one pending entry whose original consumer stopped
// acknowledging, so a crashed worker cannot strand a delivery forever.
func (c *Client) reclaim(ctx context.Context, consumer string) (*Delivery, error) {
	msgs, _, err := c.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: consumer,
		MinIdle:  c.reclaimIdle,
		Start:    "0",
		Count:    1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to reclaim pending entries: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	return c.toDelivery(ctx, msgs[0])
}

func (c *Client) toDelivery(ctx context.Context, raw redis.XMessage) (*Delivery, error) {
	msg, err := parseMessage(raw.Values)
	if err != nil {
		// Poison entry: ack so it does not wedge the group.
		_ = c.Ack(ctx, raw.ID)
		return nil, fmt.Errorf("malformed stream entry %s: %w", raw.ID, err)
	}

	return &Delivery{ID: raw.ID, Msg: msg}, nil
}

// Ack acknowledges a delivery.
func (c *Client) Ack(ctx context.Context, id string) error {
	if err := c.redis.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		return fmt.Errorf("failed to ack %s: %w", id, err)
	}
	return nil
}

// Requeue acknowledges the failed delivery and appends it again with the
// attempt counter bumped. Returns ErrRetryExhausted once the message has
// used all of its attempts.
func (c *Client) Requeue(ctx context.Context, d *Delivery) error {
	if d.Msg.Attempt >= c.retryLimit {
		return ErrRetryExhausted
	}

	if err := c.Ack(ctx, d.ID); err != nil {
		return err
	}

	next := d.Msg
	next.Attempt++
	// No dedupe marker on redelivery; the original Send holds it.
	if _, err := c.Send(ctx, next, ""); err != nil {
		return fmt.Errorf("failed to requeue %s: %w", d.Msg.JobID, err)
	}

	return nil
}

// Depth returns the current stream length, for health reporting.
func (c *Client) Depth(ctx context.Context) (int64, error) {
	n, err := c.redis.XLen(ctx, c.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read stream length: %w", err)
	}
	return n, nil
}

func parseMessage(values map[string]interface{}) (Message, error) {
	var msg Message

	jobIDStr, ok := values["job_id"].(string)
	if !ok {
		return msg, errors.New("missing job_id")
	}
	jobID, err := uuid.Parse(jobIDStr)
	if err != nil {
		return msg, fmt.Errorf("invalid job_id: %w", err)
	}
	msg.JobID = jobID

	userID, ok := values["user_id"].(string)
	if !ok {
		return msg, errors.New("missing user_id")
	}
	msg.UserID = userID

	if attemptStr, ok := values["attempt"].(string); ok {
		attempt, err := strconv.Atoi(attemptStr)
		if err != nil {
			return msg, fmt.Errorf("invalid attempt: %w", err)
		}
		msg.Attempt = attempt
	}

	if tsStr, ok := values["enqueued_at"].(string); ok {
		ts, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return msg, fmt.Errorf("invalid enqueued_at: %w", err)
		}
		msg.EnqueuedAt = time.Unix(ts, 0).UTC()
	}

	return msg, nil
}
