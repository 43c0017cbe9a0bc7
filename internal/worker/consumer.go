package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/coloring-service/internal/logging"
	"github.com/coloring-service/internal/models"
	"github.com/coloring-service/internal/queue"
	"github.com/coloring-service/internal/storage"
)

// JobStore is the job persistence surface the worker needs.
type JobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	MarkSucceeded(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	FindExpired(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error)
}

// AssetWriter records produced artifacts.
type AssetWriter interface {
	Create(ctx context.Context, asset *models.Asset) error
}

// Refunder compensates the debit of a job that will never succeed.
type Refunder interface {
	Refund(ctx context.Context, userID string, jobID uuid.UUID, amount int64, reason models.CreditReason)
}

// Queue is the consumer-side queue surface.
type Queue interface {
	Claim(ctx context.Context, consumer string, block time.Duration) (*queue.Delivery, error)
	Ack(ctx context.Context, id string) error
	Requeue(ctx context.Context, d *queue.Delivery) error
}

// ConsumerConfig holds the dependencies and tuning for one consumer.
type ConsumerConfig struct {
	Name         string
	Queue        Queue
	Jobs         JobStore
	Assets       AssetWriter
	Refunder     Refunder
	Processor    Processor
	ClaimsPerSec int
	ClaimBlock   time.Duration
	Logger       *logging.Logger
}

// Consumer claims queued jobs one at a time and drives them to a terminal
// status. Claims are paced so a burst of queued work cannot starve the
// shared Redis connection.
type Consumer struct {
	name      string
	queue     Queue
	jobs      JobStore
	assets    AssetWriter
	refunder  Refunder
	processor Processor
	limiter   *rate.Limiter
	block     time.Duration
	logger    *logging.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewConsumer creates a consumer. All dependencies are required.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("job store cannot be nil")
	}
	if cfg.Assets == nil {
		return nil, fmt.Errorf("asset writer cannot be nil")
	}
	if cfg.Refunder == nil {
		return nil, fmt.Errorf("refunder cannot be nil")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}

	name := cfg.Name
	if name == "" {
		name = "worker-" + uuid.NewString()[:8]
	}
	claimsPerSec := cfg.ClaimsPerSec
	if claimsPerSec <= 0 {
		claimsPerSec = 10
	}
	block := cfg.ClaimBlock
	if block <= 0 {
		block = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Consumer{
		name:      name,
		queue:     cfg.Queue,
		jobs:      cfg.Jobs,
		assets:    cfg.Assets,
		refunder:  cfg.Refunder,
		processor: cfg.Processor,
		limiter:   rate.NewLimiter(rate.Limit(claimsPerSec), 1),
		block:     block,
		logger:    logger.WithField("consumer", name),
	}, nil
}

// Start launches the claim loop. It is an error to start twice.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("consumer already running")
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	go c.loop(ctx)
	return nil
}

// Stop signals the loop and waits for the in-flight job to finish.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	done := c.doneCh
	c.mu.Unlock()

	<-done
}

func (c *Consumer) loop(ctx context.Context) {
	defer close(c.doneCh)
	c.logger.Info("consumer started")

	for {
		select {
		case <-c.stopCh:
			c.logger.Info("consumer stopped")
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return
		}

		delivery, err := c.queue.Claim(ctx, c.name, c.block)
		if err != nil {
			c.logger.WithError(err).Warn("claim failed")
			continue
		}
		if delivery == nil {
			continue
		}

		c.handle(ctx, delivery)
	}
}

// handle drives one delivery to ack. Failures requeue until the retry
// budget is spent, then the job fails for good and the debit is returned.
func (c *Consumer) handle(ctx context.Context, d *queue.Delivery) {
	logger := c.logger.WithFields(map[string]interface{}{
		"job_id":  d.Msg.JobID.String(),
		"attempt": d.Msg.Attempt,
	})

	job, err := c.jobs.GetByID(ctx, d.Msg.JobID)
	if err != nil {
		logger.WithError(err).Error("failed to load claimed job")
		_ = c.queue.Ack(ctx, d.ID)
		return
	}

	if job.Terminal() {
		// Redelivery of work that already finished, e.g. after the
		// sweeper expired it. Nothing to do.
		_ = c.queue.Ack(ctx, d.ID)
		return
	}

	if job.Status == models.JobQueued {
		if err := c.jobs.MarkRunning(ctx, job.ID); err != nil && !errors.Is(err, storage.ErrInvalidTransition) {
			logger.WithError(err).Error("failed to mark job running")
			c.retryOrFail(ctx, d, job, "could not start processing")
			return
		}
	}
	// A job already running is processed anyway: the delivery came back
	// through a requeue or was reclaimed from a consumer that died. The
	// asset upsert and guarded transitions keep a rerun harmless.

	outputs, err := c.processor.Process(ctx, job)
	if err != nil {
		logger.WithError(err).Warn("processing failed")
		c.retryOrFail(ctx, d, job, err.Error())
		return
	}

	for _, out := range outputs {
		asset := &models.Asset{
			UserID:      job.UserID,
			JobID:       job.ID,
			Kind:        out.Kind,
			StoragePath: out.StoragePath,
			Width:       out.Width,
			Height:      out.Height,
			SizeBytes:   out.SizeBytes,
			SHA256:      out.SHA256,
		}
		if err := c.assets.Create(ctx, asset); err != nil {
			logger.WithError(err).Error("failed to record artifact")
			c.retryOrFail(ctx, d, job, "could not record output")
			return
		}
	}

	if err := c.jobs.MarkSucceeded(ctx, job.ID); err != nil {
		logger.WithError(err).Error("failed to mark job succeeded")
		c.retryOrFail(ctx, d, job, "could not finalize job")
		return
	}

	_ = c.queue.Ack(ctx, d.ID)
	logger.Info("job succeeded")
}

// retryOrFail requeues the delivery, or on an exhausted retry budget fails
// the job and refunds its debit.
func (c *Consumer) retryOrFail(ctx context.Context, d *queue.Delivery, job *models.Job, reason string) {
	err := c.queue.Requeue(ctx, d)
	if err == nil {
		return
	}
	if !errors.Is(err, queue.ErrRetryExhausted) {
		c.logger.WithError(err).WithField("job_id", job.ID.String()).Error("requeue failed")
		return
	}

	if err := c.jobs.MarkFailed(ctx, job.ID, reason); err != nil {
		c.logger.WithError(err).WithField("job_id", job.ID.String()).Error("failed to mark job failed")
	}
	c.refunder.Refund(ctx, job.UserID, job.ID, job.Cost, models.ReasonRefundJobError)
	_ = c.queue.Ack(ctx, d.ID)

	c.logger.WithFields(map[string]interface{}{
		"job_id": job.ID.String(),
		"reason": reason,
	}).Warn("job failed after exhausting retries")
}
