package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coloring-service/internal/logging"
	"github.com/coloring-service/internal/models"
)

const sweepBatchSize = 100

const expiredReason = "expired before processing"

// Sweeper reconciles jobs the pipeline lost: anything still queued or
// running past the expiry horizon is failed and its debit returned, so a
// crashed worker or a dropped stream entry never strands a charge.
type Sweeper struct {
	jobs     JobStore
	refunder Refunder
	expireIn time.Duration
	interval time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSweeper creates a sweeper over abandoned jobs.
func NewSweeper(jobs JobStore, refunder Refunder, expireIn, interval time.Duration, logger *logging.Logger) (*Sweeper, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job store cannot be nil")
	}
	if refunder == nil {
		return nil, fmt.Errorf("refunder cannot be nil")
	}
	if expireIn <= 0 {
		return nil, fmt.Errorf("expiry horizon must be positive")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Sweeper{
		jobs:     jobs,
		refunder: refunder,
		expireIn: expireIn,
		interval: interval,
		logger:   logger.WithField("component", "sweeper"),
	}, nil
}

// Start launches the periodic sweep.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sweeper already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.loop(ctx)
	return nil
}

// Stop signals the loop and waits for the current sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Infof("sweeper started, horizon %s", s.expireIn)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.logger.WithError(err).Error("sweep failed")
			} else if n > 0 {
				s.logger.Infof("swept %d expired jobs", n)
			}
		}
	}
}

// Sweep fails every expired job it can find and returns how many it
// closed out.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.expireIn)

	expired, err := s.jobs.FindExpired(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, job := range expired {
		if err := s.jobs.MarkFailed(ctx, job.ID, expiredReason); err != nil {
			// Lost the race with a worker finishing it; leave it be.
			s.logger.WithError(err).WithField("job_id", job.ID.String()).Warn("could not expire job")
			continue
		}
		s.refunder.Refund(ctx, job.UserID, job.ID, job.Cost, models.ReasonRefundFailed)
		swept++
	}

	return swept, nil
}
