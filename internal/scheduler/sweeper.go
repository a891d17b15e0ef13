package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/formweave/webhook-engine/internal/adapter"
	"github.com/formweave/webhook-engine/internal/logger"
	"github.com/formweave/webhook-engine/internal/store"
)

// SweeperConfig holds the sweep loop parameters
type SweeperConfig struct {
	// Interval between sweep cycles. Must stay below the smallest
	// configured retry interval or retries drift late.
	Interval time.Duration
	// BatchSize caps how many due tasks one cycle picks up
	BatchSize int
	// ClaimExpiry mirrors the scheduler setting so abandoned in_flight
	// tasks get re-swept
	ClaimExpiry time.Duration
}

// Submitter hands due tasks to an executor
type Submitter interface {
	Submit(taskID string)
}

// Sweeper periodically scans the ledger for due tasks and submits them.
// Overlapping sweeps and concurrent workers are safe because execution
// starts with the atomic claim.
type Sweeper struct {
	config    SweeperConfig
	store     store.Store
	clock     adapter.Clock
	submitter Submitter
	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

// NewSweeper creates a new delivery sweeper
func NewSweeper(config SweeperConfig, st store.Store, clock adapter.Clock, submitter Submitter) *Sweeper {
	return &Sweeper{
		config:    config,
		store:     st,
		clock:     clock,
		submitter: submitter,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Name returns the sweeper's name for logging and identification
func (s *Sweeper) Name() string {
	return "delivery-sweeper"
}

// Start begins the sweep loop. This is a blocking call that runs until the
// context is canceled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("sweeper already running")
	}
	defer func() {
		s.running.Store(false)
		close(s.stoppedCh)
	}()

	logger.InfoCtx(ctx, "Starting delivery sweeper",
		zap.Duration("interval", s.config.Interval),
		zap.Int("batch_size", s.config.BatchSize))

	for {
		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "Delivery sweeper stopping due to context cancellation", zap.Error(ctx.Err()))
			return nil
		case <-s.stopChan:
			logger.InfoCtx(ctx, "Delivery sweeper stop requested")
			return nil
		default:
			if err := s.runSweepCycle(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.ErrorCtx(ctx, err)
				}
			}
			if !s.sleep(ctx, s.config.Interval) {
				return nil
			}
		}
	}
}

// Stop gracefully stops the sweeper with timeout support
func (s *Sweeper) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil // Already stopped
	}

	logger.InfoCtx(ctx, "Stopping delivery sweeper")
	close(s.stopChan)

	select {
	case <-s.stoppedCh:
		logger.InfoCtx(ctx, "Delivery sweeper stopped gracefully")
		return nil
	case <-ctx.Done():
		logger.WarnCtx(ctx, "Delivery sweeper stop interrupted by context timeout")
		return ctx.Err()
	}
}

// runSweepCycle finds due tasks and submits them for execution
func (s *Sweeper) runSweepCycle(ctx context.Context) error {
	now := s.clock.Now()

	taskIDs, err := s.store.FindDueDeliveryTasks(ctx, now, s.config.ClaimExpiry, s.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to find due delivery tasks: %w", err)
	}

	if len(taskIDs) == 0 {
		return nil
	}

	logger.DebugCtx(ctx, "Found due delivery tasks", zap.Int("count", len(taskIDs)))

	for _, taskID := range taskIDs {
		s.submitter.Submit(taskID)
	}

	return nil
}

// sleep waits for the interval unless interrupted; returns false when the
// sweeper should exit
func (s *Sweeper) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-s.clock.After(d):
		return true
	case <-s.stopChan:
		return false
	case <-ctx.Done():
		return false
	}
}
