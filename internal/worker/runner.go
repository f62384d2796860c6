package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iconforge/server/internal/port/inbound"
	"github.com/iconforge/server/internal/port/outbound"
	"go.uber.org/zap"
)

const (
	resetLockKey     = "ledger:lock:reset"
	reconcileLockKey = "ledger:lock:reconcile"
)

// RunnerConfig configures the periodic runner.
type RunnerConfig struct {
	ResetInterval     time.Duration
	ReconcileInterval time.Duration
	Reconcile         inbound.ReconcileOptions
	// LockTTL bounds how long a crashed instance can block a batch.
	LockTTL time.Duration
}

// Runner single-flights the ledger batches across instances and optionally
// drives them on tickers.
type Runner struct {
	reset     inbound.ResetRunner
	reconcile inbound.ReconcileRunner
	locker    outbound.LockPort
	cfg       RunnerConfig
	now       func() time.Time
	logger    *zap.Logger
}

// NewRunner creates a batch runner.
func NewRunner(
	reset inbound.ResetRunner,
	reconcile inbound.ReconcileRunner,
	locker outbound.LockPort,
	cfg RunnerConfig,
	now func() time.Time,
	logger *zap.Logger,
) *Runner {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Runner{
		reset:     reset,
		reconcile: reconcile,
		locker:    locker,
		cfg:       cfg,
		now:       now,
		logger:    logger,
	}
}

// RunReset runs one reset batch unless another instance is running one.
func (r *Runner) RunReset(ctx context.Context) (*inbound.ResetResult, error) {
	release, err := r.acquire(ctx, resetLockKey)
	if err != nil {
		return nil, err
	}
	defer release()
	return r.reset.Run(ctx, r.now())
}

// RunReconcile runs one reconciliation batch unless another instance is running one.
func (r *Runner) RunReconcile(ctx context.Context) (*inbound.ReconcileResult, error) {
	release, err := r.acquire(ctx, reconcileLockKey)
	if err != nil {
		return nil, err
	}
	defer release()
	return r.reconcile.Run(ctx, r.now(), r.cfg.Reconcile)
}

func (r *Runner) acquire(ctx context.Context, key string) (func(), error) {
	if r.locker == nil {
		return func() {}, nil
	}
	release, ok, err := r.locker.Acquire(ctx, key, r.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrBatchInProgress
	}
	return release, nil
}

// Start drives both batches on their intervals until ctx is done.
// A zero interval disables that batch.
func (r *Runner) Start(ctx context.Context) {
	var resetC, reconcileC <-chan time.Time
	if r.cfg.ResetInterval > 0 {
		t := time.NewTicker(r.cfg.ResetInterval)
		defer t.Stop()
		resetC = t.C
	}
	if r.cfg.ReconcileInterval > 0 {
		t := time.NewTicker(r.cfg.ReconcileInterval)
		defer t.Stop()
		reconcileC = t.C
	}

	r.logger.Info("ledger runner started",
		zap.Duration("reset_interval", r.cfg.ResetInterval),
		zap.Duration("reconcile_interval", r.cfg.ReconcileInterval),
	)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("ledger runner stopped")
			return
		case <-resetC:
			if _, err := r.RunReset(ctx); err != nil {
				r.logTickError("reset", err)
			}
		case <-reconcileC:
			if _, err := r.RunReconcile(ctx); err != nil {
				r.logTickError("reconcile", err)
			}
		}
	}
}

func (r *Runner) logTickError(job string, err error) {
	if errors.Is(err, ErrBatchInProgress) {
		r.logger.Debug("batch skipped, running elsewhere", zap.String("job", job))
		return
	}
	r.logger.Error("batch failed", zap.String("job", job), zap.Error(err))
}
