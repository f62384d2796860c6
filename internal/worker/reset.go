package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/iconforge/server/internal/domain/credit"
	"github.com/iconforge/server/internal/port/inbound"
	"github.com/iconforge/server/internal/port/outbound"
	"github.com/iconforge/server/internal/shared/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ResetScheduler zeroes usage on every account whose cycle has ended.
type ResetScheduler struct {
	accountDB outbound.CreditAccountDatabasePort
	cycle     credit.Cycle
	cfg       BatchConfig
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewResetScheduler creates a reset scheduler.
func NewResetScheduler(
	accountDB outbound.CreditAccountDatabasePort,
	cycle credit.Cycle,
	cfg BatchConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ResetScheduler {
	return &ResetScheduler{
		accountDB: accountDB,
		cycle:     cycle,
		cfg:       cfg.withDefaults(),
		metrics:   m,
		logger:    logger,
	}
}

var _ inbound.ResetRunner = (*ResetScheduler)(nil)

// Run resets every account stale at now. Each reset is conditional on the
// account still being stale, so a concurrent deduct or a second run is a no-op.
// Per-account failures are counted and left for the next run.
func (s *ResetScheduler) Run(ctx context.Context, now time.Time) (*inbound.ResetResult, error) {
	start := time.Now()
	defer func() { s.metrics.RecordBatch("reset", time.Since(start)) }()

	bctx, cancel := s.cfg.batchContext(ctx)
	defer cancel()

	next := s.cycle.NextReset(now)
	var scanned, reset, failed, deferred atomic.Int64

	for {
		if bctx.Err() != nil {
			break
		}
		page, err := s.accountDB.ListStale(bctx, now, s.cfg.BatchSize)
		if err != nil {
			if scanned.Load() == 0 {
				return nil, fmt.Errorf("list stale accounts: %w", err)
			}
			s.logger.Warn("reset batch stopped early", zap.Error(err))
			break
		}
		scanned.Add(int64(len(page)))
		before := reset.Load()

		var g errgroup.Group
		g.SetLimit(s.cfg.Parallelism)
		for i, acct := range page {
			if bctx.Err() != nil {
				deferred.Add(int64(len(page) - i))
				break
			}
			userID := acct.UserID
			g.Go(func() error {
				if bctx.Err() != nil {
					deferred.Add(1)
					return nil
				}
				mctx, mcancel := s.cfg.mutationContext(bctx)
				defer mcancel()

				changed, err := s.accountDB.ResetIfStale(mctx, userID, now, next)
				switch {
				case err != nil:
					failed.Add(1)
					s.logger.Warn("failed to reset account",
						zap.String("user_id", userID),
						zap.Error(err),
					)
				case changed:
					reset.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()

		// A short page means everything stale was seen; a page with no
		// progress means the rest are failing and will be retried next run.
		if len(page) < s.cfg.BatchSize || reset.Load() == before {
			break
		}
	}

	result := &inbound.ResetResult{
		Scanned:  int(scanned.Load()),
		Reset:    int(reset.Load()),
		Failed:   int(failed.Load()),
		Deferred: int(deferred.Load()),
	}
	s.metrics.RecordResets(result.Reset)
	s.logger.Info("credit reset completed",
		zap.Int("scanned", result.Scanned),
		zap.Int("reset", result.Reset),
		zap.Int("failed", result.Failed),
		zap.Int("deferred", result.Deferred),
	)
	return result, nil
}
