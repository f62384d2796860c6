package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/iconforge/server/internal/model"
	"github.com/iconforge/server/internal/port/inbound"
	"github.com/iconforge/server/internal/port/outbound"
	"github.com/iconforge/server/internal/shared/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultReconcileOptions returns the standard retry policy.
func DefaultReconcileOptions() inbound.ReconcileOptions {
	return inbound.ReconcileOptions{
		Window:      24 * time.Hour,
		Cooldown:    15 * time.Minute,
		MaxAttempts: 3,
	}
}

// Reconciler retries tier changes the ledger engine recorded as FAILED.
type Reconciler struct {
	accountDB outbound.CreditAccountDatabasePort
	logDB     outbound.CreditUpdateLogDatabasePort
	ledger    inbound.CreditDomain
	cfg       BatchConfig
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewReconciler creates a reconciliation worker.
func NewReconciler(
	accountDB outbound.CreditAccountDatabasePort,
	logDB outbound.CreditUpdateLogDatabasePort,
	ledger inbound.CreditDomain,
	cfg BatchConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		accountDB: accountDB,
		logDB:     logDB,
		ledger:    ledger,
		cfg:       cfg.withDefaults(),
		metrics:   m,
		logger:    logger,
	}
}

var _ inbound.ReconcileRunner = (*Reconciler)(nil)

type retryDecision int

const (
	decisionRetry retryDecision = iota
	decisionExhausted
	decisionCoolingDown
)

// decide applies the attempt cap and the cooldown to entries listed newest first.
func decide(entries []*model.CreditUpdateLog, now time.Time, opts inbound.ReconcileOptions) retryDecision {
	if len(entries) >= opts.MaxAttempts {
		return decisionExhausted
	}
	if len(entries) > 0 && now.Sub(entries[0].CreatedAt) < opts.Cooldown {
		return decisionCoolingDown
	}
	return decisionRetry
}

// reconcileCounts accumulates per-account outcomes across pages.
type reconcileCounts struct {
	candidates, exhausted, coolingDown, retried, succeeded, failed, deferred atomic.Int64
}

// Run retries each FAILED account updated within opts.Window, skipping accounts
// that used up their attempts or whose latest attempt is inside the cooldown.
// Candidates are paged in (updated_at, id) order so exhausted accounts cannot
// hide newer ones behind the page size.
func (r *Reconciler) Run(ctx context.Context, now time.Time, opts inbound.ReconcileOptions) (*inbound.ReconcileResult, error) {
	def := DefaultReconcileOptions()
	if opts.Window <= 0 {
		opts.Window = def.Window
	}
	if opts.Cooldown < 0 {
		opts.Cooldown = 0
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}

	start := time.Now()
	defer func() { r.metrics.RecordBatch("reconcile", time.Since(start)) }()

	bctx, cancel := r.cfg.batchContext(ctx)
	defer cancel()

	since := now.Add(-opts.Window)
	var counts reconcileCounts
	var cursor model.AccountCursor
	// A retry that fails again moves the account behind the cursor.
	seen := make(map[uuid.UUID]struct{})

	for pages := 0; bctx.Err() == nil; pages++ {
		page, err := r.accountDB.ListFailedSince(bctx, since, cursor, r.cfg.BatchSize)
		if err != nil {
			if pages == 0 {
				return nil, fmt.Errorf("list failed accounts: %w", err)
			}
			r.logger.Warn("reconciliation stopped early", zap.Error(err))
			break
		}
		if len(page) == 0 {
			break
		}
		cursor = model.CursorAt(page[len(page)-1])

		var g errgroup.Group
		g.SetLimit(r.cfg.Parallelism)
		for _, acct := range page {
			if _, dup := seen[acct.ID]; dup {
				continue
			}
			seen[acct.ID] = struct{}{}
			counts.candidates.Add(1)

			if bctx.Err() != nil {
				counts.deferred.Add(1)
				continue
			}
			acct := acct
			g.Go(func() error {
				if bctx.Err() != nil {
					counts.deferred.Add(1)
					return nil
				}
				r.reconcileAccount(bctx, acct, since, now, opts, &counts)
				return nil
			})
		}
		_ = g.Wait()

		if len(page) < r.cfg.BatchSize {
			break
		}
	}

	result := &inbound.ReconcileResult{
		Candidates:  int(counts.candidates.Load()),
		Exhausted:   int(counts.exhausted.Load()),
		CoolingDown: int(counts.coolingDown.Load()),
		Retried:     int(counts.retried.Load()),
		Succeeded:   int(counts.succeeded.Load()),
		Failed:      int(counts.failed.Load()),
		Deferred:    int(counts.deferred.Load()),
	}
	r.metrics.RecordReconcile("exhausted", result.Exhausted)
	r.metrics.RecordReconcile("cooling_down", result.CoolingDown)
	r.metrics.RecordReconcile("succeeded", result.Succeeded)
	r.metrics.RecordReconcile("failed", result.Failed)
	r.metrics.RecordReconcile("deferred", result.Deferred)
	r.logger.Info("credit reconciliation completed",
		zap.Int("candidates", result.Candidates),
		zap.Int("exhausted", result.Exhausted),
		zap.Int("cooling_down", result.CoolingDown),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("deferred", result.Deferred),
	)
	return result, nil
}

func (r *Reconciler) reconcileAccount(bctx context.Context, acct *model.CreditAccount, since, now time.Time, opts inbound.ReconcileOptions, counts *reconcileCounts) {
	mctx, mcancel := r.cfg.mutationContext(bctx)
	defer mcancel()

	entries, err := r.logDB.ListRecent(mctx, acct.ID, since, opts.MaxAttempts)
	if err != nil {
		counts.failed.Add(1)
		r.logger.Warn("failed to load update log",
			zap.String("user_id", acct.UserID),
			zap.Error(err),
		)
		return
	}

	switch decide(entries, now, opts) {
	case decisionExhausted:
		counts.exhausted.Add(1)
		r.logger.Debug("retry budget exhausted", zap.String("user_id", acct.UserID))
		return
	case decisionCoolingDown:
		counts.coolingDown.Add(1)
		return
	}

	counts.retried.Add(1)
	tier := acct.RetryTier()
	if _, err := r.ledger.ApplyTierChange(mctx, acct.UserID, tier); err != nil {
		counts.failed.Add(1)
		r.logger.Warn("tier change retry failed",
			zap.String("user_id", acct.UserID),
			zap.String("tier", tier.String()),
			zap.Error(err),
		)
		return
	}
	counts.succeeded.Add(1)
	r.logger.Info("tier change reconciled",
		zap.String("user_id", acct.UserID),
		zap.String("tier", tier.String()),
	)
}
