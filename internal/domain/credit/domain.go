package credit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iconforge/server/internal/model"
	"github.com/iconforge/server/internal/port/inbound"
	"github.com/iconforge/server/internal/port/outbound"
	"github.com/iconforge/server/internal/shared/metrics"
	"go.uber.org/zap"
)

// Config holds the ledger engine configuration.
type Config struct {
	Tiers          TierTable
	Location       *time.Location
	StorageTimeout time.Duration
}

// Option customizes a Domain.
type Option func(*Domain)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(d *Domain) {
		d.now = now
	}
}

// WithMetrics enables ledger metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Domain) {
		d.metrics = m
	}
}

// Domain is the ledger engine. Every mutation of an account is a single
// atomic store operation against the account row.
type Domain struct {
	accountDB      outbound.CreditAccountDatabasePort
	logDB          outbound.CreditUpdateLogDatabasePort
	subscriptionDB outbound.SubscriptionDatabasePort
	tiers          TierTable
	cycle          Cycle
	storageTimeout time.Duration
	now            func() time.Time
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

// NewCreditDomain creates a new ledger engine.
// subscriptionDB may be nil, in which case balances carry no subscription.
func NewCreditDomain(
	accountDB outbound.CreditAccountDatabasePort,
	logDB outbound.CreditUpdateLogDatabasePort,
	subscriptionDB outbound.SubscriptionDatabasePort,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Domain {
	tiers := cfg.Tiers
	if len(tiers) == 0 {
		tiers = DefaultTierTable()
	}
	d := &Domain{
		accountDB:      accountDB,
		logDB:          logDB,
		subscriptionDB: subscriptionDB,
		tiers:          tiers,
		cycle:          NewCycle(cfg.Location),
		storageTimeout: cfg.StorageTimeout,
		now:            time.Now,
		logger:         logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Compile-time interface check
var _ inbound.CreditDomain = (*Domain)(nil)

// Cycle returns the reset policy used by the engine.
func (d *Domain) Cycle() Cycle {
	return d.cycle
}

// Now returns the engine's current time.
func (d *Domain) Now() time.Time {
	return d.now()
}

// --- Queries ---

func (d *Domain) GetBalance(ctx context.Context, userID string) (*model.Balance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	now := d.now()

	sctx, cancel := d.storageContext(ctx)
	defer cancel()

	acct, err := d.accountDB.GetOrCreate(sctx, d.newAccount(userID, model.TierFree, now))
	if err != nil {
		return nil, storageError("get or create account", err)
	}

	balance := d.balanceOf(acct, now)
	if d.subscriptionDB != nil {
		sub, err := d.subscriptionDB.GetActiveByUserID(sctx, userID)
		if err != nil {
			return nil, storageError("get active subscription", err)
		}
		if sub != nil {
			balance.Subscription = sub.Info()
		}
	}
	return balance, nil
}

// balanceOf reports the effective state. A stale cycle reads as fresh without
// being written; the next deduction or reset run persists it.
func (d *Domain) balanceOf(acct *model.CreditAccount, now time.Time) *model.Balance {
	used, resetAt := acct.UsedCredits, acct.ResetAt
	if acct.IsStale(now) {
		used, resetAt = 0, d.cycle.NextReset(now)
	}
	remaining := acct.DailyAllotment - used
	if remaining < 0 {
		remaining = 0
	}
	return &model.Balance{
		UserID:         acct.UserID,
		Tier:           acct.Tier,
		Total:          acct.DailyAllotment,
		Used:           used,
		Remaining:      remaining,
		ResetAt:        resetAt,
		MonthlyCredits: acct.MonthlyAllotment,
		UpdateStatus:   acct.UpdateStatus,
	}
}

// --- Mutations ---

func (d *Domain) Deduct(ctx context.Context, userID string) (*model.DeductResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	now := d.now()

	sctx, cancel := d.storageContext(ctx)
	defer cancel()

	acct, err := d.accountDB.Mutate(sctx, userID, func(a *model.CreditAccount) error {
		if a.IsStale(now) {
			a.UsedCredits = 0
			a.ResetAt = d.cycle.NextReset(now)
		}
		if a.UsedCredits >= a.DailyAllotment {
			return ErrInsufficientCredits
		}
		a.UsedCredits++
		return nil
	})
	switch {
	case errors.Is(err, ErrInsufficientCredits):
		d.metrics.RecordDeduction("insufficient")
		return nil, ErrInsufficientCredits
	case err != nil:
		d.metrics.RecordDeduction("error")
		return nil, storageError("deduct", err)
	case acct == nil:
		d.metrics.RecordDeduction("not_found")
		return nil, ErrAccountNotFound
	}

	d.metrics.RecordDeduction("ok")
	return &model.DeductResult{
		Remaining: acct.Remaining(),
		Used:      acct.UsedCredits,
		Total:     acct.DailyAllotment,
	}, nil
}

// ApplyTierChange upserts the account with the tier's allotment, zero usage and a
// fresh cycle, and appends a COMPLETED log entry in the same transaction. When that
// fails the account is marked FAILED and a FAILED entry is appended so the
// reconciliation worker can retry; the original error is returned.
func (d *Domain) ApplyTierChange(ctx context.Context, userID string, tier model.Tier) (*model.CreditAccount, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if _, ok := d.tiers.Lookup(tier); !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	now := d.now()

	sctx, cancel := d.storageContext(ctx)
	defer cancel()

	acct := d.newAccount(userID, tier, now)
	entry := model.NewCreditUpdateLog(uuid.Nil, tier, model.UpdateStatusCompleted, nil, now)

	stored, err := d.accountDB.ApplyTier(sctx, acct, entry)
	if err == nil {
		d.metrics.RecordTierChange(tier.String(), model.UpdateStatusCompleted.String())
		d.logger.Info("tier change applied",
			zap.String("user_id", userID),
			zap.String("tier", tier.String()),
			zap.Int("daily_allotment", stored.DailyAllotment),
		)
		return stored, nil
	}

	d.metrics.RecordTierChange(tier.String(), model.UpdateStatusFailed.String())
	d.logger.Error("tier change failed",
		zap.String("user_id", userID),
		zap.String("tier", tier.String()),
		zap.Error(err),
	)
	d.recordFailure(ctx, userID, tier, err, now)

	return nil, fmt.Errorf("%w: %w", ErrTierChangeFailed, err)
}

// recordFailure is best-effort. It runs detached from the caller's context
// because the original failure is often that context's deadline.
func (d *Domain) recordFailure(ctx context.Context, userID string, tier model.Tier, cause error, now time.Time) {
	fctx, cancel := d.storageContext(context.WithoutCancel(ctx))
	defer cancel()

	acct, err := d.accountDB.MarkFailed(fctx, userID, tier, now)
	if err != nil {
		d.logger.Error("failed to mark account as failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}
	if acct == nil {
		d.logger.Warn("tier change failed for a user without an account",
			zap.String("user_id", userID),
			zap.String("tier", tier.String()),
		)
		return
	}

	entry := model.NewCreditUpdateLog(acct.ID, tier, model.UpdateStatusFailed, cause, now)
	if err := d.logDB.Append(fctx, entry); err != nil {
		d.logger.Error("failed to append failed update log",
			zap.String("user_id", userID),
			zap.String("account_id", acct.ID.String()),
			zap.Error(err),
		)
	}
}

// --- Helpers ---

func (d *Domain) newAccount(userID string, tier model.Tier, now time.Time) *model.CreditAccount {
	allotment, _ := d.tiers.Lookup(tier)
	return &model.CreditAccount{
		ID:               uuid.New(),
		UserID:           userID,
		Tier:             tier,
		RequestedTier:    tier,
		DailyAllotment:   allotment.Daily,
		MonthlyAllotment: allotment.Monthly,
		UsedCredits:      0,
		ResetAt:          d.cycle.NextReset(now),
		UpdateStatus:     model.UpdateStatusCompleted,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (d *Domain) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.storageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.storageTimeout)
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageFailure, op, err)
}
