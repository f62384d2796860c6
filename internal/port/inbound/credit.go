package inbound

import (
	"context"
	"time"

	"github.com/iconforge/server/internal/model"
)

// CreditDomain defines the ledger engine inbound port.
type CreditDomain interface {
	// GetBalance returns the caller-facing balance, creating a FREE account when absent.
	GetBalance(ctx context.Context, userID string) (*model.Balance, error)

	// Deduct debits one credit atomically.
	Deduct(ctx context.Context, userID string) (*model.DeductResult, error)

	// ApplyTierChange moves the account to tier and resets usage.
	ApplyTierChange(ctx context.Context, userID string, tier model.Tier) (*model.CreditAccount, error)
}

// ResetResult summarizes one reset run.
type ResetResult struct {
	Scanned  int `json:"scanned"`
	Reset    int `json:"reset"`
	Failed   int `json:"failed"`
	Deferred int `json:"deferred"`
}

// ReconcileOptions tunes a reconciliation run.
type ReconcileOptions struct {
	Window      time.Duration
	Cooldown    time.Duration
	MaxAttempts int
}

// ReconcileResult summarizes one reconciliation run.
type ReconcileResult struct {
	Candidates  int `json:"candidates"`
	Exhausted   int `json:"exhausted"`
	CoolingDown int `json:"cooling_down"`
	Retried     int `json:"retried"`
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	Deferred    int `json:"deferred"`
}

// Processed returns the number of accounts a retry was attempted for.
func (r *ReconcileResult) Processed() int {
	return r.Retried
}

// ResetRunner runs the daily reset batch.
type ResetRunner interface {
	Run(ctx context.Context, now time.Time) (*ResetResult, error)
}

// ReconcileRunner runs the failed tier-change reconciliation batch.
type ReconcileRunner interface {
	Run(ctx context.Context, now time.Time, opts ReconcileOptions) (*ReconcileResult, error)
}
