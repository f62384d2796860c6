// Package worker runs the periodic ledger batches: the daily reset and the
// reconciliation of failed tier changes.
package worker

import (
	"context"
	"errors"
	"time"
)

// ErrBatchInProgress is returned when another instance holds the batch lock.
var ErrBatchInProgress = errors.New("batch already running")

// BatchConfig bounds one batch run.
type BatchConfig struct {
	// Parallelism is the number of accounts processed at once.
	Parallelism int
	// BatchSize is the page size used when listing accounts.
	BatchSize int
	// Deadline stops dispatching new accounts once elapsed. Zero means none.
	Deadline time.Duration
	// StorageTimeout bounds each per-account mutation.
	StorageTimeout time.Duration
}

func (c BatchConfig) withDefaults() BatchConfig {
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.StorageTimeout <= 0 {
		c.StorageTimeout = 5 * time.Second
	}
	return c
}

func (c BatchConfig) batchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Deadline <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Deadline)
}

// mutationContext detaches a single account mutation from the batch deadline
// so an in-flight write completes instead of being abandoned halfway.
func (c BatchConfig) mutationContext(batchCtx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(batchCtx), c.StorageTimeout)
}
