package outbound

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/iconforge/server/internal/model"
)

// CreditAccountDatabasePort defines credit account persistence operations.
// Lookups return (nil, nil) when the account does not exist.
type CreditAccountDatabasePort interface {
	// GetByUserID gets an account by user ID.
	GetByUserID(ctx context.Context, userID string) (*model.CreditAccount, error)

	// GetOrCreate inserts defaults when no account exists for defaults.UserID
	// and returns the stored account. The insert is a single conditional write.
	GetOrCreate(ctx context.Context, defaults *model.CreditAccount) (*model.CreditAccount, error)

	// Mutate locks the account row, hands a copy to fn and persists its usage
	// fields (used_credits, reset_at) when fn returns nil. An error from fn
	// aborts the mutation and is returned as is.
	Mutate(ctx context.Context, userID string, fn func(acct *model.CreditAccount) error) (*model.CreditAccount, error)

	// ApplyTier upserts acct keyed by user ID and appends entry in one transaction.
	// entry.AccountID is set to the stored account's ID.
	ApplyTier(ctx context.Context, acct *model.CreditAccount, entry *model.CreditUpdateLog) (*model.CreditAccount, error)

	// MarkFailed records a failed tier change on an existing account.
	MarkFailed(ctx context.Context, userID string, requested model.Tier, at time.Time) (*model.CreditAccount, error)

	// ListStale lists accounts whose cycle ended at or before now.
	ListStale(ctx context.Context, now time.Time, limit int) ([]*model.CreditAccount, error)

	// ResetIfStale zeroes usage and moves reset_at to next, only if the account
	// is still stale at now. Reports whether a row changed.
	ResetIfStale(ctx context.Context, userID string, now, next time.Time) (bool, error)

	// ListFailedSince lists FAILED accounts updated at or after since, in
	// (updated_at, id) order, starting after the cursor.
	ListFailedSince(ctx context.Context, since time.Time, after model.AccountCursor, limit int) ([]*model.CreditAccount, error)
}

// CreditUpdateLogDatabasePort defines credit update log persistence operations.
type CreditUpdateLogDatabasePort interface {
	// Append appends an entry. Entries are never updated.
	Append(ctx context.Context, entry *model.CreditUpdateLog) error

	// ListRecent lists entries for an account created at or after since, newest first.
	ListRecent(ctx context.Context, accountID uuid.UUID, since time.Time, limit int) ([]*model.CreditUpdateLog, error)
}

// LockPort defines a best-effort cross-instance mutual exclusion primitive.
type LockPort interface {
	// Acquire tries to take key for ttl. When acquired is false the key is held elsewhere.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}
