package credit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/iconforge/server/internal/adapter/outbound/memory"
	"github.com/iconforge/server/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func newTestDomain(store *memory.Store, opts ...Option) *Domain {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewCreditDomain(
		store.Accounts(),
		store.UpdateLogs(),
		store.SubscriptionRecords(),
		Config{Tiers: DefaultTierTable(), Location: time.UTC, StorageTimeout: time.Second},
		zap.NewNop(),
		opts...,
	)
}

func seedAccount(store *memory.Store, userID string, tier model.Tier, used int, resetAt time.Time) *model.CreditAccount {
	allot := DefaultTierTable()[tier]
	acct := &model.CreditAccount{
		ID:               uuid.New(),
		UserID:           userID,
		Tier:             tier,
		RequestedTier:    tier,
		DailyAllotment:   allot.Daily,
		MonthlyAllotment: allot.Monthly,
		UsedCredits:      used,
		ResetAt:          resetAt,
		UpdateStatus:     model.UpdateStatusCompleted,
		CreatedAt:        testNow.Add(-48 * time.Hour),
		UpdatedAt:        testNow.Add(-48 * time.Hour),
	}
	store.PutAccount(acct)
	return acct
}

func TestCycle(t *testing.T) {
	t.Run("next reset is the following midnight", func(t *testing.T) {
		c := NewCycle(time.UTC)
		assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), c.NextReset(testNow))
		assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), c.StartOfDay(testNow))
	})

	t.Run("midnight itself starts a new cycle", func(t *testing.T) {
		c := NewCycle(time.UTC)
		midnight := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC), c.NextReset(midnight))
	})

	t.Run("uses the configured location", func(t *testing.T) {
		loc := time.FixedZone("UTC+9", 9*3600)
		c := NewCycle(loc)
		// 15:00 UTC is 00:00 the next day at UTC+9.
		next := c.NextReset(testNow)
		assert.Equal(t, time.Date(2026, 3, 12, 0, 0, 0, 0, loc), next)
	})

	t.Run("nil location defaults to UTC", func(t *testing.T) {
		assert.Equal(t, time.UTC, NewCycle(nil).Location())
	})
}

func TestTierTable(t *testing.T) {
	tiers := DefaultTierTable()
	require.NoError(t, tiers.Validate())

	pro, ok := tiers.Lookup(model.TierPro)
	require.True(t, ok)
	assert.Equal(t, 20, pro.Daily)
	assert.Equal(t, 1000, pro.Monthly)

	delete(tiers, model.TierEnterprise)
	assert.Error(t, tiers.Validate())

	bad := DefaultTierTable()
	bad[model.TierFree] = Allotment{Daily: 0, Monthly: 10}
	assert.Error(t, bad.Validate())
}

func TestDomain_GetBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("creates free account on first access", func(t *testing.T) {
		store := memory.New()
		d := newTestDomain(store)

		bal, err := d.GetBalance(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, model.TierFree, bal.Tier)
		assert.Equal(t, 5, bal.Total)
		assert.Equal(t, 0, bal.Used)
		assert.Equal(t, 5, bal.Remaining)
		assert.Equal(t, 500, bal.MonthlyCredits)
		assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), bal.ResetAt)
		assert.Nil(t, bal.Subscription)

		stored := store.Account("user-1")
		require.NotNil(t, stored)
		assert.Equal(t, model.UpdateStatusCompleted, stored.UpdateStatus)
	})

	t.Run("concurrent first access creates one account", func(t *testing.T) {
		store := memory.New()
		d := newTestDomain(store)

		var wg sync.WaitGroup
		ids := make([]uuid.UUID, 10)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := d.GetBalance(ctx, "user-1")
				assert.NoError(t, err)
				ids[i] = store.Account("user-1").ID
			}(i)
		}
		wg.Wait()
		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
	})

	t.Run("stale cycle reads as fresh without writing", func(t *testing.T) {
		store := memory.New()
		d := newTestDomain(store)
		yesterday := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
		seedAccount(store, "user-1", model.TierFree, 5, yesterday)

		bal, err := d.GetBalance(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 0, bal.Used)
		assert.Equal(t, 5, bal.Remaining)
		assert.Equal(t, 5, store.Account("user-1").UsedCredits)
	})

	t.Run("joins active subscription", func(t *testing.T) {
		store := memory.New()
		d := newTestDomain(store)
		end := testNow.Add(30 * 24 * time.Hour)
		_, err := store.SubscriptionRecords().Create(ctx, &model.Subscription{
			ID:               uuid.New(),
			ExternalID:       "sub_1",
			UserID:           "user-1",
			Tier:             model.TierPro,
			Status:           model.SubscriptionStatusActive,
			CurrentPeriodEnd: end,
			CreatedAt:        testNow,
		})
		require.NoError(t, err)

		bal, err := d.GetBalance(ctx, "user-1")
		require.NoError(t, err)
		require.NotNil(t, bal.Subscription)
		assert.Equal(t, model.SubscriptionStatusActive, bal.Subscription.Status)
		assert.Equal(t, end, bal.Subscription.CurrentPeriodEnd)
	})

	t.Run("storage failure", func(t *testing.T) {
		store := memory.New()
		d := newTestDomain(store)
		store.Fail(memory.OpGetOrCreate, errors.New("connection refused"))

		_, err := d.GetBalance(ctx, "user-1")
		assert.ErrorIs(t, err, ErrStorageFailure)
	})

	t.Run("storage timeout is a storage failure", func(t *testing.T) {
		store := memory.New()
		d := NewCreditDomain(store.Accounts(), store.UpdateLogs(), nil,
			Config{StorageTimeout: 10 * time.Millisecond}, zap.NewNop())
		store.Delay(memory.OpGetOrCreate, time.Second)

		_, err := d.GetBalance(ctx, "user-1")
		assert.ErrorIs(t, err, ErrStorageFailure)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("empty user id", func(t *testing.T) {
		d := newTestDomain(memory.New())
		_, err := d.GetBalance(ctx, "  ")
		assert.ErrorIs(t, err, ErrInvalidUserID)
	})
}

func TestDomain_Deduct(t *testing.T) {
	ctx := context.Background()
	fresh := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)

	t.Run("success", func(t *testing.T) {
		store := memory.New()
		d := newTestDomain(store)
		seedAccount(store, "user-1", model.TierFree, 2, fresh)

		res, err := d.Deduct(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, &model.DeductResult{Remaining: 2, Used: 3, Total: 5}, res)
	})

	t.Run("no account", func(t *testing.T) {
		d := newTestDomain(memory.New())
		_, err := d.Deduct(ctx, "ghost")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("insufficient credits leaves account untouched", func(t *testing.T) {
		store := memory.New()
		d := newTestDomain(store)
		seedAccount(store, "user-1", model.TierFree, 5, fresh)

		_, err := d.Deduct(ctx, "user-1")
		assert.ErrorIs(t, err, ErrInsufficientCredits)
		assert.Equal(t, 5, store.Account("user-1").UsedCredits)
	})

	t.Run("stale cycle resets before deducting", func(t *testing.T) {
		store := memory.New()
		d := newTestDomain(store)
		seedAccount(store, "user-1", model.TierFree, 5, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC))

		res, err := d.Deduct(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 4, res.Remaining)

		acct := store.Account("user-1")
		assert.Equal(t, 1, acct.UsedCredits)
		assert.Equal(t, fresh, acct.ResetAt)
	})

	t.Run("storage failure has no partial effect", func(t *testing.T) {
		store := memory.New()
		d := newTestDomain(store)
		seedAccount(store, "user-1", model.TierFree, 1, fresh)
		store.FailOnce(memory.OpMutate, errors.New("deadlock detected"))

		_, err := d.Deduct(ctx, "user-1")
		assert.ErrorIs(t, err, ErrStorageFailure)
		assert.Equal(t, 1, store.Account("user-1").UsedCredits)
	})
}

func TestDomain_Deduct_NoOverDeduction(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	d := newTestDomain(store)
	seedAccount(store, "user-1", model.TierPro, 0, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC))

	const calls = 64
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		insufficient int
	)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Deduct(ctx, "user-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInsufficientCredits):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, successes)
	assert.Equal(t, calls-20, insufficient)
	assert.Equal(t, 20, store.Account("user-1").UsedCredits)
}

func TestDomain_ApplyTierChange(t *testing.T) {
	ctx := context.Background()
	fresh := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)

	t.Run("resets usage", func(t *testing.T) {
		store := memory.New()
		d := newTestDomain(store)
		seeded := seedAccount(store, "user-1", model.TierFree, 3, fresh)

		acct, err := d.ApplyTierChange(ctx, "user-1", model.TierPro)
		require.NoError(t, err)
		assert.Equal(t, seeded.ID, acct.ID)
		assert.Equal(t, model.TierPro, acct.Tier)
		assert.Equal(t, 0, acct.UsedCredits)
		assert.Equal(t, 20, acct.DailyAllotment)
		assert.Equal(t, 1000, acct.MonthlyAllotment)
		assert.Equal(t, model.UpdateStatusCompleted, acct.UpdateStatus)

		logs := store.Logs(seeded.ID)
		require.Len(t, logs, 1)
		assert.Equal(t, model.UpdateStatusCompleted, logs[0].Status)
		assert.Equal(t, model.TierPro, logs[0].Tier)
	})

	t.Run("downgrade also resets usage", func(t *testing.T) {
		store := memory.New()
		d := newTestDomain(store)
		seedAccount(store, "user-1", model.TierEnterprise, 30, fresh)

		acct, err := d.ApplyTierChange(ctx, "user-1", model.TierFree)
		require.NoError(t, err)
		assert.Equal(t, 0, acct.UsedCredits)
		assert.Equal(t, 5, acct.DailyAllotment)
	})

	t.Run("creates the account when absent", func(t *testing.T) {
		store := memory.New()
		d := newTestDomain(store)

		acct, err := d.ApplyTierChange(ctx, "new-user", model.TierEnterprise)
		require.NoError(t, err)
		assert.Equal(t, 50, acct.DailyAllotment)
		assert.Len(t, store.Logs(acct.ID), 1)
	})

	t.Run("invalid tier", func(t *testing.T) {
		d := newTestDomain(memory.New())
		_, err := d.ApplyTierChange(ctx, "user-1", model.Tier("GOLD"))
		assert.ErrorIs(t, err, ErrInvalidTier)
	})

	t.Run("failure is recorded", func(t *testing.T) {
		store := memory.New()
		d := newTestDomain(store)
		seeded := seedAccount(store, "user-1", model.TierFree, 3, fresh)
		cause := errors.New("unique violation")
		store.FailOnce(memory.OpApplyTier, cause)

		_, err := d.ApplyTierChange(ctx, "user-1", model.TierPro)
		assert.ErrorIs(t, err, ErrTierChangeFailed)
		assert.ErrorIs(t, err, cause)

		acct := store.Account("user-1")
		assert.Equal(t, model.UpdateStatusFailed, acct.UpdateStatus)
		assert.Equal(t, model.TierFree, acct.Tier)
		assert.Equal(t, model.TierPro, acct.RequestedTier)
		assert.Equal(t, 3, acct.UsedCredits)

		logs := store.Logs(seeded.ID)
		require.Len(t, logs, 1)
		assert.Equal(t, model.UpdateStatusFailed, logs[0].Status)
		assert.Equal(t, model.TierPro, logs[0].Tier)
		require.NotNil(t, logs[0].Error)
		assert.Equal(t, "unique violation", *logs[0].Error)
	})

	t.Run("failure without an account leaves no marker", func(t *testing.T) {
		store := memory.New()
		d := newTestDomain(store)
		store.FailOnce(memory.OpApplyTier, errors.New("boom"))

		_, err := d.ApplyTierChange(ctx, "new-user", model.TierPro)
		assert.ErrorIs(t, err, ErrTierChangeFailed)
		assert.Nil(t, store.Account("new-user"))
	})
}

// --- Mock implementations ---

type MockAccountDB struct {
	mock.Mock
}

func (m *MockAccountDB) GetByUserID(ctx context.Context, userID string) (*model.CreditAccount, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CreditAccount), args.Error(1)
}

func (m *MockAccountDB) GetOrCreate(ctx context.Context, defaults *model.CreditAccount) (*model.CreditAccount, error) {
	args := m.Called(ctx, defaults)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CreditAccount), args.Error(1)
}

func (m *MockAccountDB) Mutate(ctx context.Context, userID string, fn func(acct *model.CreditAccount) error) (*model.CreditAccount, error) {
	args := m.Called(ctx, userID, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CreditAccount), args.Error(1)
}

func (m *MockAccountDB) ApplyTier(ctx context.Context, acct *model.CreditAccount, entry *model.CreditUpdateLog) (*model.CreditAccount, error) {
	args := m.Called(ctx, acct, entry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CreditAccount), args.Error(1)
}

func (m *MockAccountDB) MarkFailed(ctx context.Context, userID string, requested model.Tier, at time.Time) (*model.CreditAccount, error) {
	args := m.Called(ctx, userID, requested, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CreditAccount), args.Error(1)
}

func (m *MockAccountDB) ListStale(ctx context.Context, now time.Time, limit int) ([]*model.CreditAccount, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.CreditAccount), args.Error(1)
}

func (m *MockAccountDB) ResetIfStale(ctx context.Context, userID string, now, next time.Time) (bool, error) {
	args := m.Called(ctx, userID, now, next)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccountDB) ListFailedSince(ctx context.Context, since time.Time, after model.AccountCursor, limit int) ([]*model.CreditAccount, error) {
	args := m.Called(ctx, since, after, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.CreditAccount), args.Error(1)
}

type MockLogDB struct {
	mock.Mock
}

func (m *MockLogDB) Append(ctx context.Context, entry *model.CreditUpdateLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockLogDB) ListRecent(ctx context.Context, accountID uuid.UUID, since time.Time, limit int) ([]*model.CreditUpdateLog, error) {
	args := m.Called(ctx, accountID, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.CreditUpdateLog), args.Error(1)
}

func TestDomain_ApplyTierChange_SecondaryFailures(t *testing.T) {
	ctx := context.Background()
	applyErr := errors.New("connection reset")

	t.Run("mark failed error is swallowed", func(t *testing.T) {
		accountDB := new(MockAccountDB)
		logDB := new(MockLogDB)
		d := NewCreditDomain(accountDB, logDB, nil, Config{}, zap.NewNop(), WithClock(func() time.Time { return testNow }))

		accountDB.On("ApplyTier", mock.Anything, mock.Anything, mock.Anything).Return(nil, applyErr)
		accountDB.On("MarkFailed", mock.Anything, "user-1", model.TierPro, testNow).Return(nil, errors.New("still down"))

		_, err := d.ApplyTierChange(ctx, "user-1", model.TierPro)
		assert.ErrorIs(t, err, ErrTierChangeFailed)
		assert.ErrorIs(t, err, applyErr)
		logDB.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
		accountDB.AssertExpectations(t)
	})

	t.Run("log append error is swallowed", func(t *testing.T) {
		accountDB := new(MockAccountDB)
		logDB := new(MockLogDB)
		d := NewCreditDomain(accountDB, logDB, nil, Config{}, zap.NewNop(), WithClock(func() time.Time { return testNow }))

		acct := &model.CreditAccount{ID: uuid.New(), UserID: "user-1", Tier: model.TierFree}
		accountDB.On("ApplyTier", mock.Anything, mock.Anything, mock.Anything).Return(nil, applyErr)
		accountDB.On("MarkFailed", mock.Anything, "user-1", model.TierPro, testNow).Return(acct, nil)
		logDB.On("Append", mock.Anything, mock.MatchedBy(func(e *model.CreditUpdateLog) bool {
			return e.AccountID == acct.ID && e.Status == model.UpdateStatusFailed
		})).Return(errors.New("disk full"))

		_, err := d.ApplyTierChange(ctx, "user-1", model.TierPro)
		assert.ErrorIs(t, err, ErrTierChangeFailed)
		accountDB.AssertExpectations(t)
		logDB.AssertExpectations(t)
	})

	t.Run("failure is recorded after the caller's context expires", func(t *testing.T) {
		accountDB := new(MockAccountDB)
		logDB := new(MockLogDB)
		d := NewCreditDomain(accountDB, logDB, nil, Config{}, zap.NewNop(), WithClock(func() time.Time { return testNow }))

		cctx, cancel := context.WithCancel(ctx)
		acct := &model.CreditAccount{ID: uuid.New(), UserID: "user-1"}
		accountDB.On("ApplyTier", mock.Anything, mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { cancel() }).
			Return(nil, context.Canceled)
		accountDB.On("MarkFailed", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }), "user-1", model.TierPro, testNow).
			Return(acct, nil)
		logDB.On("Append", mock.Anything, mock.Anything).Return(nil)

		_, err := d.ApplyTierChange(cctx, "user-1", model.TierPro)
		assert.ErrorIs(t, err, ErrTierChangeFailed)
		accountDB.AssertExpectations(t)
		logDB.AssertExpectations(t)
	})
}
