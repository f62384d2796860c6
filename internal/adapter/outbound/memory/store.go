// Package memory provides in-process implementations of the outbound storage
// ports. It backs tests and single-instance development runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iconforge/server/internal/model"
	"github.com/iconforge/server/internal/port/outbound"
)

// Operation names accepted by Fail, FailOnce and Delay.
const (
	OpGetAccount         = "account.get"
	OpGetOrCreate        = "account.get_or_create"
	OpMutate             = "account.mutate"
	OpApplyTier          = "account.apply_tier"
	OpMarkFailed         = "account.mark_failed"
	OpListStale          = "account.list_stale"
	OpResetIfStale       = "account.reset_if_stale"
	OpListFailed         = "account.list_failed"
	OpAppendLog          = "log.append"
	OpListLogs           = "log.list_recent"
	OpCreateSub          = "subscription.create"
	OpGetSub             = "subscription.get"
	OpUpdateSub          = "subscription.update"
	OpClaimEvent         = "webhook.claim"
	OpMarkEventProcessed = "webhook.mark_processed"
)

type fault struct {
	err  error
	once bool
}

// Store holds all tables behind one lock.
type Store struct {
	mu sync.RWMutex

	accounts      map[string]*model.CreditAccount // by user ID
	logs          []*model.CreditUpdateLog
	subscriptions map[string]*model.Subscription // by external ID
	events        map[string]*model.WebhookEvent // by provider + event ID

	faultMu sync.Mutex
	faults  map[string]fault
	delays  map[string]time.Duration
}

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts:      make(map[string]*model.CreditAccount),
		subscriptions: make(map[string]*model.Subscription),
		events:        make(map[string]*model.WebhookEvent),
		faults:        make(map[string]fault),
		delays:        make(map[string]time.Duration),
	}
}

// --- Fault injection ---

// Fail makes every call of op return err until Clear is called.
func (s *Store) Fail(op string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[op] = fault{err: err}
}

// FailOnce makes the next call of op return err.
func (s *Store) FailOnce(op string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[op] = fault{err: err, once: true}
}

// Delay makes op wait d before running, or until its context is done.
func (s *Store) Delay(op string, d time.Duration) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.delays[op] = d
}

// Clear removes any fault or delay configured for op.
func (s *Store) Clear(op string) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	delete(s.faults, op)
	delete(s.delays, op)
}

func (s *Store) check(ctx context.Context, op string) error {
	s.faultMu.Lock()
	f, failing := s.faults[op]
	if failing && f.once {
		delete(s.faults, op)
	}
	delay := s.delays[op]
	s.faultMu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if failing {
		return f.err
	}
	return ctx.Err()
}

// --- Test helpers ---

// PutAccount stores a copy of acct, replacing any account for the same user.
func (s *Store) PutAccount(acct *model.CreditAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acct.UserID] = acct.Clone()
}

// PutLog stores a copy of entry.
func (s *Store) PutLog(entry *model.CreditUpdateLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *entry
	s.logs = append(s.logs, &c)
}

// Account returns a copy of the account for userID, or nil.
func (s *Store) Account(userID string) *model.CreditAccount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.accounts[userID]; ok {
		return a.Clone()
	}
	return nil
}

// Logs returns copies of the entries for accountID in insertion order.
func (s *Store) Logs(accountID uuid.UUID) []*model.CreditUpdateLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.CreditUpdateLog
	for _, l := range s.logs {
		if l.AccountID == accountID {
			c := *l
			out = append(out, &c)
		}
	}
	return out
}

// Subscriptions returns copies of all subscription records.
func (s *Store) Subscriptions() []*model.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		c := *sub
		out = append(out, &c)
	}
	return out
}

// WebhookEvent returns a copy of a journaled event, or nil.
func (s *Store) WebhookEvent(provider, eventID string) *model.WebhookEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.events[provider+"/"+eventID]; ok {
		c := *e
		return &c
	}
	return nil
}

// --- Port views ---

// Accounts returns the credit account port.
func (s *Store) Accounts() *AccountStore { return &AccountStore{s: s} }

// UpdateLogs returns the credit update log port.
func (s *Store) UpdateLogs() *UpdateLogStore { return &UpdateLogStore{s: s} }

// SubscriptionRecords returns the subscription port.
func (s *Store) SubscriptionRecords() *SubscriptionStore { return &SubscriptionStore{s: s} }

// WebhookEvents returns the webhook event journal port.
func (s *Store) WebhookEvents() *WebhookEventStore { return &WebhookEventStore{s: s} }

// AccountStore implements outbound.CreditAccountDatabasePort.
type AccountStore struct{ s *Store }

var _ outbound.CreditAccountDatabasePort = (*AccountStore)(nil)

func (r *AccountStore) GetByUserID(ctx context.Context, userID string) (*model.CreditAccount, error) {
	if err := r.s.check(ctx, OpGetAccount); err != nil {
		return nil, err
	}
	return r.s.Account(userID), nil
}

func (r *AccountStore) GetOrCreate(ctx context.Context, defaults *model.CreditAccount) (*model.CreditAccount, error) {
	if err := r.s.check(ctx, OpGetOrCreate); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if a, ok := r.s.accounts[defaults.UserID]; ok {
		return a.Clone(), nil
	}
	acct := defaults.Clone()
	r.s.accounts[acct.UserID] = acct
	return acct.Clone(), nil
}

func (r *AccountStore) Mutate(ctx context.Context, userID string, fn func(acct *model.CreditAccount) error) (*model.CreditAccount, error) {
	if err := r.s.check(ctx, OpMutate); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.accounts[userID]
	if !ok {
		return nil, nil
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	current.UsedCredits = next.UsedCredits
	current.ResetAt = next.ResetAt
	return current.Clone(), nil
}

func (r *AccountStore) ApplyTier(ctx context.Context, acct *model.CreditAccount, entry *model.CreditUpdateLog) (*model.CreditAccount, error) {
	if err := r.s.check(ctx, OpApplyTier); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	next := acct.Clone()
	if existing, ok := r.s.accounts[acct.UserID]; ok {
		next.ID = existing.ID
		next.CreatedAt = existing.CreatedAt
	}
	r.s.accounts[next.UserID] = next

	logged := *entry
	logged.AccountID = next.ID
	r.s.logs = append(r.s.logs, &logged)
	entry.AccountID = next.ID

	return next.Clone(), nil
}

func (r *AccountStore) MarkFailed(ctx context.Context, userID string, requested model.Tier, at time.Time) (*model.CreditAccount, error) {
	if err := r.s.check(ctx, OpMarkFailed); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	acct, ok := r.s.accounts[userID]
	if !ok {
		return nil, nil
	}
	acct.UpdateStatus = model.UpdateStatusFailed
	acct.RequestedTier = requested
	acct.UpdatedAt = at
	return acct.Clone(), nil
}

func (r *AccountStore) ListStale(ctx context.Context, now time.Time, limit int) ([]*model.CreditAccount, error) {
	if err := r.s.check(ctx, OpListStale); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*model.CreditAccount
	for _, a := range r.s.accounts {
		if a.IsStale(now) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResetAt.Before(out[j].ResetAt) })
	return truncate(out, limit), nil
}

func (r *AccountStore) ResetIfStale(ctx context.Context, userID string, now, next time.Time) (bool, error) {
	if err := r.s.check(ctx, OpResetIfStale); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	acct, ok := r.s.accounts[userID]
	if !ok || !acct.IsStale(now) {
		return false, nil
	}
	acct.UsedCredits = 0
	acct.ResetAt = next
	return true, nil
}

func (r *AccountStore) ListFailedSince(ctx context.Context, since time.Time, after model.AccountCursor, limit int) ([]*model.CreditAccount, error) {
	if err := r.s.check(ctx, OpListFailed); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*model.CreditAccount
	for _, a := range r.s.accounts {
		if a.UpdateStatus == model.UpdateStatusFailed && !a.UpdatedAt.Before(since) && !after.Covers(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return truncate(out, limit), nil
}

// UpdateLogStore implements outbound.CreditUpdateLogDatabasePort.
type UpdateLogStore struct{ s *Store }

var _ outbound.CreditUpdateLogDatabasePort = (*UpdateLogStore)(nil)

func (r *UpdateLogStore) Append(ctx context.Context, entry *model.CreditUpdateLog) error {
	if err := r.s.check(ctx, OpAppendLog); err != nil {
		return err
	}
	r.s.PutLog(entry)
	return nil
}

func (r *UpdateLogStore) ListRecent(ctx context.Context, accountID uuid.UUID, since time.Time, limit int) ([]*model.CreditUpdateLog, error) {
	if err := r.s.check(ctx, OpListLogs); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*model.CreditUpdateLog
	for _, l := range r.s.logs {
		if l.AccountID == accountID && !l.CreatedAt.Before(since) {
			c := *l
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

// SubscriptionStore implements outbound.SubscriptionDatabasePort.
type SubscriptionStore struct{ s *Store }

var _ outbound.SubscriptionDatabasePort = (*SubscriptionStore)(nil)

func (r *SubscriptionStore) Create(ctx context.Context, sub *model.Subscription) (bool, error) {
	if err := r.s.check(ctx, OpCreateSub); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.subscriptions[sub.ExternalID]; exists {
		return false, nil
	}
	c := *sub
	r.s.subscriptions[sub.ExternalID] = &c
	return true, nil
}

func (r *SubscriptionStore) GetByExternalID(ctx context.Context, externalID string) (*model.Subscription, error) {
	if err := r.s.check(ctx, OpGetSub); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if sub, ok := r.s.subscriptions[externalID]; ok {
		c := *sub
		return &c, nil
	}
	return nil, nil
}

func (r *SubscriptionStore) GetActiveByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	if err := r.s.check(ctx, OpGetSub); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var newest *model.Subscription
	for _, sub := range r.s.subscriptions {
		if sub.UserID != userID || !sub.IsActive() {
			continue
		}
		if newest == nil || sub.CreatedAt.After(newest.CreatedAt) {
			newest = sub
		}
	}
	if newest == nil {
		return nil, nil
	}
	c := *newest
	return &c, nil
}

func (r *SubscriptionStore) Update(ctx context.Context, sub *model.Subscription) error {
	if err := r.s.check(ctx, OpUpdateSub); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := *sub
	r.s.subscriptions[sub.ExternalID] = &c
	return nil
}

// WebhookEventStore implements outbound.WebhookEventDatabasePort.
type WebhookEventStore struct{ s *Store }

var _ outbound.WebhookEventDatabasePort = (*WebhookEventStore)(nil)

func (r *WebhookEventStore) Claim(ctx context.Context, event *model.WebhookEvent) (model.ClaimResult, error) {
	if err := r.s.check(ctx, OpClaimEvent); err != nil {
		return model.ClaimDuplicate, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := event.Provider + "/" + event.EventID
	if existing, ok := r.s.events[key]; ok {
		if existing.Processed && existing.Error == nil {
			return model.ClaimDuplicate, nil
		}
		existing.Processed = false
		existing.ProcessedAt = nil
		existing.Error = nil
		return model.ClaimRedelivery, nil
	}
	c := *event
	r.s.events[key] = &c
	return model.ClaimNew, nil
}

func (r *WebhookEventStore) MarkProcessed(ctx context.Context, provider, eventID string, processErr error, at time.Time) error {
	if err := r.s.check(ctx, OpMarkEventProcessed); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.events[provider+"/"+eventID]
	if !ok {
		return nil
	}
	e.Processed = true
	e.ProcessedAt = &at
	e.Error = nil
	if processErr != nil {
		msg := processErr.Error()
		e.Error = &msg
	}
	return nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
