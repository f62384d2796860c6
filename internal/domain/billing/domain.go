package billing

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

// Config holds the gateway configuration.
type Config struct {
	LockTTL        time.Duration
	StorageTimeout time.Duration
	SuccessURL     string
	CancelURL      string
}

// Option customizes a Domain.
type Option func(*Domain)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(d *Domain) {
		d.now = now
	}
}

// WithMetrics enables payment event metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Domain) {
		d.metrics = m
	}
}

// WithLocker serializes concurrent deliveries of the same event.
func WithLocker(locker outbound.LockPort) Option {
	return func(d *Domain) {
		d.locker = locker
	}
}

// Domain is the payment event gateway. It turns processor notifications into
// subscription records and tier changes on the ledger, once per activation or
// paid tier change of a subscription.
type Domain struct {
	provider       outbound.PaymentProviderPort
	subscriptionDB outbound.SubscriptionDatabasePort
	webhookDB      outbound.WebhookEventDatabasePort
	ledger         inbound.CreditDomain
	locker         outbound.LockPort
	cfg            Config
	now            func() time.Time
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

// NewBillingDomain creates a new payment event gateway.
func NewBillingDomain(
	provider outbound.PaymentProviderPort,
	subscriptionDB outbound.SubscriptionDatabasePort,
	webhookDB outbound.WebhookEventDatabasePort,
	ledger inbound.CreditDomain,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Domain {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	d := &Domain{
		provider:       provider,
		subscriptionDB: subscriptionDB,
		webhookDB:      webhookDB,
		ledger:         ledger,
		cfg:            cfg,
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
var _ inbound.BillingDomain = (*Domain)(nil)

// --- Webhooks ---

func (d *Domain) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := d.provider.ParseWebhook(payload, signature)
	if err != nil {
		d.metrics.RecordPaymentEvent("unknown", "rejected")
		if errors.Is(err, outbound.ErrInvalidSignature) {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	eventType := string(event.Type)
	if event.Type == model.PaymentEventIgnored {
		d.metrics.RecordPaymentEvent(eventType, "ignored")
		d.logger.Debug("ignoring payment event",
			zap.String("event_id", event.EventID),
			zap.String("type", event.RawType),
		)
		return nil
	}
	if err := validate(event); err != nil {
		d.metrics.RecordPaymentEvent(eventType, "rejected")
		d.logger.Warn("rejecting payment event",
			zap.String("event_id", event.EventID),
			zap.String("type", event.RawType),
			zap.Error(err),
		)
		return err
	}

	if d.locker != nil {
		key := fmt.Sprintf("webhook:%s:%s", event.Provider, event.EventID)
		release, acquired, err := d.locker.Acquire(ctx, key, d.cfg.LockTTL)
		if err != nil {
			d.metrics.RecordPaymentEvent(eventType, "failed")
			return storageError("acquire event lock", err)
		}
		if !acquired {
			d.metrics.RecordPaymentEvent(eventType, "busy")
			return ErrEventInProgress
		}
		defer release()
	}

	now := d.now()
	claim, err := d.claim(ctx, event, now)
	if err != nil {
		d.metrics.RecordPaymentEvent(eventType, "failed")
		return err
	}
	if !claim.Claimed() {
		d.metrics.RecordPaymentEvent(eventType, "duplicate")
		d.logger.Info("payment event already processed",
			zap.String("event_id", event.EventID),
			zap.String("type", event.RawType),
		)
		return nil
	}

	redelivery := claim == model.ClaimRedelivery
	if redelivery {
		d.logger.Info("reprocessing payment event",
			zap.String("event_id", event.EventID),
			zap.String("type", event.RawType),
		)
	}
	procErr := d.apply(ctx, event, now, redelivery)

	mctx, cancel := d.storageContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := d.webhookDB.MarkProcessed(mctx, string(event.Provider), event.EventID, procErr, d.now()); err != nil {
		d.logger.Error("failed to mark payment event processed",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}

	if procErr != nil {
		d.metrics.RecordPaymentEvent(eventType, "failed")
		d.logger.Error("payment event processing failed",
			zap.String("event_id", event.EventID),
			zap.String("type", event.RawType),
			zap.String("user_id", event.UserID),
			zap.Error(procErr),
		)
		return procErr
	}
	d.metrics.RecordPaymentEvent(eventType, "processed")
	return nil
}

func validate(event *model.PaymentEvent) error {
	if event.EventID == "" {
		return fmt.Errorf("%w: missing event id", ErrInvalidEvent)
	}
	switch event.Type {
	case model.PaymentEventCheckoutCompleted:
		if event.UserID == "" {
			return fmt.Errorf("%w: missing userId metadata", ErrInvalidEvent)
		}
		if !purchasable(event.Tier) {
			return fmt.Errorf("%w: missing or unknown tier %q", ErrInvalidEvent, event.Tier)
		}
		if event.IdempotencyKey() == "" {
			return fmt.Errorf("%w: missing session and subscription id", ErrInvalidEvent)
		}
	case model.PaymentEventSubscriptionCreated,
		model.PaymentEventSubscriptionUpdated,
		model.PaymentEventSubscriptionDeleted:
		if event.SubscriptionID == "" {
			return fmt.Errorf("%w: missing subscription id", ErrInvalidEvent)
		}
	}
	return nil
}

func (d *Domain) claim(ctx context.Context, event *model.PaymentEvent, now time.Time) (model.ClaimResult, error) {
	sctx, cancel := d.storageContext(ctx)
	defer cancel()

	claim, err := d.webhookDB.Claim(sctx, &model.WebhookEvent{
		ID:        uuid.New(),
		Provider:  string(event.Provider),
		EventID:   event.EventID,
		EventType: event.RawType,
		Payload:   string(event.Payload),
		CreatedAt: now,
	})
	if err != nil {
		return model.ClaimDuplicate, storageError("claim payment event", err)
	}
	return claim, nil
}

// apply routes a claimed event. On a redelivery the ledger call is repeated
// even when the subscription record already reflects the event, since the
// earlier attempt may have failed after the record was written.
func (d *Domain) apply(ctx context.Context, event *model.PaymentEvent, now time.Time, redelivery bool) error {
	switch event.Type {
	case model.PaymentEventCheckoutCompleted:
		return d.applyCheckout(ctx, event, now, redelivery)
	case model.PaymentEventSubscriptionCreated, model.PaymentEventSubscriptionUpdated:
		return d.applySubscription(ctx, event, now, redelivery)
	case model.PaymentEventSubscriptionDeleted:
		return d.applyDeletion(ctx, event, now, redelivery)
	}
	return nil
}

// applyCheckout records the subscription and applies the tier. When the
// subscription event arrived first, the record is activated instead and the
// tier is applied only if it was not already granted.
func (d *Domain) applyCheckout(ctx context.Context, event *model.PaymentEvent, now time.Time, redelivery bool) error {
	sub := newSubscription(event, now)

	created, err := d.createSubscription(ctx, sub)
	if err != nil {
		return err
	}
	if created {
		if !sub.IsActive() {
			return nil
		}
		_, err = d.ledger.ApplyTierChange(ctx, event.UserID, event.Tier)
		return err
	}

	existing, err := d.getSubscription(ctx, sub.ExternalID)
	if err != nil {
		return err
	}
	if existing == nil {
		return storageError("get subscription", fmt.Errorf("subscription %s vanished", sub.ExternalID))
	}

	if existing.Status.IsEnded() {
		d.logger.Warn("checkout completed for an ended subscription",
			zap.String("subscription_id", existing.ExternalID),
			zap.String("user_id", existing.UserID),
		)
		return nil
	}

	grant := grantsTier(existing, sub.Status, sub.Tier, redelivery)
	if sub.IsActive() {
		existing.Status = sub.Status
	}
	existing.Tier = sub.Tier
	existing.UpdatedAt = now
	if err := d.updateSubscription(ctx, existing); err != nil {
		return err
	}
	if !grant {
		d.logger.Info("subscription already granted",
			zap.String("subscription_id", existing.ExternalID),
			zap.String("user_id", existing.UserID),
		)
		return nil
	}
	_, err = d.ledger.ApplyTierChange(ctx, existing.UserID, existing.Tier)
	return err
}

// grantsTier reports whether moving stored to status and tier grants a paid
// tier the ledger has not been given yet. A redelivery always grants, since the
// failed attempt may have written the record before the ledger call.
func grantsTier(stored *model.Subscription, status model.SubscriptionStatus, tier model.Tier, redelivery bool) bool {
	if !status.IsActive() || !purchasable(tier) {
		return false
	}
	return redelivery || !stored.IsActive() || stored.Tier != tier
}

// applySubscription upserts the record by its external ID and applies the tier
// when grantsTier says so.
func (d *Domain) applySubscription(ctx context.Context, event *model.PaymentEvent, now time.Time, redelivery bool) error {
	existing, err := d.getSubscription(ctx, event.SubscriptionID)
	if err != nil {
		return err
	}

	if existing == nil {
		if event.UserID == "" {
			return fmt.Errorf("%w: missing userId metadata", ErrInvalidEvent)
		}
		sub := newSubscription(event, now)
		created, err := d.createSubscription(ctx, sub)
		if err != nil {
			return err
		}
		if created {
			if sub.IsActive() && purchasable(sub.Tier) {
				_, err = d.ledger.ApplyTierChange(ctx, sub.UserID, sub.Tier)
			}
			return err
		}
		// Lost a race with another event for the same subscription.
		if existing, err = d.getSubscription(ctx, event.SubscriptionID); err != nil {
			return err
		}
		if existing == nil {
			return storageError("get subscription", fmt.Errorf("subscription %s vanished", event.SubscriptionID))
		}
	}

	grant := grantsTier(existing, event.Status, event.Tier, redelivery)
	existing.Status = event.Status
	existing.CancelAtPeriodEnd = event.CancelAtPeriodEnd
	if purchasable(event.Tier) {
		existing.Tier = event.Tier
	}
	if event.PriceID != "" {
		existing.PriceID = event.PriceID
	}
	if event.BillingCycle != "" {
		existing.BillingCycle = event.BillingCycle
	}
	if !event.CurrentPeriodEnd.IsZero() {
		existing.CurrentPeriodEnd = event.CurrentPeriodEnd
	}
	existing.UpdatedAt = now

	if err := d.updateSubscription(ctx, existing); err != nil {
		return err
	}
	if !grant {
		return nil
	}
	_, err = d.ledger.ApplyTierChange(ctx, existing.UserID, existing.Tier)
	return err
}

// applyDeletion ends the subscription and reverts the user to FREE unless
// another active subscription remains. A redelivery repeats the revert because
// the record was already marked ended by the failed attempt.
func (d *Domain) applyDeletion(ctx context.Context, event *model.PaymentEvent, now time.Time, redelivery bool) error {
	existing, err := d.getSubscription(ctx, event.SubscriptionID)
	if err != nil {
		return err
	}
	if existing == nil {
		d.logger.Warn("deleted subscription was never recorded",
			zap.String("subscription_id", event.SubscriptionID),
			zap.String("user_id", event.UserID),
		)
		return nil
	}

	wasActive := existing.IsActive()
	existing.Status = event.Status
	if existing.Status == "" || existing.Status.IsActive() {
		existing.Status = model.SubscriptionStatusCanceled
	}
	existing.UpdatedAt = now
	if err := d.updateSubscription(ctx, existing); err != nil {
		return err
	}
	if !wasActive && !redelivery {
		return nil
	}

	sctx, cancel := d.storageContext(ctx)
	other, err := d.subscriptionDB.GetActiveByUserID(sctx, existing.UserID)
	cancel()
	if err != nil {
		return storageError("get active subscription", err)
	}
	if other != nil {
		d.logger.Info("user keeps another active subscription",
			zap.String("user_id", existing.UserID),
			zap.String("subscription_id", other.ExternalID),
		)
		return nil
	}

	_, err = d.ledger.ApplyTierChange(ctx, existing.UserID, model.TierFree)
	return err
}

// --- Checkout ---

func (d *Domain) CreateCheckout(ctx context.Context, userID, email string, tier model.Tier) (*model.CheckoutSessionResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	if !purchasable(tier) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}

	sess, err := d.provider.CreateCheckoutSession(ctx, &model.CheckoutParams{
		UserID:     userID,
		Email:      email,
		Tier:       tier,
		SuccessURL: d.cfg.SuccessURL,
		CancelURL:  d.cfg.CancelURL,
	})
	if err != nil {
		if errors.Is(err, outbound.ErrNoPriceForTier) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTier, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}

	d.logger.Info("checkout session created",
		zap.String("user_id", userID),
		zap.String("tier", tier.String()),
		zap.String("session_id", sess.ID),
	)
	return &model.CheckoutSessionResponse{SessionID: sess.ID, URL: sess.URL}, nil
}

func (d *Domain) VerifyCheckout(ctx context.Context, userID, sessionID string) (*model.CheckoutVerification, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidRequest
	}

	sess, err := d.provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}
	if sess.Metadata[model.MetadataUserID] != userID {
		return nil, ErrNotAuthorized
	}

	tier, _ := model.ParseTier(sess.Metadata[model.MetadataTier])
	return &model.CheckoutVerification{
		SessionID:      sess.ID,
		Success:        sess.Paid(),
		Status:         sess.PaymentStatus,
		Tier:           tier,
		SubscriptionID: sess.SubscriptionID,
	}, nil
}

// CancelSubscription schedules the caller's newest active subscription to end
// with its period. The ledger changes when the deletion event arrives.
func (d *Domain) CancelSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidRequest
	}

	sctx, cancel := d.storageContext(ctx)
	sub, err := d.subscriptionDB.GetActiveByUserID(sctx, userID)
	cancel()
	if err != nil {
		return nil, storageError("get active subscription", err)
	}
	if sub == nil {
		return nil, ErrSubscriptionNotFound
	}

	if err := d.provider.CancelAtPeriodEnd(ctx, sub.ExternalID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}

	sub.CancelAtPeriodEnd = true
	sub.UpdatedAt = d.now()
	if err := d.updateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	d.logger.Info("subscription set to cancel at period end",
		zap.String("user_id", userID),
		zap.String("subscription_id", sub.ExternalID),
	)
	return sub, nil
}

// --- Helpers ---

func purchasable(tier model.Tier) bool {
	return tier == model.TierPro || tier == model.TierEnterprise
}

func newSubscription(event *model.PaymentEvent, now time.Time) *model.Subscription {
	sub := &model.Subscription{
		ID:                uuid.New(),
		ExternalID:        event.IdempotencyKey(),
		UserID:            event.UserID,
		Tier:              event.Tier,
		Status:            event.Status,
		PriceID:           event.PriceID,
		BillingCycle:      event.BillingCycle,
		CancelAtPeriodEnd: event.CancelAtPeriodEnd,
		CurrentPeriodEnd:  event.CurrentPeriodEnd,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if sub.Status == "" {
		sub.Status = model.SubscriptionStatusActive
	}
	if sub.BillingCycle == "" {
		sub.BillingCycle = model.BillingCycleMonthly
	}
	return sub
}

func (d *Domain) getSubscription(ctx context.Context, externalID string) (*model.Subscription, error) {
	sctx, cancel := d.storageContext(ctx)
	defer cancel()

	sub, err := d.subscriptionDB.GetByExternalID(sctx, externalID)
	if err != nil {
		return nil, storageError("get subscription", err)
	}
	return sub, nil
}

func (d *Domain) createSubscription(ctx context.Context, sub *model.Subscription) (bool, error) {
	sctx, cancel := d.storageContext(ctx)
	defer cancel()

	created, err := d.subscriptionDB.Create(sctx, sub)
	if err != nil {
		return false, storageError("create subscription", err)
	}
	return created, nil
}

func (d *Domain) updateSubscription(ctx context.Context, sub *model.Subscription) error {
	sctx, cancel := d.storageContext(ctx)
	defer cancel()

	if err := d.subscriptionDB.Update(sctx, sub); err != nil {
		return storageError("update subscription", err)
	}
	return nil
}

func (d *Domain) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.StorageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.cfg.StorageTimeout)
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageFailure, op, err)
}
