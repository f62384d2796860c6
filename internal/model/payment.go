package model

import (
	"time"

	"github.com/google/uuid"
)

// PaymentProvider represents a payment provider.
type PaymentProvider string

const (
	PaymentProviderStripe PaymentProvider = "stripe"
)

// Metadata keys stamped on checkout sessions and subscriptions.
const (
	MetadataUserID = "userId"
	MetadataTier   = "tier"
)

// PaymentEventType is the normalized kind of a processor notification.
type PaymentEventType string

const (
	PaymentEventCheckoutCompleted   PaymentEventType = "checkout.completed"
	PaymentEventSubscriptionCreated PaymentEventType = "subscription.created"
	PaymentEventSubscriptionUpdated PaymentEventType = "subscription.updated"
	PaymentEventSubscriptionDeleted PaymentEventType = "subscription.deleted"
	PaymentEventIgnored             PaymentEventType = "ignored"
)

// PaymentEvent is a verified processor notification in provider-neutral form.
type PaymentEvent struct {
	Provider  PaymentProvider
	EventID   string
	RawType   string
	Type      PaymentEventType
	Payload   []byte
	CreatedAt time.Time

	// Checkout
	SessionID string

	// Subscription (also set for checkout when the session carries one)
	SubscriptionID    string
	UserID            string
	Tier              Tier
	PriceID           string
	Status            SubscriptionStatus
	BillingCycle      BillingCycle
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
}

// IdempotencyKey returns the key used to deduplicate the ledger effect.
func (e *PaymentEvent) IdempotencyKey() string {
	if e.SubscriptionID != "" {
		return e.SubscriptionID
	}
	return e.SessionID
}

// WebhookEvent represents a stored webhook event for idempotency.
type WebhookEvent struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	Provider    string     `json:"provider" gorm:"uniqueIndex:idx_provider_event;not null"`
	EventID     string     `json:"event_id" gorm:"uniqueIndex:idx_provider_event;not null"`
	EventType   string     `json:"event_type" gorm:"not null"`
	Payload     string     `json:"payload" gorm:"type:jsonb"`
	Processed   bool       `json:"processed" gorm:"default:false"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TableName returns the table name for GORM.
func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// ClaimResult is the outcome of claiming a webhook event for processing.
type ClaimResult int

const (
	// ClaimDuplicate means the event was already processed successfully.
	ClaimDuplicate ClaimResult = iota
	// ClaimNew means this is the first delivery.
	ClaimNew
	// ClaimRedelivery means an earlier attempt failed or never finished.
	ClaimRedelivery
)

// Claimed reports whether the caller should process the event.
func (r ClaimResult) Claimed() bool {
	return r != ClaimDuplicate
}

// --- Provider Types ---

// ProviderCheckoutSession represents a checkout session from the provider.
type ProviderCheckoutSession struct {
	ID             string
	URL            string
	PaymentStatus  string
	SubscriptionID string
	Metadata       map[string]string
}

// Paid reports whether the processor considers the session paid.
func (s *ProviderCheckoutSession) Paid() bool {
	return s.PaymentStatus == "paid" || s.PaymentStatus == "no_payment_required"
}

// CheckoutParams carries what a checkout session needs.
type CheckoutParams struct {
	UserID     string
	Email      string
	Tier       Tier
	SuccessURL string
	CancelURL  string
}
