package outbound

import (
	"context"
	"errors"
	"time"

	"github.com/iconforge/server/internal/model"
)

// Payment provider errors.
var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
	ErrNoPriceForTier   = errors.New("no price configured for tier")
)

// WebhookEventDatabasePort defines webhook event persistence operations.
type WebhookEventDatabasePort interface {
	// Claim records the event. It reports ClaimDuplicate when the event was
	// already processed successfully and ClaimRedelivery when an earlier
	// attempt failed or never finished.
	Claim(ctx context.Context, event *model.WebhookEvent) (model.ClaimResult, error)

	// MarkProcessed records the processing outcome of a claimed event.
	MarkProcessed(ctx context.Context, provider, eventID string, processErr error, at time.Time) error
}

// PaymentProviderPort defines the interface for the payment processor.
type PaymentProviderPort interface {
	// Name returns the provider name.
	Name() model.PaymentProvider

	// ParseWebhook verifies the signature and normalizes the event.
	ParseWebhook(payload []byte, signature string) (*model.PaymentEvent, error)

	// CreateCheckoutSession creates a hosted subscription checkout.
	CreateCheckoutSession(ctx context.Context, params *model.CheckoutParams) (*model.ProviderCheckoutSession, error)

	// GetCheckoutSession gets a checkout session.
	GetCheckoutSession(ctx context.Context, sessionID string) (*model.ProviderCheckoutSession, error)

	// CancelAtPeriodEnd schedules a subscription to end with its current period.
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error
}
