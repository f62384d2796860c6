package inbound

import (
	"context"

	"github.com/iconforge/server/internal/model"
)

// BillingDomain defines the payment event gateway inbound port.
type BillingDomain interface {
	// HandleWebhook verifies and applies one processor notification.
	HandleWebhook(ctx context.Context, payload []byte, signature string) error

	// CreateCheckout starts a hosted checkout for a paid tier.
	CreateCheckout(ctx context.Context, userID, email string, tier model.Tier) (*model.CheckoutSessionResponse, error)

	// VerifyCheckout reports whether the caller's checkout session was paid.
	VerifyCheckout(ctx context.Context, userID, sessionID string) (*model.CheckoutVerification, error)

	// CancelSubscription cancels the caller's active subscription at period end.
	CancelSubscription(ctx context.Context, userID string) (*model.Subscription, error)
}
