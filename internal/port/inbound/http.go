package inbound

import (
	"context"

	"github.com/gin-gonic/gin"
)

// CreditsHttpPort defines HTTP handler interface for ledger operations.
type CreditsHttpPort interface {
	// GetBalance handles GET /users/:userId/credits
	GetBalance(c *gin.Context)

	// Deduct handles POST /users/:userId/credits/deduct
	// Debits one credit from the caller's own account.
	Deduct(c *gin.Context)
}

// BillingHttpPort defines HTTP handler interface for checkout and subscription operations.
type BillingHttpPort interface {
	// CreateCheckout handles POST /billing/checkout
	CreateCheckout(c *gin.Context)

	// VerifyCheckout handles GET /billing/checkout/:sessionId
	VerifyCheckout(c *gin.Context)

	// CancelSubscription handles POST /billing/subscription/cancel
	CancelSubscription(c *gin.Context)
}

// WebhookHttpPort defines HTTP handler interface for payment processor notifications.
type WebhookHttpPort interface {
	// HandleStripeWebhook handles POST /webhooks/stripe
	HandleStripeWebhook(c *gin.Context)
}

// CronHttpPort defines HTTP handler interface for externally scheduled batches.
type CronHttpPort interface {
	// ResetCredits handles POST /cron/reset-credits
	ResetCredits(c *gin.Context)

	// RetryCreditUpdates handles POST /cron/retry-credit-updates
	RetryCreditUpdates(c *gin.Context)
}

// BatchRunner runs the ledger batches single-flighted across instances.
type BatchRunner interface {
	RunReset(ctx context.Context) (*ResetResult, error)
	RunReconcile(ctx context.Context) (*ReconcileResult, error)
}
