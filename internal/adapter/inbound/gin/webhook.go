package gin

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/iconforge/server/internal/port/inbound"
	apperrors "github.com/iconforge/server/internal/shared/errors"
)

// StripeSignatureHeader carries the processor's payload signature.
const StripeSignatureHeader = "Stripe-Signature"

// maxWebhookBody mirrors the processor's documented payload ceiling.
const maxWebhookBody = 64 << 10

// webhookAdapter implements inbound.WebhookHttpPort.
type webhookAdapter struct {
	domain inbound.BillingDomain
}

// NewWebhookAdapter creates a new webhook HTTP adapter.
func NewWebhookAdapter(domain inbound.BillingDomain) inbound.WebhookHttpPort {
	return &webhookAdapter{domain: domain}
}

// RegisterWebhookRoutes registers processor callbacks. They must stay outside auth.
func RegisterWebhookRoutes(r *gin.RouterGroup, adapter inbound.WebhookHttpPort) {
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/stripe", adapter.HandleStripeWebhook)
	}
}

func (a *webhookAdapter) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		handleError(c, apperrors.BadRequest(apperrors.CodeInvalidEvent, "Failed to read body", err))
		return
	}
	if len(payload) > maxWebhookBody {
		handleError(c, apperrors.NewAppError(apperrors.CodeInvalidEvent, "Payload too large", http.StatusRequestEntityTooLarge, nil))
		return
	}

	signature := c.GetHeader(StripeSignatureHeader)
	if signature == "" {
		handleError(c, apperrors.BadRequest(apperrors.CodeInvalidSignature, "Missing signature", nil))
		return
	}

	if err := a.domain.HandleWebhook(c.Request.Context(), payload, signature); err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// Compile-time check
var _ inbound.WebhookHttpPort = (*webhookAdapter)(nil)
