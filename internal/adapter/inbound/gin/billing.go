package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/iconforge/server/internal/model"
	"github.com/iconforge/server/internal/port/inbound"
	apperrors "github.com/iconforge/server/internal/shared/errors"
	"github.com/iconforge/server/internal/shared/middleware"
)

// billingAdapter implements inbound.BillingHttpPort.
type billingAdapter struct {
	domain inbound.BillingDomain
}

// NewBillingAdapter creates a new billing HTTP adapter.
func NewBillingAdapter(domain inbound.BillingDomain) inbound.BillingHttpPort {
	return &billingAdapter{domain: domain}
}

// RegisterBillingRoutes registers checkout and subscription routes on an authenticated group.
func RegisterBillingRoutes(r *gin.RouterGroup, adapter inbound.BillingHttpPort) {
	billing := r.Group("/billing")
	{
		billing.POST("/checkout", adapter.CreateCheckout)
		billing.GET("/checkout/:sessionId", adapter.VerifyCheckout)
		billing.POST("/subscription/cancel", adapter.CancelSubscription)
	}
}

func (a *billingAdapter) CreateCheckout(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req model.CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, apperrors.BadRequest(apperrors.CodeInvalidRequest, "tier is required", err))
		return
	}
	tier, valid := model.ParseTier(req.Tier)
	if !valid {
		handleError(c, apperrors.BadRequest(apperrors.CodeInvalidRequest, "Invalid tier", nil))
		return
	}

	resp, err := a.domain.CreateCheckout(c.Request.Context(), userID, middleware.GetEmail(c), tier)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a *billingAdapter) VerifyCheckout(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	result, err := a.domain.VerifyCheckout(c.Request.Context(), userID, c.Param("sessionId"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (a *billingAdapter) CancelSubscription(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	sub, err := a.domain.CancelSubscription(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

// Compile-time check
var _ inbound.BillingHttpPort = (*billingAdapter)(nil)
