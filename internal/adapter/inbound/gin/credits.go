package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/iconforge/server/internal/port/inbound"
)

// creditsAdapter implements inbound.CreditsHttpPort.
type creditsAdapter struct {
	domain inbound.CreditDomain
}

// NewCreditsAdapter creates a new credits HTTP adapter.
func NewCreditsAdapter(domain inbound.CreditDomain) inbound.CreditsHttpPort {
	return &creditsAdapter{domain: domain}
}

// RegisterCreditsRoutes registers ledger routes on an authenticated group.
func RegisterCreditsRoutes(r *gin.RouterGroup, adapter inbound.CreditsHttpPort) {
	credits := r.Group("/users/:userId/credits")
	{
		credits.GET("", adapter.GetBalance)
		credits.POST("/deduct", adapter.Deduct)
	}
}

func (a *creditsAdapter) GetBalance(c *gin.Context) {
	userID, ok := requireOwner(c)
	if !ok {
		return
	}

	balance, err := a.domain.GetBalance(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, balance)
}

func (a *creditsAdapter) Deduct(c *gin.Context) {
	userID, ok := requireOwner(c)
	if !ok {
		return
	}

	result, err := a.domain.Deduct(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Compile-time check
var _ inbound.CreditsHttpPort = (*creditsAdapter)(nil)
