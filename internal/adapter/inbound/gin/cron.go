package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/iconforge/server/internal/port/inbound"
	"github.com/iconforge/server/internal/shared/middleware"
)

// cronAdapter implements inbound.CronHttpPort.
type cronAdapter struct {
	runner inbound.BatchRunner
}

// NewCronAdapter creates a new cron HTTP adapter.
func NewCronAdapter(runner inbound.BatchRunner) inbound.CronHttpPort {
	return &cronAdapter{runner: runner}
}

// RegisterCronRoutes registers the secret-gated batch triggers.
func RegisterCronRoutes(r *gin.RouterGroup, adapter inbound.CronHttpPort, secret string) {
	cron := r.Group("/cron", middleware.CronSecret(secret))
	{
		cron.POST("/reset-credits", adapter.ResetCredits)
		cron.POST("/retry-credit-updates", adapter.RetryCreditUpdates)
	}
}

func (a *cronAdapter) ResetCredits(c *gin.Context) {
	result, err := a.runner.RunReset(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  result.Reset,
		"result": result,
	})
}

func (a *cronAdapter) RetryCreditUpdates(c *gin.Context) {
	result, err := a.runner.RunReconcile(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"processed": result.Processed(),
		"result":    result,
	})
}

// Compile-time check
var _ inbound.CronHttpPort = (*cronAdapter)(nil)
