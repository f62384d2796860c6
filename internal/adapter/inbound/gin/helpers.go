package gin

import (
	"github.com/gin-gonic/gin"
	apperrors "github.com/iconforge/server/internal/shared/errors"
	"github.com/iconforge/server/internal/shared/middleware"
)

// requireUserID returns the authenticated user ID, writing a 401 when absent.
func requireUserID(c *gin.Context) (string, bool) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		handleError(c, apperrors.Unauthorized(""))
		return "", false
	}
	return userID, true
}

// requireOwner checks that the :userId path parameter names the caller.
func requireOwner(c *gin.Context) (string, bool) {
	userID, ok := requireUserID(c)
	if !ok {
		return "", false
	}
	if c.Param("userId") != userID {
		handleError(c, apperrors.Forbidden("Not authorized for this account", nil))
		return "", false
	}
	return userID, true
}
