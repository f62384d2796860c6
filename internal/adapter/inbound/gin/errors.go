package gin

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/iconforge/server/internal/domain/billing"
	"github.com/iconforge/server/internal/domain/credit"
	apperrors "github.com/iconforge/server/internal/shared/errors"
	"github.com/iconforge/server/internal/shared/logger"
	"github.com/iconforge/server/internal/worker"
	"go.uber.org/zap"
)

// handleError maps domain errors to HTTP responses.
func handleError(c *gin.Context, err error) {
	appErr := toAppError(err)
	if appErr.StatusCode >= 500 {
		logger.FromContext(c.Request.Context(), nil).Error("request failed",
			zap.String("code", appErr.Code),
			zap.Error(err),
		)
	}
	_ = c.Error(err)
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}

func toAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	// Caller errors
	case errors.Is(err, credit.ErrNotAuthorized), errors.Is(err, billing.ErrNotAuthorized):
		return apperrors.Forbidden("Not authorized for this account", err)
	case errors.Is(err, credit.ErrInvalidUserID):
		return apperrors.BadRequest(apperrors.CodeInvalidRequest, "Invalid user id", err)
	case errors.Is(err, credit.ErrInvalidTier), errors.Is(err, billing.ErrInvalidTier):
		return apperrors.BadRequest(apperrors.CodeInvalidRequest, "Invalid tier", err)
	case errors.Is(err, billing.ErrInvalidRequest):
		return apperrors.BadRequest(apperrors.CodeInvalidRequest, "Invalid request", err)
	case errors.Is(err, billing.ErrInvalidSignature):
		return apperrors.BadRequest(apperrors.CodeInvalidSignature, "Invalid webhook signature", err)
	case errors.Is(err, billing.ErrInvalidEvent):
		return apperrors.BadRequest(apperrors.CodeInvalidEvent, "Invalid webhook event", err)

	// Account errors
	case errors.Is(err, credit.ErrInsufficientCredits):
		return apperrors.InsufficientCredits(err)
	case errors.Is(err, credit.ErrAccountNotFound):
		return apperrors.NotFound("Credit account", err)
	case errors.Is(err, billing.ErrSubscriptionNotFound):
		return apperrors.NotFound("Active subscription", err)

	// Concurrency
	case errors.Is(err, billing.ErrEventInProgress):
		return apperrors.Conflict("Event is being processed", err)
	case errors.Is(err, worker.ErrBatchInProgress):
		return apperrors.Conflict("Batch already running", err)

	// Infrastructure errors
	case errors.Is(err, credit.ErrTierChangeFailed):
		return apperrors.Internal(apperrors.CodeTierChangeFailed, "Tier change failed", err)
	case errors.Is(err, credit.ErrStorageFailure), errors.Is(err, billing.ErrStorageFailure):
		return apperrors.Unavailable(apperrors.CodeStorageFailure, "Storage unavailable", err)
	case errors.Is(err, billing.ErrProviderFailure):
		return apperrors.Unavailable(apperrors.CodeProviderFailure, "Payment provider unavailable", err)
	}

	return apperrors.Internal(apperrors.CodeInternal, "Internal server error", err)
}
