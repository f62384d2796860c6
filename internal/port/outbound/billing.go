package outbound

import (
	"context"

	"github.com/iconforge/server/internal/model"
)

// SubscriptionDatabasePort defines subscription persistence operations.
type SubscriptionDatabasePort interface {
	// Create inserts sub unless a record with the same external ID exists.
	// Reports whether this call created the record.
	Create(ctx context.Context, sub *model.Subscription) (bool, error)

	// GetByExternalID gets a subscription by the processor's subscription ID.
	GetByExternalID(ctx context.Context, externalID string) (*model.Subscription, error)

	// GetActiveByUserID gets the newest active subscription for a user.
	GetActiveByUserID(ctx context.Context, userID string) (*model.Subscription, error)

	// Update updates a subscription.
	Update(ctx context.Context, sub *model.Subscription) error
}
