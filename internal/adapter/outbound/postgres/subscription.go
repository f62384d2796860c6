package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/iconforge/server/internal/model"
	"github.com/iconforge/server/internal/port/outbound"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// subscriptionAdapter implements outbound.SubscriptionDatabasePort.
type subscriptionAdapter struct {
	db *gorm.DB
}

// NewSubscriptionAdapter creates a new subscription database adapter.
func NewSubscriptionAdapter(db *gorm.DB) outbound.SubscriptionDatabasePort {
	return &subscriptionAdapter{db: db}
}

func (a *subscriptionAdapter) Create(ctx context.Context, sub *model.Subscription) (bool, error) {
	res := a.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		}).
		Create(sub)
	if res.Error != nil {
		return false, fmt.Errorf("create subscription: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (a *subscriptionAdapter) GetByExternalID(ctx context.Context, externalID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := a.db.WithContext(ctx).First(&sub, "external_id = ?", externalID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (a *subscriptionAdapter) GetActiveByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := a.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []model.SubscriptionStatus{
			model.SubscriptionStatusActive,
			model.SubscriptionStatusTrialing,
		}).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (a *subscriptionAdapter) Update(ctx context.Context, sub *model.Subscription) error {
	return a.db.WithContext(ctx).Save(sub).Error
}

// Compile-time check
var _ outbound.SubscriptionDatabasePort = (*subscriptionAdapter)(nil)
