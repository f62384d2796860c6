package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/iconforge/server/internal/model"
	"github.com/iconforge/server/internal/port/outbound"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// webhookEventAdapter implements outbound.WebhookEventDatabasePort.
type webhookEventAdapter struct {
	db *gorm.DB
}

// NewWebhookEventAdapter creates a new webhook event database adapter.
func NewWebhookEventAdapter(db *gorm.DB) outbound.WebhookEventDatabasePort {
	return &webhookEventAdapter{db: db}
}

func (a *webhookEventAdapter) Claim(ctx context.Context, event *model.WebhookEvent) (model.ClaimResult, error) {
	db := a.db.WithContext(ctx)

	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return model.ClaimDuplicate, fmt.Errorf("create webhook event: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return model.ClaimNew, nil
	}

	// Seen before: reclaim unless it was processed successfully.
	res = db.Model(&model.WebhookEvent{}).
		Where("provider = ? AND event_id = ? AND (processed = ? OR error IS NOT NULL)", event.Provider, event.EventID, false).
		UpdateColumns(map[string]any{
			"processed":    false,
			"processed_at": nil,
			"error":        nil,
		})
	if res.Error != nil {
		return model.ClaimDuplicate, fmt.Errorf("reclaim webhook event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return model.ClaimDuplicate, nil
	}
	return model.ClaimRedelivery, nil
}

func (a *webhookEventAdapter) MarkProcessed(ctx context.Context, provider, eventID string, processErr error, at time.Time) error {
	updates := map[string]any{
		"processed":    true,
		"processed_at": at,
		"error":        nil,
	}
	if processErr != nil {
		updates["error"] = processErr.Error()
	}
	err := a.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("provider = ? AND event_id = ?", provider, eventID).
		UpdateColumns(updates).Error
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	return nil
}

// Compile-time check
var _ outbound.WebhookEventDatabasePort = (*webhookEventAdapter)(nil)
