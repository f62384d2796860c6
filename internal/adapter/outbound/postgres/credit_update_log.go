package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iconforge/server/internal/model"
	"github.com/iconforge/server/internal/port/outbound"
	"gorm.io/gorm"
)

// creditUpdateLogAdapter implements outbound.CreditUpdateLogDatabasePort.
type creditUpdateLogAdapter struct {
	db *gorm.DB
}

// NewCreditUpdateLogAdapter creates a new credit update log database adapter.
func NewCreditUpdateLogAdapter(db *gorm.DB) outbound.CreditUpdateLogDatabasePort {
	return &creditUpdateLogAdapter{db: db}
}

func (a *creditUpdateLogAdapter) Append(ctx context.Context, entry *model.CreditUpdateLog) error {
	if err := a.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("append credit update log: %w", err)
	}
	return nil
}

func (a *creditUpdateLogAdapter) ListRecent(ctx context.Context, accountID uuid.UUID, since time.Time, limit int) ([]*model.CreditUpdateLog, error) {
	var entries []*model.CreditUpdateLog
	err := a.db.WithContext(ctx).
		Where("account_id = ? AND created_at >= ?", accountID, since).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list credit update logs: %w", err)
	}
	return entries, nil
}

// Compile-time check
var _ outbound.CreditUpdateLogDatabasePort = (*creditUpdateLogAdapter)(nil)
