package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iconforge/server/internal/model"
	"github.com/iconforge/server/internal/port/outbound"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// tierColumns are overwritten when a tier change is upserted onto an existing row.
var tierColumns = []string{
	"tier",
	"requested_tier",
	"daily_allotment",
	"monthly_allotment",
	"used_credits",
	"reset_at",
	"update_status",
	"updated_at",
}

// creditAccountAdapter implements outbound.CreditAccountDatabasePort.
type creditAccountAdapter struct {
	db *gorm.DB
}

// NewCreditAccountAdapter creates a new credit account database adapter.
func NewCreditAccountAdapter(db *gorm.DB) outbound.CreditAccountDatabasePort {
	return &creditAccountAdapter{db: db}
}

func (a *creditAccountAdapter) GetByUserID(ctx context.Context, userID string) (*model.CreditAccount, error) {
	return getAccount(a.db.WithContext(ctx), userID)
}

func getAccount(db *gorm.DB, userID string) (*model.CreditAccount, error) {
	var acct model.CreditAccount
	err := db.Where("user_id = ?", userID).First(&acct).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get credit account: %w", err)
	}
	return &acct, nil
}

func (a *creditAccountAdapter) GetOrCreate(ctx context.Context, defaults *model.CreditAccount) (*model.CreditAccount, error) {
	db := a.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(defaults).Error
	if err != nil {
		return nil, fmt.Errorf("create credit account: %w", err)
	}

	acct, err := getAccount(db, defaults.UserID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("credit account for %s vanished after insert", defaults.UserID)
	}
	return acct, nil
}

func (a *creditAccountAdapter) Mutate(ctx context.Context, userID string, fn func(acct *model.CreditAccount) error) (*model.CreditAccount, error) {
	var out *model.CreditAccount
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acct model.CreditAccount
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&acct).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("lock credit account: %w", err)
		}

		if err := fn(&acct); err != nil {
			return err
		}

		err = tx.Model(&model.CreditAccount{}).
			Where("id = ?", acct.ID).
			UpdateColumns(map[string]any{
				"used_credits": acct.UsedCredits,
				"reset_at":     acct.ResetAt,
			}).Error
		if err != nil {
			return fmt.Errorf("update credit account: %w", err)
		}
		out = &acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *creditAccountAdapter) ApplyTier(ctx context.Context, acct *model.CreditAccount, entry *model.CreditUpdateLog) (*model.CreditAccount, error) {
	var out *model.CreditAccount
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns(tierColumns),
		}).Create(acct).Error
		if err != nil {
			return fmt.Errorf("upsert credit account: %w", err)
		}

		stored, err := getAccount(tx, acct.UserID)
		if err != nil {
			return err
		}
		if stored == nil {
			return fmt.Errorf("credit account for %s missing after upsert", acct.UserID)
		}

		entry.AccountID = stored.ID
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("append credit update log: %w", err)
		}
		out = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *creditAccountAdapter) MarkFailed(ctx context.Context, userID string, requested model.Tier, at time.Time) (*model.CreditAccount, error) {
	db := a.db.WithContext(ctx)
	res := db.Model(&model.CreditAccount{}).
		Where("user_id = ?", userID).
		UpdateColumns(map[string]any{
			"update_status":  model.UpdateStatusFailed,
			"requested_tier": requested,
			"updated_at":     at,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("mark credit account failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return getAccount(db, userID)
}

func (a *creditAccountAdapter) ListStale(ctx context.Context, now time.Time, limit int) ([]*model.CreditAccount, error) {
	var accounts []*model.CreditAccount
	err := a.db.WithContext(ctx).
		Where("reset_at <= ?", now).
		Order("reset_at ASC").
		Limit(limit).
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("list stale credit accounts: %w", err)
	}
	return accounts, nil
}

func (a *creditAccountAdapter) ResetIfStale(ctx context.Context, userID string, now, next time.Time) (bool, error) {
	res := a.db.WithContext(ctx).
		Model(&model.CreditAccount{}).
		Where("user_id = ? AND reset_at <= ?", userID, now).
		UpdateColumns(map[string]any{
			"used_credits": 0,
			"reset_at":     next,
		})
	if res.Error != nil {
		return false, fmt.Errorf("reset credit account: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (a *creditAccountAdapter) ListFailedSince(ctx context.Context, since time.Time, after model.AccountCursor, limit int) ([]*model.CreditAccount, error) {
	var accounts []*model.CreditAccount
	query := a.db.WithContext(ctx).
		Where("update_status = ? AND updated_at >= ?", model.UpdateStatusFailed, since)
	if !after.IsZero() {
		query = query.Where("(updated_at, id) > (?, ?)", after.UpdatedAt, after.ID)
	}
	err := query.
		Order("updated_at ASC, id ASC").
		Limit(limit).
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("list failed credit accounts: %w", err)
	}
	return accounts, nil
}

// Compile-time check
var _ outbound.CreditAccountDatabasePort = (*creditAccountAdapter)(nil)
