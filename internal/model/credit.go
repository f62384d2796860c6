package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tier represents a subscription tier.
type Tier string

const (
	TierFree       Tier = "FREE"
	TierPro        Tier = "PRO"
	TierEnterprise Tier = "ENTERPRISE"
)

// String returns the string representation of the tier.
func (t Tier) String() string {
	return string(t)
}

// IsValid checks if the tier is valid.
func (t Tier) IsValid() bool {
	switch t {
	case TierFree, TierPro, TierEnterprise:
		return true
	}
	return false
}

// ParseTier parses a tier name case-insensitively.
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	return t, t.IsValid()
}

// UpdateStatus is the outcome of a tier-change attempt.
type UpdateStatus string

const (
	UpdateStatusCompleted UpdateStatus = "COMPLETED"
	UpdateStatusFailed    UpdateStatus = "FAILED"
)

// String returns the string representation of the update status.
func (s UpdateStatus) String() string {
	return string(s)
}

// CreditAccount is the per-user credit record.
type CreditAccount struct {
	ID               uuid.UUID    `json:"id" gorm:"type:uuid;primaryKey"`
	UserID           string       `json:"user_id" gorm:"uniqueIndex;not null"`
	Tier             Tier         `json:"tier" gorm:"not null;default:FREE"`
	RequestedTier    Tier         `json:"requested_tier" gorm:"not null;default:FREE"`
	DailyAllotment   int          `json:"daily_allotment" gorm:"not null"`
	MonthlyAllotment int          `json:"monthly_allotment" gorm:"not null"`
	UsedCredits      int          `json:"used_credits" gorm:"not null;default:0"`
	ResetAt          time.Time    `json:"reset_at" gorm:"not null;index"`
	UpdateStatus     UpdateStatus `json:"update_status" gorm:"not null;default:COMPLETED;index:idx_credit_accounts_status_updated,priority:1"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" gorm:"index:idx_credit_accounts_status_updated,priority:2"`
}

// TableName returns the table name for GORM.
func (CreditAccount) TableName() string {
	return "credit_accounts"
}

// IsStale reports whether the account's cycle has ended at now.
func (a *CreditAccount) IsStale(now time.Time) bool {
	return !now.Before(a.ResetAt)
}

// Remaining returns the credits left in the current cycle.
func (a *CreditAccount) Remaining() int {
	if r := a.DailyAllotment - a.UsedCredits; r > 0 {
		return r
	}
	return 0
}

// RetryTier returns the tier the reconciliation worker should re-apply.
func (a *CreditAccount) RetryTier() Tier {
	if a.RequestedTier.IsValid() {
		return a.RequestedTier
	}
	return a.Tier
}

// Clone returns a copy of the account.
func (a *CreditAccount) Clone() *CreditAccount {
	c := *a
	return &c
}

// AccountCursor is a keyset position in (updated_at, id) order.
// The zero value starts from the beginning.
type AccountCursor struct {
	UpdatedAt time.Time
	ID        uuid.UUID
}

// CursorAt returns the cursor positioned on a.
func CursorAt(a *CreditAccount) AccountCursor {
	return AccountCursor{UpdatedAt: a.UpdatedAt, ID: a.ID}
}

// IsZero reports whether c starts from the beginning.
func (c AccountCursor) IsZero() bool {
	return c.UpdatedAt.IsZero() && c.ID == uuid.Nil
}

// Covers reports whether a sorts at or before the cursor position.
func (c AccountCursor) Covers(a *CreditAccount) bool {
	if c.IsZero() {
		return false
	}
	if !a.UpdatedAt.Equal(c.UpdatedAt) {
		return a.UpdatedAt.Before(c.UpdatedAt)
	}
	return strings.Compare(a.ID.String(), c.ID.String()) <= 0
}

// CreditUpdateLog is an append-only record of one tier-change attempt.
type CreditUpdateLog struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	AccountID uuid.UUID      `json:"account_id" gorm:"type:uuid;not null;index:idx_credit_update_logs_account_created,priority:1"`
	Tier      Tier           `json:"tier" gorm:"not null"`
	Status    UpdateStatus   `json:"status" gorm:"not null;index:idx_credit_update_logs_status_created,priority:1"`
	Error     *string        `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null;index:idx_credit_update_logs_status_created,priority:2;index:idx_credit_update_logs_account_created,priority:2"`
	Account   *CreditAccount `json:"-" gorm:"foreignKey:AccountID;constraint:OnDelete:RESTRICT"`
}

// TableName returns the table name for GORM.
func (CreditUpdateLog) TableName() string {
	return "credit_update_logs"
}

// NewCreditUpdateLog builds a log entry for an attempt on the given account.
func NewCreditUpdateLog(accountID uuid.UUID, tier Tier, status UpdateStatus, cause error, at time.Time) *CreditUpdateLog {
	entry := &CreditUpdateLog{
		ID:        uuid.New(),
		AccountID: accountID,
		Tier:      tier,
		Status:    status,
		CreatedAt: at,
	}
	if cause != nil {
		msg := cause.Error()
		entry.Error = &msg
	}
	return entry
}

// Balance is the read model returned by balance queries.
type Balance struct {
	UserID         string            `json:"user_id"`
	Tier           Tier              `json:"tier"`
	Total          int               `json:"total"`
	Used           int               `json:"used"`
	Remaining      int               `json:"remaining"`
	ResetAt        time.Time         `json:"reset_at"`
	MonthlyCredits int               `json:"monthly_credits"`
	UpdateStatus   UpdateStatus      `json:"update_status"`
	Subscription   *SubscriptionInfo `json:"subscription"`
}

// SubscriptionInfo is the subscription summary joined onto a balance.
type SubscriptionInfo struct {
	Status           SubscriptionStatus `json:"status"`
	CurrentPeriodEnd time.Time          `json:"current_period_end"`
}

// DeductResult is the outcome of a successful deduction.
type DeductResult struct {
	Remaining int `json:"remaining"`
	Used      int `json:"used"`
	Total     int `json:"total"`
}
