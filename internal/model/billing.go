package model

import (
	"time"

	"github.com/google/uuid"
)

// BillingCycle represents the billing period.
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

// String returns the string representation of the billing cycle.
func (b BillingCycle) String() string {
	return string(b)
}

// BillingCycleFromInterval maps a processor recurring interval to a cycle.
func BillingCycleFromInterval(interval string) BillingCycle {
	if interval == "year" {
		return BillingCycleYearly
	}
	return BillingCycleMonthly
}

// SubscriptionStatus represents the status of a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
)

// String returns the string representation of the status.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsActive returns true if the subscription is active or trialing.
func (s SubscriptionStatus) IsActive() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// IsEnded reports whether the subscription can no longer become active.
func (s SubscriptionStatus) IsEnded() bool {
	return s == SubscriptionStatusCanceled
}

// Subscription is the local record of a processor subscription.
type Subscription struct {
	ID                uuid.UUID          `json:"id" gorm:"type:uuid;primaryKey"`
	ExternalID        string             `json:"external_id" gorm:"uniqueIndex;not null"`
	UserID            string             `json:"user_id" gorm:"not null;index"`
	Tier              Tier               `json:"tier" gorm:"not null"`
	Status            SubscriptionStatus `json:"status" gorm:"not null;default:active"`
	PriceID           string             `json:"price_id"`
	BillingCycle      BillingCycle       `json:"billing_cycle" gorm:"not null;default:monthly"`
	CancelAtPeriodEnd bool               `json:"cancel_at_period_end" gorm:"default:false"`
	CurrentPeriodEnd  time.Time          `json:"current_period_end"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// TableName returns the database table name.
func (Subscription) TableName() string {
	return "subscriptions"
}

// IsActive returns true if the subscription is active.
func (s *Subscription) IsActive() bool {
	return s.Status.IsActive()
}

// Info returns the summary joined onto a balance.
func (s *Subscription) Info() *SubscriptionInfo {
	return &SubscriptionInfo{Status: s.Status, CurrentPeriodEnd: s.CurrentPeriodEnd}
}

// --- Request/Response DTOs ---

// CreateCheckoutRequest represents a request to start a tier checkout.
type CreateCheckoutRequest struct {
	Tier string `json:"tier" binding:"required"`
}

// CheckoutSessionResponse represents a checkout session handed to the client.
type CheckoutSessionResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// CheckoutVerification is the outcome of verifying a checkout session.
type CheckoutVerification struct {
	SessionID      string `json:"session_id"`
	Success        bool   `json:"success"`
	Status         string `json:"status"`
	Tier           Tier   `json:"tier"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}
