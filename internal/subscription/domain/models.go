// Package domain contains persistence models for the subscription
// ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status represents lifecycle states for a subscription.
type Status string

const (
	StatusTrial     Status = "trial"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// IsLive reports whether the subscription entitles the tenant to use
// the suite.
func (s Status) IsLive() bool {
	return s == StatusTrial || s == StatusActive
}

// Subscription binds a tenant to a plan for a period.
type Subscription struct {
	ID                 snowflake.ID      `gorm:"primaryKey" json:"id"`
	TenantID           snowflake.ID      `gorm:"not null;index" json:"tenant_id"`
	PlanID             snowflake.ID      `gorm:"not null;index" json:"plan_id"`
	Status             Status            `gorm:"type:text;not null;default:'trial'" json:"status"`
	StartsAt           time.Time         `gorm:"not null" json:"starts_at"`
	EndsAt             time.Time         `gorm:"not null" json:"ends_at"`
	TrialEndsAt        *time.Time        `gorm:"" json:"trial_ends_at,omitempty"`
	CancelledAt        *time.Time        `gorm:"" json:"cancelled_at,omitempty"`
	CancellationReason string            `gorm:"type:text;not null;default:''" json:"cancellation_reason,omitempty"`
	CancelAtPeriodEnd  bool              `gorm:"not null;default:false" json:"cancel_at_period_end"`
	PaymentMethod      string            `gorm:"type:text;not null;default:''" json:"payment_method,omitempty"`
	Amount             int64             `gorm:"not null;default:0" json:"amount"`
	Currency           string            `gorm:"type:text;not null;default:'USD'" json:"currency"`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// DaysRemaining returns whole days left until ends_at, never negative.
func (s Subscription) DaysRemaining(now time.Time) int {
	if !now.Before(s.EndsAt) {
		return 0
	}
	return int(s.EndsAt.Sub(now).Hours() / 24)
}
