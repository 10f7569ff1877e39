// Package domain contains persistence models for tenants.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status represents lifecycle states for a tenant.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// ProvisioningStatus tracks the tenant database rollout.
type ProvisioningStatus string

const (
	ProvisioningPending     ProvisioningStatus = "pending"
	ProvisioningInProgress  ProvisioningStatus = "provisioning"
	ProvisioningProvisioned ProvisioningStatus = "provisioned"
	ProvisioningFailed      ProvisioningStatus = "failed"
)

// Metadata keys used on the tenant record.
const (
	MetaRequestedPlanID = "requested_plan_id"
	MetaRejectionReason = "rejection_reason"
)

// Tenant is a registered customer of the suite. Rows are soft-deleted
// only; a cancelled tenant keeps its history.
type Tenant struct {
	ID                         snowflake.ID       `gorm:"primaryKey" json:"id"`
	UUID                       uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex" json:"uuid"`
	Name                       string             `gorm:"type:text;not null" json:"name"`
	Email                      string             `gorm:"type:text;not null" json:"email"`
	Phone                      string             `gorm:"type:text;not null;default:''" json:"phone"`
	Subdomain                  string             `gorm:"type:text;not null;uniqueIndex" json:"subdomain"`
	CustomDomain               string             `gorm:"type:text;not null;default:''" json:"custom_domain"`
	Status                     Status             `gorm:"type:text;not null;default:'pending';index" json:"status"`
	ApprovedAt                 *time.Time         `gorm:"" json:"approved_at,omitempty"`
	ApprovedBy                 string             `gorm:"type:text;not null;default:''" json:"approved_by,omitempty"`
	DatabaseProvisioningStatus ProvisioningStatus `gorm:"type:text;not null;default:'pending'" json:"database_provisioning_status"`
	TrialEndsAt                *time.Time         `gorm:"" json:"trial_ends_at,omitempty"`
	HasUsedTrial               bool               `gorm:"not null;default:false" json:"has_used_trial"`
	Metadata                   datatypes.JSONMap  `gorm:"type:jsonb" json:"metadata,omitempty"`
	Notes                      string             `gorm:"type:text;not null;default:''" json:"notes,omitempty"`
	CreatedAt                  time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt                  time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt                  gorm.DeletedAt     `gorm:"index" json:"-"`
}

// TableName sets the database table name.
func (Tenant) TableName() string { return "tenants" }

// IsProvisioned reports whether the tenant database is ready.
func (t Tenant) IsProvisioned() bool {
	return t.DatabaseProvisioningStatus == ProvisioningProvisioned
}
