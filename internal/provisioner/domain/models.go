// Package domain contains persistence models for tenant database
// provisioning.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"

	tenantdomain "github.com/opencorehq/tenantcore/internal/tenant/domain"
)

// Mode says who created the tenant database.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// Step is one unit of the provisioning run. Steps execute in the
// order of OrderedSteps and each records its own outcome, so a failed
// run resumes from the first step that never completed.
type Step string

const (
	StepCreateDatabase Step = "create_database"
	StepRunMigrations  Step = "run_migrations"
	StepSeedDefaults   Step = "seed_defaults"
)

// OrderedSteps is the canonical execution order.
var OrderedSteps = []Step{StepCreateDatabase, StepRunMigrations, StepSeedDefaults}

// StepStatus is the per-step outcome.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// TenantDatabase holds the connection record for one tenant's
// dedicated database. The password is encrypted at rest.
type TenantDatabase struct {
	ID                 snowflake.ID                    `gorm:"primaryKey" json:"id"`
	TenantID           snowflake.ID                    `gorm:"not null;uniqueIndex" json:"tenant_id"`
	Host               string                          `gorm:"type:text;not null;default:''" json:"host"`
	Port               string                          `gorm:"type:text;not null;default:'5432'" json:"port"`
	Name               string                          `gorm:"type:text;not null;default:''" json:"name"`
	Username           string                          `gorm:"type:text;not null;default:''" json:"username"`
	EncryptedPassword  string                          `gorm:"type:text;not null;default:''" json:"-"`
	Mode               Mode                            `gorm:"type:text;not null;default:'auto'" json:"mode"`
	ProvisioningStatus tenantdomain.ProvisioningStatus `gorm:"type:text;not null;default:'pending'" json:"provisioning_status"`
	ErrorMessage       string                          `gorm:"type:text;not null;default:''" json:"error_message,omitempty"`
	ProvisionedAt      *time.Time                      `gorm:"" json:"provisioned_at,omitempty"`
	CreatedAt          time.Time                       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time                       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (TenantDatabase) TableName() string { return "tenant_databases" }

// TenantProvisionStep records one step of one tenant's provisioning
// run.
type TenantProvisionStep struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID     snowflake.ID `gorm:"not null;index;uniqueIndex:idx_provision_steps_tenant_step" json:"tenant_id"`
	Step         Step         `gorm:"type:text;not null;uniqueIndex:idx_provision_steps_tenant_step" json:"step"`
	Status       StepStatus   `gorm:"type:text;not null;default:'pending'" json:"status"`
	ErrorMessage string       `gorm:"type:text;not null;default:''" json:"error_message,omitempty"`
	CompletedAt  *time.Time   `gorm:"" json:"completed_at,omitempty"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (TenantProvisionStep) TableName() string { return "tenant_provision_steps" }
