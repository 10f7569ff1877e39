package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	tenantdomain "github.com/opencorehq/tenantcore/internal/tenant/domain"
)

var (
	ErrDatabaseNotFound    = errors.New("tenant_database_not_found")
	ErrTenantNotEligible   = errors.New("tenant_not_eligible_for_provisioning")
	ErrAlreadyProvisioned  = errors.New("tenant_already_provisioned")
	ErrProvisionInProgress = errors.New("provisioning_in_progress")
	ErrInvalidManualConfig = errors.New("invalid_manual_database_config")
)

// AdminConn is the cluster-level connection used to create tenant
// databases and roles. Implemented over pgx against the tenant
// cluster's admin DSN; tests swap in a fake.
type AdminConn interface {
	CreateDatabase(ctx context.Context, name, owner, password string) error
	DatabaseExists(ctx context.Context, name string) (bool, error)
	DropDatabase(ctx context.Context, name string) error
	Ping(ctx context.Context) error
}

// Migrator applies the tenant schema to a tenant database addressed by
// DSN.
type Migrator interface {
	Up(dsn string) error
	Steps(dsn string, n int) error
	Version(dsn string) (version uint, dirty bool, err error)
}

// Seeder bootstraps a freshly migrated tenant database. It returns the
// bcrypt-hashed admin row side effects and nothing else; the plaintext
// credential is generated by the caller.
type Seeder interface {
	SeedAdmin(ctx context.Context, dsn, email, passwordHash string) error
}

// Repository is the provisioning data access contract.
type Repository interface {
	InsertDatabase(ctx context.Context, db *gorm.DB, record *TenantDatabase) error
	UpdateDatabase(ctx context.Context, db *gorm.DB, record *TenantDatabase) error
	FindDatabaseByTenantID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*TenantDatabase, error)
	FindDatabaseByTenantIDForUpdate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*TenantDatabase, error)
	CountDatabasesByStatus(ctx context.Context, db *gorm.DB) (map[tenantdomain.ProvisioningStatus]int64, error)

	EnsureSteps(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, steps []Step) ([]TenantProvisionStep, error)
	FindSteps(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]TenantProvisionStep, error)
	UpdateStep(ctx context.Context, db *gorm.DB, step *TenantProvisionStep) error
}

// ManualRequest points a tenant at an operator-managed database.
type ManualRequest struct {
	Host     string
	Port     string
	Name     string
	Username string
	Password string
	// SkipMigrations leaves the schema alone for databases prepared
	// out of band.
	SkipMigrations bool
}

// Result reports a finished provisioning run. AdminPassword is only
// populated on the run that seeded the admin user and is never stored.
type Result struct {
	Database      TenantDatabase        `json:"database"`
	Steps         []TenantProvisionStep `json:"steps"`
	AdminEmail    string                `json:"admin_email,omitempty"`
	AdminPassword string                `json:"admin_password,omitempty"`
}

// StatusReport is the operator view of one tenant's provisioning.
type StatusReport struct {
	Database *TenantDatabase       `json:"database"`
	Steps    []TenantProvisionStep `json:"steps"`
}

// MigrationStatus reports the tenant schema version.
type MigrationStatus struct {
	TenantID snowflake.ID `json:"tenant_id"`
	Version  uint         `json:"version"`
	Dirty    bool         `json:"dirty"`
}

// Service runs the provisioning saga and the per-tenant schema
// operations.
type Service interface {
	// Provision runs the automatic saga for an approved tenant,
	// resuming from the first incomplete step on retry.
	Provision(ctx context.Context, tenantID snowflake.ID) (*Result, error)
	// ProvisionManual records an operator-supplied database and brings
	// its schema up to date.
	ProvisionManual(ctx context.Context, tenantID snowflake.ID, req ManualRequest) (*Result, error)

	Status(ctx context.Context, tenantID snowflake.ID) (*StatusReport, error)
	Statistics(ctx context.Context) (map[tenantdomain.ProvisioningStatus]int64, error)

	Migrate(ctx context.Context, tenantID snowflake.ID) (*MigrationStatus, error)
	MigrateStatus(ctx context.Context, tenantID snowflake.ID) (*MigrationStatus, error)
	MigrateRollback(ctx context.Context, tenantID snowflake.ID) (*MigrationStatus, error)
}
