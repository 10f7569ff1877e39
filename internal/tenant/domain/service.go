package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/opencorehq/tenantcore/pkg/db/pagination"
	"gorm.io/gorm"
)

var (
	ErrTenantNotFound      = errors.New("tenant_not_found")
	ErrInvalidTenant       = errors.New("invalid_tenant")
	ErrInvalidName         = errors.New("invalid_tenant_name")
	ErrInvalidEmail        = errors.New("invalid_tenant_email")
	ErrInvalidSubdomain    = errors.New("invalid_subdomain")
	ErrEmailTaken          = errors.New("tenant_email_taken")
	ErrSubdomainTaken      = errors.New("subdomain_taken")
	ErrNotPending          = errors.New("tenant_not_pending")
	ErrNotSuspendable      = errors.New("tenant_not_suspendable")
	ErrAlreadySuspended    = errors.New("tenant_already_suspended")
	ErrNotProvisioned      = errors.New("tenant_not_provisioned")
	ErrNoLiveSubscription  = errors.New("tenant_no_live_subscription")
	ErrTenantCancelled     = errors.New("tenant_cancelled")
	ErrInvalidStatusChange = errors.New("invalid_tenant_status_change")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tenant *Tenant) error
	Update(ctx context.Context, db *gorm.DB, tenant *Tenant) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Tenant, error)
	FindBySubdomain(ctx context.Context, db *gorm.DB, subdomain string) (*Tenant, error)
	SubdomainsWithPrefix(ctx context.Context, db *gorm.DB, prefix string) ([]string, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Tenant, error)
	CountByStatus(ctx context.Context, db *gorm.DB) (map[Status]int64, error)
}

// ListFilter narrows List results.
type ListFilter struct {
	Statuses []Status
	Search   string
	pagination.Pagination
}

type RegisterRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Subdomain string `json:"subdomain"`
	PlanID    string `json:"plan_id"`
}

type UpdateRequest struct {
	Name         *string `json:"name"`
	Email        *string `json:"email"`
	Phone        *string `json:"phone"`
	CustomDomain *string `json:"custom_domain"`
	Notes        *string `json:"notes"`
}

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (Tenant, error)
	Approve(ctx context.Context, id snowflake.ID, approvedBy string) (Tenant, error)
	Reject(ctx context.Context, id snowflake.ID, reason string) (Tenant, error)
	Suspend(ctx context.Context, id snowflake.ID) (Tenant, error)
	Activate(ctx context.Context, id snowflake.ID) (Tenant, error)
	Cancel(ctx context.Context, id snowflake.ID, reason string) (Tenant, error)
	Update(ctx context.Context, id snowflake.ID, req UpdateRequest) (Tenant, error)
	Get(ctx context.Context, id snowflake.ID) (Tenant, error)
	List(ctx context.Context, filter ListFilter) ([]Tenant, error)
	Statistics(ctx context.Context) (map[Status]int64, error)
}
