package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/opencorehq/tenantcore/internal/plan/domain"
	"gorm.io/gorm"
)

var (
	ErrSubscriptionNotFound     = errors.New("subscription_not_found")
	ErrInvalidSubscription      = errors.New("invalid_subscription")
	ErrSubscriptionExists       = errors.New("subscription_exists")
	ErrSubscriptionCancelled    = errors.New("subscription_cancelled")
	ErrSubscriptionNotTrial     = errors.New("subscription_not_trial")
	ErrSubscriptionNotSuspended = errors.New("subscription_not_suspended")
	ErrSamePlan                 = errors.New("subscription_same_plan")
	ErrTrialNotAllowed          = errors.New("trial_not_allowed")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindLiveByTenantID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Subscription, error)
	FindCurrentByTenantID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Subscription, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Subscription, error)
	ListExpiring(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Subscription, error)

	// Claim* methods take FOR UPDATE SKIP LOCKED row locks and must be
	// called inside a transaction.
	ClaimDueTrials(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)
	ClaimExpired(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]Subscription, error)
	ClaimPeriodEndCancels(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)
}

// PaymentChecker reports whether a tenant has an open (pending or
// approved) renewal payment that should hold off suspension.
// Implemented by the payment feature; an interface here avoids a
// package cycle.
type PaymentChecker interface {
	HasOpenRenewalPayment(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (bool, error)
}

// ListFilter narrows List results.
type ListFilter struct {
	TenantID snowflake.ID
	Statuses []Status
	Limit    int
}

type CreateRequest struct {
	TenantID      snowflake.ID
	PlanID        snowflake.ID
	PaymentMethod string
	// WithTrial requests a trial start. The service still applies the
	// plan and operator settings before granting one.
	WithTrial bool
	// TrialUsed marks the tenant as having consumed its trial already.
	TrialUsed bool
}

// ChangePlanResult reports the proration outcome of an upgrade.
type ChangePlanResult struct {
	Subscription Subscription    `json:"subscription"`
	OldPlan      plandomain.Plan `json:"old_plan"`
	NewPlan      plandomain.Plan `json:"new_plan"`
	Credit       int64           `json:"credit"`
	Charge       int64           `json:"charge"`
}

// SweepResult summarizes a batched sweep pass.
type SweepResult struct {
	Claimed      int
	Transitioned int
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (Subscription, error)
	Get(ctx context.Context, id snowflake.ID) (Subscription, error)
	GetCurrentByTenant(ctx context.Context, tenantID snowflake.ID) (Subscription, error)
	List(ctx context.Context, filter ListFilter) ([]Subscription, error)
	ListExpiring(ctx context.Context, within time.Duration, limit int) ([]Subscription, error)

	// Renew extends the period: new ends_at = max(now, ends_at) + one
	// plan period. A suspended subscription returns to active.
	Renew(ctx context.Context, id snowflake.ID) (Subscription, error)
	// ActivateFromTrial converts a trial to active without extending
	// the period beyond the plan duration from now.
	ActivateFromTrial(ctx context.Context, id snowflake.ID) (Subscription, error)
	// ChangePlan upgrades to a new plan with day-based proration.
	ChangePlan(ctx context.Context, id, newPlanID snowflake.ID) (ChangePlanResult, error)
	// PreviewChangePlan computes proration without mutating anything.
	PreviewChangePlan(ctx context.Context, id, newPlanID snowflake.ID) (ChangePlanResult, error)
	Cancel(ctx context.Context, id snowflake.ID, reason string, atPeriodEnd bool) (Subscription, error)

	// Sweep entry points, called by the scheduler inside its own
	// transaction budget.
	ConvertDueTrials(ctx context.Context, limit int) (SweepResult, error)
	SuspendExpired(ctx context.Context, limit int) (SweepResult, error)
	ApplyPeriodEndCancels(ctx context.Context, limit int) (SweepResult, error)

	// HasLiveSubscription implements the tenant activation check. It
	// reads through db so callers can run it inside their transaction.
	HasLiveSubscription(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (bool, error)
}
