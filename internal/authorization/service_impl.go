package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectTenant       = "tenant"
	ObjectSubscription = "subscription"
	ObjectPayment      = "payment"
	ObjectProvisioning = "provisioning"
	ObjectSettings     = "settings"
	ObjectPlan         = "plan"
	ObjectAudit        = "audit"
)

const (
	ActionTenantView     = "tenant.view"
	ActionTenantCreate   = "tenant.create"
	ActionTenantUpdate   = "tenant.update"
	ActionTenantApprove  = "tenant.approve"
	ActionTenantReject   = "tenant.reject"
	ActionTenantSuspend  = "tenant.suspend"
	ActionTenantActivate = "tenant.activate"
	ActionTenantCancel   = "tenant.cancel"

	ActionSubscriptionView       = "subscription.view"
	ActionSubscriptionCreate     = "subscription.create"
	ActionSubscriptionRenew      = "subscription.renew"
	ActionSubscriptionChangePlan = "subscription.change_plan"
	ActionSubscriptionCancel     = "subscription.cancel"
	ActionSubscriptionSweep      = "subscription.sweep"

	ActionPaymentView    = "payment.view"
	ActionPaymentApprove = "payment.approve"
	ActionPaymentReject  = "payment.reject"

	ActionProvisioningView = "provisioning.view"
	ActionProvisioningRun  = "provisioning.run"

	ActionSettingsView   = "settings.view"
	ActionSettingsManage = "settings.manage"

	ActionPlanView = "plan.view"

	ActionAuditView = "audit.view"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor, object, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	roleName, err := resolveRole(actor)
	if err != nil {
		return err
	}
	if err := s.ensureGrouping(actor, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(actor, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied",
			zap.String("actor", actor),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func resolveRole(actor string) (string, error) {
	switch {
	case actor == "system":
		return "role:system", nil
	case strings.HasPrefix(actor, "operator:"):
		if strings.TrimPrefix(actor, "operator:") == "" {
			return "", ErrInvalidActor
		}
		return "role:admin", nil
	case strings.HasPrefix(actor, "viewer:"):
		if strings.TrimPrefix(actor, "viewer:") == "" {
			return "", ErrInvalidActor
		}
		return "role:viewer", nil
	}
	return "", ErrInvalidActor
}

// ensureGrouping keeps exactly one role binding per actor so a demoted
// operator loses the old grant.
func (s *ServiceImpl) ensureGrouping(subject, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Viewer permissions (read-only)
		{"role:viewer", ObjectTenant, ActionTenantView},
		{"role:viewer", ObjectSubscription, ActionSubscriptionView},
		{"role:viewer", ObjectPayment, ActionPaymentView},
		{"role:viewer", ObjectProvisioning, ActionProvisioningView},
		{"role:viewer", ObjectSettings, ActionSettingsView},
		{"role:viewer", ObjectPlan, ActionPlanView},

		// Admin permissions
		{"role:admin", ObjectTenant, ActionTenantView},
		{"role:admin", ObjectTenant, ActionTenantCreate},
		{"role:admin", ObjectTenant, ActionTenantUpdate},
		{"role:admin", ObjectTenant, ActionTenantApprove},
		{"role:admin", ObjectTenant, ActionTenantReject},
		{"role:admin", ObjectTenant, ActionTenantSuspend},
		{"role:admin", ObjectTenant, ActionTenantActivate},
		{"role:admin", ObjectTenant, ActionTenantCancel},
		{"role:admin", ObjectSubscription, ActionSubscriptionView},
		{"role:admin", ObjectSubscription, ActionSubscriptionCreate},
		{"role:admin", ObjectSubscription, ActionSubscriptionRenew},
		{"role:admin", ObjectSubscription, ActionSubscriptionChangePlan},
		{"role:admin", ObjectSubscription, ActionSubscriptionCancel},
		{"role:admin", ObjectPayment, ActionPaymentView},
		{"role:admin", ObjectPayment, ActionPaymentApprove},
		{"role:admin", ObjectPayment, ActionPaymentReject},
		{"role:admin", ObjectProvisioning, ActionProvisioningView},
		{"role:admin", ObjectProvisioning, ActionProvisioningRun},
		{"role:admin", ObjectSettings, ActionSettingsView},
		{"role:admin", ObjectSettings, ActionSettingsManage},
		{"role:admin", ObjectPlan, ActionPlanView},
		{"role:admin", ObjectAudit, ActionAuditView},

		// System permissions for the scheduler and console
		{"role:system", ObjectSubscription, ActionSubscriptionSweep},
		{"role:system", ObjectSubscription, ActionSubscriptionRenew},
		{"role:system", ObjectSubscription, ActionSubscriptionCancel},
		{"role:system", ObjectProvisioning, ActionProvisioningRun},
		{"role:system", ObjectProvisioning, ActionProvisioningView},
		{"role:system", ObjectTenant, ActionTenantView},
		{"role:system", ObjectTenant, ActionTenantCreate},
		{"role:system", ObjectTenant, ActionTenantSuspend},
		{"role:system", ObjectTenant, ActionTenantActivate},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}

// Module wires the casbin enforcer and authorization service.
var Module = fx.Module("authorization",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)
