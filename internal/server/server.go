// Package server exposes the operator control plane and the public
// registration surface over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/opencorehq/tenantcore/internal/audit"
	auditdomain "github.com/opencorehq/tenantcore/internal/audit/domain"
	"github.com/opencorehq/tenantcore/internal/authorization"
	"github.com/opencorehq/tenantcore/internal/capability"
	"github.com/opencorehq/tenantcore/internal/config"
	"github.com/opencorehq/tenantcore/internal/migration"
	"github.com/opencorehq/tenantcore/internal/observability"
	obsmiddleware "github.com/opencorehq/tenantcore/internal/observability/logger"
	obsmetrics "github.com/opencorehq/tenantcore/internal/observability/metrics"
	obstracing "github.com/opencorehq/tenantcore/internal/observability/tracing"
	"github.com/opencorehq/tenantcore/internal/payment"
	paymentdomain "github.com/opencorehq/tenantcore/internal/payment/domain"
	"github.com/opencorehq/tenantcore/internal/plan"
	plandomain "github.com/opencorehq/tenantcore/internal/plan/domain"
	"github.com/opencorehq/tenantcore/internal/providers"
	"github.com/opencorehq/tenantcore/internal/reference"
	referencedomain "github.com/opencorehq/tenantcore/internal/reference/domain"
	"github.com/opencorehq/tenantcore/internal/provisioner"
	provisionerdomain "github.com/opencorehq/tenantcore/internal/provisioner/domain"
	"github.com/opencorehq/tenantcore/internal/ratelimit"
	"github.com/opencorehq/tenantcore/internal/scheduler"
	"github.com/opencorehq/tenantcore/internal/settings"
	settingsdomain "github.com/opencorehq/tenantcore/internal/settings/domain"
	"github.com/opencorehq/tenantcore/internal/subscription"
	subscriptiondomain "github.com/opencorehq/tenantcore/internal/subscription/domain"
	"github.com/opencorehq/tenantcore/internal/tenant"
	tenantdomain "github.com/opencorehq/tenantcore/internal/tenant/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	authorization.Module,
	capability.Module,
	migration.Module,
	providers.Module,
	plan.Module,
	reference.Module,
	settings.Module,
	tenant.Module,
	subscription.Module,
	payment.Module,
	provisioner.Module,
	ratelimit.Module,
	scheduler.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, err.Error()
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node

	authzSvc        authorization.Service
	tenantSvc       tenantdomain.Service
	subscriptionSvc subscriptiondomain.Service
	paymentSvc      paymentdomain.Service
	planSvc         plandomain.Service
	settingsSvc     settingsdomain.Service
	provisionerSvc  provisionerdomain.Service
	capabilities    *capability.Registry
	publicLimiter   *ratelimit.PublicLimiter
	auditSvc        auditdomain.Service
	referenceRepo   referencedomain.Repository
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node

	AuthzSvc        authorization.Service
	TenantSvc       tenantdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	PaymentSvc      paymentdomain.Service
	PlanSvc         plandomain.Service
	SettingsSvc     settingsdomain.Service
	ProvisionerSvc  provisionerdomain.Service
	Capabilities    *capability.Registry
	PublicLimiter   *ratelimit.PublicLimiter  `optional:"true"`
	AuditSvc        auditdomain.Service       `optional:"true"`
	ReferenceRepo   referencedomain.Repository `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine: p.Gin,
		cfg:    p.Cfg,
		db:     p.DB,
		log:    p.Log.Named("http.server"),
		genID:  p.GenID,

		authzSvc:        p.AuthzSvc,
		tenantSvc:       p.TenantSvc,
		subscriptionSvc: p.SubscriptionSvc,
		paymentSvc:      p.PaymentSvc,
		planSvc:         p.PlanSvc,
		settingsSvc:     p.SettingsSvc,
		provisionerSvc:  p.ProvisionerSvc,
		capabilities:    p.Capabilities,
		publicLimiter:   p.PublicLimiter,
		auditSvc:        p.AuditSvc,
		referenceRepo:   p.ReferenceRepo,
	}

	svc.registerAdminRoutes()
	svc.registerPublicRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAdminRoutes() {
	api := s.engine.Group("/api/v1")

	tenants := api.Group("/tenants")
	tenants.GET("", s.requireAction(authorization.ObjectTenant, authorization.ActionTenantView), s.ListTenants)
	tenants.POST("", s.requireAction(authorization.ObjectTenant, authorization.ActionTenantCreate), s.CreateTenant)
	tenants.GET("/statistics", s.requireAction(authorization.ObjectTenant, authorization.ActionTenantView), s.TenantStatistics)
	tenants.GET("/:id", s.requireAction(authorization.ObjectTenant, authorization.ActionTenantView), s.GetTenant)
	tenants.PATCH("/:id", s.requireAction(authorization.ObjectTenant, authorization.ActionTenantUpdate), s.UpdateTenant)
	tenants.POST("/:id/approve", s.requireAction(authorization.ObjectTenant, authorization.ActionTenantApprove), s.ApproveTenant)
	tenants.POST("/:id/reject", s.requireAction(authorization.ObjectTenant, authorization.ActionTenantReject), s.RejectTenant)
	tenants.POST("/:id/suspend", s.requireAction(authorization.ObjectTenant, authorization.ActionTenantSuspend), s.SuspendTenant)
	tenants.POST("/:id/activate", s.requireAction(authorization.ObjectTenant, authorization.ActionTenantActivate), s.ActivateTenant)
	tenants.POST("/:id/cancel", s.requireAction(authorization.ObjectTenant, authorization.ActionTenantCancel), s.CancelTenant)
	tenants.GET("/:id/subscription", s.requireAction(authorization.ObjectSubscription, authorization.ActionSubscriptionView), s.GetTenantSubscription)

	subscriptions := api.Group("/subscriptions")
	subscriptions.GET("", s.requireAction(authorization.ObjectSubscription, authorization.ActionSubscriptionView), s.ListSubscriptions)
	subscriptions.POST("", s.requireAction(authorization.ObjectSubscription, authorization.ActionSubscriptionCreate), s.CreateSubscription)
	subscriptions.GET("/expiring", s.requireAction(authorization.ObjectSubscription, authorization.ActionSubscriptionView), s.ListExpiringSubscriptions)
	subscriptions.GET("/:id", s.requireAction(authorization.ObjectSubscription, authorization.ActionSubscriptionView), s.GetSubscription)
	subscriptions.POST("/:id/renew", s.requireAction(authorization.ObjectSubscription, authorization.ActionSubscriptionRenew), s.RenewSubscription)
	subscriptions.POST("/:id/cancel", s.requireAction(authorization.ObjectSubscription, authorization.ActionSubscriptionCancel), s.CancelSubscription)
	subscriptions.POST("/:id/change-plan", s.requireAction(authorization.ObjectSubscription, authorization.ActionSubscriptionChangePlan), s.ChangeSubscriptionPlan)
	subscriptions.GET("/:id/change-plan/preview", s.requireAction(authorization.ObjectSubscription, authorization.ActionSubscriptionView), s.PreviewChangeSubscriptionPlan)

	payments := api.Group("/payments")
	payments.GET("", s.requireAction(authorization.ObjectPayment, authorization.ActionPaymentView), s.ListPayments)
	payments.GET("/statistics", s.requireAction(authorization.ObjectPayment, authorization.ActionPaymentView), s.PaymentStatistics)
	payments.GET("/:id", s.requireAction(authorization.ObjectPayment, authorization.ActionPaymentView), s.GetPayment)
	payments.POST("/:id/approve", s.requireAction(authorization.ObjectPayment, authorization.ActionPaymentApprove), s.ApprovePayment)
	payments.POST("/:id/reject", s.requireAction(authorization.ObjectPayment, authorization.ActionPaymentReject), s.RejectPayment)
	payments.GET("/:id/receipt", s.requireAction(authorization.ObjectPayment, authorization.ActionPaymentView), s.PaymentReceipt)

	provisioning := api.Group("/provisioning")
	provisioning.GET("/statistics", s.requireAction(authorization.ObjectProvisioning, authorization.ActionProvisioningView), s.ProvisioningStatistics)
	provisioning.GET("/:id", s.requireAction(authorization.ObjectProvisioning, authorization.ActionProvisioningView), s.ProvisioningStatus)
	provisioning.POST("/:id/run", s.requireAction(authorization.ObjectProvisioning, authorization.ActionProvisioningRun), s.RunProvisioning)
	provisioning.POST("/:id/manual", s.requireAction(authorization.ObjectProvisioning, authorization.ActionProvisioningRun), s.RunManualProvisioning)

	settingsGroup := api.Group("/settings")
	settingsGroup.GET("", s.requireAction(authorization.ObjectSettings, authorization.ActionSettingsView), s.ListSettings)
	settingsGroup.PUT("/:key", s.requireAction(authorization.ObjectSettings, authorization.ActionSettingsManage), s.PutSetting)
	settingsGroup.DELETE("/:key", s.requireAction(authorization.ObjectSettings, authorization.ActionSettingsManage), s.DeleteSetting)

	api.GET("/plans", s.requireAction(authorization.ObjectPlan, authorization.ActionPlanView), s.ListPlans)
	api.GET("/modules", s.requireAction(authorization.ObjectPlan, authorization.ActionPlanView), s.ListModules)
	api.GET("/audit-logs", s.requireAction(authorization.ObjectAudit, authorization.ActionAuditView), s.ListAuditLogs)
}

func (s *Server) registerPublicRoutes() {
	public := s.engine.Group("/public/v1")

	public.GET("/plans", s.PublicListPlans)
	public.POST("/register", s.PublicRegister)
	public.POST("/payments", s.PublicSubmitPayment)
	public.GET("/currencies", s.PublicListCurrencies)
	public.GET("/timezones", s.PublicListTimezones)
}

// requireAction resolves the acting operator from request headers and
// enforces the RBAC policy before the handler runs.
func (s *Server) requireAction(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFromRequest(c)
		if actor == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), actor, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Set("actor", actor)
		c.Next()
	}
}

func actorFromRequest(c *gin.Context) string {
	if operator := c.GetHeader("X-Operator-Id"); operator != "" {
		if c.GetHeader("X-Operator-Role") == "viewer" {
			return "viewer:" + operator
		}
		return "operator:" + operator
	}
	return ""
}

func actorID(c *gin.Context) string {
	return c.GetString("actor")
}
