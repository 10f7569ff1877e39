package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/opencorehq/tenantcore/internal/authorization"
	settingsdomain "github.com/opencorehq/tenantcore/internal/settings/domain"
	tenantdomain "github.com/opencorehq/tenantcore/internal/tenant/domain"
	"github.com/opencorehq/tenantcore/pkg/db/pagination"
)

type createTenantRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Subdomain string `json:"subdomain"`
	PlanID    string `json:"plan_id"`
}

type updateTenantRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Phone *string `json:"phone"`
	Notes *string `json:"notes"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) ListTenants(c *gin.Context) {
	filter := tenantdomain.ListFilter{
		Search: strings.TrimSpace(c.Query("q")),
	}
	if statuses := strings.TrimSpace(c.Query("status")); statuses != "" {
		for _, status := range strings.Split(statuses, ",") {
			filter.Statuses = append(filter.Statuses, tenantdomain.Status(strings.TrimSpace(status)))
		}
	}
	if limit, err := parseOptionalInt(c.Query("limit")); err == nil && limit != nil {
		filter.Pagination = pagination.Pagination{PageSize: *limit}
	}

	tenants, err := s.tenantSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenants": tenants})
}

func (s *Server) CreateTenant(c *gin.Context) {
	var req createTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	created, err := s.tenantSvc.Register(c.Request.Context(), tenantdomain.RegisterRequest{
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Subdomain: req.Subdomain,
		PlanID:    req.PlanID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, &created.ID, authorization.ActionTenantCreate, "tenant", created.ID.String(), map[string]any{
		"subdomain": created.Subdomain,
	})
	c.JSON(http.StatusCreated, created)
}

func (s *Server) GetTenant(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	found, err := s.tenantSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (s *Server) UpdateTenant(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req updateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	updated, err := s.tenantSvc.Update(c.Request.Context(), id, tenantdomain.UpdateRequest{
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
		Notes: req.Notes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, &updated.ID, authorization.ActionTenantUpdate, "tenant", updated.ID.String(), nil)
	c.JSON(http.StatusOK, updated)
}

// ApproveTenant moves a pending tenant to approved and, when the
// operator enabled auto provisioning, kicks off the database saga in
// the background.
func (s *Server) ApproveTenant(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	approved, err := s.tenantSvc.Approve(c.Request.Context(), id, actorID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.settingsSvc.GetBool(c.Request.Context(), settingsdomain.KeyAutoProvisioning, false) {
		go s.provisionInBackground(approved.ID.String())
	}

	s.recordAudit(c, &approved.ID, authorization.ActionTenantApprove, "tenant", approved.ID.String(), nil)
	c.JSON(http.StatusOK, approved)
}

func (s *Server) RejectTenant(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rejected, err := s.tenantSvc.Reject(c.Request.Context(), id, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, &rejected.ID, authorization.ActionTenantReject, "tenant", rejected.ID.String(), map[string]any{
		"reason": req.Reason,
	})
	c.JSON(http.StatusOK, rejected)
}

func (s *Server) SuspendTenant(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	suspended, err := s.tenantSvc.Suspend(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, &suspended.ID, authorization.ActionTenantSuspend, "tenant", suspended.ID.String(), nil)
	c.JSON(http.StatusOK, suspended)
}

func (s *Server) ActivateTenant(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	activated, err := s.tenantSvc.Activate(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, &activated.ID, authorization.ActionTenantActivate, "tenant", activated.ID.String(), nil)
	c.JSON(http.StatusOK, activated)
}

func (s *Server) CancelTenant(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	cancelled, err := s.tenantSvc.Cancel(c.Request.Context(), id, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, &cancelled.ID, authorization.ActionTenantCancel, "tenant", cancelled.ID.String(), map[string]any{
		"reason": req.Reason,
	})
	c.JSON(http.StatusOK, cancelled)
}

func (s *Server) TenantStatistics(c *gin.Context) {
	stats, err := s.tenantSvc.Statistics(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": stats})
}

func (s *Server) GetTenantSubscription(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	subscription, err := s.subscriptionSvc.GetCurrentByTenant(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, subscription)
}

func (s *Server) provisionInBackground(tenantID string) {
	id, err := parseOptionalSnowflakeID(tenantID)
	if err != nil || id == nil {
		return
	}

	ctx := context.Background()
	token, acquired, err := s.publicLimiter.TryProvisionLock(ctx, tenantID)
	if err != nil || !acquired {
		return
	}
	defer func() { _ = s.publicLimiter.ReleaseProvisionLock(ctx, tenantID, token) }()

	if _, err := s.provisionerSvc.Provision(ctx, *id); err != nil {
		s.log.Warn("background provisioning failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
	}
}
