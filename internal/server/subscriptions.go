package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opencorehq/tenantcore/internal/authorization"
	subscriptiondomain "github.com/opencorehq/tenantcore/internal/subscription/domain"
)

type createSubscriptionRequest struct {
	TenantID      string `json:"tenant_id"`
	PlanID        string `json:"plan_id"`
	PaymentMethod string `json:"payment_method"`
	WithTrial     bool   `json:"with_trial"`
}

type cancelSubscriptionRequest struct {
	Reason      string `json:"reason"`
	AtPeriodEnd bool   `json:"at_period_end"`
}

type changePlanRequest struct {
	NewPlanID string `json:"new_plan_id"`
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	filter := subscriptiondomain.ListFilter{}
	if statuses := strings.TrimSpace(c.Query("status")); statuses != "" {
		for _, status := range strings.Split(statuses, ",") {
			filter.Statuses = append(filter.Statuses, subscriptiondomain.Status(strings.TrimSpace(status)))
		}
	}
	if tenantID, err := parseOptionalSnowflakeID(c.Query("tenant_id")); err == nil && tenantID != nil {
		filter.TenantID = *tenantID
	}
	if limit, err := parseOptionalInt(c.Query("limit")); err == nil && limit != nil {
		filter.Limit = *limit
	}

	subscriptions, err := s.subscriptionSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subscriptions})
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	tenantID, err := parseOptionalSnowflakeID(req.TenantID)
	if err != nil || tenantID == nil {
		AbortWithError(c, newValidationError("tenant_id", "invalid_id", "invalid identifier"))
		return
	}
	planID, err := parseOptionalSnowflakeID(req.PlanID)
	if err != nil || planID == nil {
		AbortWithError(c, newValidationError("plan_id", "invalid_id", "invalid identifier"))
		return
	}

	tenant, err := s.tenantSvc.Get(c.Request.Context(), *tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	created, err := s.subscriptionSvc.Create(c.Request.Context(), subscriptiondomain.CreateRequest{
		TenantID:      tenant.ID,
		PlanID:        *planID,
		PaymentMethod: req.PaymentMethod,
		WithTrial:     req.WithTrial,
		TrialUsed:     tenant.HasUsedTrial,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, &created.TenantID, authorization.ActionSubscriptionCreate, "subscription", created.ID.String(), map[string]any{
		"plan_id":    created.PlanID.String(),
		"with_trial": req.WithTrial,
	})
	c.JSON(http.StatusCreated, created)
}

func (s *Server) GetSubscription(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	subscription, err := s.subscriptionSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, subscription)
}

func (s *Server) RenewSubscription(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	renewed, err := s.subscriptionSvc.Renew(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, &renewed.TenantID, authorization.ActionSubscriptionRenew, "subscription", renewed.ID.String(), nil)
	c.JSON(http.StatusOK, renewed)
}

func (s *Server) CancelSubscription(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req cancelSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	cancelled, err := s.subscriptionSvc.Cancel(c.Request.Context(), id, req.Reason, req.AtPeriodEnd)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, &cancelled.TenantID, authorization.ActionSubscriptionCancel, "subscription", cancelled.ID.String(), map[string]any{
		"reason":        req.Reason,
		"at_period_end": req.AtPeriodEnd,
	})
	c.JSON(http.StatusOK, cancelled)
}

func (s *Server) ChangeSubscriptionPlan(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	newPlanID, err := parseOptionalSnowflakeID(req.NewPlanID)
	if err != nil || newPlanID == nil {
		AbortWithError(c, newValidationError("new_plan_id", "invalid_id", "invalid identifier"))
		return
	}

	result, err := s.subscriptionSvc.ChangePlan(c.Request.Context(), id, *newPlanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, &result.Subscription.TenantID, authorization.ActionSubscriptionChangePlan, "subscription", result.Subscription.ID.String(), map[string]any{
		"old_plan_id": result.OldPlan.ID.String(),
		"new_plan_id": result.NewPlan.ID.String(),
		"charge":      result.Charge,
	})
	c.JSON(http.StatusOK, result)
}

func (s *Server) PreviewChangeSubscriptionPlan(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	newPlanID, err := parseOptionalSnowflakeID(c.Query("new_plan_id"))
	if err != nil || newPlanID == nil {
		AbortWithError(c, newValidationError("new_plan_id", "invalid_id", "invalid identifier"))
		return
	}

	preview, err := s.subscriptionSvc.PreviewChangePlan(c.Request.Context(), id, *newPlanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (s *Server) ListExpiringSubscriptions(c *gin.Context) {
	within := 7 * 24 * time.Hour
	if days, err := parseOptionalInt(c.Query("days")); err == nil && days != nil && *days > 0 {
		within = time.Duration(*days) * 24 * time.Hour
	}
	limit := 50
	if parsed, err := parseOptionalInt(c.Query("limit")); err == nil && parsed != nil && *parsed > 0 {
		limit = *parsed
	}

	expiring, err := s.subscriptionSvc.ListExpiring(c.Request.Context(), within, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": expiring})
}
