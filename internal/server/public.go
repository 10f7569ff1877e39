package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	paymentdomain "github.com/opencorehq/tenantcore/internal/payment/domain"
	tenantdomain "github.com/opencorehq/tenantcore/internal/tenant/domain"
)

type publicRegisterRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Subdomain string `json:"subdomain"`
	PlanID    string `json:"plan_id"`
}

type publicPaymentRequest struct {
	TenantID   string `json:"tenant_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Method     string `json:"method"`
	Gateway    string `json:"gateway"`
	GatewayRef string `json:"gateway_ref"`
	ProofPath  string `json:"proof_document_path"`
	NewPlanID  string `json:"new_plan_id"`
}

func (s *Server) PublicListPlans(c *gin.Context) {
	plans, err := s.planSvc.List(c.Request.Context(), true)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// PublicRegister is the self-service signup endpoint. New tenants land
// in the pending queue for operator review.
func (s *Server) PublicRegister(c *gin.Context) {
	allowed, err := s.publicLimiter.AllowRegistration(c.Request.Context(), c.ClientIP())
	if err == nil && !allowed {
		AbortWithError(c, ErrTooManyRequests)
		return
	}

	var req publicRegisterRequest
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

	s.recordPublicAudit(c, &created.ID, "tenant.register", "tenant", created.ID.String(), map[string]any{
		"subdomain": created.Subdomain,
	})
	c.JSON(http.StatusCreated, gin.H{
		"id":        created.ID.String(),
		"uuid":      created.UUID,
		"subdomain": created.Subdomain,
		"status":    created.Status,
	})
}

func (s *Server) PublicSubmitPayment(c *gin.Context) {
	allowed, err := s.publicLimiter.AllowPaymentSubmit(c.Request.Context(), c.ClientIP())
	if err == nil && !allowed {
		AbortWithError(c, ErrTooManyRequests)
		return
	}

	var req publicPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	tenantID, err := parseOptionalSnowflakeID(req.TenantID)
	if err != nil || tenantID == nil {
		AbortWithError(c, newValidationError("tenant_id", "invalid_id", "invalid identifier"))
		return
	}
	newPlanID, err := parseOptionalSnowflakeID(req.NewPlanID)
	if err != nil {
		AbortWithError(c, newValidationError("new_plan_id", "invalid_id", "invalid identifier"))
		return
	}

	payment, err := s.paymentSvc.Submit(c.Request.Context(), paymentdomain.SubmitRequest{
		TenantID:          *tenantID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Method:            paymentdomain.Method(req.Method),
		Gateway:           req.Gateway,
		GatewayRef:        req.GatewayRef,
		ProofDocumentPath: req.ProofPath,
		NewPlanID:         newPlanID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordPublicAudit(c, &payment.TenantID, "payment.submit", "payment", payment.ID.String(), map[string]any{
		"amount":   payment.Amount,
		"currency": payment.Currency,
		"purpose":  payment.Purpose,
	})
	c.JSON(http.StatusCreated, payment)
}
