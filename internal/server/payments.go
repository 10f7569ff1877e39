package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opencorehq/tenantcore/internal/authorization"
	paymentdomain "github.com/opencorehq/tenantcore/internal/payment/domain"
	"github.com/opencorehq/tenantcore/pkg/db/pagination"
)

func (s *Server) ListPayments(c *gin.Context) {
	filter := paymentdomain.ListFilter{}
	if tenantID, err := parseOptionalSnowflakeID(c.Query("tenant_id")); err == nil && tenantID != nil {
		filter.TenantID = tenantID
	}
	if statuses := strings.TrimSpace(c.Query("status")); statuses != "" {
		for _, status := range strings.Split(statuses, ",") {
			filter.Statuses = append(filter.Statuses, paymentdomain.Status(strings.TrimSpace(status)))
		}
	}
	if purposes := strings.TrimSpace(c.Query("purpose")); purposes != "" {
		for _, purpose := range strings.Split(purposes, ",") {
			filter.Purposes = append(filter.Purposes, paymentdomain.Purpose(strings.TrimSpace(purpose)))
		}
	}
	if limit, err := parseOptionalInt(c.Query("limit")); err == nil && limit != nil {
		filter.Pagination = pagination.Pagination{PageSize: *limit}
	}

	payments, total, err := s.paymentSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments, "total": total})
}

func (s *Server) GetPayment(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	payment, err := s.paymentSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (s *Server) ApprovePayment(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	approved, err := s.paymentSvc.Approve(c.Request.Context(), id, actorID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, &approved.TenantID, authorization.ActionPaymentApprove, "payment", approved.ID.String(), map[string]any{
		"amount":   approved.Amount,
		"currency": approved.Currency,
	})
	c.JSON(http.StatusOK, approved)
}

func (s *Server) RejectPayment(c *gin.Context) {
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

	rejected, err := s.paymentSvc.Reject(c.Request.Context(), id, actorID(c), req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, &rejected.TenantID, authorization.ActionPaymentReject, "payment", rejected.ID.String(), map[string]any{
		"reason": req.Reason,
	})
	c.JSON(http.StatusOK, rejected)
}

func (s *Server) PaymentStatistics(c *gin.Context) {
	stats, err := s.paymentSvc.Statistics(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) PaymentReceipt(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	receipt, err := s.paymentSvc.Receipt(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if receipt == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", `attachment; filename="receipt.pdf"`)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, receipt)
}
