package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	auditdomain "github.com/opencorehq/tenantcore/internal/audit/domain"
)

func (s *Server) ListAuditLogs(c *gin.Context) {
	req := auditdomain.ListRequest{
		Action:     strings.TrimSpace(c.Query("action")),
		TargetType: strings.TrimSpace(c.Query("target_type")),
		TargetID:   strings.TrimSpace(c.Query("target_id")),
		ActorType:  strings.TrimSpace(c.Query("actor_type")),
	}
	req.PageToken = strings.TrimSpace(c.Query("page_token"))
	if size, err := parseOptionalInt(c.Query("page_size")); err == nil && size != nil {
		req.PageSize = *size
	}

	tenantID, err := parseOptionalSnowflakeID(c.Query("tenant_id"))
	if err != nil {
		AbortWithError(c, newValidationError("tenant_id", "invalid_id", "invalid identifier"))
		return
	}
	req.TenantID = tenantID

	if req.StartAt, err = parseOptionalTime(c.Query("start_at")); err != nil {
		AbortWithError(c, newValidationError("start_at", "invalid_time", "expected RFC 3339 timestamp"))
		return
	}
	if req.EndAt, err = parseOptionalTime(c.Query("end_at")); err != nil {
		AbortWithError(c, newValidationError("end_at", "invalid_time", "expected RFC 3339 timestamp"))
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func parseOptionalTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// recordAudit writes a trail entry for an operator action. The request
// already succeeded, so a write failure is only logged.
func (s *Server) recordAudit(c *gin.Context, tenantID *snowflake.ID, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	entry := auditdomain.Entry{
		TenantID:   tenantID,
		ActorType:  auditdomain.ActorTypeOperator,
		ActorID:    actorID(c),
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   metadata,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	}
	if err := s.auditSvc.Record(c.Request.Context(), entry); err != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}

// recordPublicAudit is recordAudit for the unauthenticated surface.
func (s *Server) recordPublicAudit(c *gin.Context, tenantID *snowflake.ID, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	entry := auditdomain.Entry{
		TenantID:   tenantID,
		ActorType:  auditdomain.ActorTypePublic,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   metadata,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	}
	if err := s.auditSvc.Record(c.Request.Context(), entry); err != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}
