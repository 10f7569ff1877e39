package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opencorehq/tenantcore/internal/authorization"
	settingsdomain "github.com/opencorehq/tenantcore/internal/settings/domain"
)

type putSettingRequest struct {
	Value     string `json:"value"`
	ValueType string `json:"value_type"`
}

func (s *Server) ListSettings(c *gin.Context) {
	all, err := s.settingsSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": all})
}

func (s *Server) PutSetting(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	var req putSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	valueType := settingsdomain.ValueType(req.ValueType)
	if valueType == "" {
		valueType = settingsdomain.ValueTypeString
	}

	setting, err := s.settingsSvc.Set(c.Request.Context(), key, req.Value, valueType)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, nil, authorization.ActionSettingsManage, "setting", key, map[string]any{
		"value": req.Value,
	})
	c.JSON(http.StatusOK, setting)
}

func (s *Server) DeleteSetting(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if err := s.settingsSvc.Delete(c.Request.Context(), key); err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, nil, authorization.ActionSettingsManage, "setting", key, map[string]any{
		"deleted": true,
	})
	c.Status(http.StatusNoContent)
}

func (s *Server) ListPlans(c *gin.Context) {
	activeOnly := true
	if parsed, err := parseOptionalBool(c.Query("active_only")); err == nil && parsed != nil {
		activeOnly = *parsed
	}
	plans, err := s.planSvc.List(c.Request.Context(), activeOnly)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// ListModules returns the suite modules a plan unlocks, or the whole
// catalog when no plan is given.
func (s *Server) ListModules(c *gin.Context) {
	planID, err := parseOptionalSnowflakeID(c.Query("plan_id"))
	if err != nil {
		AbortWithError(c, newValidationError("plan_id", "invalid_id", "invalid identifier"))
		return
	}
	if planID == nil {
		c.JSON(http.StatusOK, gin.H{"modules": s.capabilities.TenantModules()})
		return
	}

	plan, err := s.planSvc.Get(c.Request.Context(), *planID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"modules": s.capabilities.FilterTenantModules(plan.Features)})
}

func (s *Server) PublicListCurrencies(c *gin.Context) {
	if s.referenceRepo == nil {
		c.JSON(http.StatusOK, gin.H{"currencies": []any{}})
		return
	}
	currencies, err := s.referenceRepo.ListCurrencies(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"currencies": currencies})
}

func (s *Server) PublicListTimezones(c *gin.Context) {
	if s.referenceRepo == nil {
		c.JSON(http.StatusOK, gin.H{"timezones": []any{}})
		return
	}
	timezones, err := s.referenceRepo.ListTimezones(c.Request.Context(), c.Query("region"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"timezones": timezones})
}
