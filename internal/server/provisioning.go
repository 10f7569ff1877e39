package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opencorehq/tenantcore/internal/authorization"
	provisionerdomain "github.com/opencorehq/tenantcore/internal/provisioner/domain"
)

type manualProvisionRequest struct {
	Host           string `json:"host"`
	Port           string `json:"port"`
	Name           string `json:"name"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	SkipMigrations bool   `json:"skip_migrations"`
}

func (s *Server) ProvisioningStatus(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	report, err := s.provisionerSvc.Status(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) ProvisioningStatistics(c *gin.Context) {
	stats, err := s.provisionerSvc.Statistics(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": stats})
}

// RunProvisioning triggers the automatic saga. A redis lock keeps two
// replicas from racing on the same tenant; the row lock inside the
// service is the real guarantee.
func (s *Server) RunProvisioning(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	token, acquired, err := s.publicLimiter.TryProvisionLock(ctx, id.String())
	if err == nil && !acquired {
		AbortWithError(c, provisionerdomain.ErrProvisionInProgress)
		return
	}
	if token != "" {
		defer func() { _ = s.publicLimiter.ReleaseProvisionLock(ctx, id.String(), token) }()
	}

	result, err := s.provisionerSvc.Provision(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, &id, authorization.ActionProvisioningRun, "tenant_database", id.String(), map[string]any{
		"mode": "automatic",
	})
	c.JSON(http.StatusOK, result)
}

func (s *Server) RunManualProvisioning(c *gin.Context) {
	id, err := parsePathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req manualProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.provisionerSvc.ProvisionManual(c.Request.Context(), id, provisionerdomain.ManualRequest{
		Host:           req.Host,
		Port:           req.Port,
		Name:           req.Name,
		Username:       req.Username,
		Password:       req.Password,
		SkipMigrations: req.SkipMigrations,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, &id, authorization.ActionProvisioningRun, "tenant_database", id.String(), map[string]any{
		"mode": "manual",
	})
	c.JSON(http.StatusOK, result)
}
