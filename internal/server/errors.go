package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	auditdomain "github.com/opencorehq/tenantcore/internal/audit/domain"
	"github.com/opencorehq/tenantcore/internal/authorization"
	paymentdomain "github.com/opencorehq/tenantcore/internal/payment/domain"
	plandomain "github.com/opencorehq/tenantcore/internal/plan/domain"
	provisionerdomain "github.com/opencorehq/tenantcore/internal/provisioner/domain"
	settingsdomain "github.com/opencorehq/tenantcore/internal/settings/domain"
	subscriptiondomain "github.com/opencorehq/tenantcore/internal/subscription/domain"
	tenantdomain "github.com/opencorehq/tenantcore/internal/tenant/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrConflict        = errors.New("conflict")
	ErrInternal        = errors.New("internal_error")
	ErrNotFound        = errors.New("not_found")
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrTooManyRequests = errors.New("too_many_requests")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "too_many_requests",
			Message: "too many requests",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, tenantdomain.ErrInvalidTenant),
		errors.Is(err, tenantdomain.ErrInvalidName),
		errors.Is(err, tenantdomain.ErrInvalidEmail),
		errors.Is(err, tenantdomain.ErrInvalidSubdomain),
		errors.Is(err, plandomain.ErrInvalidPlan),
		errors.Is(err, subscriptiondomain.ErrInvalidSubscription),
		errors.Is(err, paymentdomain.ErrInvalidPayment),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidMethod),
		errors.Is(err, paymentdomain.ErrMissingProof),
		errors.Is(err, settingsdomain.ErrInvalidKey),
		errors.Is(err, settingsdomain.ErrInvalidValue),
		errors.Is(err, provisionerdomain.ErrInvalidManualConfig),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidAction):
		return true
	default:
		return false
	}
}

// isConflictError covers every transition rejected because the entity
// is in the wrong state.
func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, tenantdomain.ErrEmailTaken),
		errors.Is(err, tenantdomain.ErrSubdomainTaken),
		errors.Is(err, tenantdomain.ErrNotPending),
		errors.Is(err, tenantdomain.ErrNotSuspendable),
		errors.Is(err, tenantdomain.ErrAlreadySuspended),
		errors.Is(err, tenantdomain.ErrNotProvisioned),
		errors.Is(err, tenantdomain.ErrNoLiveSubscription),
		errors.Is(err, tenantdomain.ErrTenantCancelled),
		errors.Is(err, tenantdomain.ErrInvalidStatusChange),
		errors.Is(err, plandomain.ErrPlanInactive),
		errors.Is(err, subscriptiondomain.ErrSubscriptionExists),
		errors.Is(err, subscriptiondomain.ErrSubscriptionCancelled),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotTrial),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotSuspended),
		errors.Is(err, subscriptiondomain.ErrSamePlan),
		errors.Is(err, subscriptiondomain.ErrTrialNotAllowed),
		errors.Is(err, paymentdomain.ErrPaymentNotPending),
		errors.Is(err, paymentdomain.ErrPaymentNotApproved),
		errors.Is(err, provisionerdomain.ErrAlreadyProvisioned),
		errors.Is(err, provisionerdomain.ErrTenantNotEligible),
		errors.Is(err, provisionerdomain.ErrProvisionInProgress):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, tenantdomain.ErrTenantNotFound),
		errors.Is(err, plandomain.ErrPlanNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, settingsdomain.ErrSettingNotFound),
		errors.Is(err, provisionerdomain.ErrDatabaseNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	if strings.HasPrefix(code, "missing_") {
		return strings.TrimPrefix(code, "missing_")
	}
	return ""
}
