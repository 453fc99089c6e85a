package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/procura/internal/authorization"
	"github.com/smallbiznis/procura/internal/guard"
	jobdomain "github.com/smallbiznis/procura/internal/job/domain"
	negotiationdomain "github.com/smallbiznis/procura/internal/negotiation/domain"
	notificationdomain "github.com/smallbiznis/procura/internal/notification/domain"
	orgdomain "github.com/smallbiznis/procura/internal/organization/domain"
	productdomain "github.com/smallbiznis/procura/internal/product/domain"
	purchaseorderdomain "github.com/smallbiznis/procura/internal/purchaseorder/domain"
	"github.com/smallbiznis/procura/internal/quota"
	supplierdomain "github.com/smallbiznis/procura/internal/supplier/domain"
	webhookdomain "github.com/smallbiznis/procura/internal/webhook/domain"
	"gorm.io/gorm"
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
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

// Sentinels grouped by response class. The matched sentinel's text is the
// code returned to the client.
var (
	validationSentinels = []error{
		ErrInvalidRequest,
		jobdomain.ErrInvalidQuery,
		jobdomain.ErrInvalidPriority,
		jobdomain.ErrInvalidRetries,
		jobdomain.ErrInvalidOrg,
		jobdomain.ErrInvalidUser,
		negotiationdomain.ErrInvalidPrice,
		negotiationdomain.ErrInvalidQuantity,
		negotiationdomain.ErrInvalidFollowUps,
		negotiationdomain.ErrInvalidOrg,
		negotiationdomain.ErrInvalidUser,
		negotiationdomain.ErrNoVendorContact,
		orgdomain.ErrInvalidName,
		orgdomain.ErrInvalidUser,
		orgdomain.ErrInvalidRole,
		orgdomain.ErrInvalidLimit,
		supplierdomain.ErrInvalidName,
		supplierdomain.ErrInvalidDomain,
		webhookdomain.ErrInvalidEvent,
		quota.ErrInvalidAmount,
	}
	notFoundSentinels = []error{
		ErrNotFound,
		jobdomain.ErrNotFound,
		negotiationdomain.ErrNotFound,
		purchaseorderdomain.ErrNotFound,
		webhookdomain.ErrNotFound,
		orgdomain.ErrNotFound,
		supplierdomain.ErrNotFound,
		productdomain.ErrNotFound,
		notificationdomain.ErrNotFound,
		gorm.ErrRecordNotFound,
	}
	conflictSentinels = []error{
		guard.ErrInvalidTransition,
		negotiationdomain.ErrApprovalRequired,
		purchaseorderdomain.ErrNegotiationNotAccepted,
		purchaseorderdomain.ErrAlreadyGenerated,
		purchaseorderdomain.ErrAlreadySent,
		purchaseorderdomain.ErrNotApproved,
		purchaseorderdomain.ErrVoided,
		purchaseorderdomain.ErrSentImmutable,
		jobdomain.ErrNoEligibleVendor,
		jobdomain.ErrJobBusy,
		jobdomain.ErrConcurrentUpdate,
		negotiationdomain.ErrBusy,
		negotiationdomain.ErrConcurrentUpdate,
		purchaseorderdomain.ErrConcurrentUpdate,
		webhookdomain.ErrBusy,
		webhookdomain.ErrConcurrentUpdate,
	}
	quotaSentinels = []error{
		ErrRateLimited,
		quota.ErrQuotaExceeded,
		quota.ErrBudgetExceeded,
	}
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

// bindingError turns a gin binding failure into field-level validation
// errors.
func bindingError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return invalidRequestError()
	}
	out := &ValidationErrors{}
	for _, fe := range fieldErrs {
		out.Errors = append(out.Errors, ValidationError{
			Field:   fe.Field(),
			Code:    "invalid_" + fe.Tag(),
			Message: "failed " + fe.Tag() + " validation",
		})
	}
	return out
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

	if sentinel := matchSentinel(err, validationSentinels); sentinel != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{Code: sentinel.Error(), Message: err.Error()},
			},
		}
	}

	var transition *guard.InvalidTransitionError
	if errors.As(err, &transition) {
		return http.StatusConflict, errorPayload{
			Type:    guard.ErrInvalidTransition.Error(),
			Message: transition.Error(),
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, orgdomain.ErrNotMember):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	}

	if sentinel := matchSentinel(err, notFoundSentinels); sentinel != nil {
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	}
	if sentinel := matchSentinel(err, quotaSentinels); sentinel != nil {
		return http.StatusTooManyRequests, errorPayload{
			Type:    sentinel.Error(),
			Message: err.Error(),
		}
	}
	if sentinel := matchSentinel(err, conflictSentinels); sentinel != nil {
		return http.StatusConflict, errorPayload{
			Type:    sentinel.Error(),
			Message: err.Error(),
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

func matchSentinel(err error, sentinels []error) error {
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}
