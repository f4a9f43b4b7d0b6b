package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	eventdomain "github.com/smallbiznis/sequencer/internal/event/domain"
	scoringdomain "github.com/smallbiznis/sequencer/internal/scoring/domain"
	suppressiondomain "github.com/smallbiznis/sequencer/internal/suppression/domain"
	workflowdomain "github.com/smallbiznis/sequencer/internal/workflow/domain"
	"github.com/smallbiznis/sequencer/pkg/db"
	"github.com/smallbiznis/sequencer/pkg/db/pagination"
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
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrOrgRequired        = errors.New("invalid_org_id")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
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
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(err, code),
				},
			},
		}
	}

	switch {
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable), db.IsUnavailableErr(err):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger with the same type the
// client sees plus the underlying code.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	code := err.Error()
	if vErr := asValidationErrors(err); vErr != nil && len(vErr.Errors) > 0 {
		code = vErr.Errors[0].Code
	}
	if payload.Type == "internal_error" {
		code = "internal_error"
	}
	return payload.Type, code
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
		errors.Is(err, ErrOrgRequired),
		errors.Is(err, pagination.ErrInvalidPageToken):
		return true
	case isEventValidationError(err),
		isSuppressionValidationError(err),
		isScoringValidationError(err),
		isWorkflowValidationError(err):
		return true
	default:
		return false
	}
}

func isEventValidationError(err error) bool {
	switch {
	case errors.Is(err, eventdomain.ErrInvalidOrganization),
		errors.Is(err, eventdomain.ErrInvalidEventType),
		errors.Is(err, eventdomain.ErrInvalidEntityType),
		errors.Is(err, eventdomain.ErrInvalidEntityID),
		errors.Is(err, eventdomain.ErrInvalidOccurredAt),
		errors.Is(err, eventdomain.ErrInvalidPayload),
		errors.Is(err, eventdomain.ErrInvalidDedupeKey),
		errors.Is(err, eventdomain.ErrInvalidEmail),
		errors.Is(err, eventdomain.ErrInvalidTimeRange):
		return true
	}
	return false
}

func isSuppressionValidationError(err error) bool {
	switch {
	case errors.Is(err, suppressiondomain.ErrInvalidOrganization),
		errors.Is(err, suppressiondomain.ErrInvalidEmail),
		errors.Is(err, suppressiondomain.ErrInvalidReason),
		errors.Is(err, suppressiondomain.ErrInvalidExpiresAt),
		errors.Is(err, suppressiondomain.ErrInvalidID),
		errors.Is(err, suppressiondomain.ErrTooManyEntries):
		return true
	}
	return false
}

func isScoringValidationError(err error) bool {
	switch {
	case errors.Is(err, scoringdomain.ErrInvalidOrganization),
		errors.Is(err, scoringdomain.ErrInvalidEntityID),
		errors.Is(err, scoringdomain.ErrInvalidTier),
		errors.Is(err, scoringdomain.ErrInvalidDelta):
		return true
	}
	return false
}

func isWorkflowValidationError(err error) bool {
	switch {
	case errors.Is(err, workflowdomain.ErrInvalidOrganization),
		errors.Is(err, workflowdomain.ErrInvalidWorkflowID),
		errors.Is(err, workflowdomain.ErrInvalidName),
		errors.Is(err, workflowdomain.ErrInvalidEntityType),
		errors.Is(err, workflowdomain.ErrInvalidEntityID),
		errors.Is(err, workflowdomain.ErrInvalidStatus),
		errors.Is(err, workflowdomain.ErrInvalidVersion),
		errors.Is(err, workflowdomain.ErrInvalidDefinition),
		errors.Is(err, workflowdomain.ErrInvalidEnrollmentID):
		return true
	}
	return false
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, workflowdomain.ErrInvalidTransition),
		errors.Is(err, workflowdomain.ErrWorkflowNotActive),
		errors.Is(err, workflowdomain.ErrVersionConflict):
		return true
	}
	return false
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, workflowdomain.ErrInvalidTransition):
		return "invalid state transition"
	case errors.Is(err, workflowdomain.ErrWorkflowNotActive):
		return "workflow is not active"
	case errors.Is(err, workflowdomain.ErrVersionConflict):
		return "workflow version conflict"
	default:
		return "conflict"
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, suppressiondomain.ErrNotFound),
		errors.Is(err, scoringdomain.ErrNotFound),
		errors.Is(err, workflowdomain.ErrWorkflowNotFound),
		errors.Is(err, workflowdomain.ErrEnrollmentNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// validationErrorCode unwraps joined validation messages down to the
// sentinel code.
func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, pagination.ErrInvalidPageToken):
		return pagination.ErrInvalidPageToken.Error()
	}
	code := err.Error()
	if i := strings.Index(code, ":"); i > 0 {
		code = code[:i]
	}
	return code
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(err error, code string) string {
	if _, detail, ok := strings.Cut(err.Error(), ": "); ok && strings.TrimSpace(detail) != "" {
		return detail
	}
	switch code {
	case "invalid_request":
		return "invalid request"
	case "too_many_entries":
		return "too many entries"
	default:
		return "invalid value"
	}
}
