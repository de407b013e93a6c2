package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	accountdomain "github.com/smallbiznis/luc/internal/account/domain"
	"github.com/smallbiznis/luc/internal/lock"
	"github.com/smallbiznis/luc/pkg/db/pagination"
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
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// validationErrors maps boundary errors to the request field they concern.
var validationErrors = []struct {
	err   error
	field string
}{
	{ErrInvalidRequest, "request"},
	{accountdomain.ErrInvalidUserID, "user_id"},
	{accountdomain.ErrInvalidAmount, "amount"},
	{accountdomain.ErrUnknownService, "service"},
	{accountdomain.ErrUnknownPlan, "plan_id"},
	{accountdomain.ErrUnknownPreset, "preset_id"},
	{accountdomain.ErrEmptyBatch, "items"},
	{accountdomain.ErrInvalidImport, "body"},
	{accountdomain.ErrUnsupportedVersion, "version"},
	{accountdomain.ErrInvalidFormat, "format"},
	{pagination.ErrInvalidPageToken, "page_token"},
}

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

	for _, v := range validationErrors {
		if errors.Is(err, v.err) {
			return http.StatusBadRequest, errorPayload{
				Type:    "validation_error",
				Message: "validation error",
				Errors: []ValidationError{
					{
						Field:   v.field,
						Code:    v.err.Error(),
						Message: err.Error(),
					},
				},
			}
		}
	}

	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, accountdomain.ErrAccountNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, accountdomain.ErrAccountExists):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "account already exists",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, accountdomain.ErrStorage),
		errors.Is(err, lock.ErrLockTimeout):
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

// classifyErrorForLog returns the error type and code logged per request.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
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
