package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"triage_server/pkg/apperr"
	"triage_server/pkg/logger"
)

// =============================================================================
// Standardized Response Helpers
// =============================================================================

// APIResponse is the envelope for every JSON response.
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// APIError carries a machine-readable error code.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse sends a standardized JSON success response.
func SuccessResponse(c *fiber.Ctx, data any) error {
	return c.JSON(APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// ErrorResponse sends a standardized JSON error response.
func ErrorResponse(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(APIResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// AppErrorResponse maps an apperr.AppError to its HTTP representation.
func AppErrorResponse(c *fiber.Ctx, err error) error {
	appErr := apperr.AsAppError(err)
	return c.Status(appErr.Status).JSON(APIResponse{
		Success:   false,
		Error:     &APIError{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// InternalErrorResponse logs the real error and returns a generic 500, so
// internals never leak to producers.
func InternalErrorResponse(c *fiber.Ctx, err error, operation string) error {
	logger.WithError(err).WithField("operation", operation).Error("internal error")
	return ErrorResponse(c, 500, apperr.CodeInternalError, operation+" failed")
}
