package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"tensorbin/internal/http/middleware"
	"tensorbin/internal/service"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// writeError writes a standardized JSON error response without leaking internal errors.
//
// Parameters:
// - status: HTTP status code to return
// - code: machine-readable short error code (e.g., "INVALID_ID", "NOT_FOUND", "INTERNAL_ERROR")
// - message: human-readable safe message (no internal details)
func writeError(c *fiber.Ctx, status int, code, message string) error {
	res := errorPayload{
		RequestID: requestIDFromCtx(c),
		Error: errorEnvelope{
			Code:    code,
			Message: message,
		},
	}
	return c.Status(status).JSON(res)
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
// Anything unrecognized is reported as a generic internal error.
func writeServiceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrExtensionNotAllowed):
		return writeError(c, fiber.StatusBadRequest, "EXTENSION_NOT_ALLOWED", "file type not allowed")
	case errors.Is(err, service.ErrFileTooLarge):
		return writeError(c, fiber.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file too large")
	case errors.Is(err, service.ErrQuotaExceeded):
		return writeError(c, fiber.StatusRequestEntityTooLarge, "QUOTA_EXCEEDED", "storage quota exceeded")
	case errors.Is(err, service.ErrContentConflict):
		return writeError(c, fiber.StatusConflict, "CONTENT_CONFLICT", "file already exists")
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "file not found")
	case errors.Is(err, service.ErrObjectBlocked):
		return writeError(c, fiber.StatusForbidden, "OBJECT_BLOCKED", "file is blocked")
	case errors.Is(err, service.ErrTenantUnknown):
		return writeError(c, fiber.StatusForbidden, "TENANT_UNKNOWN", "tenant not provisioned")
	case errors.Is(err, service.ErrReaderNil), errors.Is(err, service.ErrIDRequired), errors.Is(err, service.ErrTenantRequired):
		return writeError(c, fiber.StatusBadRequest, "BAD_REQUEST", "bad request")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusUnauthorized:
			return writeError(c, status, "UNAUTHORIZED", "authentication required")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		default:
			return writeError(c, status, "INTERNAL_ERROR", "internal server error")
		}
	}
}
