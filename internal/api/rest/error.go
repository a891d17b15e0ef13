package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/formweave/webhook-engine/internal/domain"
	"github.com/formweave/webhook-engine/internal/logger"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Client errors (4xx)
	errCodeBadRequest       ErrorCode = "bad_request"
	errCodeNotFound         ErrorCode = "not_found"
	errCodeValidationFailed ErrorCode = "validation_failed"
	errCodeConflict         ErrorCode = "conflict"
	errCodeForbidden        ErrorCode = "forbidden"

	// Server errors (5xx)
	errCodeInternalError ErrorCode = "internal_error"
)

// errorResponse represents a standardized error response
type errorResponse struct {
	Error errorDetail `json:"error"`
}

// errorDetail contains error information
type errorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// respondWithError sends a standardized error response
func respondWithError(c *gin.Context, statusCode int, code ErrorCode, message string, details ...string) {
	response := errorResponse{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	}

	if len(details) > 0 {
		response.Error.Details = details[0]
	}

	c.JSON(statusCode, response)
}

// respondBadRequest sends a 400 Bad Request response
func respondBadRequest(c *gin.Context, message string, details ...string) {
	respondWithError(c, http.StatusBadRequest, errCodeBadRequest, message, details...)
}

// respondNotFound sends a 404 Not Found response
func respondNotFound(c *gin.Context, message string, details ...string) {
	respondWithError(c, http.StatusNotFound, errCodeNotFound, message, details...)
}

// respondValidationError sends a 422 Unprocessable Entity response
func respondValidationError(c *gin.Context, details string) {
	respondWithError(c, http.StatusUnprocessableEntity, errCodeValidationFailed, "Validation failed", details)
}

// respondConflict sends a 409 Conflict response
func respondConflict(c *gin.Context, message string, details ...string) {
	respondWithError(c, http.StatusConflict, errCodeConflict, message, details...)
}

// respondInternalError sends a 500 Internal Server Error response and logs the error
func respondInternalError(c *gin.Context, err error, message string, fields ...zap.Field) {
	logger.Error(err, fields...)
	respondWithError(c, http.StatusInternalServerError, errCodeInternalError, message)
}

// respondDomainError maps service errors onto HTTP status codes. Validation
// failures are 422, missing resources 404, lifecycle conflicts 409,
// everything else an internal error.
func respondDomainError(c *gin.Context, err error, message string) {
	var validationErr *domain.ValidationError
	var notEligibleErr *domain.NotEligibleError

	switch {
	case errors.As(err, &validationErr):
		respondValidationError(c, validationErr.Error())
	case errors.Is(err, domain.ErrWebhookNotFound):
		respondNotFound(c, "Webhook not found")
	case errors.Is(err, domain.ErrTaskNotFound):
		respondNotFound(c, "Delivery not found")
	case errors.Is(err, domain.ErrLocked):
		respondConflict(c, "Webhook is locked by an administrator")
	case errors.Is(err, domain.ErrForbiddenTransition):
		respondConflict(c, "State transition not permitted", err.Error())
	case errors.Is(err, domain.ErrTaskNotRetryable):
		respondConflict(c, "Delivery is not retryable", err.Error())
	case errors.As(err, &notEligibleErr):
		respondConflict(c, "Webhook is not eligible for delivery", notEligibleErr.Reason)
	default:
		respondInternalError(c, err, message)
	}
}
