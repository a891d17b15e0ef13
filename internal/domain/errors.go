package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrWebhookNotFound is returned when a webhook registration does not exist
	ErrWebhookNotFound = errors.New("webhook not found")

	// ErrTaskNotFound is returned when a delivery task does not exist
	ErrTaskNotFound = errors.New("delivery task not found")

	// ErrLocked is returned when a client mutates a registration that an
	// admin has locked
	ErrLocked = errors.New("webhook is locked by an administrator")

	// ErrForbiddenTransition is returned when a client attempts a state
	// transition reserved for admins, such as reactivating an
	// admin-deactivated webhook
	ErrForbiddenTransition = errors.New("state transition not permitted for caller")

	// ErrTaskNotRetryable is returned when a manual retry is requested for a
	// task that has not terminally failed
	ErrTaskNotRetryable = errors.New("delivery task is not in a retryable state")
)

// NotEligibleError is returned when a dispatch is attempted against a
// webhook that is not in the active state. Reason names the specific
// failing condition so callers can render an accurate message.
type NotEligibleError struct {
	Reason string
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("webhook not eligible for dispatch: %s", e.Reason)
}

// ValidationError is returned for malformed registration input. It is
// surfaced synchronously at create/update time and never reaches the
// scheduler.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for the given field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
