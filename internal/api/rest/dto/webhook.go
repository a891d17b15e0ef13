package dto

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/formweave/webhook-engine/internal/domain"
	"github.com/formweave/webhook-engine/internal/store/schema"
)

// CreateWebhookRequest is the body for POST /webhooks
type CreateWebhookRequest struct {
	FormID               string                  `json:"form_id"`
	URL                  string                  `json:"url"`
	EventTypes           []domain.EventType      `json:"event_types"`
	AuthMode             domain.AuthMode         `json:"auth_mode"`
	AuthCredentials      *domain.AuthCredentials `json:"auth_credentials,omitempty"`
	FieldFilter          *domain.FieldFilter     `json:"field_filter,omitempty"`
	MaxAttempts          int                     `json:"max_attempts"`
	RetryIntervalSeconds int                     `json:"retry_interval_seconds"`
}

// UpdateWebhookRequest is the body for PATCH /webhooks/:id.
// Nil fields are left unchanged.
type UpdateWebhookRequest struct {
	URL                  *string                 `json:"url,omitempty"`
	EventTypes           []domain.EventType      `json:"event_types,omitempty"`
	AuthMode             *domain.AuthMode        `json:"auth_mode,omitempty"`
	AuthCredentials      *domain.AuthCredentials `json:"auth_credentials,omitempty"`
	FieldFilter          *domain.FieldFilter     `json:"field_filter,omitempty"`
	MaxAttempts          *int                    `json:"max_attempts,omitempty"`
	RetryIntervalSeconds *int                    `json:"retry_interval_seconds,omitempty"`
}

// WebhookResponse represents a webhook registration. Credentials are never
// echoed back; the signing secret appears only in CreateWebhookResponse.
type WebhookResponse struct {
	ID                   string                   `json:"id"`
	FormID               string                   `json:"form_id"`
	AccountID            string                   `json:"account_id"`
	URL                  string                   `json:"url"`
	EventTypes           []domain.EventType       `json:"event_types"`
	AuthMode             domain.AuthMode          `json:"auth_mode"`
	FieldFilter          json.RawMessage          `json:"field_filter,omitempty"`
	MaxAttempts          int                      `json:"max_attempts"`
	RetryIntervalSeconds int                      `json:"retry_interval_seconds"`
	State                domain.RegistrationState `json:"state"`
	Active               bool                     `json:"active"`
	AdminApproved        domain.ApprovalState     `json:"admin_approved"`
	AdminLocked          bool                     `json:"admin_locked"`
	CreatedAt            time.Time                `json:"created_at"`
	UpdatedAt            time.Time                `json:"updated_at"`
}

// CreateWebhookResponse is the WebhookResponse plus the one-time secret
type CreateWebhookResponse struct {
	WebhookResponse
	Secret string `json:"secret"`
}

// WebhookListResponse represents a paginated list of webhooks
type WebhookListResponse struct {
	Webhooks []WebhookResponse `json:"items"`
	Offset   *int              `json:"offset,omitempty"`
}

// MapWebhookToDTO maps a schema.WebhookRegistration to WebhookResponse
func MapWebhookToDTO(reg *schema.WebhookRegistration) *WebhookResponse {
	var eventTypes []domain.EventType
	_ = json.Unmarshal(reg.EventTypes, &eventTypes)

	dto := &WebhookResponse{
		ID:                   reg.ID,
		FormID:               reg.FormID,
		AccountID:            reg.AccountID,
		URL:                  reg.URL,
		EventTypes:           eventTypes,
		AuthMode:             reg.AuthMode,
		MaxAttempts:          reg.MaxAttempts,
		RetryIntervalSeconds: reg.RetryIntervalSeconds,
		State:                reg.State(),
		Active:               reg.Active,
		AdminApproved:        reg.AdminApproved,
		AdminLocked:          reg.AdminLocked,
		CreatedAt:            reg.CreatedAt,
		UpdatedAt:            reg.UpdatedAt,
	}

	if len(reg.FieldFilter) > 0 {
		dto.FieldFilter = json.RawMessage(reg.FieldFilter)
	}

	return dto
}

// DeliveryResponse represents a delivery task in the audit ledger
type DeliveryResponse struct {
	ID             string                `json:"id"`
	WebhookID      string                `json:"webhook_id"`
	EventID        string                `json:"event_id"`
	EventType      domain.EventType      `json:"event_type"`
	SubmissionID   *string               `json:"submission_id,omitempty"`
	IsTest         bool                  `json:"is_test"`
	Status         schema.DeliveryStatus `json:"status"`
	AttemptCount   int                   `json:"attempt_count"`
	MaxAttempts    int                   `json:"max_attempts"`
	NextAttemptAt  *time.Time            `json:"next_attempt_at,omitempty"`
	RequestAt      *time.Time            `json:"request_at,omitempty"`
	ResponseAt     *time.Time            `json:"response_at,omitempty"`
	ResponseStatus *int                  `json:"response_status,omitempty"`
	ResponseBody   string                `json:"response_body,omitempty"`
	ErrorMessage   string                `json:"error_message,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// DeliveryAttemptResponse represents one entry of a task's attempt history
type DeliveryAttemptResponse struct {
	AttemptNumber  int        `json:"attempt_number"`
	RequestAt      time.Time  `json:"request_at"`
	ResponseAt     *time.Time `json:"response_at,omitempty"`
	ResponseStatus *int       `json:"response_status,omitempty"`
	ResponseBody   string     `json:"response_body,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

// DeliveryDetailResponse is a delivery task with its request body and the
// full attempt history
type DeliveryDetailResponse struct {
	DeliveryResponse
	RequestBody json.RawMessage           `json:"request_body"`
	Attempts    []DeliveryAttemptResponse `json:"attempts"`
}

// DeliveryListResponse represents a paginated slice of a webhook's
// delivery history
type DeliveryListResponse struct {
	Deliveries []DeliveryResponse `json:"items"`
	Offset     *int               `json:"offset,omitempty"`
	Total      int64              `json:"total"`
}

// MapDeliveryToDTO maps a schema.DeliveryTask to DeliveryResponse
func MapDeliveryToDTO(task *schema.DeliveryTask) *DeliveryResponse {
	return &DeliveryResponse{
		ID:             task.ID,
		WebhookID:      task.WebhookID,
		EventID:        task.EventID,
		EventType:      task.EventType,
		SubmissionID:   task.SubmissionID,
		IsTest:         task.IsTest,
		Status:         task.Status,
		AttemptCount:   task.AttemptCount,
		MaxAttempts:    task.MaxAttempts,
		NextAttemptAt:  task.NextAttemptAt,
		RequestAt:      task.RequestAt,
		ResponseAt:     task.ResponseAt,
		ResponseStatus: task.ResponseStatus,
		ResponseBody:   task.ResponseBody,
		ErrorMessage:   task.ErrorMessage,
		CreatedAt:      task.CreatedAt,
		UpdatedAt:      task.UpdatedAt,
	}
}

// MapDeliveryDetailToDTO maps a task and its attempt history to
// DeliveryDetailResponse
func MapDeliveryDetailToDTO(task *schema.DeliveryTask, attempts []*schema.DeliveryAttempt) *DeliveryDetailResponse {
	detail := &DeliveryDetailResponse{
		DeliveryResponse: *MapDeliveryToDTO(task),
		RequestBody:      json.RawMessage(task.RequestBody),
		Attempts:         make([]DeliveryAttemptResponse, 0, len(attempts)),
	}

	for _, attempt := range attempts {
		detail.Attempts = append(detail.Attempts, DeliveryAttemptResponse{
			AttemptNumber:  attempt.AttemptNumber,
			RequestAt:      attempt.RequestAt,
			ResponseAt:     attempt.ResponseAt,
			ResponseStatus: attempt.ResponseStatus,
			ResponseBody:   attempt.ResponseBody,
			ErrorMessage:   attempt.ErrorMessage,
		})
	}

	return detail
}

// DispatchResponse acknowledges an accepted dispatch with the created
// delivery task IDs
type DispatchResponse struct {
	TaskIDs []string `json:"task_ids"`
}

// TestDeliveryResponse acknowledges an accepted test send
type TestDeliveryResponse struct {
	TaskID string `json:"task_id"`
}

// IngestEventRequest is the body for POST /events, published by the
// form-builder backend
type IngestEventRequest struct {
	EventID    string             `json:"event_id"`
	Type       domain.EventType   `json:"type"`
	FormID     string             `json:"form_id"`
	FormTitle  string             `json:"form_title"`
	Submission *domain.Submission `json:"submission,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// Validate checks the required event fields
func (r *IngestEventRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("unknown event type")
	}
	if r.FormID == "" {
		return errors.New("form_id is required")
	}
	return nil
}

// ToDomain converts the request to a domain event
func (r *IngestEventRequest) ToDomain() *domain.Event {
	return &domain.Event{
		EventID:    r.EventID,
		Type:       r.Type,
		FormID:     r.FormID,
		FormTitle:  r.FormTitle,
		Submission: r.Submission,
		Timestamp:  r.Timestamp,
	}
}
