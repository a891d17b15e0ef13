package domain

import "time"

// EventType identifies a domain event the engine can deliver to webhooks
type EventType string

const (
	// EventTypeSubmissionCreated is fired when a form submission is stored
	EventTypeSubmissionCreated EventType = "submission.created"

	// EventTypeSubmissionUpdated is fired when a stored submission is modified
	EventTypeSubmissionUpdated EventType = "submission.updated"

	// EventTypeFormPublished is fired when a form goes live
	EventTypeFormPublished EventType = "form.published"

	// EventTypeFormUnpublished is fired when a form is taken offline
	EventTypeFormUnpublished EventType = "form.unpublished"
)

// EventTypes lists every valid event type
var EventTypes = []EventType{
	EventTypeSubmissionCreated,
	EventTypeSubmissionUpdated,
	EventTypeFormPublished,
	EventTypeFormUnpublished,
}

// Valid reports whether the event type is one of the known types
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ApprovalState is the administrator trust decision for a webhook.
// Modeled as an explicit tri-state enum rather than a nullable boolean so
// the eligibility predicate stays exhaustive.
type ApprovalState string

const (
	// ApprovalPending means no admin has reviewed the webhook yet
	ApprovalPending ApprovalState = "pending"
	// ApprovalApproved means an admin approved the webhook for dispatch
	ApprovalApproved ApprovalState = "approved"
	// ApprovalRejected means an admin rejected the webhook
	ApprovalRejected ApprovalState = "rejected"
)

// Valid reports whether the approval state is a known value
func (s ApprovalState) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

// RegistrationState is the derived lifecycle state of a webhook registration
type RegistrationState string

const (
	// StatePendingApproval is the initial state after creation
	StatePendingApproval RegistrationState = "pending_approval"
	// StateActive means the webhook is eligible for dispatch
	StateActive RegistrationState = "active"
	// StateRejected means an admin rejected the webhook; terminal for dispatch
	StateRejected RegistrationState = "rejected"
	// StateInactive means the owning client switched the webhook off
	StateInactive RegistrationState = "inactive"
	// StateAdminDeactivated means an admin force-deactivated the webhook;
	// only an admin can bring it back
	StateAdminDeactivated RegistrationState = "admin_deactivated"
)

// AuthMode selects how the outbound delivery request authenticates itself
type AuthMode string

const (
	// AuthModeNone sends no authentication headers
	AuthModeNone AuthMode = "none"
	// AuthModeBasic sends an Authorization: Basic header
	AuthModeBasic AuthMode = "basic"
	// AuthModeBearer sends an Authorization: Bearer header
	AuthModeBearer AuthMode = "bearer"
	// AuthModeAPIKey sends the configured key in a configured header
	AuthModeAPIKey AuthMode = "api_key"
)

// Valid reports whether the auth mode is a known value
func (m AuthMode) Valid() bool {
	switch m {
	case AuthModeNone, AuthModeBasic, AuthModeBearer, AuthModeAPIKey:
		return true
	}
	return false
}

// AuthCredentials carries the credential material for an AuthMode.
// Only the fields relevant to the mode are set.
type AuthCredentials struct {
	// Username and Password are used by AuthModeBasic
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	// Token is used by AuthModeBearer
	Token string `json:"token,omitempty"`
	// Header and Key are used by AuthModeAPIKey
	Header string `json:"header,omitempty"`
	Key    string `json:"key,omitempty"`
}

// FilterMode selects how a FieldFilter interprets its key list
type FilterMode string

const (
	// FilterModeInclude keeps only the listed submission-data keys
	FilterModeInclude FilterMode = "include"
	// FilterModeExclude drops the listed submission-data keys
	FilterModeExclude FilterMode = "exclude"
)

// FieldFilter restricts which submission-data keys are forwarded to a webhook
type FieldFilter struct {
	Mode FilterMode `json:"mode"`
	Keys []string   `json:"keys"`
}

// Apply returns a copy of data with the filter applied.
// A nil filter passes data through unchanged.
func (f *FieldFilter) Apply(data map[string]any) map[string]any {
	if f == nil || data == nil {
		return data
	}

	keySet := make(map[string]bool, len(f.Keys))
	for _, k := range f.Keys {
		keySet[k] = true
	}

	filtered := make(map[string]any, len(data))
	for k, v := range data {
		switch f.Mode {
		case FilterModeInclude:
			if keySet[k] {
				filtered[k] = v
			}
		case FilterModeExclude:
			if !keySet[k] {
				filtered[k] = v
			}
		}
	}

	return filtered
}

// Event is a domain event emitted by the form subsystem
type Event struct {
	// EventID is a unique identifier for this event (ULID for time-sortable uniqueness)
	EventID string `json:"event_id"`
	// Type is the kind of event (e.g., "submission.created")
	Type EventType `json:"type"`
	// FormID identifies the form the event belongs to
	FormID string `json:"form_id"`
	// FormTitle is the human-readable form title included in the payload
	FormTitle string `json:"form_title"`
	// Submission carries the submission payload for submission events
	Submission *Submission `json:"submission,omitempty"`
	// Timestamp is when the event was generated
	Timestamp time.Time `json:"timestamp"`
}

// Submission is the submission portion of a domain event
type Submission struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Data      map[string]any `json:"data"`
}

// DeliveryPayload is the JSON body sent to a webhook endpoint.
// The signed and delivered form is the RFC 8785 canonicalization of this
// structure, so receivers can reproduce the signature byte for byte.
type DeliveryPayload struct {
	Event      EventType          `json:"event"`
	Form       PayloadForm        `json:"form"`
	Submission *PayloadSubmission `json:"submission,omitempty"`
	Timestamp  string             `json:"timestamp"`
}

// PayloadForm is the form summary inside a delivery payload
type PayloadForm struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// PayloadSubmission is the submission summary inside a delivery payload
type PayloadSubmission struct {
	ID        string         `json:"id"`
	CreatedAt string         `json:"createdAt"`
	Data      map[string]any `json:"data"`
}

// DeliveryResult represents the outcome of a single delivery attempt
type DeliveryResult struct {
	// Success indicates whether the endpoint returned a 2xx status
	Success bool
	// StatusCode is the HTTP status code, 0 on transport failure
	StatusCode int
	// Body is the response body (limited to 4KB)
	Body string
	// Error contains error details for transport-level failures
	Error string
}
