package schema

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/formweave/webhook-engine/internal/domain"
)

// WebhookRegistration represents the webhook_registrations table - webhook
// endpoints registered by form owners, gated by administrator approval
type WebhookRegistration struct {
	// ID is a unique identifier for the registration (UUID)
	ID string `gorm:"column:id;primaryKey;type:varchar(36)"`
	// FormID is the form whose events this webhook subscribes to
	FormID string `gorm:"column:form_id;not null;index;type:varchar(36)"`
	// AccountID is the owning client account
	AccountID string `gorm:"column:account_id;not null;index;type:varchar(36)"`
	// URL is the endpoint where deliveries are POSTed
	URL string `gorm:"column:url;not null;type:text"`
	// EventTypes is a JSON array of subscribed event types, non-empty
	EventTypes datatypes.JSON `gorm:"column:event_types;not null;type:jsonb"`
	// Secret is the hex-encoded HMAC signing secret, generated at creation
	// and never exposed through read endpoints afterwards
	Secret string `gorm:"column:secret;not null;type:text"`
	// AuthMode selects outbound authentication: none, basic, bearer, api_key
	AuthMode domain.AuthMode `gorm:"column:auth_mode;not null;default:none;type:varchar(16)"`
	// AuthCredentials is the JSON credential material for AuthMode
	AuthCredentials datatypes.JSON `gorm:"column:auth_credentials;type:jsonb"`
	// FieldFilter optionally restricts forwarded submission-data keys
	// ({"mode":"include"|"exclude","keys":[...]})
	FieldFilter datatypes.JSON `gorm:"column:field_filter;type:jsonb"`
	// MaxAttempts is the delivery attempt budget per task
	MaxAttempts int `gorm:"column:max_attempts;not null;default:5"`
	// RetryIntervalSeconds is the base unit for linear backoff
	RetryIntervalSeconds int `gorm:"column:retry_interval_seconds;not null;default:60"`
	// Active is the client-controlled on/off switch
	Active bool `gorm:"column:active;not null;default:true"`
	// AdminApproved is the tri-state admin trust decision: pending, approved, rejected
	AdminApproved domain.ApprovalState `gorm:"column:admin_approved;not null;default:pending;type:varchar(16)"`
	// AdminLocked freezes client edits; it does not affect dispatch eligibility
	AdminLocked bool `gorm:"column:admin_locked;not null;default:false"`
	// DeactivatedByID references the admin who force-deactivated the webhook.
	// While set, clients cannot toggle Active back on.
	DeactivatedByID *string `gorm:"column:deactivated_by_id;type:varchar(36)"`
	// CreatedAt is when the registration was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is when the registration was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
	// DeletedAt tombstones the registration; rows are never hard-deleted
	// while delivery tasks reference them for audit
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// TableName specifies the table name for the WebhookRegistration model
func (WebhookRegistration) TableName() string {
	return "webhook_registrations"
}

// State derives the lifecycle state from the trust/activity flags
func (w *WebhookRegistration) State() domain.RegistrationState {
	switch {
	case w.DeactivatedByID != nil:
		return domain.StateAdminDeactivated
	case w.AdminApproved == domain.ApprovalRejected:
		return domain.StateRejected
	case w.AdminApproved == domain.ApprovalPending:
		return domain.StatePendingApproval
	case !w.Active:
		return domain.StateInactive
	default:
		return domain.StateActive
	}
}

// Eligible reports whether the webhook may receive dispatched events
func (w *WebhookRegistration) Eligible() bool {
	return w.State() == domain.StateActive
}

// EligibilityReason names the condition blocking dispatch, or "" when eligible
func (w *WebhookRegistration) EligibilityReason() string {
	switch w.State() {
	case domain.StateActive:
		return ""
	case domain.StateAdminDeactivated:
		return "deactivated by an administrator"
	case domain.StateRejected:
		return "rejected by an administrator"
	case domain.StatePendingApproval:
		return "not yet approved by an administrator"
	default:
		return "deactivated by the owner"
	}
}
