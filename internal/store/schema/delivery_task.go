package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/formweave/webhook-engine/internal/domain"
)

// DeliveryStatus is the lifecycle status of a delivery task
type DeliveryStatus string

const (
	// DeliveryStatusPending means the task has been created and not yet attempted
	DeliveryStatusPending DeliveryStatus = "pending"
	// DeliveryStatusScheduled means a retry is waiting for its due time
	DeliveryStatusScheduled DeliveryStatus = "scheduled"
	// DeliveryStatusInFlight is the claim marker: exactly one worker holds
	// the task between claim and outcome
	DeliveryStatusInFlight DeliveryStatus = "in_flight"
	// DeliveryStatusSuccess means the endpoint acknowledged with a 2xx; terminal
	DeliveryStatusSuccess DeliveryStatus = "success"
	// DeliveryStatusFailed means the attempt budget is exhausted or
	// eligibility was lost; terminal
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// Terminal reports whether the status admits no further attempts
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusSuccess || s == DeliveryStatusFailed
}

// DeliveryTask represents the delivery_tasks table - one attempt-chain for a
// single (webhook, event) pairing, tracked end-to-end for audit
type DeliveryTask struct {
	// ID is a unique identifier for the task (ULID for time-sortable uniqueness)
	ID string `gorm:"column:id;primaryKey;type:varchar(26)"`
	// WebhookID is the registration this delivery is for
	WebhookID string `gorm:"column:webhook_id;not null;index;type:varchar(36)"`
	// EventID is the originating domain event
	EventID string `gorm:"column:event_id;not null;type:varchar(26)"`
	// EventType is the type of event being delivered
	EventType domain.EventType `gorm:"column:event_type;not null;type:varchar(50)"`
	// SubmissionID references the submission for submission events
	SubmissionID *string `gorm:"column:submission_id;type:varchar(36)"`
	// IsTest marks tasks created through the test-send endpoint
	IsTest bool `gorm:"column:is_test;not null;default:false"`
	// Status is the current lifecycle status
	Status DeliveryStatus `gorm:"column:status;not null;default:pending;type:varchar(16);index:idx_delivery_tasks_due,priority:1"`
	// AttemptCount is the number of send attempts made so far
	AttemptCount int `gorm:"column:attempt_count;not null;default:0"`
	// MaxAttempts is copied from the registration at creation so later
	// registration edits cannot break the attempt-budget invariant
	MaxAttempts int `gorm:"column:max_attempts;not null"`
	// RetryIntervalSeconds is copied from the registration at creation
	RetryIntervalSeconds int `gorm:"column:retry_interval_seconds;not null"`
	// NextAttemptAt is the due time of the next retry, set only while scheduled
	NextAttemptAt *time.Time `gorm:"column:next_attempt_at;type:timestamptz;index:idx_delivery_tasks_due,priority:2"`
	// ClaimedAt is stamped by the claim update; stale in-flight rows older
	// than the claim expiry are re-swept after a worker crash
	ClaimedAt *time.Time `gorm:"column:claimed_at;type:timestamptz"`
	// RequestBody is the canonical payload actually sent
	RequestBody datatypes.JSON `gorm:"column:request_body;not null;type:jsonb"`
	// RequestAt is the timestamp of the most recent send attempt
	RequestAt *time.Time `gorm:"column:request_at;type:timestamptz"`
	// ResponseAt is the timestamp the most recent response arrived
	ResponseAt *time.Time `gorm:"column:response_at;type:timestamptz"`
	// ResponseStatus is the HTTP status code of the most recent attempt
	ResponseStatus *int `gorm:"column:response_status"`
	// ResponseBody is the response body of the most recent attempt (limited to 4KB)
	ResponseBody string `gorm:"column:response_body;type:text"`
	// ErrorMessage contains transport-level error details for the most recent attempt
	ErrorMessage string `gorm:"column:error_message;type:text"`
	// CreatedAt is when the task was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is when the task was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the DeliveryTask model
func (DeliveryTask) TableName() string {
	return "delivery_tasks"
}
