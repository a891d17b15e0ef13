package schema

import "time"

// DeliveryAttempt represents the delivery_attempts table - append-only
// per-attempt audit log. The parent task carries the latest attempt inline;
// this table preserves the full history for diagnosis.
type DeliveryAttempt struct {
	// ID is an auto-incrementing sequence number
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// TaskID is the delivery task this attempt belongs to
	TaskID string `gorm:"column:task_id;not null;index;type:varchar(26)"`
	// AttemptNumber is the 1-based attempt ordinal within the task
	AttemptNumber int `gorm:"column:attempt_number;not null"`
	// RequestAt is when the send started
	RequestAt time.Time `gorm:"column:request_at;not null;type:timestamptz"`
	// ResponseAt is when the response arrived, nil on transport failure
	ResponseAt *time.Time `gorm:"column:response_at;type:timestamptz"`
	// ResponseStatus is the HTTP status code, nil on transport failure
	ResponseStatus *int `gorm:"column:response_status"`
	// ResponseBody is the response body (limited to 4KB)
	ResponseBody string `gorm:"column:response_body;type:text"`
	// ErrorMessage contains transport-level error details
	ErrorMessage string `gorm:"column:error_message;type:text"`
	// CreatedAt is when the attempt record was written
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the DeliveryAttempt model
func (DeliveryAttempt) TableName() string {
	return "delivery_attempts"
}
