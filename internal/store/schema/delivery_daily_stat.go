package schema

import "time"

// DeliveryDailyStat represents the delivery_daily_stats table - materialized
// daily counters keyed (webhook id, date, status), bumped by the scheduler
// on terminal transitions and read by the stats aggregator
type DeliveryDailyStat struct {
	// ID is an auto-incrementing sequence number
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// WebhookID is the registration the counter belongs to
	WebhookID string `gorm:"column:webhook_id;not null;uniqueIndex:idx_daily_stats_key,priority:1;type:varchar(36)"`
	// Date is the UTC calendar day, truncated to midnight
	Date time.Time `gorm:"column:date;not null;uniqueIndex:idx_daily_stats_key,priority:2;type:date"`
	// Status is the terminal delivery status being counted
	Status DeliveryStatus `gorm:"column:status;not null;uniqueIndex:idx_daily_stats_key,priority:3;type:varchar(16)"`
	// Count is the number of tasks that reached Status on Date
	Count int64 `gorm:"column:count;not null;default:0"`
	// UpdatedAt is when the counter was last bumped
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the DeliveryDailyStat model
func (DeliveryDailyStat) TableName() string {
	return "delivery_daily_stats"
}
