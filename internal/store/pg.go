package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/formweave/webhook-engine/internal/domain"
	"github.com/formweave/webhook-engine/internal/store/schema"
)

const (
	// maxResponseBodyBytes caps stored response bodies
	maxResponseBodyBytes = 4 * 1024
	// maxErrorMessageBytes caps stored error messages
	maxErrorMessageBytes = 1024
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values fall back to reasonable defaults.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// truncate clamps s to at most n bytes
func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// =============================================================================
// Webhook Registrations
// =============================================================================

// CreateWebhookRegistration persists a new registration
func (s *pgStore) CreateWebhookRegistration(ctx context.Context, reg *schema.WebhookRegistration) error {
	if err := s.db.WithContext(ctx).Create(reg).Error; err != nil {
		return fmt.Errorf("failed to create webhook registration: %w", err)
	}
	return nil
}

// GetWebhookRegistration retrieves a registration by ID
func (s *pgStore) GetWebhookRegistration(ctx context.Context, id string) (*schema.WebhookRegistration, error) {
	var reg schema.WebhookRegistration
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&reg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get webhook registration: %w", err)
	}
	return &reg, nil
}

// ListWebhookRegistrationsByAccount pages the registrations owned by an account
func (s *pgStore) ListWebhookRegistrationsByAccount(ctx context.Context, accountID string, limit, offset int) ([]*schema.WebhookRegistration, error) {
	var regs []*schema.WebhookRegistration
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&regs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook registrations by account: %w", err)
	}
	return regs, nil
}

// ListWebhookRegistrationsByForm lists all registrations attached to a form
func (s *pgStore) ListWebhookRegistrationsByForm(ctx context.Context, formID string) ([]*schema.WebhookRegistration, error) {
	var regs []*schema.WebhookRegistration
	err := s.db.WithContext(ctx).
		Where("form_id = ?", formID).
		Order("created_at DESC").
		Find(&regs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook registrations by form: %w", err)
	}
	return regs, nil
}

// ListEligibleWebhooksForEvent returns dispatch-eligible registrations for
// the form that subscribe to the event type.
// Eligibility is active AND approved AND not admin-deactivated; the event
// subscription check uses the JSONB containment operator.
func (s *pgStore) ListEligibleWebhooksForEvent(ctx context.Context, formID string, eventType domain.EventType) ([]*schema.WebhookRegistration, error) {
	var regs []*schema.WebhookRegistration
	err := s.db.WithContext(ctx).
		Where("form_id = ?", formID).
		Where("active").
		Where("admin_approved = ?", domain.ApprovalApproved).
		Where("deactivated_by_id IS NULL").
		Where("event_types @> ?::jsonb", fmt.Sprintf(`[%q]`, string(eventType))).
		Find(&regs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible webhooks: %w", err)
	}
	return regs, nil
}

// UpdateWebhookRegistration applies a column update map to a registration
func (s *pgStore) UpdateWebhookRegistration(ctx context.Context, id string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	result := s.db.WithContext(ctx).
		Model(&schema.WebhookRegistration{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update webhook registration: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrWebhookNotFound
	}
	return nil
}

// SoftDeleteWebhookRegistration tombstones a registration
func (s *pgStore) SoftDeleteWebhookRegistration(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&schema.WebhookRegistration{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete webhook registration: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrWebhookNotFound
	}
	return nil
}

// =============================================================================
// Delivery Tasks
// =============================================================================

// CreateDeliveryTask persists a new pending task
func (s *pgStore) CreateDeliveryTask(ctx context.Context, task *schema.DeliveryTask) error {
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("failed to create delivery task: %w", err)
	}
	return nil
}

// GetDeliveryTask retrieves a task by ID
func (s *pgStore) GetDeliveryTask(ctx context.Context, id string) (*schema.DeliveryTask, error) {
	var task schema.DeliveryTask
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get delivery task: %w", err)
	}
	return &task, nil
}

// ClaimDeliveryTask atomically transitions a claimable task to in_flight.
// The conditional update is the single-writer-wins gate that upholds the
// at-most-one-in-flight invariant across worker processes.
func (s *pgStore) ClaimDeliveryTask(ctx context.Context, id string, now time.Time, claimExpiry time.Duration) (bool, error) {
	staleBefore := now.Add(-claimExpiry)
	result := s.db.WithContext(ctx).
		Model(&schema.DeliveryTask{}).
		Where("id = ?", id).
		Where("status IN ? OR (status = ? AND claimed_at < ?)",
			[]schema.DeliveryStatus{schema.DeliveryStatusPending, schema.DeliveryStatusScheduled},
			schema.DeliveryStatusInFlight, staleBefore).
		Updates(map[string]interface{}{
			"status":          schema.DeliveryStatusInFlight,
			"claimed_at":      now,
			"next_attempt_at": nil,
			"updated_at":      now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim delivery task: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// StartDeliveryAttempt records the beginning of a send attempt
func (s *pgStore) StartDeliveryAttempt(ctx context.Context, id string, attemptNumber int, requestAt time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&schema.DeliveryTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempt_count": attemptNumber,
			"request_at":    requestAt,
			"updated_at":    requestAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to start delivery attempt: %w", err)
	}
	return nil
}

// attemptUpdates builds the shared column map for attempt outcomes
func attemptUpdates(result AttemptResult) map[string]interface{} {
	updates := map[string]interface{}{
		"response_body": truncate(result.ResponseBody, maxResponseBodyBytes),
		"error_message": truncate(result.ErrorMessage, maxErrorMessageBytes),
		"updated_at":    time.Now(),
	}
	if result.ResponseAt != nil {
		updates["response_at"] = *result.ResponseAt
	}
	if result.ResponseStatus != nil {
		updates["response_status"] = *result.ResponseStatus
	}
	return updates
}

// RescheduleDeliveryTask records a failed attempt and parks the task until
// its next due time
func (s *pgStore) RescheduleDeliveryTask(ctx context.Context, id string, result AttemptResult, nextAttemptAt time.Time) error {
	updates := attemptUpdates(result)
	updates["status"] = schema.DeliveryStatusScheduled
	updates["next_attempt_at"] = nextAttemptAt
	updates["claimed_at"] = nil

	err := s.db.WithContext(ctx).
		Model(&schema.DeliveryTask{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to reschedule delivery task: %w", err)
	}
	return nil
}

// FinalizeDeliveryTask moves a task to a terminal status
func (s *pgStore) FinalizeDeliveryTask(ctx context.Context, id string, status schema.DeliveryStatus, result AttemptResult) error {
	if !status.Terminal() {
		return fmt.Errorf("finalize requires a terminal status, got %q", status)
	}

	updates := attemptUpdates(result)
	updates["status"] = status
	updates["next_attempt_at"] = nil
	updates["claimed_at"] = nil

	err := s.db.WithContext(ctx).
		Model(&schema.DeliveryTask{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to finalize delivery task: %w", err)
	}
	return nil
}

// FindDueDeliveryTasks returns IDs of tasks ready for execution
func (s *pgStore) FindDueDeliveryTasks(ctx context.Context, now time.Time, claimExpiry time.Duration, limit int) ([]string, error) {
	staleBefore := now.Add(-claimExpiry)

	var ids []string
	err := s.db.WithContext(ctx).
		Model(&schema.DeliveryTask{}).
		Where("status = ? OR (status = ? AND next_attempt_at <= ?) OR (status = ? AND claimed_at < ?)",
			schema.DeliveryStatusPending,
			schema.DeliveryStatusScheduled, now,
			schema.DeliveryStatusInFlight, staleBefore).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find due delivery tasks: %w", err)
	}
	return ids, nil
}

// ListDeliveryTasksByWebhook pages a webhook's delivery history
func (s *pgStore) ListDeliveryTasksByWebhook(ctx context.Context, webhookID string, filters TaskFilters, limit, offset int) ([]*schema.DeliveryTask, int64, error) {
	query := s.db.WithContext(ctx).
		Model(&schema.DeliveryTask{}).
		Where("webhook_id = ?", webhookID)

	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.EventType != nil {
		query = query.Where("event_type = ?", *filters.EventType)
	}
	if filters.IsTest != nil {
		query = query.Where("is_test = ?", *filters.IsTest)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count delivery tasks: %w", err)
	}

	var tasks []*schema.DeliveryTask
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&tasks).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list delivery tasks: %w", err)
	}

	return tasks, total, nil
}

// =============================================================================
// Delivery Attempts
// =============================================================================

// RecordDeliveryAttempt appends one row to the per-attempt audit log
func (s *pgStore) RecordDeliveryAttempt(ctx context.Context, attempt *schema.DeliveryAttempt) error {
	attempt.ResponseBody = truncate(attempt.ResponseBody, maxResponseBodyBytes)
	attempt.ErrorMessage = truncate(attempt.ErrorMessage, maxErrorMessageBytes)
	if err := s.db.WithContext(ctx).Create(attempt).Error; err != nil {
		return fmt.Errorf("failed to record delivery attempt: %w", err)
	}
	return nil
}

// ListDeliveryAttempts returns a task's attempts in attempt order
func (s *pgStore) ListDeliveryAttempts(ctx context.Context, taskID string) ([]*schema.DeliveryAttempt, error) {
	var attempts []*schema.DeliveryAttempt
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("attempt_number ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery attempts: %w", err)
	}
	return attempts, nil
}

// =============================================================================
// Stats
// =============================================================================

// IncrementDailyStat bumps the (webhook, day, status) counter via upsert
func (s *pgStore) IncrementDailyStat(ctx context.Context, webhookID string, day time.Time, status schema.DeliveryStatus) error {
	day = day.UTC().Truncate(24 * time.Hour)
	stat := &schema.DeliveryDailyStat{
		WebhookID: webhookID,
		Date:      day,
		Status:    status,
		Count:     1,
		UpdatedAt: time.Now(),
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "webhook_id"}, {Name: "date"}, {Name: "status"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"count":      gorm.Expr("delivery_daily_stats.count + 1"),
				"updated_at": time.Now(),
			}),
		}).
		Create(stat).Error
	if err != nil {
		return fmt.Errorf("failed to increment daily stat: %w", err)
	}
	return nil
}

// GetDailyStats returns the materialized counters for a webhook
func (s *pgStore) GetDailyStats(ctx context.Context, webhookID string, from, to time.Time) ([]*schema.DeliveryDailyStat, error) {
	var stats []*schema.DeliveryDailyStat
	err := s.db.WithContext(ctx).
		Where("webhook_id = ?", webhookID).
		Where("date >= ? AND date <= ?", from.UTC().Truncate(24*time.Hour), to.UTC().Truncate(24*time.Hour)).
		Order("date ASC").
		Find(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}
	return stats, nil
}

// AggregateDeliveryStats computes totals, per-status counts and average
// latency over tasks created at or after from. Latency averages only tasks
// that reached a terminal state with both timestamps present.
func (s *pgStore) AggregateDeliveryStats(ctx context.Context, webhookID string, from time.Time) (*DeliveryAggregate, error) {
	type statusCount struct {
		Status schema.DeliveryStatus
		Count  int64
	}

	var counts []statusCount
	err := s.db.WithContext(ctx).
		Model(&schema.DeliveryTask{}).
		Select("status, COUNT(*) AS count").
		Where("webhook_id = ? AND created_at >= ?", webhookID, from).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate delivery counts: %w", err)
	}

	agg := &DeliveryAggregate{
		PerStatus: make(map[schema.DeliveryStatus]int64, len(counts)),
	}
	for _, c := range counts {
		agg.PerStatus[c.Status] = c.Count
		agg.Total += c.Count
		if c.Status == schema.DeliveryStatusSuccess {
			agg.SuccessCount = c.Count
		}
	}

	var avgMs sql.NullFloat64
	err = s.db.WithContext(ctx).
		Model(&schema.DeliveryTask{}).
		Select("AVG(EXTRACT(EPOCH FROM (response_at - request_at)) * 1000)").
		Where("webhook_id = ? AND created_at >= ?", webhookID, from).
		Where("status IN ?", []schema.DeliveryStatus{schema.DeliveryStatusSuccess, schema.DeliveryStatusFailed}).
		Where("request_at IS NOT NULL AND response_at IS NOT NULL").
		Scan(&avgMs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate delivery latency: %w", err)
	}
	if avgMs.Valid {
		agg.AverageResponseMs = avgMs.Float64
	}

	return agg, nil
}
