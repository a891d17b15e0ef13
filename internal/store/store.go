package store

import (
	"context"
	"time"

	"github.com/formweave/webhook-engine/internal/domain"
	"github.com/formweave/webhook-engine/internal/store/schema"
)

// TaskFilters narrows ledger queries for the audit UI
type TaskFilters struct {
	Status    *schema.DeliveryStatus
	EventType *domain.EventType
	IsTest    *bool
}

// AttemptResult carries the outcome of one send attempt into the ledger
type AttemptResult struct {
	ResponseAt     *time.Time
	ResponseStatus *int
	ResponseBody   string
	ErrorMessage   string
}

// DeliveryAggregate is the raw rollup the stats aggregator assembles from
type DeliveryAggregate struct {
	Total             int64
	SuccessCount      int64
	AverageResponseMs float64
	PerStatus         map[schema.DeliveryStatus]int64
}

// Store defines the persistence interface for the webhook engine.
// Registration rows are written by the registry, delivery tasks exclusively
// by the scheduler; everything else is read-only.
type Store interface {
	// CreateWebhookRegistration persists a new registration
	CreateWebhookRegistration(ctx context.Context, reg *schema.WebhookRegistration) error

	// GetWebhookRegistration retrieves a registration by ID, nil when absent
	// or tombstoned
	GetWebhookRegistration(ctx context.Context, id string) (*schema.WebhookRegistration, error)

	// ListWebhookRegistrationsByAccount pages the registrations owned by an account
	ListWebhookRegistrationsByAccount(ctx context.Context, accountID string, limit, offset int) ([]*schema.WebhookRegistration, error)

	// ListWebhookRegistrationsByForm lists all registrations attached to a form
	ListWebhookRegistrationsByForm(ctx context.Context, formID string) ([]*schema.WebhookRegistration, error)

	// ListEligibleWebhooksForEvent returns registrations for the form that are
	// dispatch-eligible and subscribed to the event type
	ListEligibleWebhooksForEvent(ctx context.Context, formID string, eventType domain.EventType) ([]*schema.WebhookRegistration, error)

	// UpdateWebhookRegistration applies a column update map to a registration
	UpdateWebhookRegistration(ctx context.Context, id string, updates map[string]interface{}) error

	// SoftDeleteWebhookRegistration tombstones a registration; delivery
	// history stays intact
	SoftDeleteWebhookRegistration(ctx context.Context, id string) error

	// CreateDeliveryTask persists a new pending task; the ledger row exists
	// before any network call so a crash between dispatch and send is
	// recoverable by the sweep
	CreateDeliveryTask(ctx context.Context, task *schema.DeliveryTask) error

	// GetDeliveryTask retrieves a task by ID, nil when absent
	GetDeliveryTask(ctx context.Context, id string) (*schema.DeliveryTask, error)

	// ClaimDeliveryTask atomically transitions a pending/scheduled task to
	// in_flight. Returns false when another worker already holds the claim.
	// In-flight rows whose claim is older than claimExpiry are reclaimable
	// (worker crash recovery).
	ClaimDeliveryTask(ctx context.Context, id string, now time.Time, claimExpiry time.Duration) (bool, error)

	// StartDeliveryAttempt records the beginning of attempt attemptNumber.
	// Only the claim holder calls this, so the explicit counter is safe.
	StartDeliveryAttempt(ctx context.Context, id string, attemptNumber int, requestAt time.Time) error

	// RescheduleDeliveryTask records a failed attempt and parks the task
	// until nextAttemptAt
	RescheduleDeliveryTask(ctx context.Context, id string, result AttemptResult, nextAttemptAt time.Time) error

	// FinalizeDeliveryTask records the attempt outcome and moves the task to
	// a terminal status
	FinalizeDeliveryTask(ctx context.Context, id string, status schema.DeliveryStatus, result AttemptResult) error

	// FindDueDeliveryTasks returns IDs of tasks ready for execution: pending
	// tasks, scheduled tasks whose due time has passed, and in-flight tasks
	// whose claim expired
	FindDueDeliveryTasks(ctx context.Context, now time.Time, claimExpiry time.Duration, limit int) ([]string, error)

	// ListDeliveryTasksByWebhook pages a webhook's delivery history, newest
	// first, with the total match count for pagination
	ListDeliveryTasksByWebhook(ctx context.Context, webhookID string, filters TaskFilters, limit, offset int) ([]*schema.DeliveryTask, int64, error)

	// RecordDeliveryAttempt appends one row to the per-attempt audit log
	RecordDeliveryAttempt(ctx context.Context, attempt *schema.DeliveryAttempt) error

	// ListDeliveryAttempts returns a task's attempts in attempt order
	ListDeliveryAttempts(ctx context.Context, taskID string) ([]*schema.DeliveryAttempt, error)

	// IncrementDailyStat bumps the (webhook, day, status) counter
	IncrementDailyStat(ctx context.Context, webhookID string, day time.Time, status schema.DeliveryStatus) error

	// GetDailyStats returns the materialized counters for a webhook between
	// from and to inclusive
	GetDailyStats(ctx context.Context, webhookID string, from, to time.Time) ([]*schema.DeliveryDailyStat, error)

	// AggregateDeliveryStats computes totals, success count, per-status
	// counts and average latency over tasks created at or after from
	AggregateDeliveryStats(ctx context.Context, webhookID string, from time.Time) (*DeliveryAggregate, error)
}
