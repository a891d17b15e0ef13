package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/formweave/webhook-engine/internal/adapter"
	"github.com/formweave/webhook-engine/internal/domain"
	"github.com/formweave/webhook-engine/internal/logger"
	"github.com/formweave/webhook-engine/internal/signer"
	"github.com/formweave/webhook-engine/internal/store"
	"github.com/formweave/webhook-engine/internal/store/schema"
)

// Submitter hands freshly created tasks to an executor. The worker wires
// the scheduler here; the api binary uses NoopSubmitter and relies on the
// sweep to pick pending tasks up.
type Submitter interface {
	Submit(taskID string)
}

// NoopSubmitter leaves task execution to the sweep
type NoopSubmitter struct{}

func (NoopSubmitter) Submit(string) {}

// Dispatcher fans incoming domain events out to eligible webhook
// registrations, persisting one delivery task per match before any
// network activity happens
type Dispatcher struct {
	store     store.Store
	signer    *signer.Signer
	clock     adapter.Clock
	json      adapter.JSON
	submitter Submitter
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(st store.Store, sg *signer.Signer, clock adapter.Clock, json adapter.JSON, submitter Submitter) *Dispatcher {
	return &Dispatcher{
		store:     st,
		signer:    sg,
		clock:     clock,
		json:      json,
		submitter: submitter,
	}
}

// buildPayload assembles the delivery payload for a registration, applying
// its field filter to the submission data
func (d *Dispatcher) buildPayload(reg *schema.WebhookRegistration, event domain.Event) (domain.DeliveryPayload, error) {
	payload := domain.DeliveryPayload{
		Event: event.Type,
		Form: domain.PayloadForm{
			ID:    event.FormID,
			Title: event.FormTitle,
		},
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
	}

	if event.Submission != nil {
		var filter *domain.FieldFilter
		if len(reg.FieldFilter) > 0 {
			filter = &domain.FieldFilter{}
			if err := d.json.Unmarshal(reg.FieldFilter, filter); err != nil {
				return domain.DeliveryPayload{}, fmt.Errorf("failed to unmarshal field filter: %w", err)
			}
		}

		payload.Submission = &domain.PayloadSubmission{
			ID:        event.Submission.ID,
			CreatedAt: event.Submission.CreatedAt.UTC().Format(time.RFC3339),
			Data:      filter.Apply(event.Submission.Data),
		}
	}

	return payload, nil
}

// createTask persists a pending delivery task carrying the canonical body
func (d *Dispatcher) createTask(ctx context.Context, reg *schema.WebhookRegistration, event domain.Event, isTest bool) (string, error) {
	payload, err := d.buildPayload(reg, event)
	if err != nil {
		return "", err
	}

	body, err := d.signer.CanonicalBody(payload)
	if err != nil {
		return "", err
	}

	task := &schema.DeliveryTask{
		ID:                   ulid.Make().String(),
		WebhookID:            reg.ID,
		EventID:              event.EventID,
		EventType:            event.Type,
		IsTest:               isTest,
		Status:               schema.DeliveryStatusPending,
		MaxAttempts:          reg.MaxAttempts,
		RetryIntervalSeconds: reg.RetryIntervalSeconds,
		RequestBody:          datatypes.JSON(body),
	}
	if event.Submission != nil {
		task.SubmissionID = &event.Submission.ID
	}

	if err := d.store.CreateDeliveryTask(ctx, task); err != nil {
		return "", err
	}

	return task.ID, nil
}

// Dispatch fans an event out to every eligible registration subscribed to
// its type. Returns the created task IDs; zero matches is a successful
// no-op. Task creation failures for one registration do not block the
// others, and delivery outcomes never propagate to the event producer.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.Event) ([]string, error) {
	if !event.Type.Valid() {
		return nil, domain.NewValidationError("type", fmt.Sprintf("unknown event type %q", event.Type))
	}
	if event.FormID == "" {
		return nil, domain.NewValidationError("form_id", "must not be empty")
	}
	if event.EventID == "" {
		event.EventID = ulid.Make().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = d.clock.Now()
	}

	regs, err := d.store.ListEligibleWebhooksForEvent(ctx, event.FormID, event.Type)
	if err != nil {
		return nil, err
	}

	taskIDs := make([]string, 0, len(regs))
	for _, reg := range regs {
		taskID, err := d.createTask(ctx, reg, event, false)
		if err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("failed to create delivery task: %w", err),
				zap.String("webhook_id", reg.ID),
				zap.String("event_id", event.EventID))
			continue
		}
		taskIDs = append(taskIDs, taskID)
		d.submitter.Submit(taskID)
	}

	return taskIDs, nil
}

// DispatchTest creates a test delivery for one webhook, bypassing the
// event-type subscription filter but not the eligibility gate. The task
// runs through the normal retry path.
func (d *Dispatcher) DispatchTest(ctx context.Context, webhookID string) (string, error) {
	reg, err := d.store.GetWebhookRegistration(ctx, webhookID)
	if err != nil {
		return "", err
	}
	if reg == nil {
		return "", domain.ErrWebhookNotFound
	}
	if !reg.Eligible() {
		return "", &domain.NotEligibleError{Reason: reg.EligibilityReason()}
	}

	now := d.clock.Now()
	event := domain.Event{
		EventID:   ulid.Make().String(),
		Type:      domain.EventTypeSubmissionCreated,
		FormID:    reg.FormID,
		FormTitle: "Test delivery",
		Submission: &domain.Submission{
			ID:        "test-submission",
			CreatedAt: now,
			Data: map[string]any{
				"_test": true,
			},
		},
		Timestamp: now,
	}

	taskID, err := d.createTask(ctx, reg, event, true)
	if err != nil {
		return "", err
	}
	d.submitter.Submit(taskID)

	return taskID, nil
}

// Redispatch starts a fresh attempt chain for a terminally failed task,
// reusing the originally signed request body
func (d *Dispatcher) Redispatch(ctx context.Context, taskID string) (string, error) {
	task, err := d.store.GetDeliveryTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if task == nil {
		return "", domain.ErrTaskNotFound
	}
	if task.Status != schema.DeliveryStatusFailed {
		return "", domain.ErrTaskNotRetryable
	}

	reg, err := d.store.GetWebhookRegistration(ctx, task.WebhookID)
	if err != nil {
		return "", err
	}
	if reg == nil {
		return "", domain.ErrWebhookNotFound
	}
	if !reg.Eligible() {
		return "", &domain.NotEligibleError{Reason: reg.EligibilityReason()}
	}

	fresh := &schema.DeliveryTask{
		ID:                   ulid.Make().String(),
		WebhookID:            task.WebhookID,
		EventID:              task.EventID,
		EventType:            task.EventType,
		SubmissionID:         task.SubmissionID,
		IsTest:               task.IsTest,
		Status:               schema.DeliveryStatusPending,
		MaxAttempts:          task.MaxAttempts,
		RetryIntervalSeconds: task.RetryIntervalSeconds,
		RequestBody:          task.RequestBody,
	}

	if err := d.store.CreateDeliveryTask(ctx, fresh); err != nil {
		return "", err
	}
	d.submitter.Submit(fresh.ID)

	return fresh.ID, nil
}
