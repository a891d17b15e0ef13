package scheduler

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/formweave/webhook-engine/internal/adapter"
	"github.com/formweave/webhook-engine/internal/domain"
	"github.com/formweave/webhook-engine/internal/logger"
	"github.com/formweave/webhook-engine/internal/signer"
	"github.com/formweave/webhook-engine/internal/store"
	"github.com/formweave/webhook-engine/internal/store/schema"
)

const (
	// maxResponseBodyBytes caps how much of an endpoint response is kept
	maxResponseBodyBytes = 4 * 1024

	userAgent = "FormWeave-Webhooks/1.0"
)

// Config holds the scheduler's execution parameters
type Config struct {
	// WorkerPoolSize bounds concurrent deliveries across tasks
	WorkerPoolSize int
	// QueueSize bounds the submission backlog
	QueueSize int
	// ClaimExpiry is how long an in_flight claim is honored before the
	// task is considered abandoned by a crashed worker
	ClaimExpiry time.Duration
	// DeliveryTimeout bounds a single outbound POST
	DeliveryTimeout time.Duration
}

// Scheduler executes delivery tasks: it claims a task, re-checks webhook
// eligibility, performs the signed POST and classifies the outcome into
// success, a scheduled retry, or terminal failure.
// Per-task attempts are strictly sequential because of the storage claim;
// execution across tasks runs in parallel on the pool.
type Scheduler struct {
	config Config
	store  store.Store
	signer *signer.Signer
	clock  adapter.Clock
	http   adapter.HTTPClient
	io     adapter.IO
	json   adapter.JSON
	pool   pond.Pool
}

// NewScheduler creates a new scheduler with its worker pool
func NewScheduler(
	config Config,
	st store.Store,
	sg *signer.Signer,
	clock adapter.Clock,
	httpClient adapter.HTTPClient,
	ioAdapter adapter.IO,
	json adapter.JSON,
) *Scheduler {
	return &Scheduler{
		config: config,
		store:  st,
		signer: sg,
		clock:  clock,
		http:   httpClient,
		io:     ioAdapter,
		json:   json,
		pool: pond.NewPool(
			config.WorkerPoolSize,
			pond.WithQueueSize(config.QueueSize),
		),
	}
}

// Submit enqueues a task for execution on the worker pool
func (s *Scheduler) Submit(taskID string) {
	s.pool.Submit(func() {
		ctx := context.Background()
		if err := s.Execute(ctx, taskID); err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("failed to execute delivery task: %w", err),
				zap.String("task_id", taskID))
		}
	})
}

// Shutdown stops the pool and waits for in-progress deliveries to finish
func (s *Scheduler) Shutdown() {
	s.pool.StopAndWait()
}

// Execute runs exactly one delivery attempt for the task. Losing the claim
// race is a normal outcome and returns nil.
func (s *Scheduler) Execute(ctx context.Context, taskID string) error {
	now := s.clock.Now()

	claimed, err := s.store.ClaimDeliveryTask(ctx, taskID, now, s.config.ClaimExpiry)
	if err != nil {
		return err
	}
	if !claimed {
		// Another worker owns the task
		return nil
	}

	task, err := s.store.GetDeliveryTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return domain.ErrTaskNotFound
	}

	// Eligibility is re-read at claim time: a webhook rejected or
	// deactivated after dispatch must not receive pending deliveries
	reg, err := s.store.GetWebhookRegistration(ctx, task.WebhookID)
	if err != nil {
		return err
	}
	if reg == nil || !reg.Eligible() {
		reason := "registration deleted"
		if reg != nil {
			reason = reg.EligibilityReason()
		}
		logger.InfoCtx(ctx, "Cancelling delivery for ineligible webhook",
			zap.String("task_id", task.ID),
			zap.String("webhook_id", task.WebhookID),
			zap.String("reason", reason))
		return s.finalize(ctx, task, schema.DeliveryStatusFailed, store.AttemptResult{
			ErrorMessage: fmt.Sprintf("webhook no longer eligible: %s", reason),
		})
	}

	attemptNumber := task.AttemptCount + 1
	requestAt := s.clock.Now()
	if err := s.store.StartDeliveryAttempt(ctx, task.ID, attemptNumber, requestAt); err != nil {
		return err
	}

	result := s.deliver(ctx, reg, task)

	attempt := &schema.DeliveryAttempt{
		TaskID:        task.ID,
		AttemptNumber: attemptNumber,
		RequestAt:     requestAt,
		ResponseBody:  result.Body,
		ErrorMessage:  result.Error,
	}
	outcome := store.AttemptResult{
		ResponseBody: result.Body,
		ErrorMessage: result.Error,
	}
	if result.StatusCode != 0 {
		responseAt := s.clock.Now()
		attempt.ResponseAt = &responseAt
		attempt.ResponseStatus = &result.StatusCode
		outcome.ResponseAt = &responseAt
		outcome.ResponseStatus = &result.StatusCode
	}
	if err := s.store.RecordDeliveryAttempt(ctx, attempt); err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to record delivery attempt: %w", err),
			zap.String("task_id", task.ID))
	}

	if result.Success {
		logger.InfoCtx(ctx, "Webhook delivered",
			zap.String("task_id", task.ID),
			zap.String("webhook_id", task.WebhookID),
			zap.Int("attempt", attemptNumber),
			zap.Int("status", result.StatusCode))
		return s.finalize(ctx, task, schema.DeliveryStatusSuccess, outcome)
	}

	if attemptNumber >= task.MaxAttempts {
		logger.WarnCtx(ctx, "Webhook delivery exhausted its attempt budget",
			zap.String("task_id", task.ID),
			zap.String("webhook_id", task.WebhookID),
			zap.Int("attempts", attemptNumber))
		return s.finalize(ctx, task, schema.DeliveryStatusFailed, outcome)
	}

	// Linear backoff: the wait grows with each completed attempt
	interval := time.Duration(task.RetryIntervalSeconds) * time.Second
	nextAttemptAt := s.clock.Now().Add(interval * time.Duration(attemptNumber))

	logger.InfoCtx(ctx, "Webhook delivery failed, retry scheduled",
		zap.String("task_id", task.ID),
		zap.String("webhook_id", task.WebhookID),
		zap.Int("attempt", attemptNumber),
		zap.Time("next_attempt_at", nextAttemptAt))

	return s.store.RescheduleDeliveryTask(ctx, task.ID, outcome, nextAttemptAt)
}

// finalize moves the task to a terminal status and bumps the daily counter
func (s *Scheduler) finalize(ctx context.Context, task *schema.DeliveryTask, status schema.DeliveryStatus, outcome store.AttemptResult) error {
	if err := s.store.FinalizeDeliveryTask(ctx, task.ID, status, outcome); err != nil {
		return err
	}
	if err := s.store.IncrementDailyStat(ctx, task.WebhookID, s.clock.Now().UTC(), status); err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to increment daily stat: %w", err),
			zap.String("webhook_id", task.WebhookID))
	}
	return nil
}

// authHeaders builds the outbound authentication headers for the
// registration's auth mode
func (s *Scheduler) authHeaders(reg *schema.WebhookRegistration) (map[string]string, error) {
	if reg.AuthMode == domain.AuthModeNone {
		return nil, nil
	}

	var creds domain.AuthCredentials
	if len(reg.AuthCredentials) > 0 {
		if err := s.json.Unmarshal(reg.AuthCredentials, &creds); err != nil {
			return nil, fmt.Errorf("failed to unmarshal auth credentials: %w", err)
		}
	}

	switch reg.AuthMode {
	case domain.AuthModeBasic:
		token := base64.StdEncoding.EncodeToString([]byte(creds.Username + ":" + creds.Password))
		return map[string]string{"Authorization": "Basic " + token}, nil
	case domain.AuthModeBearer:
		return map[string]string{"Authorization": "Bearer " + creds.Token}, nil
	case domain.AuthModeAPIKey:
		return map[string]string{creds.Header: creds.Key}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", reg.AuthMode)
	}
}

// deliver performs the signed POST and classifies the response.
// Transport failures yield a zero StatusCode.
func (s *Scheduler) deliver(ctx context.Context, reg *schema.WebhookRegistration, task *schema.DeliveryTask) domain.DeliveryResult {
	signature, err := s.signer.Sign(reg.Secret, task.RequestBody)
	if err != nil {
		return domain.DeliveryResult{Success: false, Error: err.Error()}
	}

	headers := map[string]string{
		"Content-Type":          "application/json",
		"User-Agent":            userAgent,
		"X-Webhook-Event":       string(task.EventType),
		"X-Webhook-Delivery-Id": task.ID,
		"X-Webhook-Signature":   signature,
	}
	auth, err := s.authHeaders(reg)
	if err != nil {
		return domain.DeliveryResult{Success: false, Error: err.Error()}
	}
	for k, v := range auth {
		headers[k] = v
	}

	postCtx, cancel := context.WithTimeout(ctx, s.config.DeliveryTimeout)
	defer cancel()

	resp, err := s.http.Post(postCtx, reg.URL, headers, bytes.NewReader(task.RequestBody))
	if err != nil {
		return domain.DeliveryResult{Success: false, Error: err.Error()}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.WarnCtx(ctx, "failed to close response body",
				zap.Error(err), zap.String("url", reg.URL))
		}
	}()

	respBody, err := s.io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		// Keep the status classification, just drop the body
		respBody = []byte{}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.DeliveryResult{
			Success:    false,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Error:      fmt.Sprintf("HTTP %d", resp.StatusCode),
		}
	}

	return domain.DeliveryResult{
		Success:    true,
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
	}
}
