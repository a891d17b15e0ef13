package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/formweave/webhook-engine/internal/domain"
	"github.com/formweave/webhook-engine/internal/store/schema"
)

// =============================================================================
// Test Data Builders
// =============================================================================

// buildTestRegistration creates an approved, active registration subscribed
// to submission.created
func buildTestRegistration() *schema.WebhookRegistration {
	return &schema.WebhookRegistration{
		ID:                   uuid.NewString(),
		FormID:               uuid.NewString(),
		AccountID:            uuid.NewString(),
		URL:                  "https://hooks.example.com/receive",
		EventTypes:           datatypes.JSON(`["submission.created"]`),
		Secret:               "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
		AuthMode:             domain.AuthModeNone,
		MaxAttempts:          5,
		RetryIntervalSeconds: 60,
		Active:               true,
		AdminApproved:        domain.ApprovalApproved,
	}
}

// buildTestTask creates a pending delivery task for the registration
func buildTestTask(webhookID string) *schema.DeliveryTask {
	return &schema.DeliveryTask{
		ID:                   ulid.Make().String(),
		WebhookID:            webhookID,
		EventID:              ulid.Make().String(),
		EventType:            domain.EventTypeSubmissionCreated,
		Status:               schema.DeliveryStatusPending,
		MaxAttempts:          5,
		RetryIntervalSeconds: 60,
		RequestBody:          datatypes.JSON(`{"event":"submission.created"}`),
	}
}

// =============================================================================
// Test: Webhook Registrations
// =============================================================================

func testWebhookRegistrationCRUD(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("create and get round-trips the registration", func(t *testing.T) {
		reg := buildTestRegistration()
		require.NoError(t, store.CreateWebhookRegistration(ctx, reg))

		got, err := store.GetWebhookRegistration(ctx, reg.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, reg.URL, got.URL)
		assert.Equal(t, domain.ApprovalApproved, got.AdminApproved)
		assert.True(t, got.Active)
		assert.Equal(t, domain.StateActive, got.State())
	})

	t.Run("get returns nil for unknown id", func(t *testing.T) {
		got, err := store.GetWebhookRegistration(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("update applies column map", func(t *testing.T) {
		reg := buildTestRegistration()
		require.NoError(t, store.CreateWebhookRegistration(ctx, reg))

		err := store.UpdateWebhookRegistration(ctx, reg.ID, map[string]interface{}{
			"url":    "https://hooks.example.com/v2",
			"active": false,
		})
		require.NoError(t, err)

		got, err := store.GetWebhookRegistration(ctx, reg.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "https://hooks.example.com/v2", got.URL)
		assert.False(t, got.Active)
		assert.Equal(t, domain.StateInactive, got.State())
	})

	t.Run("update of unknown id returns not found", func(t *testing.T) {
		err := store.UpdateWebhookRegistration(ctx, uuid.NewString(), map[string]interface{}{
			"active": false,
		})
		assert.ErrorIs(t, err, domain.ErrWebhookNotFound)
	})

	t.Run("soft delete tombstones the registration", func(t *testing.T) {
		reg := buildTestRegistration()
		require.NoError(t, store.CreateWebhookRegistration(ctx, reg))
		require.NoError(t, store.SoftDeleteWebhookRegistration(ctx, reg.ID))

		got, err := store.GetWebhookRegistration(ctx, reg.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		// Deleting again reports not found
		err = store.SoftDeleteWebhookRegistration(ctx, reg.ID)
		assert.ErrorIs(t, err, domain.ErrWebhookNotFound)
	})
}

func testListWebhookRegistrations(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("lists by account with paging", func(t *testing.T) {
		accountID := uuid.NewString()
		for i := 0; i < 3; i++ {
			reg := buildTestRegistration()
			reg.AccountID = accountID
			require.NoError(t, store.CreateWebhookRegistration(ctx, reg))
		}

		page, err := store.ListWebhookRegistrationsByAccount(ctx, accountID, 2, 0)
		require.NoError(t, err)
		assert.Len(t, page, 2)

		rest, err := store.ListWebhookRegistrationsByAccount(ctx, accountID, 2, 2)
		require.NoError(t, err)
		assert.Len(t, rest, 1)
	})

	t.Run("lists by form", func(t *testing.T) {
		formID := uuid.NewString()
		reg := buildTestRegistration()
		reg.FormID = formID
		require.NoError(t, store.CreateWebhookRegistration(ctx, reg))

		other := buildTestRegistration()
		require.NoError(t, store.CreateWebhookRegistration(ctx, other))

		regs, err := store.ListWebhookRegistrationsByForm(ctx, formID)
		require.NoError(t, err)
		require.Len(t, regs, 1)
		assert.Equal(t, reg.ID, regs[0].ID)
	})
}

func testListEligibleWebhooksForEvent(t *testing.T, store Store) {
	ctx := context.Background()
	formID := uuid.NewString()

	eligible := buildTestRegistration()
	eligible.FormID = formID
	require.NoError(t, store.CreateWebhookRegistration(ctx, eligible))

	inactive := buildTestRegistration()
	inactive.FormID = formID
	inactive.Active = false
	require.NoError(t, store.CreateWebhookRegistration(ctx, inactive))

	unapproved := buildTestRegistration()
	unapproved.FormID = formID
	unapproved.AdminApproved = domain.ApprovalPending
	require.NoError(t, store.CreateWebhookRegistration(ctx, unapproved))

	adminID := uuid.NewString()
	forced := buildTestRegistration()
	forced.FormID = formID
	forced.DeactivatedByID = &adminID
	require.NoError(t, store.CreateWebhookRegistration(ctx, forced))

	otherEvent := buildTestRegistration()
	otherEvent.FormID = formID
	otherEvent.EventTypes = datatypes.JSON(`["form.published"]`)
	require.NoError(t, store.CreateWebhookRegistration(ctx, otherEvent))

	t.Run("only active approved subscribers match", func(t *testing.T) {
		regs, err := store.ListEligibleWebhooksForEvent(ctx, formID, domain.EventTypeSubmissionCreated)
		require.NoError(t, err)
		require.Len(t, regs, 1)
		assert.Equal(t, eligible.ID, regs[0].ID)
	})

	t.Run("event type filter respects subscription list", func(t *testing.T) {
		regs, err := store.ListEligibleWebhooksForEvent(ctx, formID, domain.EventTypeFormPublished)
		require.NoError(t, err)
		require.Len(t, regs, 1)
		assert.Equal(t, otherEvent.ID, regs[0].ID)
	})

	t.Run("other forms do not match", func(t *testing.T) {
		regs, err := store.ListEligibleWebhooksForEvent(ctx, uuid.NewString(), domain.EventTypeSubmissionCreated)
		require.NoError(t, err)
		assert.Empty(t, regs)
	})
}

// =============================================================================
// Test: Delivery Tasks
// =============================================================================

func testDeliveryTaskLifecycle(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	reg := buildTestRegistration()
	require.NoError(t, store.CreateWebhookRegistration(ctx, reg))

	t.Run("create, claim, attempt, finalize success", func(t *testing.T) {
		task := buildTestTask(reg.ID)
		require.NoError(t, store.CreateDeliveryTask(ctx, task))

		claimed, err := store.ClaimDeliveryTask(ctx, task.ID, now, 10*time.Minute)
		require.NoError(t, err)
		assert.True(t, claimed)

		// Second claim must lose while the first is fresh
		claimed, err = store.ClaimDeliveryTask(ctx, task.ID, now, 10*time.Minute)
		require.NoError(t, err)
		assert.False(t, claimed)

		require.NoError(t, store.StartDeliveryAttempt(ctx, task.ID, 1, now))

		respAt := now.Add(120 * time.Millisecond)
		status := 200
		err = store.FinalizeDeliveryTask(ctx, task.ID, schema.DeliveryStatusSuccess, AttemptResult{
			ResponseAt:     &respAt,
			ResponseStatus: &status,
			ResponseBody:   `{"ok":true}`,
		})
		require.NoError(t, err)

		got, err := store.GetDeliveryTask(ctx, task.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, schema.DeliveryStatusSuccess, got.Status)
		assert.Equal(t, 1, got.AttemptCount)
		assert.Nil(t, got.ClaimedAt)
		assert.Nil(t, got.NextAttemptAt)
		require.NotNil(t, got.ResponseStatus)
		assert.Equal(t, 200, *got.ResponseStatus)
	})

	t.Run("reschedule parks the task until its due time", func(t *testing.T) {
		task := buildTestTask(reg.ID)
		require.NoError(t, store.CreateDeliveryTask(ctx, task))

		claimed, err := store.ClaimDeliveryTask(ctx, task.ID, now, 10*time.Minute)
		require.NoError(t, err)
		require.True(t, claimed)
		require.NoError(t, store.StartDeliveryAttempt(ctx, task.ID, 1, now))

		status := 503
		respAt := now.Add(time.Second)
		next := now.Add(time.Minute)
		err = store.RescheduleDeliveryTask(ctx, task.ID, AttemptResult{
			ResponseAt:     &respAt,
			ResponseStatus: &status,
			ErrorMessage:   "endpoint returned 503",
		}, next)
		require.NoError(t, err)

		got, err := store.GetDeliveryTask(ctx, task.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, schema.DeliveryStatusScheduled, got.Status)
		assert.Nil(t, got.ClaimedAt)
		require.NotNil(t, got.NextAttemptAt)
		assert.WithinDuration(t, next, *got.NextAttemptAt, time.Second)
	})

	t.Run("finalize rejects non-terminal status", func(t *testing.T) {
		task := buildTestTask(reg.ID)
		require.NoError(t, store.CreateDeliveryTask(ctx, task))

		err := store.FinalizeDeliveryTask(ctx, task.ID, schema.DeliveryStatusScheduled, AttemptResult{})
		assert.Error(t, err)
	})

	t.Run("get returns nil for unknown id", func(t *testing.T) {
		got, err := store.GetDeliveryTask(ctx, ulid.Make().String())
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func testClaimExpiry(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	reg := buildTestRegistration()
	require.NoError(t, store.CreateWebhookRegistration(ctx, reg))

	task := buildTestTask(reg.ID)
	require.NoError(t, store.CreateDeliveryTask(ctx, task))

	// First worker claims and then crashes
	claimed, err := store.ClaimDeliveryTask(ctx, task.ID, now.Add(-15*time.Minute), 10*time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	t.Run("stale claim is reclaimable after expiry", func(t *testing.T) {
		claimed, err := store.ClaimDeliveryTask(ctx, task.ID, now, 10*time.Minute)
		require.NoError(t, err)
		assert.True(t, claimed)
	})

	t.Run("fresh claim is not reclaimable", func(t *testing.T) {
		claimed, err := store.ClaimDeliveryTask(ctx, task.ID, now.Add(time.Minute), 10*time.Minute)
		require.NoError(t, err)
		assert.False(t, claimed)
	})
}

func testFindDueDeliveryTasks(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	reg := buildTestRegistration()
	require.NoError(t, store.CreateWebhookRegistration(ctx, reg))

	pending := buildTestTask(reg.ID)
	require.NoError(t, store.CreateDeliveryTask(ctx, pending))

	dueAt := now.Add(-time.Minute)
	scheduledDue := buildTestTask(reg.ID)
	scheduledDue.Status = schema.DeliveryStatusScheduled
	scheduledDue.NextAttemptAt = &dueAt
	require.NoError(t, store.CreateDeliveryTask(ctx, scheduledDue))

	futureAt := now.Add(time.Hour)
	scheduledFuture := buildTestTask(reg.ID)
	scheduledFuture.Status = schema.DeliveryStatusScheduled
	scheduledFuture.NextAttemptAt = &futureAt
	require.NoError(t, store.CreateDeliveryTask(ctx, scheduledFuture))

	staleAt := now.Add(-20 * time.Minute)
	staleInFlight := buildTestTask(reg.ID)
	staleInFlight.Status = schema.DeliveryStatusInFlight
	staleInFlight.ClaimedAt = &staleAt
	require.NoError(t, store.CreateDeliveryTask(ctx, staleInFlight))

	freshAt := now.Add(-time.Minute)
	freshInFlight := buildTestTask(reg.ID)
	freshInFlight.Status = schema.DeliveryStatusInFlight
	freshInFlight.ClaimedAt = &freshAt
	require.NoError(t, store.CreateDeliveryTask(ctx, freshInFlight))

	done := buildTestTask(reg.ID)
	done.Status = schema.DeliveryStatusSuccess
	require.NoError(t, store.CreateDeliveryTask(ctx, done))

	t.Run("returns pending, due scheduled, and stale in-flight tasks", func(t *testing.T) {
		ids, err := store.FindDueDeliveryTasks(ctx, now, 10*time.Minute, 100)
		require.NoError(t, err)
		assert.Contains(t, ids, pending.ID)
		assert.Contains(t, ids, scheduledDue.ID)
		assert.Contains(t, ids, staleInFlight.ID)
		assert.NotContains(t, ids, scheduledFuture.ID)
		assert.NotContains(t, ids, freshInFlight.ID)
		assert.NotContains(t, ids, done.ID)
	})

	t.Run("respects the limit", func(t *testing.T) {
		ids, err := store.FindDueDeliveryTasks(ctx, now, 10*time.Minute, 1)
		require.NoError(t, err)
		assert.Len(t, ids, 1)
	})
}

func testListDeliveryTasksByWebhook(t *testing.T, store Store) {
	ctx := context.Background()

	reg := buildTestRegistration()
	require.NoError(t, store.CreateWebhookRegistration(ctx, reg))

	success := buildTestTask(reg.ID)
	success.Status = schema.DeliveryStatusSuccess
	require.NoError(t, store.CreateDeliveryTask(ctx, success))

	failed := buildTestTask(reg.ID)
	failed.Status = schema.DeliveryStatusFailed
	require.NoError(t, store.CreateDeliveryTask(ctx, failed))

	testSend := buildTestTask(reg.ID)
	testSend.IsTest = true
	testSend.EventType = domain.EventTypeFormPublished
	require.NoError(t, store.CreateDeliveryTask(ctx, testSend))

	t.Run("lists all with total", func(t *testing.T) {
		tasks, total, err := store.ListDeliveryTasksByWebhook(ctx, reg.ID, TaskFilters{}, 10, 0)
		require.NoError(t, err)
		assert.Len(t, tasks, 3)
		assert.EqualValues(t, 3, total)
	})

	t.Run("filters by status", func(t *testing.T) {
		status := schema.DeliveryStatusFailed
		tasks, total, err := store.ListDeliveryTasksByWebhook(ctx, reg.ID, TaskFilters{Status: &status}, 10, 0)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.EqualValues(t, 1, total)
		assert.Equal(t, failed.ID, tasks[0].ID)
	})

	t.Run("filters by event type and test flag", func(t *testing.T) {
		isTest := true
		tasks, _, err := store.ListDeliveryTasksByWebhook(ctx, reg.ID, TaskFilters{IsTest: &isTest}, 10, 0)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, testSend.ID, tasks[0].ID)

		eventType := domain.EventTypeFormPublished
		tasks, _, err = store.ListDeliveryTasksByWebhook(ctx, reg.ID, TaskFilters{EventType: &eventType}, 10, 0)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, testSend.ID, tasks[0].ID)
	})

	t.Run("other webhooks do not leak in", func(t *testing.T) {
		tasks, total, err := store.ListDeliveryTasksByWebhook(ctx, uuid.NewString(), TaskFilters{}, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, tasks)
		assert.Zero(t, total)
	})
}

// =============================================================================
// Test: Delivery Attempts
// =============================================================================

func testDeliveryAttempts(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	reg := buildTestRegistration()
	require.NoError(t, store.CreateWebhookRegistration(ctx, reg))
	task := buildTestTask(reg.ID)
	require.NoError(t, store.CreateDeliveryTask(ctx, task))

	t.Run("records and lists attempts in order", func(t *testing.T) {
		status := 503
		respAt := now.Add(time.Second)
		require.NoError(t, store.RecordDeliveryAttempt(ctx, &schema.DeliveryAttempt{
			TaskID:         task.ID,
			AttemptNumber:  1,
			RequestAt:      now,
			ResponseAt:     &respAt,
			ResponseStatus: &status,
			ErrorMessage:   "endpoint returned 503",
		}))
		require.NoError(t, store.RecordDeliveryAttempt(ctx, &schema.DeliveryAttempt{
			TaskID:        task.ID,
			AttemptNumber: 2,
			RequestAt:     now.Add(time.Minute),
			ErrorMessage:  "connection refused",
		}))

		attempts, err := store.ListDeliveryAttempts(ctx, task.ID)
		require.NoError(t, err)
		require.Len(t, attempts, 2)
		assert.Equal(t, 1, attempts[0].AttemptNumber)
		assert.Equal(t, 2, attempts[1].AttemptNumber)
		assert.Nil(t, attempts[1].ResponseStatus)
	})

	t.Run("truncates oversized response bodies", func(t *testing.T) {
		big := strings.Repeat("x", 10*1024)
		require.NoError(t, store.RecordDeliveryAttempt(ctx, &schema.DeliveryAttempt{
			TaskID:        task.ID,
			AttemptNumber: 3,
			RequestAt:     now,
			ResponseBody:  big,
		}))

		attempts, err := store.ListDeliveryAttempts(ctx, task.ID)
		require.NoError(t, err)
		last := attempts[len(attempts)-1]
		assert.Len(t, last.ResponseBody, maxResponseBodyBytes)
	})
}

// =============================================================================
// Test: Stats
// =============================================================================

func testDailyStats(t *testing.T, store Store) {
	ctx := context.Background()
	webhookID := uuid.NewString()
	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	t.Run("increment upserts the counter", func(t *testing.T) {
		require.NoError(t, store.IncrementDailyStat(ctx, webhookID, day, schema.DeliveryStatusSuccess))
		require.NoError(t, store.IncrementDailyStat(ctx, webhookID, day, schema.DeliveryStatusSuccess))
		require.NoError(t, store.IncrementDailyStat(ctx, webhookID, day, schema.DeliveryStatusFailed))

		stats, err := store.GetDailyStats(ctx, webhookID, day, day)
		require.NoError(t, err)
		require.Len(t, stats, 2)

		counts := map[schema.DeliveryStatus]int64{}
		for _, s := range stats {
			counts[s.Status] = s.Count
		}
		assert.EqualValues(t, 2, counts[schema.DeliveryStatusSuccess])
		assert.EqualValues(t, 1, counts[schema.DeliveryStatusFailed])
	})

	t.Run("range query excludes other days", func(t *testing.T) {
		nextDay := day.AddDate(0, 0, 1)
		require.NoError(t, store.IncrementDailyStat(ctx, webhookID, nextDay, schema.DeliveryStatusSuccess))

		stats, err := store.GetDailyStats(ctx, webhookID, nextDay, nextDay)
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.EqualValues(t, 1, stats[0].Count)
	})
}

func testAggregateDeliveryStats(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	reg := buildTestRegistration()
	require.NoError(t, store.CreateWebhookRegistration(ctx, reg))

	reqAt := now.Add(-time.Minute)
	respAt := reqAt.Add(200 * time.Millisecond)
	okStatus := 200

	success := buildTestTask(reg.ID)
	success.Status = schema.DeliveryStatusSuccess
	success.RequestAt = &reqAt
	success.ResponseAt = &respAt
	success.ResponseStatus = &okStatus
	require.NoError(t, store.CreateDeliveryTask(ctx, success))

	failed := buildTestTask(reg.ID)
	failed.Status = schema.DeliveryStatusFailed
	require.NoError(t, store.CreateDeliveryTask(ctx, failed))

	pending := buildTestTask(reg.ID)
	require.NoError(t, store.CreateDeliveryTask(ctx, pending))

	t.Run("aggregates counts and latency", func(t *testing.T) {
		agg, err := store.AggregateDeliveryStats(ctx, reg.ID, now.Add(-time.Hour))
		require.NoError(t, err)
		require.NotNil(t, agg)
		assert.EqualValues(t, 3, agg.Total)
		assert.EqualValues(t, 1, agg.SuccessCount)
		assert.EqualValues(t, 1, agg.PerStatus[schema.DeliveryStatusFailed])
		assert.EqualValues(t, 1, agg.PerStatus[schema.DeliveryStatusPending])
		assert.InDelta(t, 200, agg.AverageResponseMs, 1)
	})

	t.Run("window excludes older tasks", func(t *testing.T) {
		agg, err := store.AggregateDeliveryStats(ctx, reg.ID, now.Add(time.Hour))
		require.NoError(t, err)
		require.NotNil(t, agg)
		assert.Zero(t, agg.Total)
	})
}

// =============================================================================
// Suite Runner
// =============================================================================

// RunStoreTests runs the full store test suite against an implementation
func RunStoreTests(t *testing.T, initDB func(t *testing.T) Store, cleanupDB func(t *testing.T)) {
	tests := []struct {
		name string
		fn   func(*testing.T, Store)
	}{
		{"WebhookRegistrationCRUD", testWebhookRegistrationCRUD},
		{"ListWebhookRegistrations", testListWebhookRegistrations},
		{"ListEligibleWebhooksForEvent", testListEligibleWebhooksForEvent},
		{"DeliveryTaskLifecycle", testDeliveryTaskLifecycle},
		{"ClaimExpiry", testClaimExpiry},
		{"FindDueDeliveryTasks", testFindDueDeliveryTasks},
		{"ListDeliveryTasksByWebhook", testListDeliveryTasksByWebhook},
		{"DeliveryAttempts", testDeliveryAttempts},
		{"DailyStats", testDailyStats},
		{"AggregateDeliveryStats", testAggregateDeliveryStats},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := initDB(t)
			defer cleanupDB(t)
			tt.fn(t, store)
		})
	}
}
