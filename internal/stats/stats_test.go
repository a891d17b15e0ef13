package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formweave/webhook-engine/internal/domain"
	"github.com/formweave/webhook-engine/internal/store"
	"github.com/formweave/webhook-engine/internal/store/schema"
)

type fakeStore struct {
	store.Store
	reg   *schema.WebhookRegistration
	agg   *store.DeliveryAggregate
	daily []*schema.DeliveryDailyStat
}

func (f *fakeStore) GetWebhookRegistration(context.Context, string) (*schema.WebhookRegistration, error) {
	return f.reg, nil
}

func (f *fakeStore) AggregateDeliveryStats(context.Context, string, time.Time) (*store.DeliveryAggregate, error) {
	return f.agg, nil
}

func (f *fakeStore) GetDailyStats(context.Context, string, time.Time, time.Time) ([]*schema.DeliveryDailyStat, error) {
	return f.daily, nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time                       { return c.now }
func (c fixedClock) Since(t time.Time) time.Duration      { return c.now.Sub(t) }
func (c fixedClock) After(time.Duration) <-chan time.Time { return nil }

func TestCompute(t *testing.T) {
	ctx := context.Background()
	clock := fixedClock{now: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)}
	reg := &schema.WebhookRegistration{ID: "wh-1"}

	t.Run("computes rate, latency and per-day counts", func(t *testing.T) {
		fs := &fakeStore{
			reg: reg,
			agg: &store.DeliveryAggregate{
				Total:             10,
				SuccessCount:      8,
				AverageResponseMs: 142.5,
				PerStatus: map[schema.DeliveryStatus]int64{
					schema.DeliveryStatusSuccess: 8,
					schema.DeliveryStatusFailed:  1,
					schema.DeliveryStatusPending: 1,
				},
			},
			daily: []*schema.DeliveryDailyStat{
				{WebhookID: "wh-1", Date: time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), Status: schema.DeliveryStatusSuccess, Count: 5},
				{WebhookID: "wh-1", Date: time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), Status: schema.DeliveryStatusFailed, Count: 1},
				{WebhookID: "wh-1", Date: time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), Status: schema.DeliveryStatusSuccess, Count: 3},
			},
		}

		s, err := NewAggregator(fs, clock).Compute(ctx, "wh-1", 7*24*time.Hour)
		require.NoError(t, err)

		assert.EqualValues(t, 10, s.TotalDeliveries)
		assert.InDelta(t, 0.8, s.SuccessRate, 0.0001)
		assert.InDelta(t, 142.5, s.AverageResponseMs, 0.0001)
		assert.EqualValues(t, 1, s.PerStatusCounts["failed"])

		require.Len(t, s.PerDayCounts, 2)
		assert.Equal(t, DayCount{Date: "2026-08-30", Success: 5, Failed: 1}, s.PerDayCounts[0])
		assert.Equal(t, DayCount{Date: "2026-08-31", Success: 3, Failed: 0}, s.PerDayCounts[1])
	})

	t.Run("zero deliveries means zero success rate", func(t *testing.T) {
		fs := &fakeStore{
			reg: reg,
			agg: &store.DeliveryAggregate{PerStatus: map[schema.DeliveryStatus]int64{}},
		}

		s, err := NewAggregator(fs, clock).Compute(ctx, "wh-1", 24*time.Hour)
		require.NoError(t, err)
		assert.Zero(t, s.TotalDeliveries)
		assert.Zero(t, s.SuccessRate)
		assert.Empty(t, s.PerDayCounts)
	})

	t.Run("unknown webhook is not found", func(t *testing.T) {
		fs := &fakeStore{}
		_, err := NewAggregator(fs, clock).Compute(ctx, "missing", 24*time.Hour)
		assert.ErrorIs(t, err, domain.ErrWebhookNotFound)
	})
}
