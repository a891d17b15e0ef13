package stats

import (
	"context"
	"time"

	"github.com/formweave/webhook-engine/internal/adapter"
	"github.com/formweave/webhook-engine/internal/domain"
	"github.com/formweave/webhook-engine/internal/store"
	"github.com/formweave/webhook-engine/internal/store/schema"
)

// DayCount is one day's terminal outcome counters for a webhook
type DayCount struct {
	Date    string `json:"date"`
	Success int64  `json:"success"`
	Failed  int64  `json:"failed"`
}

// Stats is the delivery health summary for a webhook over a window
type Stats struct {
	TotalDeliveries   int64            `json:"total_deliveries"`
	SuccessRate       float64          `json:"success_rate"`
	AverageResponseMs float64          `json:"average_response_ms"`
	PerStatusCounts   map[string]int64 `json:"per_status_counts"`
	PerDayCounts      []DayCount       `json:"per_day_counts"`
}

// Aggregator computes delivery statistics from the ledger and the
// materialized daily counters
type Aggregator struct {
	store store.Store
	clock adapter.Clock
}

// NewAggregator creates a new stats aggregator
func NewAggregator(st store.Store, clock adapter.Clock) *Aggregator {
	return &Aggregator{store: st, clock: clock}
}

// Compute assembles the stats for a webhook over the trailing window.
// Success rate is 0 when no deliveries happened; latency averages only
// terminal tasks that recorded both request and response timestamps.
func (a *Aggregator) Compute(ctx context.Context, webhookID string, window time.Duration) (*Stats, error) {
	reg, err := a.store.GetWebhookRegistration(ctx, webhookID)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, domain.ErrWebhookNotFound
	}

	now := a.clock.Now().UTC()
	from := now.Add(-window)

	agg, err := a.store.AggregateDeliveryStats(ctx, webhookID, from)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalDeliveries:   agg.Total,
		AverageResponseMs: agg.AverageResponseMs,
		PerStatusCounts:   make(map[string]int64, len(agg.PerStatus)),
		PerDayCounts:      []DayCount{},
	}
	for status, count := range agg.PerStatus {
		stats.PerStatusCounts[string(status)] = count
	}
	if agg.Total > 0 {
		stats.SuccessRate = float64(agg.SuccessCount) / float64(agg.Total)
	}

	daily, err := a.store.GetDailyStats(ctx, webhookID, from, now)
	if err != nil {
		return nil, err
	}

	byDay := map[string]*DayCount{}
	order := []string{}
	for _, row := range daily {
		key := row.Date.Format("2006-01-02")
		dc, ok := byDay[key]
		if !ok {
			dc = &DayCount{Date: key}
			byDay[key] = dc
			order = append(order, key)
		}
		switch row.Status {
		case schema.DeliveryStatusSuccess:
			dc.Success = row.Count
		case schema.DeliveryStatusFailed:
			dc.Failed = row.Count
		}
	}
	for _, key := range order {
		stats.PerDayCounts = append(stats.PerDayCounts, *byDay[key])
	}

	return stats, nil
}
