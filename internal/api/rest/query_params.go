package rest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/formweave/webhook-engine/internal/domain"
	"github.com/formweave/webhook-engine/internal/store"
	"github.com/formweave/webhook-engine/internal/store/schema"
)

const MAX_PAGE_SIZE = 100

// ListWebhooksQueryParams holds query parameters for GET /webhooks
type ListWebhooksQueryParams struct {
	FormID string `form:"form_id"`

	// Pagination
	Limit  int `form:"limit,default=20"`
	Offset int `form:"offset,default=0"`
}

// ParseListWebhooksQuery parses query parameters for GET /webhooks
func ParseListWebhooksQuery(c *gin.Context) (*ListWebhooksQueryParams, error) {
	var params ListWebhooksQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		return nil, err
	}

	// Cap limit
	if params.Limit > MAX_PAGE_SIZE {
		params.Limit = MAX_PAGE_SIZE
	}

	return &params, nil
}

// ListDeliveriesQueryParams holds query parameters for GET /webhooks/:id/deliveries
type ListDeliveriesQueryParams struct {
	// Filters
	Status    string `form:"status"`
	EventType string `form:"event_type"`
	IsTest    *bool  `form:"is_test"`

	// Pagination
	Limit  int `form:"limit,default=20"`
	Offset int `form:"offset,default=0"`
}

// ParseListDeliveriesQuery parses query parameters for GET /webhooks/:id/deliveries
func ParseListDeliveriesQuery(c *gin.Context) (*ListDeliveriesQueryParams, error) {
	var params ListDeliveriesQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		return nil, err
	}

	// Cap limit
	if params.Limit > MAX_PAGE_SIZE {
		params.Limit = MAX_PAGE_SIZE
	}

	return &params, nil
}

// Validate checks the filter values against the known enumerations
func (p *ListDeliveriesQueryParams) Validate() error {
	if p.Status != "" {
		switch schema.DeliveryStatus(p.Status) {
		case schema.DeliveryStatusPending, schema.DeliveryStatusScheduled,
			schema.DeliveryStatusInFlight, schema.DeliveryStatusSuccess,
			schema.DeliveryStatusFailed:
		default:
			return fmt.Errorf("unknown status: %s", p.Status)
		}
	}

	if p.EventType != "" && !domain.EventType(p.EventType).Valid() {
		return fmt.Errorf("unknown event type: %s", p.EventType)
	}

	return nil
}

// Filters converts the parsed parameters into store filters
func (p *ListDeliveriesQueryParams) Filters() store.TaskFilters {
	var filters store.TaskFilters

	if p.Status != "" {
		status := schema.DeliveryStatus(p.Status)
		filters.Status = &status
	}
	if p.EventType != "" {
		eventType := domain.EventType(p.EventType)
		filters.EventType = &eventType
	}
	filters.IsTest = p.IsTest

	return filters
}

const (
	defaultStatsWindow = 7 * 24 * time.Hour
	maxStatsWindow     = 90 * 24 * time.Hour
)

// ParseStatsWindow parses the window query parameter for GET
// /webhooks/:id/stats. The value is a count with a "d" (days) or "h"
// (hours) suffix, e.g. "7d" or "24h"; the default is 7 days.
func ParseStatsWindow(c *gin.Context) (time.Duration, error) {
	raw := c.Query("window")
	if raw == "" {
		return defaultStatsWindow, nil
	}

	var unit time.Duration
	switch {
	case strings.HasSuffix(raw, "d"):
		unit = 24 * time.Hour
	case strings.HasSuffix(raw, "h"):
		unit = time.Hour
	default:
		return 0, fmt.Errorf("invalid window %q: expected a value like 7d or 24h", raw)
	}

	count, err := strconv.Atoi(raw[:len(raw)-1])
	if err != nil || count <= 0 {
		return 0, fmt.Errorf("invalid window %q: expected a value like 7d or 24h", raw)
	}

	window := time.Duration(count) * unit
	if window > maxStatsWindow {
		window = maxStatsWindow
	}

	return window, nil
}
