package rest

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/formweave/webhook-engine/internal/api/middleware"
	"github.com/formweave/webhook-engine/internal/api/rest/dto"
	"github.com/formweave/webhook-engine/internal/dispatcher"
	"github.com/formweave/webhook-engine/internal/messaging"
	"github.com/formweave/webhook-engine/internal/registry"
	"github.com/formweave/webhook-engine/internal/stats"
	"github.com/formweave/webhook-engine/internal/store"
	"github.com/formweave/webhook-engine/internal/store/schema"
)

// Handler defines the interface for REST API handlers
type Handler interface {
	// IngestEvent accepts a form event from the form-builder backend and
	// publishes it for asynchronous dispatch (requires API key)
	// POST /api/v1/events
	IngestEvent(c *gin.Context)

	// CreateWebhook registers a new webhook endpoint for a form
	// POST /api/v1/webhooks
	CreateWebhook(c *gin.Context)

	// ListWebhooks lists the caller's webhook registrations
	// GET /api/v1/webhooks?form_id=<id>&limit=<limit>&offset=<offset>
	ListWebhooks(c *gin.Context)

	// GetWebhook retrieves a single webhook registration
	// GET /api/v1/webhooks/:id
	GetWebhook(c *gin.Context)

	// UpdateWebhook modifies the mutable registration fields
	// PATCH /api/v1/webhooks/:id
	UpdateWebhook(c *gin.Context)

	// DeleteWebhook removes a webhook registration
	// DELETE /api/v1/webhooks/:id
	DeleteWebhook(c *gin.Context)

	// ActivateWebhook turns the client on/off switch on
	// POST /api/v1/webhooks/:id/activate
	ActivateWebhook(c *gin.Context)

	// DeactivateWebhook turns the client on/off switch off
	// POST /api/v1/webhooks/:id/deactivate
	DeactivateWebhook(c *gin.Context)

	// ApproveWebhook marks a pending registration as trusted (admin)
	// POST /api/v1/webhooks/:id/approve
	ApproveWebhook(c *gin.Context)

	// RejectWebhook permanently rejects a registration (admin)
	// POST /api/v1/webhooks/:id/reject
	RejectWebhook(c *gin.Context)

	// LockWebhook freezes client edits without affecting dispatch (admin)
	// POST /api/v1/webhooks/:id/lock
	LockWebhook(c *gin.Context)

	// UnlockWebhook lifts an edit freeze (admin)
	// POST /api/v1/webhooks/:id/unlock
	UnlockWebhook(c *gin.Context)

	// AdminDeactivateWebhook force-deactivates a webhook; the owner cannot
	// re-enable it until an admin reactivates (admin)
	// POST /api/v1/webhooks/:id/admin-deactivate
	AdminDeactivateWebhook(c *gin.Context)

	// ReactivateWebhook lifts a forced deactivation (admin)
	// POST /api/v1/webhooks/:id/reactivate
	ReactivateWebhook(c *gin.Context)

	// TestWebhook sends a synthetic submission.created delivery
	// POST /api/v1/webhooks/:id/test
	TestWebhook(c *gin.Context)

	// ListDeliveries pages a webhook's delivery history
	// GET /api/v1/webhooks/:id/deliveries?status=<status>&event_type=<type>&is_test=<bool>&limit=<limit>&offset=<offset>
	ListDeliveries(c *gin.Context)

	// GetWebhookStats returns delivery health counters over a trailing window
	// GET /api/v1/webhooks/:id/stats?window=7d
	GetWebhookStats(c *gin.Context)

	// GetDelivery retrieves a delivery task with its full attempt history
	// GET /api/v1/deliveries/:id
	GetDelivery(c *gin.Context)

	// RetryDelivery re-dispatches a terminally failed delivery
	// POST /api/v1/deliveries/:id/retry
	RetryDelivery(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	stats      *stats.Aggregator
	store      store.Store
	publisher  messaging.Publisher
}

// NewHandler creates a new REST API handler
func NewHandler(
	reg *registry.Registry,
	disp *dispatcher.Dispatcher,
	agg *stats.Aggregator,
	st store.Store,
	pub messaging.Publisher,
) Handler {
	return &handler{
		registry:   reg,
		dispatcher: disp,
		stats:      agg,
		store:      st,
		publisher:  pub,
	}
}

// callerFromContext builds the service-layer caller identity from the
// authenticated request context
func callerFromContext(c *gin.Context) registry.Caller {
	subject := c.GetString(middleware.AUTH_SUBJECT_KEY)
	if c.GetString(middleware.AUTH_ROLE_KEY) == middleware.RoleAdmin {
		return registry.Caller{AdminID: subject}
	}
	return registry.Caller{AccountID: subject}
}

// IngestEvent accepts a form event and publishes it for asynchronous dispatch
func (h *handler) IngestEvent(c *gin.Context) {
	var req dto.IngestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := req.Validate(); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	event := req.ToDomain()
	if event.EventID == "" {
		event.EventID = ulid.Make().String()
	}

	if err := h.publisher.PublishEvent(c.Request.Context(), event); err != nil {
		respondInternalError(c, err, "Failed to publish event")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"event_id": event.EventID})
}

// CreateWebhook registers a new webhook endpoint
func (h *handler) CreateWebhook(c *gin.Context) {
	var req dto.CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	caller := callerFromContext(c)
	reg, err := h.registry.Create(c.Request.Context(), registry.CreateInput{
		FormID:               req.FormID,
		AccountID:            caller.AccountID,
		URL:                  req.URL,
		EventTypes:           req.EventTypes,
		AuthMode:             req.AuthMode,
		AuthCredentials:      req.AuthCredentials,
		FieldFilter:          req.FieldFilter,
		MaxAttempts:          req.MaxAttempts,
		RetryIntervalSeconds: req.RetryIntervalSeconds,
	})
	if err != nil {
		respondDomainError(c, err, "Failed to create webhook")
		return
	}

	// The signing secret is returned exactly once, at creation
	c.JSON(http.StatusCreated, dto.CreateWebhookResponse{
		WebhookResponse: *dto.MapWebhookToDTO(reg),
		Secret:          reg.Secret,
	})
}

// ListWebhooks lists the caller's webhook registrations
func (h *handler) ListWebhooks(c *gin.Context) {
	queryParams, err := ParseListWebhooksQuery(c)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	caller := callerFromContext(c)

	var regs []*schema.WebhookRegistration
	switch {
	case queryParams.FormID != "":
		regs, err = h.registry.ListByForm(ctx, queryParams.FormID)
		if err == nil && !caller.IsAdmin() {
			owned := regs[:0]
			for _, reg := range regs {
				if reg.AccountID == caller.AccountID {
					owned = append(owned, reg)
				}
			}
			regs = owned
		}
	case caller.IsAdmin():
		respondValidationError(c, "form_id is required for administrator listings")
		return
	default:
		regs, err = h.registry.ListByAccount(ctx, caller.AccountID, queryParams.Limit, queryParams.Offset)
	}
	if err != nil {
		respondDomainError(c, err, "Failed to list webhooks")
		return
	}

	response := dto.WebhookListResponse{
		Webhooks: make([]dto.WebhookResponse, 0, len(regs)),
		Offset:   &queryParams.Offset,
	}
	for _, reg := range regs {
		response.Webhooks = append(response.Webhooks, *dto.MapWebhookToDTO(reg))
	}

	c.JSON(http.StatusOK, response)
}

// GetWebhook retrieves a single webhook registration
func (h *handler) GetWebhook(c *gin.Context) {
	reg, err := h.registry.Get(c.Request.Context(), c.Param("id"), callerFromContext(c))
	if err != nil {
		respondDomainError(c, err, "Failed to get webhook")
		return
	}

	c.JSON(http.StatusOK, dto.MapWebhookToDTO(reg))
}

// UpdateWebhook modifies the mutable registration fields
func (h *handler) UpdateWebhook(c *gin.Context) {
	var req dto.UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	reg, err := h.registry.Update(c.Request.Context(), c.Param("id"), registry.UpdateInput{
		URL:                  req.URL,
		EventTypes:           req.EventTypes,
		AuthMode:             req.AuthMode,
		AuthCredentials:      req.AuthCredentials,
		FieldFilter:          req.FieldFilter,
		MaxAttempts:          req.MaxAttempts,
		RetryIntervalSeconds: req.RetryIntervalSeconds,
	}, callerFromContext(c))
	if err != nil {
		respondDomainError(c, err, "Failed to update webhook")
		return
	}

	c.JSON(http.StatusOK, dto.MapWebhookToDTO(reg))
}

// DeleteWebhook removes a webhook registration
func (h *handler) DeleteWebhook(c *gin.Context) {
	if err := h.registry.Delete(c.Request.Context(), c.Param("id"), callerFromContext(c)); err != nil {
		respondDomainError(c, err, "Failed to delete webhook")
		return
	}

	c.Status(http.StatusNoContent)
}

// ActivateWebhook turns the client on/off switch on
func (h *handler) ActivateWebhook(c *gin.Context) {
	if err := h.registry.Activate(c.Request.Context(), c.Param("id"), callerFromContext(c)); err != nil {
		respondDomainError(c, err, "Failed to activate webhook")
		return
	}

	c.Status(http.StatusNoContent)
}

// DeactivateWebhook turns the client on/off switch off
func (h *handler) DeactivateWebhook(c *gin.Context) {
	if err := h.registry.Deactivate(c.Request.Context(), c.Param("id"), callerFromContext(c)); err != nil {
		respondDomainError(c, err, "Failed to deactivate webhook")
		return
	}

	c.Status(http.StatusNoContent)
}

// ApproveWebhook marks a pending registration as trusted
func (h *handler) ApproveWebhook(c *gin.Context) {
	if err := h.registry.Approve(c.Request.Context(), c.Param("id")); err != nil {
		respondDomainError(c, err, "Failed to approve webhook")
		return
	}

	c.Status(http.StatusNoContent)
}

// RejectWebhook permanently rejects a registration
func (h *handler) RejectWebhook(c *gin.Context) {
	if err := h.registry.Reject(c.Request.Context(), c.Param("id")); err != nil {
		respondDomainError(c, err, "Failed to reject webhook")
		return
	}

	c.Status(http.StatusNoContent)
}

// LockWebhook freezes client edits without affecting dispatch
func (h *handler) LockWebhook(c *gin.Context) {
	if err := h.registry.Lock(c.Request.Context(), c.Param("id")); err != nil {
		respondDomainError(c, err, "Failed to lock webhook")
		return
	}

	c.Status(http.StatusNoContent)
}

// UnlockWebhook lifts an edit freeze
func (h *handler) UnlockWebhook(c *gin.Context) {
	if err := h.registry.Unlock(c.Request.Context(), c.Param("id")); err != nil {
		respondDomainError(c, err, "Failed to unlock webhook")
		return
	}

	c.Status(http.StatusNoContent)
}

// AdminDeactivateWebhook force-deactivates a webhook
func (h *handler) AdminDeactivateWebhook(c *gin.Context) {
	adminID := c.GetString(middleware.AUTH_SUBJECT_KEY)
	if err := h.registry.AdminDeactivate(c.Request.Context(), c.Param("id"), adminID); err != nil {
		respondDomainError(c, err, "Failed to deactivate webhook")
		return
	}

	c.Status(http.StatusNoContent)
}

// ReactivateWebhook lifts a forced deactivation
func (h *handler) ReactivateWebhook(c *gin.Context) {
	if err := h.registry.Reactivate(c.Request.Context(), c.Param("id")); err != nil {
		respondDomainError(c, err, "Failed to reactivate webhook")
		return
	}

	c.Status(http.StatusNoContent)
}

// TestWebhook sends a synthetic submission.created delivery
func (h *handler) TestWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	webhookID := c.Param("id")

	// Ownership check before dispatching
	if _, err := h.registry.Get(ctx, webhookID, callerFromContext(c)); err != nil {
		respondDomainError(c, err, "Failed to get webhook")
		return
	}

	taskID, err := h.dispatcher.DispatchTest(ctx, webhookID)
	if err != nil {
		respondDomainError(c, err, "Failed to dispatch test delivery")
		return
	}

	c.JSON(http.StatusAccepted, dto.TestDeliveryResponse{TaskID: taskID})
}

// ListDeliveries pages a webhook's delivery history
func (h *handler) ListDeliveries(c *gin.Context) {
	queryParams, err := ParseListDeliveriesQuery(c)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	if err := queryParams.Validate(); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	webhookID := c.Param("id")

	if _, err := h.registry.Get(ctx, webhookID, callerFromContext(c)); err != nil {
		respondDomainError(c, err, "Failed to get webhook")
		return
	}

	tasks, total, err := h.store.ListDeliveryTasksByWebhook(ctx, webhookID, queryParams.Filters(), queryParams.Limit, queryParams.Offset)
	if err != nil {
		respondInternalError(c, err, "Failed to list deliveries")
		return
	}

	response := dto.DeliveryListResponse{
		Deliveries: make([]dto.DeliveryResponse, 0, len(tasks)),
		Offset:     &queryParams.Offset,
		Total:      total,
	}
	for _, task := range tasks {
		response.Deliveries = append(response.Deliveries, *dto.MapDeliveryToDTO(task))
	}

	c.JSON(http.StatusOK, response)
}

// GetWebhookStats returns delivery health counters over a trailing window
func (h *handler) GetWebhookStats(c *gin.Context) {
	window, err := ParseStatsWindow(c)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	webhookID := c.Param("id")

	if _, err := h.registry.Get(ctx, webhookID, callerFromContext(c)); err != nil {
		respondDomainError(c, err, "Failed to get webhook")
		return
	}

	result, err := h.stats.Compute(ctx, webhookID, window)
	if err != nil {
		respondDomainError(c, err, "Failed to compute stats")
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetDelivery retrieves a delivery task with its full attempt history
func (h *handler) GetDelivery(c *gin.Context) {
	ctx := c.Request.Context()

	task, err := h.store.GetDeliveryTask(ctx, c.Param("id"))
	if err != nil {
		respondInternalError(c, err, "Failed to get delivery")
		return
	}
	if task == nil {
		respondNotFound(c, "Delivery not found")
		return
	}

	// The owning registration gates access to the delivery record
	if _, err := h.registry.Get(ctx, task.WebhookID, callerFromContext(c)); err != nil {
		respondDomainError(c, err, "Failed to get delivery")
		return
	}

	attempts, err := h.store.ListDeliveryAttempts(ctx, task.ID)
	if err != nil {
		respondInternalError(c, err, "Failed to list delivery attempts")
		return
	}

	c.JSON(http.StatusOK, dto.MapDeliveryDetailToDTO(task, attempts))
}

// RetryDelivery re-dispatches a terminally failed delivery
func (h *handler) RetryDelivery(c *gin.Context) {
	ctx := c.Request.Context()

	task, err := h.store.GetDeliveryTask(ctx, c.Param("id"))
	if err != nil {
		respondInternalError(c, err, "Failed to get delivery")
		return
	}
	if task == nil {
		respondNotFound(c, "Delivery not found")
		return
	}

	if _, err := h.registry.Get(ctx, task.WebhookID, callerFromContext(c)); err != nil {
		respondDomainError(c, err, "Failed to get delivery")
		return
	}

	taskID, err := h.dispatcher.Redispatch(ctx, task.ID)
	if err != nil {
		respondDomainError(c, err, "Failed to retry delivery")
		return
	}

	c.JSON(http.StatusAccepted, dto.TestDeliveryResponse{TaskID: taskID})
}

// HealthCheck returns the health status of the API
func (h *handler) HealthCheck(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":  "ok",
		"service": "webhook-engine-api",
	})
}
