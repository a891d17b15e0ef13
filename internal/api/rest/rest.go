package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/formweave/webhook-engine/internal/api/middleware"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler, authCfg middleware.AuthConfig) {
	// Health check endpoint (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Event ingest from the form-builder backend (API key authentication)
		v1.POST("/events", middleware.APIKeyAuth(authCfg), handler.IngestEvent)

		// Webhook registration endpoints (client or admin JWT)
		webhooks := v1.Group("/webhooks", middleware.Auth(authCfg))
		{
			webhooks.POST("", handler.CreateWebhook)
			webhooks.GET("", handler.ListWebhooks)
			webhooks.GET("/:id", handler.GetWebhook)
			webhooks.PATCH("/:id", handler.UpdateWebhook)
			webhooks.DELETE("/:id", handler.DeleteWebhook)

			// Client lifecycle transitions
			webhooks.POST("/:id/activate", handler.ActivateWebhook)
			webhooks.POST("/:id/deactivate", handler.DeactivateWebhook)

			// Admin trust verbs
			admin := webhooks.Group("", middleware.RequireAdmin())
			{
				admin.POST("/:id/approve", handler.ApproveWebhook)
				admin.POST("/:id/reject", handler.RejectWebhook)
				admin.POST("/:id/lock", handler.LockWebhook)
				admin.POST("/:id/unlock", handler.UnlockWebhook)
				admin.POST("/:id/admin-deactivate", handler.AdminDeactivateWebhook)
				admin.POST("/:id/reactivate", handler.ReactivateWebhook)
			}

			// Diagnostics
			webhooks.POST("/:id/test", handler.TestWebhook)
			webhooks.GET("/:id/deliveries", handler.ListDeliveries)
			webhooks.GET("/:id/stats", handler.GetWebhookStats)
		}

		// Delivery ledger endpoints (client or admin JWT)
		deliveries := v1.Group("/deliveries", middleware.Auth(authCfg))
		{
			deliveries.GET("/:id", handler.GetDelivery)
			deliveries.POST("/:id/retry", handler.RetryDelivery)
		}
	}
}
