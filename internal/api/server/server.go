package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/formweave/webhook-engine/internal/adapter"
	"github.com/formweave/webhook-engine/internal/api/middleware"
	"github.com/formweave/webhook-engine/internal/api/rest"
	"github.com/formweave/webhook-engine/internal/dispatcher"
	"github.com/formweave/webhook-engine/internal/logger"
	"github.com/formweave/webhook-engine/internal/messaging"
	"github.com/formweave/webhook-engine/internal/registry"
	"github.com/formweave/webhook-engine/internal/signer"
	"github.com/formweave/webhook-engine/internal/stats"
	"github.com/formweave/webhook-engine/internal/store"
)

// Config holds the server configuration
type Config struct {
	Debug        bool
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Auth         middleware.AuthConfig
}

// Server wraps the HTTP server
type Server struct {
	config     Config
	store      store.Store
	publisher  messaging.Publisher
	httpServer *http.Server
}

// New creates a new API server
func New(cfg Config, store store.Store, publisher messaging.Publisher) *Server {
	return &Server{
		config:    cfg,
		store:     store,
		publisher: publisher,
	}
}

// Start initializes and starts the HTTP server
func (s *Server) Start() error {
	// Set Gin mode based on debug flag
	if s.config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Setup middleware
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.SetupCORS())

	// Assemble the service layer. Test and manual-retry tasks created here
	// are picked up by the worker's sweeper, so the API dispatcher does not
	// submit to a local pool.
	jsonAdapter := adapter.NewJSON()
	clock := adapter.NewClock()
	sg := signer.NewSigner(jsonAdapter, adapter.NewJCS())
	reg := registry.NewRegistry(s.store, jsonAdapter)
	disp := dispatcher.NewDispatcher(s.store, sg, clock, jsonAdapter, dispatcher.NoopSubmitter{})
	agg := stats.NewAggregator(s.store, clock)

	// Create REST handler
	restHandler := rest.NewHandler(reg, disp, agg, s.store, s.publisher)

	// Setup REST routes
	rest.SetupRoutes(router, restHandler, s.config.Auth)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	logger.Info("Starting API server",
		zap.String("address", addr),
	)

	// Start server
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down API server")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	return nil
}
