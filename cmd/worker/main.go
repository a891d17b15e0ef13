package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/formweave/webhook-engine/internal/adapter"
	"github.com/formweave/webhook-engine/internal/config"
	"github.com/formweave/webhook-engine/internal/dispatcher"
	"github.com/formweave/webhook-engine/internal/domain"
	"github.com/formweave/webhook-engine/internal/logger"
	"github.com/formweave/webhook-engine/internal/providers/jetstream"
	"github.com/formweave/webhook-engine/internal/scheduler"
	"github.com/formweave/webhook-engine/internal/signer"
	"github.com/formweave/webhook-engine/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadWorkerConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "delivery-worker",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Webhook Engine worker")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err), zap.String("dsn", cfg.Database.DSN()))
	}

	// Configure connection pool
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database")

	// Initialize store
	dataStore := store.NewPGStore(db)

	// Initialize adapters
	clock := adapter.NewClock()
	jsonAdapter := adapter.NewJSON()
	sg := signer.NewSigner(jsonAdapter, adapter.NewJCS())

	// Create the delivery executor pool
	sched := scheduler.NewScheduler(
		scheduler.Config{
			WorkerPoolSize:  cfg.Worker.WorkerPoolSize,
			QueueSize:       cfg.Worker.WorkerQueueSize,
			ClaimExpiry:     cfg.Delivery.ClaimExpiry,
			DeliveryTimeout: cfg.Delivery.Timeout,
		},
		dataStore,
		sg,
		clock,
		adapter.NewHTTPClient(cfg.Delivery.Timeout),
		adapter.NewIO(),
		jsonAdapter,
	)

	// Create dispatcher that fans events out into delivery tasks
	disp := dispatcher.NewDispatcher(dataStore, sg, clock, jsonAdapter, sched)

	// Create the retry sweeper
	sweeper := scheduler.NewSweeper(
		scheduler.SweeperConfig{
			Interval:    cfg.Delivery.SweepInterval,
			BatchSize:   cfg.Delivery.SweepBatchSize,
			ClaimExpiry: cfg.Delivery.ClaimExpiry,
		},
		dataStore,
		clock,
		sched,
	)

	// Connect the event subscriber
	subscriber, err := jetstream.NewSubscriber(jetstream.Config{
		URL:            cfg.NATS.URL,
		StreamName:     cfg.NATS.StreamName,
		ConsumerName:   cfg.NATS.ConsumerName,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		ConnectionName: cfg.NATS.ConnectionName,
	}, adapter.NewNatsJetStream(), jsonAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect event subscriber", zap.Error(err))
	}
	defer subscriber.Close()
	logger.InfoCtx(ctx, "Connected to NATS",
		zap.String("stream", cfg.NATS.StreamName),
		zap.String("consumer", cfg.NATS.ConsumerName))

	errCh := make(chan error, 2)

	// Start the sweeper
	go func() {
		if err := sweeper.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	// Start consuming events
	go func() {
		err := subscriber.SubscribeEvents(ctx, func(event *domain.Event) error {
			_, err := disp.Dispatch(ctx, *event)
			return err
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or component error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "worker"))
		cancel()
	}

	// Stop the sweeper and drain the executor pool
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := sweeper.Stop(shutdownCtx); err != nil {
		logger.ErrorCtx(shutdownCtx, err, zap.String("component", "sweeper"))
	}
	sched.Shutdown()

	// Use non-context logger for final message since original ctx is canceled
	logger.Info("Worker stopped")
}
