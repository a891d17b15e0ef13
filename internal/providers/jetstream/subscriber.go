package jetstream

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/formweave/webhook-engine/internal/adapter"
	"github.com/formweave/webhook-engine/internal/domain"
	"github.com/formweave/webhook-engine/internal/logger"
	"github.com/formweave/webhook-engine/internal/messaging"
)

// ensureStream creates or updates the event stream with the wildcard
// subject filter
func ensureStream(ctx context.Context, js adapter.JetStream, streamName string) error {
	err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{"events.>"},
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create or update stream %s: %w", streamName, err)
	}
	return nil
}

type subscriber struct {
	cfg  Config
	nc   adapter.NatsConn
	js   adapter.JetStream
	json adapter.JSON
}

// NewSubscriber connects to NATS with exponential backoff and prepares the
// durable consumer. Connection retry matters here because the worker often
// boots alongside the broker.
func NewSubscriber(cfg Config, natsJS adapter.NatsJetStream, jsonAdapter adapter.JSON) (messaging.Subscriber, error) {
	var nc adapter.NatsConn
	var js adapter.JetStream

	connect := func() error {
		var err error
		nc, js, err = natsJS.Connect(cfg.URL, connectOptions(cfg)...)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(connect, policy); err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if err := ensureStream(context.Background(), js, cfg.StreamName); err != nil {
		nc.Close()
		return nil, err
	}

	return &subscriber{
		cfg:  cfg,
		nc:   nc,
		js:   js,
		json: jsonAdapter,
	}, nil
}

// SubscribeEvents consumes form events from the durable consumer, invoking
// handler for each. Handler errors trigger redelivery via Nak; malformed
// payloads are terminated so they do not loop forever.
func (s *subscriber) SubscribeEvents(ctx context.Context, handler messaging.EventHandler) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, s.cfg.StreamName, jetstream.ConsumerConfig{
		Durable:       s.cfg.ConsumerName,
		FilterSubject: "events.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg adapter.Message) {
		var event domain.Event
		if err := s.json.Unmarshal(msg.Data(), &event); err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("failed to unmarshal event: %w", err))
			if err := msg.Term(); err != nil {
				logger.ErrorCtx(ctx, fmt.Errorf("failed to terminate message: %w", err))
			}
			return
		}

		if err := handler(&event); err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("failed to handle event: %w", err),
				zap.String("event_id", event.EventID))
			if err := msg.Nak(); err != nil {
				logger.ErrorCtx(ctx, fmt.Errorf("failed to nak message: %w", err))
			}
			return
		}

		if err := msg.Ack(); err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("failed to ack message: %w", err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	<-ctx.Done()
	consumeCtx.Drain()

	return nil
}

// Close closes the NATS connection
func (s *subscriber) Close() {
	if s.nc == nil {
		return
	}

	s.nc.Close()
}
