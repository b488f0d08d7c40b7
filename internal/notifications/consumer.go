package notifications

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/chainsyncstore/chainsync-notify/internal/log"
)

// PublishFunc hands an ingested event to the fan-out service.
type PublishFunc func(ctx context.Context, ev Event) error

// Consumer subscribes to every kind topic on the broker and forwards each
// event to publish. Failures are logged; the broker keeps delivering.
type Consumer struct {
	broker  MessageBroker
	publish PublishFunc
	logger  zerolog.Logger
}

// NewConsumer creates a new Consumer.
func NewConsumer(broker MessageBroker, publish PublishFunc) *Consumer {
	return &Consumer{
		broker:  broker,
		publish: publish,
		logger:  log.WithComponent("notifications"),
	}
}

// Start subscribes to all topics and returns immediately; events are handled
// on the broker's goroutines. Stop the consumer by closing the broker.
func (c *Consumer) Start() error {
	for _, kind := range AllKinds {
		topic := TopicFor(kind)
		if _, err := c.broker.Subscribe(topic, c.handle); err != nil {
			return err
		}
		c.logger.Debug().Str("topic", topic).Msg("consumer subscribed")
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, ev Event) {
	if err := c.publish(ctx, ev); err != nil {
		c.logger.Error().Err(err).
			Str("tenant_id", ev.TenantID).
			Str("kind", string(ev.Kind)).
			Msg("failed to publish ingested event")
	}
}
