package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/chainsyncstore/chainsync-notify/internal/log"
)

const defaultConsumerGroup = "chainsync-notifications"

// KafkaConfig holds configuration for the Kafka broker.
type KafkaConfig struct {
	Brokers       []string // list of broker addresses
	ConsumerGroup string   // consumer group ID
}

// KafkaBroker implements MessageBroker on Apache Kafka. Messages are keyed by
// tenant id so events of one tenant stay ordered within a partition.
type KafkaBroker struct {
	config  KafkaConfig
	writer  *kafka.Writer
	logger  zerolog.Logger
	mu      sync.Mutex
	readers map[string]*kafkaSubscription
	wg      sync.WaitGroup
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
}

type kafkaSubscription struct {
	id      string
	reader  *kafka.Reader
	handler EventHandler
	cancel  context.CancelFunc
}

// NewKafkaBroker creates a KafkaBroker with a shared writer. Readers are
// created per subscription.
func NewKafkaBroker(config KafkaConfig) (*KafkaBroker, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("at least one Kafka broker address is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = defaultConsumerGroup
	}

	ctx, cancel := context.WithCancel(context.Background())

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	return &KafkaBroker{
		config:  config,
		writer:  writer,
		logger:  log.WithComponent("kafka-broker"),
		readers: make(map[string]*kafkaSubscription),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (b *KafkaBroker) Publish(ctx context.Context, topic string, event Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBrokerClosed
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(event.TenantID),
		Value: value,
		Time:  time.Now(),
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to kafka: %w", err)
	}
	return nil
}

// Subscribe starts a consumer-group reader for topic that invokes handler for
// each valid event until Close.
func (b *KafkaBroker) Subscribe(topic string, handler EventHandler) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", ErrBrokerClosed
	}

	id := uuid.NewString()
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.config.Brokers,
		Topic:    topic,
		GroupID:  b.config.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	})

	subCtx, subCancel := context.WithCancel(b.ctx)
	sub := &kafkaSubscription{id: id, reader: reader, handler: handler, cancel: subCancel}
	b.readers[id] = sub

	b.wg.Add(1)
	go b.consumeLoop(subCtx, topic, sub)

	return id, nil
}

// Close stops all consumers and flushes the writer.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.cancel()
	readers := b.readers
	b.readers = nil
	b.mu.Unlock()

	b.wg.Wait()

	var errs []error
	for _, sub := range readers {
		if err := sub.reader.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *KafkaBroker) consumeLoop(ctx context.Context, topic string, sub *kafkaSubscription) {
	defer b.wg.Done()
	logger := b.logger.With().Str("topic", topic).Str("subscription", sub.id).Logger()

	for {
		msg, err := sub.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Msg("read failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		event, err := decodeEvent(msg.Value)
		if err != nil {
			logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("dropping undecodable event")
			continue
		}
		sub.handler(ctx, event)
	}
}

// decodeEvent parses and validates an ingest payload. Producers in other
// processes are untrusted, so the same invariants as NewEvent apply.
func decodeEvent(value []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(value, &ev); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if ev.Priority == "" {
		ev.Priority = PriorityMedium
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}
