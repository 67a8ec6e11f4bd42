package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pkgkafka "github.com/utafrali/fulfillment/pkg/kafka"
)

// KafkaConfig configures the Kafka-backed bus.
type KafkaConfig struct {
	Brokers     []string
	GroupPrefix string
}

// EventProducer publishes events to Kafka.
type EventProducer interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
	Close() error
}

type consumer interface {
	Start(ctx context.Context) error
	Close() error
}

// KafkaBus publishes through a pkg/kafka producer and runs one consumer per
// subscription. Handlers are wrapped so each group skips event IDs it has
// already processed, and failures end up in the DLQ.
type KafkaBus struct {
	cfg      KafkaConfig
	producer EventProducer
	dlq      pkgkafka.DeadLetterPublisher
	store    pkgkafka.IdempotencyStore
	logger   *slog.Logger

	newConsumer func(cfg pkgkafka.ConsumerConfig, h pkgkafka.Handler) consumer

	mu        sync.Mutex
	consumers []consumer
}

var _ Bus = (*KafkaBus)(nil)

// NewKafkaBus creates a Kafka-backed bus. dlq may be nil.
func NewKafkaBus(cfg KafkaConfig, producer EventProducer, dlq pkgkafka.DeadLetterPublisher, store pkgkafka.IdempotencyStore, logger *slog.Logger) *KafkaBus {
	if cfg.GroupPrefix == "" {
		cfg.GroupPrefix = "fulfillment"
	}
	b := &KafkaBus{
		cfg:      cfg,
		producer: producer,
		dlq:      dlq,
		store:    store,
		logger:   logger,
	}
	b.newConsumer = func(ccfg pkgkafka.ConsumerConfig, h pkgkafka.Handler) consumer {
		return pkgkafka.NewConsumer(ccfg, h, b.dlq, b.logger)
	}
	return b
}

// GroupID returns the Kafka consumer group for a subscription group.
func (b *KafkaBus) GroupID(group string) string {
	return fmt.Sprintf("%s-%s", b.cfg.GroupPrefix, group)
}

func (b *KafkaBus) Publish(ctx context.Context, topic string, event *pkgkafka.Event) error {
	if err := b.producer.Publish(ctx, topic, event); err != nil {
		return err
	}
	eventsPublished.WithLabelValues("kafka", topic).Inc()
	return nil
}

// Subscribe must be called before Start.
func (b *KafkaBus) Subscribe(topic, group string, h pkgkafka.Handler) {
	groupID := b.GroupID(group)
	if b.store != nil {
		h = pkgkafka.IdempotentHandler(b.store, groupID, h, b.logger)
	}

	c := b.newConsumer(pkgkafka.ConsumerConfig{
		Brokers:   b.cfg.Brokers,
		GroupID:   groupID,
		Topic:     topic,
		MinBytes:  1,
		MaxBytes:  10e6,
		EnableDLQ: b.dlq != nil,
	}, h)

	b.mu.Lock()
	b.consumers = append(b.consumers, c)
	b.mu.Unlock()
}

// Start runs every consumer and blocks until ctx is done or one fails.
func (b *KafkaBus) Start(ctx context.Context) error {
	b.mu.Lock()
	consumers := append([]consumer(nil), b.consumers...)
	b.mu.Unlock()

	errCh := make(chan error, len(consumers))
	for _, c := range consumers {
		go func() {
			if err := c.Start(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return fmt.Errorf("kafka consumer: %w", err)
	}
}

// Close closes every consumer, then the producer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	consumers := b.consumers
	b.mu.Unlock()

	var errs []error
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.producer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
