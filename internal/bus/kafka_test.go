package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgkafka "github.com/utafrali/fulfillment/pkg/kafka"
)

type fakeProducer struct {
	topics []string
	err    error
	closed bool
}

func (p *fakeProducer) Publish(_ context.Context, topic string, _ *pkgkafka.Event) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	return nil
}

func (p *fakeProducer) Close() error {
	p.closed = true
	return nil
}

type fakeConsumer struct {
	cfg      pkgkafka.ConsumerConfig
	handler  pkgkafka.Handler
	startErr error
	closed   bool
}

func (c *fakeConsumer) Start(ctx context.Context) error {
	if c.startErr != nil {
		return c.startErr
	}
	<-ctx.Done()
	return nil
}

func (c *fakeConsumer) Close() error {
	c.closed = true
	return nil
}

func newFakeKafkaBus(store pkgkafka.IdempotencyStore) (*KafkaBus, *fakeProducer, *[]*fakeConsumer) {
	prod := &fakeProducer{}
	b := NewKafkaBus(KafkaConfig{Brokers: []string{"localhost:9092"}}, prod, nil, store, newTestLogger())
	var created []*fakeConsumer
	b.newConsumer = func(cfg pkgkafka.ConsumerConfig, h pkgkafka.Handler) consumer {
		c := &fakeConsumer{cfg: cfg, handler: h}
		created = append(created, c)
		return c
	}
	return b, prod, &created
}

func TestKafkaBus_SubscribeUsesPrefixedGroup(t *testing.T) {
	b, _, created := newFakeKafkaBus(nil)

	b.Subscribe("fulfillment.order.accepted", "orchestrator", func(context.Context, *pkgkafka.Event) error { return nil })

	require.Len(t, *created, 1)
	cfg := (*created)[0].cfg
	assert.Equal(t, "fulfillment-orchestrator", cfg.GroupID)
	assert.Equal(t, "fulfillment.order.accepted", cfg.Topic)
	assert.False(t, cfg.EnableDLQ)
}

func TestKafkaBus_HandlerSkipsDuplicates(t *testing.T) {
	store := pkgkafka.NewMemoryIdempotencyStore(time.Hour)
	b, _, created := newFakeKafkaBus(store)

	calls := 0
	b.Subscribe("t", "g", func(context.Context, *pkgkafka.Event) error {
		calls++
		return nil
	})

	h := (*created)[0].handler
	evt := testEvent(t, "t")
	require.NoError(t, h(context.Background(), evt))
	require.NoError(t, h(context.Background(), evt))
	assert.Equal(t, 1, calls)
}

func TestKafkaBus_Publish(t *testing.T) {
	b, prod, _ := newFakeKafkaBus(nil)

	require.NoError(t, b.Publish(context.Background(), "t", testEvent(t, "t")))
	assert.Equal(t, []string{"t"}, prod.topics)

	prod.err = errors.New("broker down")
	assert.Error(t, b.Publish(context.Background(), "t", testEvent(t, "t")))
}

func TestKafkaBus_StartReturnsConsumerError(t *testing.T) {
	b, _, created := newFakeKafkaBus(nil)
	b.Subscribe("t", "g", func(context.Context, *pkgkafka.Event) error { return nil })
	(*created)[0].startErr = errors.New("fetch failed")

	err := b.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch failed")
}

func TestKafkaBus_StartStopsOnCancel(t *testing.T) {
	b, _, _ := newFakeKafkaBus(nil)
	b.Subscribe("t", "g", func(context.Context, *pkgkafka.Event) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, b.Start(ctx))
}

func TestKafkaBus_CloseClosesEverything(t *testing.T) {
	b, prod, created := newFakeKafkaBus(nil)
	b.Subscribe("a", "g", func(context.Context, *pkgkafka.Event) error { return nil })
	b.Subscribe("b", "g", func(context.Context, *pkgkafka.Event) error { return nil })

	require.NoError(t, b.Close())
	for _, c := range *created {
		assert.True(t, c.closed)
	}
	assert.True(t, prod.closed)
}
