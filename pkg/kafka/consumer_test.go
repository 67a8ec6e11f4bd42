package kafka

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeReader hands out queued messages, then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type fakeDLQ struct {
	mu   sync.Mutex
	msgs []kafka.Message
	errs []error
}

func (d *fakeDLQ) Publish(_ context.Context, msg kafka.Message, lastErr error, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
	d.errs = append(d.errs, lastErr)
	return nil
}

func (d *fakeDLQ) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.msgs)
}

func eventMessage(t *testing.T, topic string) kafka.Message {
	t.Helper()
	event, err := NewEvent("inventory.adjustment_requested", "p-1", "product", "fulfillment", map[string]int{"quantity": 1})
	require.NoError(t, err)
	msg, err := Message(context.Background(), topic, event)
	require.NoError(t, err)
	return msg
}

func runConsumer(t *testing.T, c *Consumer, reader *fakeReader, wantCommits int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool { return reader.commits() == wantCommits }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.True(t, reader.closed)
}

func TestConsumer_SuccessCommits(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{eventMessage(t, "t1"), eventMessage(t, "t1")}}
	var calls int
	var mu sync.Mutex
	handler := func(context.Context, *Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}

	c := newConsumer(reader, ConsumerConfig{Topic: "t1", GroupID: "g"}, handler, nil, testLogger())
	runConsumer(t, c, reader, 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestConsumer_RetriesThenDeadLetters(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{eventMessage(t, "t2")}}
	dlq := &fakeDLQ{}
	var mu sync.Mutex
	attempts := 0
	handler := func(context.Context, *Event) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("downstream unavailable")
	}

	cfg := ConsumerConfig{Topic: "t2", GroupID: "g", RetryBackoff: time.Millisecond, EnableDLQ: true}
	c := newConsumer(reader, cfg, handler, dlq, testLogger())
	runConsumer(t, c, reader, 1)

	mu.Lock()
	assert.Equal(t, DefaultMaxRetries, attempts)
	mu.Unlock()
	assert.Equal(t, 1, dlq.count())
}

func TestConsumer_PermanentErrorSkipsRetries(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{eventMessage(t, "t3")}}
	dlq := &fakeDLQ{}
	var mu sync.Mutex
	attempts := 0
	handler := func(context.Context, *Event) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return Permanent(errors.New("product missing"))
	}

	cfg := ConsumerConfig{Topic: "t3", GroupID: "g", RetryBackoff: time.Millisecond, EnableDLQ: true}
	c := newConsumer(reader, cfg, handler, dlq, testLogger())
	runConsumer(t, c, reader, 1)

	mu.Lock()
	assert.Equal(t, 1, attempts)
	mu.Unlock()
	require.Equal(t, 1, dlq.count())
	assert.True(t, IsPermanent(dlq.errs[0]))
}

func TestConsumer_DLQDisabled(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{eventMessage(t, "t4")}}
	dlq := &fakeDLQ{}
	handler := func(context.Context, *Event) error { return Permanent(errors.New("bad")) }

	c := newConsumer(reader, ConsumerConfig{Topic: "t4", GroupID: "g"}, handler, dlq, testLogger())
	runConsumer(t, c, reader, 1)

	assert.Zero(t, dlq.count())
}

func TestConsumer_UndecodableMessageIsDeadLettered(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{{Topic: "t5", Value: []byte("garbage")}}}
	dlq := &fakeDLQ{}
	handler := func(context.Context, *Event) error {
		t.Error("handler must not run for an undecodable message")
		return nil
	}

	c := newConsumer(reader, ConsumerConfig{Topic: "t5", GroupID: "g", EnableDLQ: true}, handler, dlq, testLogger())
	runConsumer(t, c, reader, 1)

	assert.Equal(t, 1, dlq.count())
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("boom")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "boom", err.Error())

	wrapped := errors.Join(errors.New("ctx"), err)
	assert.True(t, IsPermanent(wrapped))
	assert.False(t, IsPermanent(base))
}

func TestDLQMessage_Headers(t *testing.T) {
	original := kafka.Message{
		Topic:     "fulfillment.order.accepted",
		Partition: 2,
		Offset:    41,
		Key:       []byte("o-1"),
		Value:     []byte(`{}`),
		Headers:   []kafka.Header{{Key: "event_type", Value: []byte("order.accepted")}},
	}

	msg := dlqMessage(original, errors.New("smtp down"), "fulfillment-notification")
	carrier := NewHeaderCarrier(&msg.Headers)

	assert.Equal(t, "fulfillment.dlq.fulfillment.order.accepted", msg.Topic)
	assert.Equal(t, original.Key, msg.Key)
	assert.Equal(t, "order.accepted", carrier.Get("event_type"))
	assert.Equal(t, "2", carrier.Get("dlq.original_partition"))
	assert.Equal(t, "41", carrier.Get("dlq.original_offset"))
	assert.Equal(t, "fulfillment-notification", carrier.Get("dlq.consumer_group"))
	assert.Equal(t, "smtp down", carrier.Get("dlq.error"))
}

type failingWriter struct{ err error }

func (w failingWriter) WriteMessages(context.Context, ...kafka.Message) error { return w.err }
func (w failingWriter) Close() error                                          { return nil }

func TestDLQProducer_WriteError(t *testing.T) {
	d := &DLQProducer{writer: failingWriter{err: errors.New("no leader")}, logger: testLogger()}
	err := d.Publish(context.Background(), kafka.Message{Topic: "x"}, nil, "g")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fulfillment.dlq.x")
}
