package bus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgkafka "github.com/utafrali/fulfillment/pkg/kafka"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testEvent(t *testing.T, eventType string) *pkgkafka.Event {
	t.Helper()
	evt, err := pkgkafka.NewEvent(eventType, "agg-1", "test", "test", map[string]string{"k": "v"})
	require.NoError(t, err)
	return evt
}

func startMemoryBus(t *testing.T, b *MemoryBus) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = b.Close()
	})
}

func fastBus() *MemoryBus {
	return NewMemoryBus(MemoryConfig{Workers: 2, RetryBackoff: time.Millisecond}, newTestLogger())
}

func TestMemoryBus_EachGroupGetsACopy(t *testing.T) {
	b := fastBus()
	var a, n atomic.Int32
	b.Subscribe("orders", "fulfillment", func(context.Context, *pkgkafka.Event) error { a.Add(1); return nil })
	b.Subscribe("orders", "notification", func(context.Context, *pkgkafka.Event) error { n.Add(1); return nil })
	startMemoryBus(t, b)

	for range 3 {
		require.NoError(t, b.Publish(context.Background(), "orders", testEvent(t, "orders")))
	}
	b.Flush()

	assert.Equal(t, int32(3), a.Load())
	assert.Equal(t, int32(3), n.Load())
}

func TestMemoryBus_RetriesThenSucceeds(t *testing.T) {
	b := fastBus()
	var calls atomic.Int32
	b.Subscribe("t", "g", func(context.Context, *pkgkafka.Event) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	startMemoryBus(t, b)

	require.NoError(t, b.Publish(context.Background(), "t", testEvent(t, "t")))
	b.Flush()

	assert.Equal(t, int32(3), calls.Load())
	assert.Empty(t, b.DeadLetters())
}

func TestMemoryBus_ExhaustedRetriesDeadLetter(t *testing.T) {
	b := fastBus()
	var calls atomic.Int32
	b.Subscribe("t", "g", func(context.Context, *pkgkafka.Event) error {
		calls.Add(1)
		return errors.New("always")
	})
	startMemoryBus(t, b)

	evt := testEvent(t, "t")
	require.NoError(t, b.Publish(context.Background(), "t", evt))
	b.Flush()

	assert.Equal(t, int32(3), calls.Load())
	dl := b.DeadLetters()
	require.Len(t, dl, 1)
	assert.Equal(t, evt.EventID, dl[0].Event.EventID)
	assert.Equal(t, "g", dl[0].Group)
}

func TestMemoryBus_PermanentSkipsRetries(t *testing.T) {
	b := fastBus()
	var calls atomic.Int32
	b.Subscribe("t", "g", func(context.Context, *pkgkafka.Event) error {
		calls.Add(1)
		return pkgkafka.Permanent(errors.New("gone"))
	})
	startMemoryBus(t, b)

	require.NoError(t, b.Publish(context.Background(), "t", testEvent(t, "t")))
	b.Flush()

	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, b.DeadLetters(), 1)
	assert.True(t, pkgkafka.IsPermanent(b.DeadLetters()[0].Err))
}

func TestMemoryBus_FailureIsolatedToGroup(t *testing.T) {
	b := fastBus()
	var ok atomic.Int32
	b.Subscribe("t", "healthy", func(context.Context, *pkgkafka.Event) error { ok.Add(1); return nil })
	b.Subscribe("t", "broken", func(context.Context, *pkgkafka.Event) error { return errors.New("smtp down") })
	startMemoryBus(t, b)

	require.NoError(t, b.Publish(context.Background(), "t", testEvent(t, "t")))
	b.Flush()

	assert.Equal(t, int32(1), ok.Load())
	dl := b.DeadLetters()
	require.Len(t, dl, 1)
	assert.Equal(t, "broken", dl[0].Group)
}

func TestMemoryBus_FlushWaitsForNestedPublishes(t *testing.T) {
	b := fastBus()
	var mu sync.Mutex
	var seen []string
	record := func(name string) pkgkafka.Handler {
		return func(context.Context, *pkgkafka.Event) error {
			mu.Lock()
			seen = append(seen, name)
			mu.Unlock()
			return nil
		}
	}
	b.Subscribe("first", "g", func(ctx context.Context, evt *pkgkafka.Event) error {
		time.Sleep(5 * time.Millisecond)
		return b.Publish(ctx, "second", evt)
	})
	b.Subscribe("second", "g", record("second"))
	startMemoryBus(t, b)

	require.NoError(t, b.Publish(context.Background(), "first", testEvent(t, "first")))
	b.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"second"}, seen)
}

func TestMemoryBus_NoSubscribers(t *testing.T) {
	b := fastBus()
	startMemoryBus(t, b)

	require.NoError(t, b.Publish(context.Background(), "nobody", testEvent(t, "nobody")))
	b.Flush()
}

func TestMemoryBus_PublishAfterClose(t *testing.T) {
	b := fastBus()
	require.NoError(t, b.Close())
	err := b.Publish(context.Background(), "t", testEvent(t, "t"))
	assert.ErrorIs(t, err, ErrClosed)
}
