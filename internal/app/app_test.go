package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/fulfillment/internal/bus"
	"github.com/utafrali/fulfillment/internal/config"
	"github.com/utafrali/fulfillment/internal/dedup"
	"github.com/utafrali/fulfillment/internal/domain"
	"github.com/utafrali/fulfillment/internal/notification"
	"github.com/utafrali/fulfillment/internal/outbox"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &App{cfg: cfg, logger: testLogger(), redis: client}
}

func TestNewBus_Memory(t *testing.T) {
	a := testApp(t, &config.Config{BusDriver: config.BusDriverMemory, BusWorkers: 3})

	b := a.newBus()

	_, ok := b.(*bus.MemoryBus)
	assert.True(t, ok)
	assert.Nil(t, a.dlq)
}

func TestNewBus_Kafka(t *testing.T) {
	a := testApp(t, &config.Config{BusDriver: config.BusDriverKafka, KafkaBrokers: []string{"localhost:9092"}})

	b := a.newBus()

	kb, ok := b.(*bus.KafkaBus)
	require.True(t, ok)
	assert.Equal(t, "fulfillment-orchestrator", kb.GroupID("orchestrator"))
	assert.NotNil(t, a.dlq)
}

func TestNewGuard(t *testing.T) {
	a := testApp(t, &config.Config{DedupDriver: config.DedupDriverRedis})
	_, ok := a.newGuard().(*dedup.RedisGuard)
	assert.True(t, ok)

	a.cfg.DedupDriver = config.DedupDriverMemory
	_, ok = a.newGuard().(*dedup.MemoryGuard)
	assert.True(t, ok)
}

func TestNewSender(t *testing.T) {
	a := testApp(t, &config.Config{})
	assert.Equal(t, "log", a.newSender().Name())

	a.cfg.NotificationWebhookURL = "http://hooks.internal/notify"
	s := a.newSender()
	_, ok := s.(*notification.WebhookSender)
	assert.True(t, ok)
}

// slowOutbox holds its first batch open until the context ends, then takes a
// little longer to finish, like a transaction committing.
type slowOutbox struct {
	started  chan struct{}
	once     atomic.Bool
	finished atomic.Bool
}

func (o *slowOutbox) ProcessBatch(ctx context.Context, _ int, _ func(context.Context, domain.OutboxEntry) error) (int, int, error) {
	if o.once.CompareAndSwap(false, true) {
		close(o.started)
	}
	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	o.finished.Store(true)
	return 0, 0, nil
}

func (o *slowOutbox) DeletePublishedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func TestRun_ShutdownWaitsForDispatcher(t *testing.T) {
	logger := testLogger()
	store := &slowOutbox{started: make(chan struct{})}
	b := bus.NewMemoryBus(bus.DefaultMemoryConfig(), logger)
	a := &App{
		cfg:        &config.Config{BusDriver: config.BusDriverMemory},
		logger:     logger,
		bus:        b,
		dispatcher: outbox.NewDispatcher(store, b, outbox.Config{PollInterval: time.Millisecond}, logger),
		httpServer: &http.Server{Addr: "127.0.0.1:0", ReadHeaderTimeout: time.Second},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-store.started:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher never polled")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.True(t, store.finished.Load())
}
