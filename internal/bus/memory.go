package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	pkgkafka "github.com/utafrali/fulfillment/pkg/kafka"
)

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("bus closed")

// MemoryConfig tunes the in-process bus.
type MemoryConfig struct {
	Workers      int
	Buffer       int
	MaxAttempts  int
	RetryBackoff time.Duration
}

// DefaultMemoryConfig returns the settings used when none are given.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Workers:      4,
		Buffer:       1024,
		MaxAttempts:  pkgkafka.DefaultMaxRetries,
		RetryBackoff: pkgkafka.DefaultRetryBackoff,
	}
}

// DeadLetter is an event a subscription gave up on.
type DeadLetter struct {
	Topic string
	Group string
	Event *pkgkafka.Event
	Err   error
}

type memorySub struct {
	topic   string
	group   string
	handler pkgkafka.Handler
	ch      chan *pkgkafka.Event
}

// MemoryBus delivers events through buffered channels, each subscription
// drained by its own worker pool. Handlers are retried with linear backoff.
type MemoryBus struct {
	cfg    MemoryConfig
	logger *slog.Logger

	mu      sync.Mutex
	subs    map[string][]*memorySub
	closed  bool
	pending int
	idle    *sync.Cond
	dead    []DeadLetter

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

var _ Bus = (*MemoryBus)(nil)

// NewMemoryBus creates an in-process bus.
func NewMemoryBus(cfg MemoryConfig, logger *slog.Logger) *MemoryBus {
	def := DefaultMemoryConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	b := &MemoryBus{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[string][]*memorySub),
		done:   make(chan struct{}),
	}
	b.idle = sync.NewCond(&b.mu)
	return b
}

// Subscribe must be called before Start.
func (b *MemoryBus) Subscribe(topic, group string, h pkgkafka.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], &memorySub{
		topic:   topic,
		group:   group,
		handler: h,
		ch:      make(chan *pkgkafka.Event, b.cfg.Buffer),
	})
}

// Publish enqueues event for every subscription on topic. It blocks while a
// subscription buffer is full.
func (b *MemoryBus) Publish(ctx context.Context, topic string, event *pkgkafka.Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	subs := b.subs[topic]
	b.pending += len(subs)
	b.mu.Unlock()

	eventsPublished.WithLabelValues("memory", topic).Inc()

	for i, s := range subs {
		select {
		case s.ch <- event:
		case <-ctx.Done():
			b.settle(len(subs) - i)
			return ctx.Err()
		case <-b.done:
			b.settle(len(subs) - i)
			return ErrClosed
		}
	}
	return nil
}

// Start launches the workers and blocks until ctx is done or Close is called.
func (b *MemoryBus) Start(ctx context.Context) error {
	b.mu.Lock()
	var all []*memorySub
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.mu.Unlock()

	for _, s := range all {
		for range b.cfg.Workers {
			b.wg.Add(1)
			go b.work(ctx, s)
		}
	}

	b.logger.Info("memory bus started",
		slog.Int("subscriptions", len(all)),
		slog.Int("workers", b.cfg.Workers),
	)

	select {
	case <-ctx.Done():
	case <-b.done:
	}
	return nil
}

// Flush blocks until every published event, including events published by
// handlers while flushing, has been handled or dead-lettered.
func (b *MemoryBus) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.pending > 0 {
		b.idle.Wait()
	}
}

// DeadLetters returns the events subscriptions gave up on.
func (b *MemoryBus) DeadLetters() []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]DeadLetter, len(b.dead))
	copy(out, b.dead)
	return out
}

// Close stops the workers and waits for in-flight handlers.
func (b *MemoryBus) Close() error {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.done)
	})
	b.wg.Wait()
	return nil
}

func (b *MemoryBus) settle(n int) {
	b.mu.Lock()
	b.pending -= n
	if b.pending <= 0 {
		b.pending = 0
		b.idle.Broadcast()
	}
	b.mu.Unlock()
}

func (b *MemoryBus) work(ctx context.Context, s *memorySub) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case evt := <-s.ch:
			b.deliver(ctx, s, evt)
			b.settle(1)
		}
	}
}

func (b *MemoryBus) deliver(ctx context.Context, s *memorySub, evt *pkgkafka.Event) {
	hctx := evt.Context(ctx)

	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		lastErr = s.handler(hctx, evt)
		if lastErr == nil {
			eventsHandled.WithLabelValues(s.topic, s.group).Inc()
			return
		}
		if pkgkafka.IsPermanent(lastErr) {
			break
		}

		b.logger.WarnContext(hctx, "handler failed, will retry",
			slog.String("topic", s.topic),
			slog.String("group", s.group),
			slog.String("event_type", evt.EventType),
			slog.String("aggregate_id", evt.AggregateID),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)

		if attempt < b.cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * b.cfg.RetryBackoff):
			}
		}
	}

	deadLetters.WithLabelValues(s.topic, s.group).Inc()
	b.logger.ErrorContext(hctx, "event dead-lettered",
		slog.String("topic", s.topic),
		slog.String("group", s.group),
		slog.String("event_id", evt.EventID),
		slog.String("event_type", evt.EventType),
		slog.String("aggregate_id", evt.AggregateID),
		slog.Bool("permanent", pkgkafka.IsPermanent(lastErr)),
		slog.String("error", lastErr.Error()),
	)

	b.mu.Lock()
	b.dead = append(b.dead, DeadLetter{Topic: s.topic, Group: s.group, Event: evt, Err: lastErr})
	b.mu.Unlock()
}
