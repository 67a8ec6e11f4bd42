// Package outbox publishes rows of the outbox table onto the bus.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/fulfillment/internal/domain"
	"github.com/utafrali/fulfillment/internal/event"
	"github.com/utafrali/fulfillment/internal/repository"
	pkgkafka "github.com/utafrali/fulfillment/pkg/kafka"
)

var (
	entriesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_entries_published_total",
			Help: "Total number of outbox entries published to the bus",
		},
		[]string{"topic"},
	)

	publishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Total number of failed outbox publish attempts",
		},
		[]string{"topic"},
	)
)

// Config controls dispatch cadence and retention.
type Config struct {
	PollInterval    time.Duration
	BatchSize       int
	Retention       time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:    500 * time.Millisecond,
		BatchSize:       100,
		Retention:       72 * time.Hour,
		CleanupInterval: time.Hour,
	}
}

// Dispatcher drains the outbox onto the bus. Entries are published at least
// once; the envelope's event ID stays fixed across attempts.
type Dispatcher struct {
	store     repository.OutboxRepository
	publisher event.Publisher
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher creates a new outbox dispatcher.
func NewDispatcher(store repository.OutboxRepository, publisher event.Publisher, cfg Config, logger *slog.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Run dispatches on every poll tick and cleans up on every cleanup tick until
// ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	poll := time.NewTicker(d.cfg.PollInterval)
	defer poll.Stop()
	cleanup := time.NewTicker(d.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			// Keep draining while whole batches publish; any failure waits
			// for the next tick.
			for {
				n, err := d.DispatchOnce(ctx)
				if err != nil {
					d.logger.Error("outbox dispatch error", slog.String("error", err.Error()))
					break
				}
				if n < d.cfg.BatchSize || ctx.Err() != nil {
					break
				}
			}
		case <-cleanup.C:
			removed, err := d.Cleanup(ctx)
			if err != nil {
				d.logger.Error("outbox cleanup error", slog.String("error", err.Error()))
			} else if removed > 0 {
				d.logger.Info("published outbox entries cleaned", slog.Int64("removed", removed))
			}
		}
	}
}

// DispatchOnce publishes one batch and returns how many entries were
// published. Entries that failed stay queued for the next poll.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	published, failed, err := d.store.ProcessBatch(ctx, d.cfg.BatchSize, d.publish)
	if err != nil {
		return 0, fmt.Errorf("process outbox batch: %w", err)
	}
	if failed > 0 {
		d.logger.Warn("outbox entries left for retry",
			slog.Int("published", published),
			slog.Int("failed", failed),
		)
	}
	return published, nil
}

// Cleanup deletes entries published longer ago than the retention period.
func (d *Dispatcher) Cleanup(ctx context.Context) (int64, error) {
	removed, err := d.store.DeletePublishedBefore(ctx, d.now().Add(-d.cfg.Retention))
	if err != nil {
		return 0, fmt.Errorf("delete published outbox entries: %w", err)
	}
	return removed, nil
}

func (d *Dispatcher) publish(ctx context.Context, entry domain.OutboxEntry) error {
	evt, err := pkgkafka.UnmarshalEvent(entry.Payload)
	if err != nil {
		publishFailures.WithLabelValues(entry.Topic).Inc()
		return fmt.Errorf("decode outbox entry %s: %w", entry.ID, err)
	}

	if err := d.publisher.Publish(evt.Context(ctx), entry.Topic, evt); err != nil {
		publishFailures.WithLabelValues(entry.Topic).Inc()
		d.logger.WarnContext(ctx, "outbox publish failed",
			slog.String("entry_id", entry.ID),
			slog.String("topic", entry.Topic),
			slog.Int("attempts", entry.Attempts+1),
			slog.String("error", err.Error()),
		)
		return err
	}

	entriesPublished.WithLabelValues(entry.Topic).Inc()
	return nil
}
