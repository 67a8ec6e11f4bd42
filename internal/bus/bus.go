// Package bus moves domain events between components. MemoryBus runs
// everything in-process; KafkaBus uses the shared Kafka cluster.
package bus

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	pkgkafka "github.com/utafrali/fulfillment/pkg/kafka"
)

// Bus publishes events to topics and delivers them to subscription groups.
// Every group subscribed to a topic receives its own copy of each event.
type Bus interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
	Subscribe(topic, group string, h pkgkafka.Handler)
	// Start runs the subscriptions and blocks until ctx is done or a
	// subscription fails.
	Start(ctx context.Context) error
	Close() error
}

var (
	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_published_total",
			Help: "Total number of events published on the bus",
		},
		[]string{"driver", "topic"},
	)

	eventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_handled_total",
			Help: "Total number of events handled by in-process subscriptions",
		},
		[]string{"topic", "group"},
	)

	deadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_dead_letters_total",
			Help: "Total number of events whose handler failed permanently or exhausted retries",
		},
		[]string{"topic", "group"},
	)
)
