package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "fulfillment"
	metricsSubsystem = "kafka"
)

var consumerLabels = []string{"topic", "consumer_group"}

var (
	// ConsumerMessagesReceived counts messages fetched from the broker, before
	// the handler runs.
	ConsumerMessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "consumer_messages_received_total",
		Help:      "Messages fetched from the broker.",
	}, consumerLabels)

	ConsumerMessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "consumer_messages_processed_total",
		Help:      "Messages whose handler succeeded.",
	}, consumerLabels)

	// ConsumerHandlerRetries counts handler attempts that failed with a
	// retryable error.
	ConsumerHandlerRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "consumer_handler_retries_total",
		Help:      "Handler attempts that failed and were retried.",
	}, consumerLabels)

	ConsumerMessagesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "consumer_messages_failed_total",
		Help:      "Messages whose handler failed permanently or exhausted retries.",
	}, consumerLabels)

	ConsumerProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "consumer_processing_duration_seconds",
		Help:      "Time spent handling one message, retries included.",
		Buckets:   prometheus.DefBuckets,
	}, consumerLabels)

	// ConsumerMessagesDuplicate counts events skipped by IdempotentHandler.
	ConsumerMessagesDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "consumer_messages_duplicate_total",
		Help:      "Redelivered events skipped by the idempotency guard.",
	}, []string{"event_type", "consumer_group"})

	ConsumerDLQPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "consumer_dlq_published_total",
		Help:      "Messages moved to a dead-letter topic.",
	}, consumerLabels)

	// ConsumerDLQFailures counts dead-letter writes that failed; the message
	// is committed anyway.
	ConsumerDLQFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "consumer_dlq_failures_total",
		Help:      "Dead-letter writes that failed.",
	}, consumerLabels)

	ProducerMessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "producer_messages_published_total",
		Help:      "Events written to the broker.",
	}, []string{"topic"})

	ProducerPublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "producer_publish_errors_total",
		Help:      "Failed broker writes.",
	}, []string{"topic"})

	ProducerPublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "producer_publish_duration_seconds",
		Help:      "Broker write latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"topic"})
)
