package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/utafrali/fulfillment/pkg/httpclient"
	pkgkafka "github.com/utafrali/fulfillment/pkg/kafka"
)

// LogSender writes notifications to the log and always succeeds.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a sender that only logs.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(ctx context.Context, n *Notification) error {
	s.logger.InfoContext(ctx, "notification sent",
		slog.String("notification_id", n.ID),
		slog.String("type", n.Type),
		slog.String("recipient", n.Recipient),
		slog.String("subject", n.Subject),
		slog.String("priority", n.Priority),
	)
	return nil
}

// WebhookSender posts notifications as JSON to a fixed URL.
type WebhookSender struct {
	client  httpclient.Doer
	limiter *rate.Limiter
	url     string
	logger  *slog.Logger
}

// NewWebhookSender creates a sender posting to url through a retrying client
// guarded by a circuit breaker, at most rps requests per second. rps <= 0
// means unlimited.
func NewWebhookSender(url string, rps int, logger *slog.Logger) *WebhookSender {
	client := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpclient.DefaultConfig()),
		httpclient.DefaultCircuitBreakerConfig("notification-webhook"),
		logger,
	)
	return newWebhookSender(client, url, rps, logger)
}

func newWebhookSender(client httpclient.Doer, url string, rps int, logger *slog.Logger) *WebhookSender {
	limit, burst := rate.Inf, 1
	if rps > 0 {
		limit, burst = rate.Limit(rps), rps
	}
	return &WebhookSender{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		url:     url,
		logger:  logger,
	}
}

func (s *WebhookSender) Name() string { return "webhook" }

// Send posts n. A 4xx answer is permanent: the same payload will not be
// accepted on redelivery.
func (s *WebhookSender) Send(ctx context.Context, n *Notification) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for webhook rate limit: %w", err)
	}

	resp, err := httpclient.PostJSON(ctx, s.client, s.url, n)
	if err != nil {
		return fmt.Errorf("post notification %s: %w", n.ID, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		status := resp.StatusCode
		err := httpclient.ParseResponseError(resp, "notification webhook")
		if httpclient.IsClientError(status) {
			return pkgkafka.Permanent(err)
		}
		return err
	}
	_ = resp.Body.Close()

	s.logger.DebugContext(ctx, "notification delivered to webhook",
		slog.String("notification_id", n.ID),
		slog.String("type", n.Type),
	)
	return nil
}
