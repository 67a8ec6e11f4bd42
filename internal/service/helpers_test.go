package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/utafrali/fulfillment/internal/dedup"
	"github.com/utafrali/fulfillment/internal/domain"
	"github.com/utafrali/fulfillment/internal/event"
	"github.com/utafrali/fulfillment/internal/repository/memory"
	pkgkafka "github.com/utafrali/fulfillment/pkg/kafka"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func intPtr(v int) *int { return &v }

type published struct {
	topic string
	event *pkgkafka.Event
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, evt *pkgkafka.Event) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, event: evt})
	return nil
}

func (p *recordingPublisher) onTopic(topic string) []*pkgkafka.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*pkgkafka.Event
	for _, m := range p.msgs {
		if m.topic == topic {
			out = append(out, m.event)
		}
	}
	return out
}

type ledgerFixture struct {
	db     *memory.DB
	guard  *dedup.MemoryGuard
	pub    *recordingPublisher
	ledger *Ledger
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	db := memory.New()
	guard := dedup.NewMemoryGuard()
	pub := &recordingPublisher{}
	logger := newTestLogger()
	return &ledgerFixture{
		db:     db,
		guard:  guard,
		pub:    pub,
		ledger: NewLedger(db.Ledger(), guard, time.Minute, event.NewProducer(pub, logger), logger),
	}
}

func (f *ledgerFixture) quantity(t *testing.T, productID string) int {
	t.Helper()
	p, err := f.db.Products().GetByID(context.Background(), productID)
	require.NoError(t, err)
	return p.Quantity
}

func (f *ledgerFixture) movements(t *testing.T, productID string) []domain.StockMovement {
	t.Helper()
	ms, err := f.db.Ledger().Movements(context.Background(), productID)
	require.NoError(t, err)
	return ms
}
