// Package memory provides map-backed repositories for tests and local runs
// without PostgreSQL. A single mutex serialises every write, which gives the
// same per-product ordering the row locks give in PostgreSQL.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/fulfillment/internal/domain"
	"github.com/utafrali/fulfillment/internal/repository"
	apperrors "github.com/utafrali/fulfillment/pkg/errors"
)

// DB is the shared state behind the memory repositories.
type DB struct {
	mu        sync.Mutex
	products  map[string]domain.Product
	orders    map[string]*domain.Order
	movements []domain.StockMovement
	keys      map[string]struct{}
	outbox    []*domain.OutboxEntry
	seq       int64
	now       func() time.Time
}

// New creates an empty database.
func New() *DB {
	return &DB{
		products: make(map[string]domain.Product),
		orders:   make(map[string]*domain.Order),
		keys:     make(map[string]struct{}),
		now:      time.Now,
	}
}

// PutProduct inserts or replaces a catalog product.
func (db *DB) PutProduct(p domain.Product) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.products[p.ID] = p
}

// SetQuantity changes a product quantity the way the catalog would, without a
// ledger movement.
func (db *DB) SetQuantity(productID string, quantity int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	p := db.products[productID]
	p.Quantity = quantity
	db.products[productID] = p
}

// DeleteProduct removes a product.
func (db *DB) DeleteProduct(id string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.products, id)
}

// Products returns the product repository.
func (db *DB) Products() *ProductStore { return &ProductStore{db: db} }

// Orders returns the order repository.
func (db *DB) Orders() *OrderStore { return &OrderStore{db: db} }

// Ledger returns the ledger repository.
func (db *DB) Ledger() *LedgerStore { return &LedgerStore{db: db} }

// Outbox returns the outbox repository.
func (db *DB) Outbox() *OutboxStore { return &OutboxStore{db: db} }

func (db *DB) enqueueLocked(entries []domain.OutboxEntry) {
	for _, e := range entries {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = db.now()
		}
		db.outbox = append(db.outbox, &e)
	}
}

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

// ProductStore implements repository.ProductRepository.
type ProductStore struct{ db *DB }

var _ repository.ProductRepository = (*ProductStore)(nil)

func (s *ProductStore) GetByID(_ context.Context, id string) (*domain.Product, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.products[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &p, nil
}

func (s *ProductStore) Exists(_ context.Context, id string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	_, ok := s.db.products[id]
	return ok, nil
}

func (s *ProductStore) GetQuantities(_ context.Context, ids []string) (map[string]int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make(map[string]int, len(ids))
	for _, id := range ids {
		if p, ok := s.db.products[id]; ok {
			out[id] = p.Quantity
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderStore implements repository.OrderRepository.
type OrderStore struct{ db *DB }

var _ repository.OrderRepository = (*OrderStore)(nil)

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	return &c
}

func (s *OrderStore) Create(_ context.Context, order *domain.Order, outbox ...domain.OutboxEntry) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.orders[order.ID]; ok {
		return apperrors.ErrAlreadyExists
	}
	s.db.orders[order.ID] = cloneOrder(order)
	s.db.enqueueLocked(outbox)
	return nil
}

func (s *OrderStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.orders[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *OrderStore) UpdateStatus(_ context.Context, id, from, to string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.orders[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if o.Status != from {
		return apperrors.ErrConflict
	}
	o.Status = to
	o.UpdatedAt = s.db.now()
	return nil
}

func (s *OrderStore) MarkProcessing(_ context.Context, id string, outbox []domain.OutboxEntry) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.orders[id]
	if !ok || o.Status != domain.OrderStatusPending {
		return false, nil
	}
	o.Status = domain.OrderStatusProcessing
	o.UpdatedAt = s.db.now()
	s.db.enqueueLocked(outbox)
	return true, nil
}

func (s *OrderStore) Enqueue(_ context.Context, outbox ...domain.OutboxEntry) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.enqueueLocked(outbox)
	return nil
}

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

// LedgerStore implements repository.LedgerRepository.
type LedgerStore struct{ db *DB }

var _ repository.LedgerRepository = (*LedgerStore)(nil)

func (s *LedgerStore) Apply(_ context.Context, req domain.MovementRequest) (*domain.StockChange, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	p, ok := s.db.products[req.ProductID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if req.IdempotencyKey != "" {
		if _, used := s.db.keys[req.IdempotencyKey]; used {
			return nil, apperrors.ErrAlreadyExists
		}
	}

	effect := req.Type.Effect()
	next, applied := effect.Apply(p.Quantity, req.Quantity)
	change := &domain.StockChange{
		ProductID:   p.ID,
		Type:        req.Type,
		OldQuantity: p.Quantity,
		NewQuantity: next,
		MinQuantity: p.MinQuantity,
		Requested:   req.Quantity,
		Applied:     applied,
	}

	p.Quantity = next
	s.db.products[p.ID] = p

	if effect.Kind == domain.EffectAbsolute || applied > 0 || req.IdempotencyKey != "" {
		m := domain.StockMovement{
			ID:             uuid.New().String(),
			ProductID:      p.ID,
			Type:           req.Type,
			Quantity:       applied,
			Reason:         req.Reason,
			ReferenceType:  req.ReferenceType,
			ReferenceID:    req.ReferenceID,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      s.db.now(),
		}
		s.appendLocked(&m)
		change.Movement = &m
	}
	return change, nil
}

func (s *LedgerStore) appendLocked(m *domain.StockMovement) {
	s.db.seq++
	m.Seq = s.db.seq
	s.db.movements = append(s.db.movements, *m)
	if m.IdempotencyKey != "" {
		s.db.keys[m.IdempotencyKey] = struct{}{}
	}
}

func (s *LedgerStore) Record(_ context.Context, m *domain.StockMovement) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if m.IdempotencyKey != "" {
		if _, used := s.db.keys[m.IdempotencyKey]; used {
			return apperrors.ErrAlreadyExists
		}
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.db.now()
	}
	s.appendLocked(m)
	return nil
}

func (s *LedgerStore) Movements(_ context.Context, productID string) ([]domain.StockMovement, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.StockMovement
	for _, m := range s.db.movements {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *LedgerStore) List(ctx context.Context, productID string, page, perPage int) ([]domain.StockMovement, int, error) {
	all, _ := s.Movements(ctx, productID)
	slices.Reverse(all)
	total := len(all)
	start := (page - 1) * perPage
	if start >= total || start < 0 {
		return []domain.StockMovement{}, total, nil
	}
	end := min(start+perPage, total)
	return all[start:end], total, nil
}

// ---------------------------------------------------------------------------
// Outbox
// ---------------------------------------------------------------------------

// OutboxStore implements repository.OutboxRepository.
type OutboxStore struct{ db *DB }

var _ repository.OutboxRepository = (*OutboxStore)(nil)

func (s *OutboxStore) ProcessBatch(ctx context.Context, limit int, fn func(context.Context, domain.OutboxEntry) error) (int, int, error) {
	s.db.mu.Lock()
	var batch []*domain.OutboxEntry
	for _, e := range s.db.outbox {
		if e.PublishedAt == nil {
			batch = append(batch, e)
			if len(batch) == limit {
				break
			}
		}
	}
	snapshot := make([]domain.OutboxEntry, len(batch))
	for i, e := range batch {
		snapshot[i] = *e
	}
	s.db.mu.Unlock()

	var published, failed int
	for i, entry := range snapshot {
		err := fn(ctx, entry)

		s.db.mu.Lock()
		if err != nil {
			batch[i].Attempts++
			batch[i].LastError = err.Error()
			failed++
		} else {
			now := s.db.now()
			batch[i].PublishedAt = &now
			published++
		}
		s.db.mu.Unlock()
	}
	return published, failed, nil
}

func (s *OutboxStore) DeletePublishedBefore(_ context.Context, before time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var removed int64
	kept := s.db.outbox[:0]
	for _, e := range s.db.outbox {
		if e.PublishedAt != nil && e.PublishedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.db.outbox = kept
	return removed, nil
}

// Pending returns the unpublished outbox entries.
func (s *OutboxStore) Pending() []domain.OutboxEntry {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.OutboxEntry
	for _, e := range s.db.outbox {
		if e.PublishedAt == nil {
			out = append(out, *e)
		}
	}
	return out
}
