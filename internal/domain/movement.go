package domain

import (
	"fmt"
	"time"
)

// MovementType is the closed set of stock movement kinds.
type MovementType string

const (
	MovementInbound    MovementType = "inbound"
	MovementOutbound   MovementType = "outbound"
	MovementSale       MovementType = "sale"
	MovementReturn     MovementType = "return"
	MovementAdjustment MovementType = "adjustment"
)

// Reference types linking a movement back to what caused it.
const (
	ReferenceOrder   = "order"
	ReferenceCatalog = "catalog"
	ReferenceManual  = "manual"
)

// EffectKind says how a movement quantity acts on stock.
type EffectKind int

const (
	// EffectDelta adds Sign x quantity.
	EffectDelta EffectKind = iota + 1
	// EffectAbsolute sets stock to quantity.
	EffectAbsolute
)

// Effect is what applying a movement does to a product's quantity.
type Effect struct {
	Kind EffectKind
	Sign int
}

var movementEffects = map[MovementType]Effect{
	MovementInbound:    {Kind: EffectDelta, Sign: 1},
	MovementReturn:     {Kind: EffectDelta, Sign: 1},
	MovementOutbound:   {Kind: EffectDelta, Sign: -1},
	MovementSale:       {Kind: EffectDelta, Sign: -1},
	MovementAdjustment: {Kind: EffectAbsolute},
}

// MovementTypes returns every movement type.
func MovementTypes() []MovementType {
	return []MovementType{MovementInbound, MovementOutbound, MovementSale, MovementReturn, MovementAdjustment}
}

// ParseMovementType returns the MovementType named s.
func ParseMovementType(s string) (MovementType, error) {
	t := MovementType(s)
	if _, ok := movementEffects[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidMovementType, s)
	}
	return t, nil
}

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	_, ok := movementEffects[t]
	return ok
}

// Effect returns the effect of t. It panics on an unknown type; values are
// expected to come from ParseMovementType or the constants.
func (t MovementType) Effect() Effect {
	e, ok := movementEffects[t]
	if !ok {
		panic(fmt.Sprintf("domain: no effect for movement type %q", string(t)))
	}
	return e
}

// ValidQuantity reports whether q is acceptable for t: positive for deltas,
// non-negative for an absolute adjustment.
func (t MovementType) ValidQuantity(q int) bool {
	if t.Effect().Kind == EffectAbsolute {
		return q >= 0
	}
	return q > 0
}

// Apply computes the quantity after applying quantity to current, clamped at
// zero, and the magnitude that was actually applied. For an absolute effect
// the applied value is the target itself.
func (e Effect) Apply(current, quantity int) (next, applied int) {
	if e.Kind == EffectAbsolute {
		next = max(quantity, 0)
		return next, next
	}
	next = max(current+e.Sign*quantity, 0)
	applied = next - current
	if applied < 0 {
		applied = -applied
	}
	return next, applied
}

// Fold applies a recorded movement to a running ledger balance. Recorded
// quantities are already clamped, so no floor is applied here.
func (e Effect) Fold(balance, quantity int) int {
	if e.Kind == EffectAbsolute {
		return quantity
	}
	return balance + e.Sign*quantity
}

// StockMovement is one row of the inventory ledger.
type StockMovement struct {
	ID             string       `json:"id"`
	Seq            int64        `json:"-"`
	ProductID      string       `json:"product_id"`
	Type           MovementType `json:"type"`
	Quantity       int          `json:"quantity"`
	Reason         string       `json:"reason"`
	ReferenceType  string       `json:"reference_type,omitempty"`
	ReferenceID    string       `json:"reference_id,omitempty"`
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// FoldLedger replays movements, oldest first, into a balance.
func FoldLedger(movements []StockMovement) int {
	balance := 0
	for _, m := range movements {
		balance = m.Type.Effect().Fold(balance, m.Quantity)
	}
	return balance
}

// MovementRequest asks the ledger to apply one movement to one product.
type MovementRequest struct {
	ProductID      string
	Type           MovementType
	Quantity       int
	Reason         string
	ReferenceType  string
	ReferenceID    string
	IdempotencyKey string
}

// StockChange is the outcome of one ledger mutation.
type StockChange struct {
	ProductID   string         `json:"product_id"`
	Type        MovementType   `json:"type"`
	OldQuantity int            `json:"old_quantity"`
	NewQuantity int            `json:"new_quantity"`
	MinQuantity *int           `json:"min_quantity,omitempty"`
	Requested   int            `json:"requested"`
	Applied     int            `json:"applied"`
	Movement    *StockMovement `json:"movement,omitempty"`
}

// Clamped reports whether a decrement hit the zero floor.
func (c *StockChange) Clamped() bool {
	return c.Type.Effect().Kind == EffectDelta && c.Applied < c.Requested
}

// Low reports whether the new quantity is below the product minimum.
func (c *StockChange) Low() bool {
	return BelowMinimum(c.NewQuantity, c.MinQuantity)
}

// MovementTotals are per-type sums of recorded movement quantities.
type MovementTotals struct {
	Inbound  int
	Outbound int
	Sale     int
	Return   int
}

// Add accumulates one movement into the totals; adjustments are not summed.
func (t *MovementTotals) Add(m StockMovement) {
	switch m.Type {
	case MovementInbound:
		t.Inbound += m.Quantity
	case MovementOutbound:
		t.Outbound += m.Quantity
	case MovementSale:
		t.Sale += m.Quantity
	case MovementReturn:
		t.Return += m.Quantity
	}
}

// StockSummary is the read-side reconciliation view of one product.
type StockSummary struct {
	ProductID     string `json:"product_id"`
	Entradas      int    `json:"entradas"`
	Saidas        int    `json:"saidas"`
	Vendas        int    `json:"vendas"`
	Devolucoes    int    `json:"devolucoes"`
	Saldo         int    `json:"saldo"`
	Quantity      int    `json:"quantity"`
	LedgerBalance int    `json:"ledger_balance"`
	Reconciled    bool   `json:"reconciled"`
}

// NewStockSummary builds a summary from the ledger aggregates and the stored
// quantity.
func NewStockSummary(productID string, quantity int, totals MovementTotals, ledgerBalance int) StockSummary {
	return StockSummary{
		ProductID:     productID,
		Entradas:      totals.Inbound,
		Saidas:        totals.Outbound,
		Vendas:        totals.Sale,
		Devolucoes:    totals.Return,
		Saldo:         totals.Inbound + totals.Return - totals.Outbound - totals.Sale,
		Quantity:      quantity,
		LedgerBalance: ledgerBalance,
		Reconciled:    ledgerBalance == quantity,
	}
}
