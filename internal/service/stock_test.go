package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/fulfillment/internal/domain"
	"github.com/utafrali/fulfillment/internal/event"
	apperrors "github.com/utafrali/fulfillment/pkg/errors"
	pkgkafka "github.com/utafrali/fulfillment/pkg/kafka"
)

func newStockService(f *ledgerFixture) *StockService {
	return NewStockService(f.db.Products(), f.ledger, newTestLogger())
}

// ---------------------------------------------------------------------------
// CreateStockMovement
// ---------------------------------------------------------------------------

func TestCreateStockMovement_Validation(t *testing.T) {
	tests := []struct {
		name  string
		input CreateStockMovementInput
	}{
		{"missing product", CreateStockMovementInput{Type: "inbound", Quantity: 1}},
		{"unknown type", CreateStockMovementInput{ProductID: "p1", Type: "gift", Quantity: 1}},
		{"zero delta", CreateStockMovementInput{ProductID: "p1", Type: "sale", Quantity: 0}},
		{"negative delta", CreateStockMovementInput{ProductID: "p1", Type: "inbound", Quantity: -2}},
		{"negative adjustment", CreateStockMovementInput{ProductID: "p1", Type: "adjustment", Quantity: -1}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newLedgerFixture(t)
			f.db.PutProduct(domain.Product{ID: "p1", Quantity: 5})
			svc := newStockService(f)

			_, err := svc.CreateStockMovement(context.Background(), tc.input)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.Equal(t, 5, f.quantity(t, "p1"))
			assert.Empty(t, f.movements(t, "p1"))
		})
	}
}

func TestCreateStockMovement_AdjustmentToZero(t *testing.T) {
	f := newLedgerFixture(t)
	f.db.PutProduct(domain.Product{ID: "p1", Quantity: 5})
	svc := newStockService(f)

	change, err := svc.CreateStockMovement(context.Background(), CreateStockMovementInput{
		ProductID: "p1", Type: "adjustment", Quantity: 0, Reason: "cycle count",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, change.NewQuantity)
	require.NotNil(t, change.Movement)
	assert.Equal(t, domain.ReferenceManual, change.Movement.ReferenceType)
}

func TestCreateStockMovement_UnknownProduct(t *testing.T) {
	f := newLedgerFixture(t)
	svc := newStockService(f)

	_, err := svc.CreateStockMovement(context.Background(), CreateStockMovementInput{
		ProductID: "ghost", Type: "inbound", Quantity: 1,
	})
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "UNKNOWN_PRODUCT", appErr.Code)
}

func TestCreateStockMovement_ReplayedKey(t *testing.T) {
	f := newLedgerFixture(t)
	f.db.PutProduct(domain.Product{ID: "p1", Quantity: 5})
	svc := newStockService(f)
	input := CreateStockMovementInput{ProductID: "p1", Type: "inbound", Quantity: 3, IdempotencyKey: "req-1"}

	_, err := svc.CreateStockMovement(context.Background(), input)
	require.NoError(t, err)
	_, err = svc.CreateStockMovement(context.Background(), input)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	assert.Equal(t, 8, f.quantity(t, "p1"))
}

// Identical manual movements are distinct operations and both apply.
func TestCreateStockMovement_RepeatedWithoutKey(t *testing.T) {
	f := newLedgerFixture(t)
	f.db.PutProduct(domain.Product{ID: "p1", Quantity: 5})
	svc := newStockService(f)
	input := CreateStockMovementInput{ProductID: "p1", Type: "outbound", Quantity: 1, Reason: "damaged"}

	for range 2 {
		_, err := svc.CreateStockMovement(context.Background(), input)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.quantity(t, "p1"))
	assert.Len(t, f.movements(t, "p1"), 2)
}

// ---------------------------------------------------------------------------
// GetStockSummary / ListMovements
// ---------------------------------------------------------------------------

func TestGetStockSummary(t *testing.T) {
	f := newLedgerFixture(t)
	f.db.PutProduct(domain.Product{ID: "p1", Quantity: 0})
	svc := newStockService(f)
	ctx := context.Background()

	for _, in := range []CreateStockMovementInput{
		{Type: "inbound", Quantity: 10},
		{Type: "sale", Quantity: 3},
		{Type: "return", Quantity: 1},
		{Type: "outbound", Quantity: 2},
	} {
		in.ProductID = "p1"
		_, err := svc.CreateStockMovement(ctx, in)
		require.NoError(t, err)
	}

	summary, err := svc.GetStockSummary(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, summary.Entradas)
	assert.Equal(t, 2, summary.Saidas)
	assert.Equal(t, 3, summary.Vendas)
	assert.Equal(t, 1, summary.Devolucoes)
	assert.Equal(t, 6, summary.Saldo)
	assert.Equal(t, 6, summary.Quantity)
	assert.True(t, summary.Reconciled)
}

func TestGetStockSummary_AdjustmentMovesBalanceNotSaldo(t *testing.T) {
	f := newLedgerFixture(t)
	f.db.PutProduct(domain.Product{ID: "p1", Quantity: 0})
	svc := newStockService(f)
	ctx := context.Background()

	_, err := svc.CreateStockMovement(ctx, CreateStockMovementInput{ProductID: "p1", Type: "inbound", Quantity: 10})
	require.NoError(t, err)
	_, err = svc.CreateStockMovement(ctx, CreateStockMovementInput{ProductID: "p1", Type: "adjustment", Quantity: 4})
	require.NoError(t, err)

	summary, err := svc.GetStockSummary(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, summary.Saldo)
	assert.Equal(t, 4, summary.LedgerBalance)
	assert.Equal(t, 4, summary.Quantity)
	assert.True(t, summary.Reconciled)
}

func TestGetStockSummary_DetectsDrift(t *testing.T) {
	f := newLedgerFixture(t)
	f.db.PutProduct(domain.Product{ID: "p1", Quantity: 0})
	svc := newStockService(f)

	_, err := svc.CreateStockMovement(context.Background(), CreateStockMovementInput{ProductID: "p1", Type: "inbound", Quantity: 5})
	require.NoError(t, err)
	f.db.SetQuantity("p1", 9)

	summary, err := svc.GetStockSummary(context.Background(), "p1")
	require.NoError(t, err)
	assert.False(t, summary.Reconciled)
	assert.Equal(t, 5, summary.LedgerBalance)
}

func TestGetStockSummary_UnknownProduct(t *testing.T) {
	f := newLedgerFixture(t)
	_, err := newStockService(f).GetStockSummary(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestListMovements_NewestFirst(t *testing.T) {
	f := newLedgerFixture(t)
	f.db.PutProduct(domain.Product{ID: "p1", Quantity: 0})
	svc := newStockService(f)
	ctx := context.Background()

	for q := 1; q <= 5; q++ {
		_, err := svc.CreateStockMovement(ctx, CreateStockMovementInput{ProductID: "p1", Type: "inbound", Quantity: q})
		require.NoError(t, err)
	}

	page, total, err := svc.ListMovements(ctx, "p1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, 5, page[0].Quantity)
	assert.Equal(t, 4, page[1].Quantity)

	page, _, err = svc.ListMovements(ctx, "p1", 3, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, 1, page[0].Quantity)
}

func TestListMovements_UnknownProduct(t *testing.T) {
	f := newLedgerFixture(t)
	_, _, err := newStockService(f).ListMovements(context.Background(), "ghost", 1, 20)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// ---------------------------------------------------------------------------
// RecordObservedChange
// ---------------------------------------------------------------------------

func TestRecordObservedChange_RecordsWithoutMutating(t *testing.T) {
	f := newLedgerFixture(t)
	f.db.PutProduct(domain.Product{ID: "p1", Quantity: 12})
	svc := newStockService(f)

	err := svc.RecordObservedChange(context.Background(), event.ProductStockChangedData{
		ProductID: "p1", OldQuantity: 10, NewQuantity: 12, Reason: "catalog edit",
	})
	require.NoError(t, err)

	ms := f.movements(t, "p1")
	require.Len(t, ms, 1)
	assert.Equal(t, domain.MovementInbound, ms[0].Type)
	assert.Equal(t, 2, ms[0].Quantity)
	assert.Equal(t, domain.ReferenceCatalog, ms[0].ReferenceType)
	assert.Equal(t, 12, f.quantity(t, "p1"))
}

func TestRecordObservedChange_DuplicateWithinWindow(t *testing.T) {
	f := newLedgerFixture(t)
	f.db.PutProduct(domain.Product{ID: "p1", Quantity: 4})
	svc := newStockService(f)
	data := event.ProductStockChangedData{ProductID: "p1", OldQuantity: 7, NewQuantity: 4, Reason: "shrinkage"}

	require.NoError(t, svc.RecordObservedChange(context.Background(), data))
	require.NoError(t, svc.RecordObservedChange(context.Background(), data))

	ms := f.movements(t, "p1")
	require.Len(t, ms, 1)
	assert.Equal(t, domain.MovementOutbound, ms[0].Type)
	assert.Equal(t, 3, ms[0].Quantity)
}

func TestRecordObservedChange_DifferentReasonIsDistinct(t *testing.T) {
	f := newLedgerFixture(t)
	f.db.PutProduct(domain.Product{ID: "p1", Quantity: 4})
	svc := newStockService(f)

	require.NoError(t, svc.RecordObservedChange(context.Background(), event.ProductStockChangedData{
		ProductID: "p1", OldQuantity: 7, NewQuantity: 4, Reason: "shrinkage",
	}))
	require.NoError(t, svc.RecordObservedChange(context.Background(), event.ProductStockChangedData{
		ProductID: "p1", OldQuantity: 7, NewQuantity: 4, Reason: "recount",
	}))

	assert.Len(t, f.movements(t, "p1"), 2)
}

func TestRecordObservedChange_SkipsLedgerEvents(t *testing.T) {
	f := newLedgerFixture(t)
	f.db.PutProduct(domain.Product{ID: "p1", Quantity: 7})
	svc := newStockService(f)

	err := svc.RecordObservedChange(context.Background(), event.ProductStockChangedData{
		ProductID: "p1", OldQuantity: 10, NewQuantity: 7, MovementID: "m1", Source: event.SourceFulfillmentService,
	})
	require.NoError(t, err)
	assert.Empty(t, f.movements(t, "p1"))
}

func TestRecordObservedChange_EchoOfLedgerMovementSuppressed(t *testing.T) {
	f := newLedgerFixture(t)
	f.db.PutProduct(domain.Product{ID: "p1", Quantity: 0})
	svc := newStockService(f)
	ctx := context.Background()

	_, err := svc.CreateStockMovement(ctx, CreateStockMovementInput{ProductID: "p1", Type: "inbound", Quantity: 5, Reason: "restock"})
	require.NoError(t, err)

	require.NoError(t, svc.RecordObservedChange(ctx, event.ProductStockChangedData{
		ProductID: "p1", OldQuantity: 0, NewQuantity: 5, Reason: "restock",
	}))

	assert.Len(t, f.movements(t, "p1"), 1)
	summary, err := svc.GetStockSummary(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, summary.Reconciled)
}

func TestRecordObservedChange_NoChange(t *testing.T) {
	f := newLedgerFixture(t)
	f.db.PutProduct(domain.Product{ID: "p1", Quantity: 3})
	svc := newStockService(f)

	require.NoError(t, svc.RecordObservedChange(context.Background(), event.ProductStockChangedData{
		ProductID: "p1", OldQuantity: 3, NewQuantity: 3,
	}))
	assert.Empty(t, f.movements(t, "p1"))
}

func TestRecordObservedChange_MissingProductIsPermanent(t *testing.T) {
	f := newLedgerFixture(t)
	svc := newStockService(f)

	err := svc.RecordObservedChange(context.Background(), event.ProductStockChangedData{
		ProductID: "ghost", OldQuantity: 1, NewQuantity: 2,
	})
	require.Error(t, err)
	assert.True(t, pkgkafka.IsPermanent(err))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

type failingGuard struct{}

func (failingGuard) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func (failingGuard) Release(context.Context, string) error { return nil }

func TestRecordObservedChange_GuardErrorIsRetryable(t *testing.T) {
	f := newLedgerFixture(t)
	f.db.PutProduct(domain.Product{ID: "p1", Quantity: 3})
	f.ledger.guard = failingGuard{}
	svc := newStockService(f)

	err := svc.RecordObservedChange(context.Background(), event.ProductStockChangedData{
		ProductID: "p1", OldQuantity: 1, NewQuantity: 3,
	})
	require.Error(t, err)
	assert.False(t, pkgkafka.IsPermanent(err))
	assert.Empty(t, f.movements(t, "p1"))
}
