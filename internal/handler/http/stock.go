package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/fulfillment/internal/domain"
	"github.com/utafrali/fulfillment/internal/service"
	"github.com/utafrali/fulfillment/pkg/httputil"
	"github.com/utafrali/fulfillment/pkg/pagination"
	"github.com/utafrali/fulfillment/pkg/validator"
)

// IdempotencyKeyHeader lets a client retry a manual movement safely.
const IdempotencyKeyHeader = "Idempotency-Key"

func init() {
	validator.RegisterStringRule("movement_type", func(s string) bool {
		return domain.MovementType(s).Valid()
	})
}

// StockHandler handles HTTP requests for stock movement endpoints.
type StockHandler struct {
	service *service.StockService
	logger  *slog.Logger
}

// NewStockHandler creates a new stock HTTP handler.
func NewStockHandler(svc *service.StockService, logger *slog.Logger) *StockHandler {
	return &StockHandler{
		service: svc,
		logger:  logger,
	}
}

// CreateStockMovementRequest is the JSON request body for a manual movement.
type CreateStockMovementRequest struct {
	ProductID     string `json:"product_id" validate:"required,uuid"`
	Type          string `json:"type" validate:"required,movement_type"`
	Quantity      int    `json:"quantity" validate:"gte=0"`
	Reason        string `json:"reason" validate:"max=500"`
	ReferenceType string `json:"reference_type" validate:"omitempty,oneof=order catalog manual"`
	ReferenceID   string `json:"reference_id" validate:"max=255"`
}

// CreateStockMovement handles POST /api/v1/stock-movements
func (h *StockHandler) CreateStockMovement(w http.ResponseWriter, r *http.Request) {
	var req CreateStockMovementRequest
	if err := validator.DecodeAndValidate(w, r, &req, maxBodyBytes); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	change, err := h.service.CreateStockMovement(r.Context(), service.CreateStockMovementInput{
		ProductID:      req.ProductID,
		Type:           req.Type,
		Quantity:       req.Quantity,
		Reason:         req.Reason,
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: change})
}

// GetStockSummary handles GET /api/v1/products/{id}/stock-summary
func (h *StockHandler) GetStockSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	summary, err := h.service.GetStockSummary(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: summary})
}

// ListMovements handles GET /api/v1/products/{id}/stock-movements
func (h *StockHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	params := pagination.FromRequest(r)
	movements, total, err := h.service.ListMovements(r.Context(), id.String(), params.Page, params.PerPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(movements, total, params))
}
