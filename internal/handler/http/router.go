package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/fulfillment/internal/service"
	"github.com/utafrali/fulfillment/pkg/health"
	"github.com/utafrali/fulfillment/pkg/middleware"
)

// RouterConfig holds the HTTP settings that come from configuration.
type RouterConfig struct {
	CORS       middleware.CORSConfig
	PprofCIDRs []string
}

// NewRouter creates a chi router with all fulfillment routes registered.
func NewRouter(
	orderService *service.OrderService,
	stockService *service.StockService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("fulfillment"))
	r.Use(middleware.Tracing())
	r.Use(middleware.Identity())
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)

	orderHandler := NewOrderHandler(orderService, logger)
	stockHandler := NewStockHandler(stockService, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.With(ContentTypeJSON, middleware.RequireUser()).Post("/", orderHandler.CreateOrder)
			r.Get("/{id}", orderHandler.GetOrder)
			r.With(ContentTypeJSON).Patch("/{id}/status", orderHandler.UpdateOrderStatus)
			// Bodyless; operators call it after restocking a held order.
			r.Post("/{id}/fulfillment", orderHandler.RetryFulfillment)
		})

		r.With(ContentTypeJSON).Post("/stock-movements", stockHandler.CreateStockMovement)
		r.Get("/products/{id}/stock-summary", stockHandler.GetStockSummary)
		r.Get("/products/{id}/stock-movements", stockHandler.ListMovements)
	})

	return r
}
