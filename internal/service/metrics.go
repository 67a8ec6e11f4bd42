package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders accepted",
		},
	)

	advisoryShortfalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fulfillment_advisory_shortfall_total",
			Help: "Orders accepted although the courtesy stock check saw a shortfall",
		},
	)

	fulfillmentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_failures_total",
			Help: "Accepted orders the orchestrator could not fulfill",
		},
		[]string{"reason"},
	)

	adjustmentsClamped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adjustment_clamped_total",
			Help: "Adjustments whose decrement was clamped at zero stock",
		},
	)

	adjustmentPermanentFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adjustment_permanent_failures_total",
			Help: "Adjustment tasks dropped without retry",
		},
	)

	movementsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_movements_recorded_total",
			Help: "Stock movements appended to the ledger",
		},
		[]string{"type", "source"},
	)
)
