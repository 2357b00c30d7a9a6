package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stock_ledger"

// Metrics holds the ledger's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	MutationsTotal   *prometheus.CounterVec
	MutationDuration *prometheus.HistogramVec
	MovementsRelayed *prometheus.CounterVec
	RelayBacklog     prometheus.Gauge

	WarehouseAvailable  *prometheus.GaugeVec
	LowStockProducts    *prometheus.GaugeVec
	BackorderedProducts prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.MutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_mutations_total",
			Help:      "Ledger mutations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	m.MutationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stock_mutation_duration_seconds",
			Help:      "Read plus conditional write latency per mutation",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	m.MovementsRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_movements_relayed_total",
			Help:      "Movements handed to the audit stream",
		},
		[]string{"sink", "status"},
	)

	m.RelayBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stock_relay_backlog",
			Help:      "Unpublished movements seen by the last relay poll",
		},
	)

	m.WarehouseAvailable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "warehouse_available_units",
			Help:      "Unallocated on-hand units per warehouse at the last scan",
		},
		[]string{"warehouse"},
	)

	m.LowStockProducts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "low_stock_products",
			Help:      "Products at or below their reorder level per warehouse",
		},
		[]string{"warehouse"},
	)

	m.BackorderedProducts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backordered_products",
			Help:      "Products whose open order quantity exceeds availability",
		},
	)

	registry.MustRegister(
		m.MutationsTotal,
		m.MutationDuration,
		m.MovementsRelayed,
		m.RelayBacklog,
		m.WarehouseAvailable,
		m.LowStockProducts,
		m.BackorderedProducts,
	)
	return m
}

func (m *Metrics) ObserveMutation(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(operation, outcome).Inc()
	m.MutationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRelay(sink, status string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.MovementsRelayed.WithLabelValues(sink, status).Add(float64(count))
}

func (m *Metrics) SetRelayBacklog(n int) {
	if m == nil {
		return
	}
	m.RelayBacklog.Set(float64(n))
}

func (m *Metrics) SetWarehouseLevels(warehouse string, available, lowStock int) {
	if m == nil {
		return
	}
	m.WarehouseAvailable.WithLabelValues(warehouse).Set(float64(available))
	m.LowStockProducts.WithLabelValues(warehouse).Set(float64(lowStock))
}

func (m *Metrics) SetBackordered(n int) {
	if m == nil {
		return
	}
	m.BackorderedProducts.Set(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
