package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/observability"
)

// StockMonitor periodically exports warehouse levels and backorder counts as
// gauges. Alerting on them is left to whoever scrapes /metrics.
type StockMonitor struct {
	reports  *ReportingService
	analyzer *FulfillmentAnalyzer
	interval time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func NewStockMonitor(reports *ReportingService, analyzer *FulfillmentAnalyzer, interval time.Duration, logger *zap.Logger, metrics *observability.Metrics) *StockMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StockMonitor{
		reports:  reports,
		analyzer: analyzer,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

func (m *StockMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if err := m.Scan(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("stock scan", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Scan runs one pass and updates the gauges.
func (m *StockMonitor) Scan(ctx context.Context) error {
	summaries, err := m.reports.AllWarehouseSummaries(ctx)
	if err != nil {
		return fmt.Errorf("warehouse summaries: %w", err)
	}
	for _, s := range summaries {
		m.metrics.SetWarehouseLevels(s.Warehouse, s.TotalAvailable, s.LowStockProducts)
	}

	backorders, err := m.analyzer.Backorders(ctx, "")
	if err != nil {
		return fmt.Errorf("backorders: %w", err)
	}
	m.metrics.SetBackordered(len(backorders))

	for _, b := range backorders {
		m.logger.Warn("product backordered",
			zap.String("product_id", b.ProductID),
			zap.Int("available", b.Available),
			zap.Int("pending_quantity", b.PendingQuantity),
			zap.Int("backorder_quantity", b.BackorderQuantity),
		)
	}
	return nil
}
