package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/observability"
	"github.com/rl1809/stock-ledger/internal/port"
)

// FulfillmentAnalyzer classifies stock against catalog reorder thresholds and
// open order demand. It never writes.
type FulfillmentAnalyzer struct {
	records        port.StockQueryRepository
	catalog        port.ProductCatalog
	backlog        port.OrderBacklog
	defaultReorder int
	logger         *zap.Logger
	tracer         trace.Tracer
}

func NewFulfillmentAnalyzer(records port.StockQueryRepository, catalog port.ProductCatalog, backlog port.OrderBacklog, defaultReorder int, logger *zap.Logger) *FulfillmentAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultReorder <= 0 {
		defaultReorder = domain.FallbackReorderQuantity
	}
	return &FulfillmentAnalyzer{
		records:        records,
		catalog:        catalog,
		backlog:        backlog,
		defaultReorder: defaultReorder,
		logger:         logger,
		tracer:         observability.Tracer(),
	}
}

// Analyze lists the given products, or every active product when none are
// named, most scarce first. An empty warehouse covers all warehouses.
func (a *FulfillmentAnalyzer) Analyze(ctx context.Context, warehouse string, productIDs ...string) ([]domain.FulfillmentView, error) {
	ctx, span := a.tracer.Start(ctx, "fulfillment.analyze", trace.WithAttributes(
		attribute.String("stock.warehouse", warehouse),
		attribute.Int("stock.products", len(productIDs)),
	))
	defer span.End()

	products, err := a.products(ctx, productIDs)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(productIDs) == 0 {
		if len(products) == 0 {
			return []domain.FulfillmentView{}, nil
		}
		for id := range products {
			productIDs = append(productIDs, id)
		}
	}

	records, err := a.records.ListRecords(ctx, domain.RecordFilter{Warehouse: warehouse, ProductIDs: productIDs})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list stock records: %w", err)
	}

	views := make([]domain.FulfillmentView, 0, len(records))
	for _, r := range records {
		p, ok := products[r.ProductID]
		if !ok {
			p = domain.Product{ID: r.ProductID}
		}
		views = append(views, domain.NewFulfillmentView(r, p, a.defaultReorder))
	}
	domain.SortByScarcity(views)
	return views, nil
}

// LowStock returns products at or below their reorder level, including the
// ones that are out of stock. limit <= 0 means no limit.
func (a *FulfillmentAnalyzer) LowStock(ctx context.Context, warehouse string, limit int) ([]domain.FulfillmentView, error) {
	views, err := a.Analyze(ctx, warehouse)
	if err != nil {
		return nil, err
	}
	low := filterViews(views, func(v domain.FulfillmentView) bool {
		return v.Status != domain.StockStatusAvailable
	})
	if limit > 0 && len(low) > limit {
		low = low[:limit]
	}
	return low, nil
}

func (a *FulfillmentAnalyzer) OutOfStock(ctx context.Context, warehouse string) ([]domain.FulfillmentView, error) {
	views, err := a.Analyze(ctx, warehouse)
	if err != nil {
		return nil, err
	}
	return filterViews(views, func(v domain.FulfillmentView) bool {
		return v.Status == domain.StockStatusOutOfStock
	}), nil
}

// Exposure compares open order demand for one product with what is available.
func (a *FulfillmentAnalyzer) Exposure(ctx context.Context, productID, warehouse string) (domain.BackorderExposure, error) {
	views, err := a.Analyze(ctx, warehouse, productID)
	if err != nil {
		return domain.BackorderExposure{}, err
	}
	views = mergeByProduct(views, warehouse)

	demand, err := a.backlog.PendingDemand(ctx, []string{productID}, domain.OpenOrderStatuses)
	if err != nil {
		return domain.BackorderExposure{}, fmt.Errorf("pending demand for %s: %w", productID, err)
	}

	view := domain.FulfillmentView{ProductID: productID, Name: productID, Warehouse: warehouse}
	if len(views) > 0 {
		view = views[0]
	}
	return domain.NewBackorderExposure(view, demand[productID]), nil
}

// Backorders lists active products whose open order quantity exceeds
// availability, largest shortfall first.
func (a *FulfillmentAnalyzer) Backorders(ctx context.Context, warehouse string) ([]domain.BackorderExposure, error) {
	ctx, span := a.tracer.Start(ctx, "fulfillment.backorders", trace.WithAttributes(
		attribute.String("stock.warehouse", warehouse),
	))
	defer span.End()

	views, err := a.Analyze(ctx, warehouse)
	if err != nil {
		return nil, err
	}
	views = mergeByProduct(views, warehouse)
	if len(views) == 0 {
		return []domain.BackorderExposure{}, nil
	}

	ids := make([]string, 0, len(views))
	for _, v := range views {
		ids = append(ids, v.ProductID)
	}
	demand, err := a.backlog.PendingDemand(ctx, ids, domain.OpenOrderStatuses)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("pending demand: %w", err)
	}

	out := make([]domain.BackorderExposure, 0)
	for _, v := range views {
		d, ok := demand[v.ProductID]
		if !ok {
			continue
		}
		if e := domain.NewBackorderExposure(v, d); e.HasBackorders {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(x, y domain.BackorderExposure) int {
		if c := cmp.Compare(y.BackorderQuantity, x.BackorderQuantity); c != 0 {
			return c
		}
		return cmp.Compare(x.Name, y.Name)
	})

	a.logger.Debug("backorder scan", zap.String("warehouse", warehouse), zap.Int("products", len(views)), zap.Int("backordered", len(out)))
	return out, nil
}

func (a *FulfillmentAnalyzer) products(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if len(ids) > 0 {
		products, err := a.catalog.GetProducts(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("get products: %w", err)
		}
		return products, nil
	}

	active, err := a.catalog.ListActiveProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active products: %w", err)
	}
	products := make(map[string]domain.Product, len(active))
	for _, p := range active {
		products[p.ID] = p
	}
	return products, nil
}

func filterViews(views []domain.FulfillmentView, keep func(domain.FulfillmentView) bool) []domain.FulfillmentView {
	out := make([]domain.FulfillmentView, 0, len(views))
	for _, v := range views {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// mergeByProduct folds per-warehouse rows into one row per product when no
// warehouse was requested, since order demand is not tracked per warehouse.
func mergeByProduct(views []domain.FulfillmentView, warehouse string) []domain.FulfillmentView {
	if warehouse != "" {
		return views
	}

	merged := make([]domain.FulfillmentView, 0, len(views))
	index := make(map[string]int, len(views))
	for _, v := range views {
		i, ok := index[v.ProductID]
		if !ok {
			v.Warehouse = ""
			index[v.ProductID] = len(merged)
			merged = append(merged, v)
			continue
		}
		m := &merged[i]
		m.OnHand += v.OnHand
		m.Allocated += v.Allocated
		m.Available += v.Available
		m.Status = domain.ClassifyStock(m.Available, m.ReorderLevel)
		m.AllocationPercentage = domain.AllocationPercentage(m.Allocated, m.OnHand)
	}
	domain.SortByScarcity(merged)
	return merged
}
