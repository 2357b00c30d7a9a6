package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/observability"
	"github.com/rl1809/stock-ledger/internal/port"
)

var ErrInvalidRange = errors.New("invalid date range")

type ReportingService struct {
	records port.StockQueryRepository
	catalog port.ProductCatalog
	logger  *zap.Logger
	tracer  trace.Tracer
}

func NewReportingService(records port.StockQueryRepository, catalog port.ProductCatalog, logger *zap.Logger) *ReportingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportingService{
		records: records,
		catalog: catalog,
		logger:  logger,
		tracer:  observability.Tracer(),
	}
}

func (s *ReportingService) WarehouseSummary(ctx context.Context, warehouse string) (domain.WarehouseSummary, error) {
	warehouse = domain.NewStockKey("", warehouse).Warehouse
	ctx, span := s.tracer.Start(ctx, "report.warehouse_summary", trace.WithAttributes(
		attribute.String("stock.warehouse", warehouse),
	))
	defer span.End()

	summaries, err := s.summarise(ctx, domain.RecordFilter{Warehouse: warehouse})
	if err != nil {
		span.RecordError(err)
		return domain.WarehouseSummary{}, err
	}
	if len(summaries) == 0 {
		return domain.WarehouseSummary{Warehouse: warehouse}, nil
	}
	return summaries[0], nil
}

// AllWarehouseSummaries returns one summary per warehouse, ordered by name.
func (s *ReportingService) AllWarehouseSummaries(ctx context.Context) ([]domain.WarehouseSummary, error) {
	ctx, span := s.tracer.Start(ctx, "report.all_warehouse_summaries")
	defer span.End()

	summaries, err := s.summarise(ctx, domain.RecordFilter{})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return summaries, nil
}

func (s *ReportingService) summarise(ctx context.Context, filter domain.RecordFilter) ([]domain.WarehouseSummary, error) {
	records, products, err := s.recordsWithProducts(ctx, filter)
	if err != nil {
		return nil, err
	}

	byWarehouse := make(map[string]*domain.WarehouseSummary)
	for _, r := range records {
		sum, ok := byWarehouse[r.WarehouseLocation]
		if !ok {
			sum = &domain.WarehouseSummary{Warehouse: r.WarehouseLocation}
			byWarehouse[r.WarehouseLocation] = sum
		}
		status := domain.ClassifyStock(r.Available(), products[r.ProductID].Threshold())
		sum.Add(r, status != domain.StockStatusAvailable)
	}

	out := make([]domain.WarehouseSummary, 0, len(byWarehouse))
	for _, sum := range byWarehouse {
		out = append(out, *sum)
	}
	slices.SortFunc(out, func(a, b domain.WarehouseSummary) int {
		return cmp.Compare(a.Warehouse, b.Warehouse)
	})
	return out, nil
}

// Turnover reports received and sold quantities for a product in [from, to).
// The average inventory level is the combined on-hand of the matching ledger
// rows. An empty warehouse covers all warehouses.
func (s *ReportingService) Turnover(ctx context.Context, productID, warehouse string, from, to time.Time) (domain.TurnoverMetrics, error) {
	if productID == "" {
		return domain.TurnoverMetrics{}, fmt.Errorf("%w: empty product id", ErrInvalidKey)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return domain.TurnoverMetrics{}, fmt.Errorf("%w: %s is before %s", ErrInvalidRange, to.Format(time.RFC3339), from.Format(time.RFC3339))
	}

	ctx, span := s.tracer.Start(ctx, "report.turnover", trace.WithAttributes(
		attribute.String("stock.product_id", productID),
		attribute.String("stock.warehouse", warehouse),
	))
	defer span.End()

	totals, err := s.records.MovementTotals(ctx, domain.MovementFilter{
		ProductID: productID,
		Warehouse: warehouse,
		From:      from,
		To:        to,
	})
	if err != nil {
		span.RecordError(err)
		return domain.TurnoverMetrics{}, fmt.Errorf("movement totals: %w", err)
	}

	records, err := s.records.ListRecords(ctx, domain.RecordFilter{Warehouse: warehouse, ProductIDs: []string{productID}})
	if err != nil {
		span.RecordError(err)
		return domain.TurnoverMetrics{}, fmt.Errorf("list stock records: %w", err)
	}
	// prices come from the catalog even when the warehouse holds no row
	products, err := s.catalog.GetProducts(ctx, []string{productID})
	if err != nil {
		span.RecordError(err)
		return domain.TurnoverMetrics{}, fmt.Errorf("get products: %w", err)
	}

	// sold covers every matching warehouse, so the level is their combined on-hand
	onHand := 0
	for _, r := range records {
		onHand += r.QuantityOnHand
	}
	average := float64(onHand)

	return domain.NewTurnoverMetrics(productID, warehouse, from, to, totals, average, products[productID]), nil
}

// AllocationRates lists the share of on-hand stock promised to orders per
// product, highest first.
func (s *ReportingService) AllocationRates(ctx context.Context, warehouse string) ([]domain.AllocationRate, error) {
	ctx, span := s.tracer.Start(ctx, "report.allocation_rates", trace.WithAttributes(
		attribute.String("stock.warehouse", warehouse),
	))
	defer span.End()

	records, products, err := s.recordsWithProducts(ctx, domain.RecordFilter{Warehouse: warehouse})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	rates := make([]domain.AllocationRate, 0, len(records))
	for _, r := range records {
		p, ok := products[r.ProductID]
		if !ok {
			p = domain.Product{ID: r.ProductID}
		}
		rates = append(rates, domain.AllocationRate{
			ProductID:            r.ProductID,
			Name:                 p.DisplayName(),
			Warehouse:            r.WarehouseLocation,
			OnHand:               r.QuantityOnHand,
			Allocated:            r.QuantityAllocated,
			AllocationPercentage: domain.AllocationPercentage(r.QuantityAllocated, r.QuantityOnHand),
		})
	}
	slices.SortStableFunc(rates, func(a, b domain.AllocationRate) int {
		if c := cmp.Compare(b.AllocationPercentage, a.AllocationPercentage); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return rates, nil
}

func (s *ReportingService) MovementHistory(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("%w: %s is before %s", ErrInvalidRange, filter.To.Format(time.RFC3339), filter.From.Format(time.RFC3339))
	}
	movements, err := s.records.ListMovements(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	return movements, nil
}

func (s *ReportingService) recordsWithProducts(ctx context.Context, filter domain.RecordFilter) ([]domain.StockRecord, map[string]domain.Product, error) {
	records, err := s.records.ListRecords(ctx, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("list stock records: %w", err)
	}
	if len(records) == 0 {
		return records, map[string]domain.Product{}, nil
	}

	seen := make(map[string]struct{}, len(records))
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.ProductID]; ok {
			continue
		}
		seen[r.ProductID] = struct{}{}
		ids = append(ids, r.ProductID)
	}

	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("get products: %w", err)
	}
	return records, products, nil
}
