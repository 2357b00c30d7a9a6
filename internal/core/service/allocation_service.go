package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/observability"
	"github.com/rl1809/stock-ledger/internal/port"
)

var (
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidKey      = errors.New("invalid stock key")
)

const (
	opAllocate = "allocate"
	opRelease  = "release"
	opAdjust   = "adjust"
)

// MutationOption attaches audit metadata to the movement a mutation emits.
type MutationOption func(*domain.MovementMeta)

func WithReference(referenceID string) MutationOption {
	return func(m *domain.MovementMeta) { m.ReferenceID = referenceID }
}

func WithActor(actor string) MutationOption {
	return func(m *domain.MovementMeta) { m.Actor = actor }
}

func WithNote(note string) MutationOption {
	return func(m *domain.MovementMeta) { m.Note = note }
}

// AllocationEngine is the only writer of quantityAllocated and
// quantityOnHand. Every mutation is one read plus one conditional write; a
// lost race is reported as OutcomeConcurrentModification and never retried here.
type AllocationEngine struct {
	ledger  port.LedgerRepository
	logger  *zap.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

func NewAllocationEngine(ledger port.LedgerRepository, logger *zap.Logger, metrics *observability.Metrics) *AllocationEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocationEngine{
		ledger:  ledger,
		logger:  logger,
		metrics: metrics,
		tracer:  observability.Tracer(),
		now:     time.Now,
	}
}

// plan is what a mutation intends to write, decided from the record it read.
type plan struct {
	outcome      domain.Outcome
	next         domain.StockRecord
	movementType domain.MovementType
	delta        int
}

// Allocate reserves quantity units for an order.
func (e *AllocationEngine) Allocate(ctx context.Context, productID, warehouse string, quantity int, opts ...MutationOption) (domain.MutationResult, error) {
	if quantity <= 0 {
		return domain.MutationResult{}, fmt.Errorf("%w: allocate %d", ErrInvalidQuantity, quantity)
	}
	return e.mutate(ctx, opAllocate, productID, warehouse, quantity, opts, func(cur domain.StockRecord, _ time.Time) plan {
		if cur.Available() < quantity {
			return plan{outcome: domain.OutcomeInsufficientStock}
		}
		next := cur
		next.QuantityAllocated += quantity
		return plan{outcome: domain.OutcomeApplied, next: next, movementType: domain.MovementAllocation, delta: quantity}
	})
}

// Release undoes an allocation. Over-release clamps allocated at zero instead
// of failing.
func (e *AllocationEngine) Release(ctx context.Context, productID, warehouse string, quantity int, opts ...MutationOption) (domain.MutationResult, error) {
	if quantity <= 0 {
		return domain.MutationResult{}, fmt.Errorf("%w: release %d", ErrInvalidQuantity, quantity)
	}
	return e.mutate(ctx, opRelease, productID, warehouse, quantity, opts, func(cur domain.StockRecord, _ time.Time) plan {
		released := min(quantity, cur.QuantityAllocated)
		next := cur
		next.QuantityAllocated = max(0, cur.QuantityAllocated-quantity)
		return plan{outcome: domain.OutcomeApplied, next: next, movementType: domain.MovementRelease, delta: -released}
	})
}

// Adjust sets on-hand after a physical count. It cannot go below what is
// already allocated.
func (e *AllocationEngine) Adjust(ctx context.Context, productID, warehouse string, newOnHand int, opts ...MutationOption) (domain.MutationResult, error) {
	if newOnHand < 0 {
		return domain.MutationResult{}, fmt.Errorf("%w: adjust to %d", ErrInvalidQuantity, newOnHand)
	}
	return e.mutate(ctx, opAdjust, productID, warehouse, newOnHand, opts, func(cur domain.StockRecord, now time.Time) plan {
		if newOnHand < cur.QuantityAllocated {
			return plan{outcome: domain.OutcomeInvalidAdjustment}
		}
		next := cur
		next.QuantityOnHand = newOnHand
		next.LastCountedAt = &now
		return plan{outcome: domain.OutcomeApplied, next: next, movementType: domain.MovementAdjustment, delta: newOnHand - cur.QuantityOnHand}
	})
}

// AvailableQuantity returns 0 for stock that was never provisioned.
func (e *AllocationEngine) AvailableQuantity(ctx context.Context, productID, warehouse string) (int, error) {
	key, err := stockKey(productID, warehouse)
	if err != nil {
		return 0, err
	}
	rec, err := e.ledger.GetRecord(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	if rec == nil {
		return 0, nil
	}
	return rec.Available(), nil
}

// CanAllocate is advisory only. It races with concurrent allocations, so
// callers must still check the result of Allocate.
func (e *AllocationEngine) CanAllocate(ctx context.Context, productID, warehouse string, quantity int) (bool, error) {
	available, err := e.AvailableQuantity(ctx, productID, warehouse)
	if err != nil {
		return false, err
	}
	return available >= quantity, nil
}

func (e *AllocationEngine) mutate(
	ctx context.Context,
	op, productID, warehouse string,
	requested int,
	opts []MutationOption,
	decide func(cur domain.StockRecord, now time.Time) plan,
) (res domain.MutationResult, err error) {
	key, err := stockKey(productID, warehouse)
	if err != nil {
		return domain.MutationResult{}, err
	}

	ctx, span := e.tracer.Start(ctx, "stock."+op, trace.WithAttributes(
		attribute.String("stock.product_id", key.ProductID),
		attribute.String("stock.warehouse", key.Warehouse),
		attribute.Int("stock.quantity", requested),
	))
	start := time.Now()
	defer func() {
		outcome := res.Outcome.String()
		if err != nil {
			outcome = "fault"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("stock.outcome", outcome))
		span.End()
		e.metrics.ObserveMutation(op, outcome, time.Since(start))
	}()

	res = domain.MutationResult{Key: key, Requested: requested}

	cur, err := e.ledger.GetRecord(ctx, key)
	if err != nil {
		e.logger.Error("read stock record", zap.String("op", op), zap.Stringer("key", key), zap.Error(err))
		return res, fmt.Errorf("%s %s: read record: %w", op, key, err)
	}
	if cur == nil {
		res.Outcome = domain.OutcomeNotFound
		e.logger.Debug("stock record not found", zap.String("op", op), zap.Stringer("key", key))
		return res, nil
	}

	now := e.now()
	p := decide(*cur, now)
	res.Outcome = p.outcome
	res.Record = *cur
	if p.outcome != domain.OutcomeApplied {
		e.logger.Info("stock mutation declined",
			zap.String("op", op),
			zap.Stringer("key", key),
			zap.Stringer("outcome", p.outcome),
			zap.String("reason", res.Reason()),
		)
		return res, nil
	}

	meta := domain.MovementMeta{}
	for _, opt := range opts {
		opt(&meta)
	}
	movement := domain.NewStockMovement(key, p.movementType, p.delta, meta, now)

	cas, err := e.ledger.CompareAndSwap(ctx, cur.Version, p.next, movement)
	if err != nil {
		e.logger.Error("conditional stock write", zap.String("op", op), zap.Stringer("key", key), zap.Error(err))
		return res, fmt.Errorf("%s %s: write record: %w", op, key, err)
	}

	switch cas {
	case port.CASApplied:
		next := p.next
		next.Version = cur.Version + 1
		next.UpdatedAt = now
		res.Record = next
		res.Movement = &movement
		e.logger.Debug("stock mutation applied",
			zap.String("op", op),
			zap.Stringer("key", key),
			zap.Int("delta", p.delta),
			zap.Int64("version", next.Version),
		)
	case port.CASConflict:
		res.Outcome = domain.OutcomeConcurrentModification
		e.logger.Info("stock version conflict", zap.String("op", op), zap.Stringer("key", key), zap.Int64("expected_version", cur.Version))
	case port.CASNotFound:
		res.Outcome = domain.OutcomeNotFound
		res.Record = domain.StockRecord{}
	default:
		return res, fmt.Errorf("%s %s: unexpected write result %d", op, key, int(cas))
	}
	return res, nil
}

func stockKey(productID, warehouse string) (domain.StockKey, error) {
	if productID == "" {
		return domain.StockKey{}, fmt.Errorf("%w: empty product id", ErrInvalidKey)
	}
	return domain.NewStockKey(productID, warehouse), nil
}
