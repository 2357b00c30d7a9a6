package service

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// fakeLedger is an in-memory ledger with the same conditional write semantics
// as the MySQL adapter.
type fakeLedger struct {
	mu        sync.Mutex
	records   map[domain.StockKey]domain.StockRecord
	movements []domain.StockMovement

	getErr error
	casErr error
	// afterRead runs outside the lock once a record has been read
	afterRead func()
}

func newFakeLedger(records ...domain.StockRecord) *fakeLedger {
	l := &fakeLedger{records: make(map[domain.StockKey]domain.StockRecord)}
	for _, r := range records {
		l.records[r.Key()] = r
	}
	return l
}

func (l *fakeLedger) GetRecord(ctx context.Context, key domain.StockKey) (*domain.StockRecord, error) {
	l.mu.Lock()
	if l.getErr != nil {
		l.mu.Unlock()
		return nil, l.getErr
	}
	r, ok := l.records[key]
	hook := l.afterRead
	l.mu.Unlock()

	if !ok {
		return nil, nil
	}
	if hook != nil {
		hook()
	}
	return &r, nil
}

func (l *fakeLedger) CompareAndSwap(ctx context.Context, expectedVersion int64, next domain.StockRecord, movement domain.StockMovement) (port.CASResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.casErr != nil {
		return 0, l.casErr
	}
	cur, ok := l.records[next.Key()]
	if !ok {
		return port.CASNotFound, nil
	}
	if cur.Version != expectedVersion {
		return port.CASConflict, nil
	}
	cur.QuantityOnHand = next.QuantityOnHand
	cur.QuantityAllocated = next.QuantityAllocated
	cur.LastCountedAt = next.LastCountedAt
	cur.Version++
	l.records[cur.Key()] = cur
	l.movements = append(l.movements, movement)
	return port.CASApplied, nil
}

func (l *fakeLedger) record(key domain.StockKey) domain.StockRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records[key]
}

func (l *fakeLedger) delete(key domain.StockKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, key)
}

func (l *fakeLedger) movementCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.movements)
}

// fakeStore serves the read side and the reference data.
type fakeStore struct {
	records   []domain.StockRecord
	movements []domain.StockMovement
	totals    []domain.MovementTotal
	products  map[string]domain.Product
	demand    map[string]domain.PendingDemand

	listErr error

	lastRecordFilter   domain.RecordFilter
	lastMovementFilter domain.MovementFilter
	lastStatuses       []domain.OrderStatus
}

func (s *fakeStore) ListRecords(ctx context.Context, filter domain.RecordFilter) ([]domain.StockRecord, error) {
	s.lastRecordFilter = filter
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.StockRecord
	for _, r := range s.records {
		if filter.Warehouse != "" && r.WarehouseLocation != filter.Warehouse {
			continue
		}
		if len(filter.ProductIDs) > 0 && !slices.Contains(filter.ProductIDs, r.ProductID) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	s.lastMovementFilter = filter
	return s.movements, nil
}

func (s *fakeStore) MovementTotals(ctx context.Context, filter domain.MovementFilter) ([]domain.MovementTotal, error) {
	s.lastMovementFilter = filter
	return s.totals, nil
}

func (s *fakeStore) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product)
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *fakeStore) ListActiveProducts(ctx context.Context) ([]domain.Product, error) {
	var out []domain.Product
	for _, p := range s.products {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) PendingDemand(ctx context.Context, productIDs []string, statuses []domain.OrderStatus) (map[string]domain.PendingDemand, error) {
	s.lastStatuses = statuses
	out := make(map[string]domain.PendingDemand)
	for _, id := range productIDs {
		if d, ok := s.demand[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

func intPtr(v int) *int { return &v }

func stockRecord(productID, warehouse string, onHand, allocated int, version int64) domain.StockRecord {
	return domain.StockRecord{
		ProductID:         productID,
		WarehouseLocation: warehouse,
		QuantityOnHand:    onHand,
		QuantityAllocated: allocated,
		Version:           version,
		CreatedAt:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}
