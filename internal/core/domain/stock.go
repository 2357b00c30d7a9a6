package domain

import (
	"fmt"
	"time"
)

// DefaultWarehouse is used when a caller does not name a warehouse.
const DefaultWarehouse = "MAIN"

// StockKey identifies a single ledger row.
type StockKey struct {
	ProductID string
	Warehouse string
}

func NewStockKey(productID, warehouse string) StockKey {
	if warehouse == "" {
		warehouse = DefaultWarehouse
	}
	return StockKey{ProductID: productID, Warehouse: warehouse}
}

func (k StockKey) String() string {
	return fmt.Sprintf("%s@%s", k.ProductID, k.Warehouse)
}

type StockRecord struct {
	ID                int64      `db:"id"`
	ProductID         string     `db:"product_id"`
	WarehouseLocation string     `db:"warehouse_location"`
	QuantityOnHand    int        `db:"quantity_on_hand"`
	QuantityAllocated int        `db:"quantity_allocated"`
	Version           int64      `db:"version"` // optimistic locking
	LastCountedAt     *time.Time `db:"last_counted_at"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

func (r StockRecord) Key() StockKey {
	return StockKey{ProductID: r.ProductID, Warehouse: r.WarehouseLocation}
}

// Available is on-hand minus allocated, never below zero.
func (r StockRecord) Available() int {
	return max(0, r.QuantityOnHand-r.QuantityAllocated)
}

// Valid reports whether the record satisfies the ledger invariants.
func (r StockRecord) Valid() bool {
	return r.QuantityOnHand >= 0 && r.QuantityAllocated >= 0 && r.QuantityAllocated <= r.QuantityOnHand
}

// RecordFilter narrows ledger listings. Empty fields match everything.
type RecordFilter struct {
	Warehouse  string
	ProductIDs []string
}
