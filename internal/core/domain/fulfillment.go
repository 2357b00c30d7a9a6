package domain

import (
	"cmp"
	"slices"
	"time"
)

// FallbackReorderQuantity applies when a product has neither a reorder
// quantity nor a reorder level.
const FallbackReorderQuantity = 50

type StockStatus string

const (
	StockStatusOutOfStock StockStatus = "OUT_OF_STOCK"
	StockStatusLowStock   StockStatus = "LOW_STOCK"
	StockStatusAvailable  StockStatus = "AVAILABLE"
)

// ClassifyStock reports OUT_OF_STOCK for zero availability even when zero is
// also within the reorder level.
func ClassifyStock(available, reorderLevel int) StockStatus {
	switch {
	case available <= 0:
		return StockStatusOutOfStock
	case available <= reorderLevel:
		return StockStatusLowStock
	default:
		return StockStatusAvailable
	}
}

// AllocationPercentage is allocated / onHand * 100, or 0 for empty stock.
func AllocationPercentage(allocated, onHand int) float64 {
	if onHand == 0 {
		return 0
	}
	return float64(allocated) / float64(onHand) * 100
}

// ReorderSuggestion prefers the configured reorder quantity, then twice the
// reorder level, then fallback.
func ReorderSuggestion(p Product, fallback int) int {
	if p.ReorderQuantity != nil && *p.ReorderQuantity > 0 {
		return *p.ReorderQuantity
	}
	if p.ReorderLevel != nil && *p.ReorderLevel > 0 {
		return *p.ReorderLevel * 2
	}
	if fallback > 0 {
		return fallback
	}
	return FallbackReorderQuantity
}

type FulfillmentView struct {
	ProductID            string      `json:"productId"`
	SKU                  string      `json:"sku"`
	Name                 string      `json:"name"`
	Warehouse            string      `json:"warehouse"`
	OnHand               int         `json:"onHand"`
	Allocated            int         `json:"allocated"`
	Available            int         `json:"available"`
	ReorderLevel         int         `json:"reorderLevel"`
	Status               StockStatus `json:"status"`
	AllocationPercentage float64     `json:"allocationPercentage"`
	ReorderSuggestion    int         `json:"reorderSuggestion"`
}

func NewFulfillmentView(r StockRecord, p Product, fallbackReorder int) FulfillmentView {
	available := r.Available()
	return FulfillmentView{
		ProductID:            r.ProductID,
		SKU:                  p.SKU,
		Name:                 p.DisplayName(),
		Warehouse:            r.WarehouseLocation,
		OnHand:               r.QuantityOnHand,
		Allocated:            r.QuantityAllocated,
		Available:            available,
		ReorderLevel:         p.Threshold(),
		Status:               ClassifyStock(available, p.Threshold()),
		AllocationPercentage: AllocationPercentage(r.QuantityAllocated, r.QuantityOnHand),
		ReorderSuggestion:    ReorderSuggestion(p, fallbackReorder),
	}
}

// SortByScarcity orders views most scarce first, then by name.
func SortByScarcity(views []FulfillmentView) {
	slices.SortStableFunc(views, func(a, b FulfillmentView) int {
		if c := cmp.Compare(a.Available, b.Available); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
}

type BackorderExposure struct {
	ProductID         string     `json:"productId"`
	Name              string     `json:"name"`
	Warehouse         string     `json:"warehouse"`
	Available         int        `json:"available"`
	PendingOrders     int        `json:"pendingOrders"`
	PendingQuantity   int        `json:"pendingQuantity"`
	HasBackorders     bool       `json:"hasBackorders"`
	BackorderQuantity int        `json:"backorderQuantity"`
	OldestOrderAt     *time.Time `json:"oldestOrderAt,omitempty"`
	NewestOrderAt     *time.Time `json:"newestOrderAt,omitempty"`
}

func NewBackorderExposure(view FulfillmentView, demand PendingDemand) BackorderExposure {
	e := BackorderExposure{
		ProductID:       view.ProductID,
		Name:            view.Name,
		Warehouse:       view.Warehouse,
		Available:       view.Available,
		PendingOrders:   demand.OrderCount,
		PendingQuantity: demand.PendingQuantity,
		OldestOrderAt:   demand.OldestOrderAt,
		NewestOrderAt:   demand.NewestOrderAt,
	}
	if demand.PendingQuantity > view.Available {
		e.HasBackorders = true
		e.BackorderQuantity = demand.PendingQuantity - view.Available
	}
	return e
}
