package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// OpenOrderStatuses are the statuses whose line items still need stock.
var OpenOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
}

func (s OrderStatus) Open() bool {
	for _, open := range OpenOrderStatuses {
		if s == open {
			return true
		}
	}
	return false
}

// PendingDemand summarises open order lines for one product.
type PendingDemand struct {
	ProductID       string     `db:"product_id"`
	OrderCount      int        `db:"order_count"`
	PendingQuantity int        `db:"pending_quantity"`
	OldestOrderAt   *time.Time `db:"oldest_order_at"`
	NewestOrderAt   *time.Time `db:"newest_order_at"`
}
