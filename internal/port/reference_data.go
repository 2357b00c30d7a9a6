package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// ProductCatalog is owned by the catalog service; the ledger only reads it.
type ProductCatalog interface {
	// GetProducts returns the products that exist, keyed by id
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
	ListActiveProducts(ctx context.Context) ([]domain.Product, error)
}

// OrderBacklog reports demand from orders that still need stock.
type OrderBacklog interface {
	// PendingDemand returns one entry per product that has open order lines
	PendingDemand(ctx context.Context, productIDs []string, statuses []domain.OrderStatus) (map[string]domain.PendingDemand, error)
}
