package storage

import (
	"context"
	"fmt"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

const productColumns = `id, sku, name, reorder_level, reorder_quantity, cost_price, selling_price, active`

// CatalogReader reads the catalog's products table. The ledger never writes it.
type CatalogReader struct {
	*MySQLAdapter
}

func NewCatalogReader(m *MySQLAdapter) *CatalogReader {
	return &CatalogReader{MySQLAdapter: m}
}

func (c *CatalogReader) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	query, args, err := c.expand(`SELECT `+productColumns+` FROM products WHERE id IN (?)`, []interface{}{ids})
	if err != nil {
		return nil, err
	}
	var rows []domain.Product
	if err := c.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	for _, p := range rows {
		products[p.ID] = p
	}
	return products, nil
}

func (c *CatalogReader) ListActiveProducts(ctx context.Context) ([]domain.Product, error) {
	products := []domain.Product{}
	if err := c.db.SelectContext(ctx, &products, `
		SELECT `+productColumns+` FROM products WHERE active = TRUE ORDER BY name`,
	); err != nil {
		return nil, fmt.Errorf("query active products: %w", err)
	}
	return products, nil
}

// BacklogReader aggregates open order lines from the order tables.
type BacklogReader struct {
	*MySQLAdapter
}

func NewBacklogReader(m *MySQLAdapter) *BacklogReader {
	return &BacklogReader{MySQLAdapter: m}
}

func (b *BacklogReader) PendingDemand(ctx context.Context, productIDs []string, statuses []domain.OrderStatus) (map[string]domain.PendingDemand, error) {
	demand := make(map[string]domain.PendingDemand, len(productIDs))
	if len(productIDs) == 0 || len(statuses) == 0 {
		return demand, nil
	}

	open := make([]string, len(statuses))
	for i, s := range statuses {
		open[i] = string(s)
	}
	query, args, err := b.expand(`
		SELECT oi.product_id,
			COUNT(DISTINCT o.id) AS order_count,
			COALESCE(SUM(oi.quantity), 0) AS pending_quantity,
			MIN(o.created_at) AS oldest_order_at,
			MAX(o.created_at) AS newest_order_at
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE oi.product_id IN (?) AND o.status IN (?)
		GROUP BY oi.product_id`,
		[]interface{}{productIDs, open},
	)
	if err != nil {
		return nil, err
	}

	var rows []domain.PendingDemand
	if err := b.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query pending demand: %w", err)
	}
	for _, d := range rows {
		demand[d.ProductID] = d
	}
	return demand, nil
}
