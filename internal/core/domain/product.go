package domain

// Product is the catalog data the ledger reads. The catalog owns it.
type Product struct {
	ID              string  `db:"id"`
	SKU             string  `db:"sku"`
	Name            string  `db:"name"`
	ReorderLevel    *int    `db:"reorder_level"`
	ReorderQuantity *int    `db:"reorder_quantity"`
	CostPrice       float64 `db:"cost_price"`
	SellingPrice    float64 `db:"selling_price"`
	Active          bool    `db:"active"`
}

// Threshold returns the configured reorder level, or 0 when unset.
func (p Product) Threshold() int {
	if p.ReorderLevel == nil {
		return 0
	}
	return *p.ReorderLevel
}

// DisplayName falls back to the id when the catalog has no name.
func (p Product) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}
