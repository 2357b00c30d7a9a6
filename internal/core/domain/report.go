package domain

import "time"

type WarehouseSummary struct {
	Warehouse        string  `json:"warehouse"`
	TotalProducts    int     `json:"totalProducts"`
	TotalOnHand      int     `json:"totalOnHand"`
	TotalAllocated   int     `json:"totalAllocated"`
	TotalAvailable   int     `json:"totalAvailable"`
	LowStockProducts int     `json:"lowStockProducts"`
	UtilizationRate  float64 `json:"utilizationRate"`
}

// Add folds one ledger row into the summary. lowStock is decided by the caller
// because it needs catalog thresholds.
func (s *WarehouseSummary) Add(r StockRecord, lowStock bool) {
	s.TotalProducts++
	s.TotalOnHand += r.QuantityOnHand
	s.TotalAllocated += r.QuantityAllocated
	s.TotalAvailable += r.Available()
	if lowStock {
		s.LowStockProducts++
	}
	s.UtilizationRate = AllocationPercentage(s.TotalAllocated, s.TotalOnHand)
}

type TurnoverMetrics struct {
	ProductID              string    `json:"productId"`
	Warehouse              string    `json:"warehouse,omitempty"`
	From                   time.Time `json:"from"`
	To                     time.Time `json:"to"`
	TotalReceived          int       `json:"totalReceived"`
	TotalSold              int       `json:"totalSold"`
	SaleTransactions       int       `json:"saleTransactions"`
	AverageInventoryLevel  float64   `json:"averageInventoryLevel"`
	TurnoverRate           float64   `json:"turnoverRate"`
	AverageQuantityPerSale float64   `json:"averageQuantityPerSale"`
	Revenue                float64   `json:"revenue"`
	Cost                   float64   `json:"cost"`
	GrossProfit            float64   `json:"grossProfit"`
	GrossMargin            float64   `json:"grossMargin"`
}

// NewTurnoverMetrics derives the rates from movement totals, the average
// on-hand level and catalog prices.
func NewTurnoverMetrics(productID, warehouse string, from, to time.Time, totals []MovementTotal, averageOnHand float64, p Product) TurnoverMetrics {
	m := TurnoverMetrics{
		ProductID:             productID,
		Warehouse:             warehouse,
		From:                  from,
		To:                    to,
		AverageInventoryLevel: averageOnHand,
	}
	for _, t := range totals {
		switch {
		case t.Type.Received():
			m.TotalReceived += t.Quantity
		case t.Type.Sold():
			m.TotalSold += t.Quantity
			m.SaleTransactions += t.Count
		}
	}
	if m.AverageInventoryLevel > 0 {
		m.TurnoverRate = float64(m.TotalSold) / m.AverageInventoryLevel
	}
	if m.SaleTransactions > 0 {
		m.AverageQuantityPerSale = float64(m.TotalSold) / float64(m.SaleTransactions)
	}
	m.Revenue = p.SellingPrice * float64(m.TotalSold)
	m.Cost = p.CostPrice * float64(m.TotalSold)
	m.GrossProfit = m.Revenue - m.Cost
	if m.Revenue > 0 {
		m.GrossMargin = m.GrossProfit / m.Revenue * 100
	}
	return m
}

type AllocationRate struct {
	ProductID            string  `json:"productId"`
	Name                 string  `json:"name"`
	Warehouse            string  `json:"warehouse"`
	OnHand               int     `json:"onHand"`
	Allocated            int     `json:"allocated"`
	AllocationPercentage float64 `json:"allocationPercentage"`
}
