package domain

import (
	"time"

	"github.com/google/uuid"
)

type MovementType string

const (
	MovementInbound    MovementType = "INBOUND"
	MovementOutbound   MovementType = "OUTBOUND"
	MovementSale       MovementType = "SALE"
	MovementReturn     MovementType = "RETURN"
	MovementAllocation MovementType = "ALLOCATION"
	MovementRelease    MovementType = "RELEASE"
	MovementAdjustment MovementType = "ADJUSTMENT"
	MovementTransfer   MovementType = "TRANSFER"
	MovementDamage     MovementType = "DAMAGE"
)

// Received reports whether the type counts as stock coming in for turnover.
func (t MovementType) Received() bool {
	return t == MovementInbound || t == MovementReturn
}

// Sold reports whether the type counts as stock leaving through a sale.
func (t MovementType) Sold() bool {
	return t == MovementOutbound || t == MovementSale
}

// MovementMeta carries who and what triggered a mutation.
type MovementMeta struct {
	ReferenceID string
	Actor       string
	Note        string
}

// StockMovement is the write-once audit row produced by every ledger mutation.
type StockMovement struct {
	ID                string       `db:"id" json:"id"`
	ProductID         string       `db:"product_id" json:"productId"`
	WarehouseLocation string       `db:"warehouse_location" json:"warehouseLocation"`
	Type              MovementType `db:"movement_type" json:"type"`
	Quantity          int          `db:"quantity" json:"quantity"` // signed delta
	ReferenceID       string       `db:"reference_id" json:"referenceId,omitempty"`
	Actor             string       `db:"actor" json:"actor,omitempty"`
	Note              string       `db:"note" json:"note,omitempty"`
	CreatedAt         time.Time    `db:"created_at" json:"createdAt"`
	PublishedAt       *time.Time   `db:"published_at" json:"-"`
}

func NewStockMovement(key StockKey, movementType MovementType, delta int, meta MovementMeta, at time.Time) StockMovement {
	return StockMovement{
		ID:                uuid.NewString(),
		ProductID:         key.ProductID,
		WarehouseLocation: key.Warehouse,
		Type:              movementType,
		Quantity:          delta,
		ReferenceID:       meta.ReferenceID,
		Actor:             meta.Actor,
		Note:              meta.Note,
		CreatedAt:         at,
	}
}

func (m StockMovement) Key() StockKey {
	return StockKey{ProductID: m.ProductID, Warehouse: m.WarehouseLocation}
}

// MovementFilter selects movement history. Zero times are open bounds.
type MovementFilter struct {
	ProductID string
	Warehouse string
	Types     []MovementType
	From      time.Time
	To        time.Time
	Limit     int
}

// MovementTotal is the per-type aggregate of absolute quantities in a window.
type MovementTotal struct {
	Type     MovementType `db:"movement_type"`
	Quantity int          `db:"quantity"`
	Count    int          `db:"movements"`
}
