package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// CASResult is the outcome of a conditional ledger write. The zero value is
// not a valid result and accompanies errors.
type CASResult int

const (
	CASApplied CASResult = iota + 1
	CASConflict
	CASNotFound
)

func (r CASResult) String() string {
	switch r {
	case CASApplied:
		return "applied"
	case CASConflict:
		return "conflict"
	case CASNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

type LedgerRepository interface {
	// GetRecord returns nil without error when no record exists for key
	GetRecord(ctx context.Context, key domain.StockKey) (*domain.StockRecord, error)

	// CompareAndSwap writes the quantities and last-counted time of next and
	// bumps the version, only if the stored version still equals
	// expectedVersion. The movement is appended in the same transaction.
	CompareAndSwap(ctx context.Context, expectedVersion int64, next domain.StockRecord, movement domain.StockMovement) (CASResult, error)
}

// StockQueryRepository is the read side used by analytics.
type StockQueryRepository interface {
	ListRecords(ctx context.Context, filter domain.RecordFilter) ([]domain.StockRecord, error)
	ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error)

	// MovementTotals sums absolute quantities per movement type in the window
	MovementTotals(ctx context.Context, filter domain.MovementFilter) ([]domain.MovementTotal, error)
}
