package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("stock record not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvalidAdjustment      = errors.New("invalid adjustment")
)

// Outcome is the result of a ledger mutation. Everything except
// OutcomeApplied is a declined result the caller is expected to branch on.
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeNotFound
	OutcomeInsufficientStock
	OutcomeConcurrentModification
	OutcomeInvalidAdjustment
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeInsufficientStock:
		return "insufficient_stock"
	case OutcomeConcurrentModification:
		return "concurrent_modification"
	case OutcomeInvalidAdjustment:
		return "invalid_adjustment"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type MutationResult struct {
	Outcome Outcome
	Key     StockKey
	// Record is the state after an applied mutation, or the state that was
	// read when the mutation was declined. Zero when the record does not exist.
	Record    StockRecord
	Movement  *StockMovement
	Requested int
}

func (r MutationResult) Applied() bool {
	return r.Outcome == OutcomeApplied
}

func (r MutationResult) Declined() bool {
	return r.Outcome != OutcomeApplied
}

// Reason describes a declined result in terms a user can act on.
func (r MutationResult) Reason() string {
	switch r.Outcome {
	case OutcomeApplied:
		return ""
	case OutcomeNotFound:
		return fmt.Sprintf("no stock record for %s", r.Key)
	case OutcomeInsufficientStock:
		return fmt.Sprintf("insufficient stock: available %d, requested %d", r.Record.Available(), r.Requested)
	case OutcomeConcurrentModification:
		return fmt.Sprintf("stock for %s was modified concurrently, retry", r.Key)
	case OutcomeInvalidAdjustment:
		return fmt.Sprintf("invalid adjustment: on-hand %d is below allocated %d", r.Requested, r.Record.QuantityAllocated)
	default:
		return r.Outcome.String()
	}
}

// Err maps a declined result to its sentinel error, or nil when applied.
func (r MutationResult) Err() error {
	var sentinel error
	switch r.Outcome {
	case OutcomeApplied:
		return nil
	case OutcomeNotFound:
		sentinel = ErrNotFound
	case OutcomeInsufficientStock:
		sentinel = ErrInsufficientStock
	case OutcomeConcurrentModification:
		sentinel = ErrConcurrentModification
	case OutcomeInvalidAdjustment:
		sentinel = ErrInvalidAdjustment
	default:
		return fmt.Errorf("unknown outcome %d", int(r.Outcome))
	}
	return fmt.Errorf("%w: %s", sentinel, r.Reason())
}
