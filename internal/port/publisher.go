package port

import (
	"context"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// MovementOutbox exposes movements that have not reached the audit stream yet.
type MovementOutbox interface {
	FetchUnpublished(ctx context.Context, limit int) ([]domain.StockMovement, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
}

type MovementPublisher interface {
	Publish(ctx context.Context, movement domain.StockMovement) error
	Name() string
}

// ClaimResult is the state of a movement's publish claim. The zero value
// accompanies errors.
type ClaimResult int

const (
	// ClaimAcquired means the caller holds the claim and should publish.
	ClaimAcquired ClaimResult = iota + 1
	// ClaimPublished means a publish was confirmed earlier.
	ClaimPublished
	// ClaimHeld means another relay holds an unconfirmed claim.
	ClaimHeld
)

func (r ClaimResult) String() string {
	switch r {
	case ClaimAcquired:
		return "acquired"
	case ClaimPublished:
		return "published"
	case ClaimHeld:
		return "held"
	default:
		return "unknown"
	}
}

type MovementDeduplicator interface {
	// Claim takes a pending claim on a movement. A pending claim expires on
	// its own if its holder never confirms or releases it.
	Claim(ctx context.Context, movementID string) (ClaimResult, error)

	// Confirm records that the movement reached the sink
	Confirm(ctx context.Context, movementID string) error

	// Unclaim releases a pending claim after a failed publish
	Unclaim(ctx context.Context, movementID string) error
}
