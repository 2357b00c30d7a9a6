package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

var ErrSinkUnavailable = errors.New("movement sink unavailable")

type BreakerConfig struct {
	FailureThreshold uint32        // consecutive failures that open the circuit
	OpenTimeout      time.Duration // how long to stay open before probing
	HalfOpenRequests uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// BreakingPublisher stops calling a failing sink for a while so the relay
// does not spend every tick waiting on publish timeouts.
type BreakingPublisher struct {
	next port.MovementPublisher
	cb   *gobreaker.CircuitBreaker
}

func NewBreakingPublisher(next port.MovementPublisher, cfg BreakerConfig, logger *zap.Logger) *BreakingPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}

	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("movement sink circuit changed",
				zap.String("sink", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	}
	return &BreakingPublisher{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (p *BreakingPublisher) Name() string {
	return p.next.Name()
}

func (p *BreakingPublisher) Publish(ctx context.Context, m domain.StockMovement) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.next.Publish(ctx, m)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %v", ErrSinkUnavailable, p.next.Name(), err)
	}
	return err
}

func (p *BreakingPublisher) State() gobreaker.State {
	return p.cb.State()
}
