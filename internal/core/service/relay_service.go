package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/observability"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	publishTimeout = 5 * time.Second
	releaseTimeout = 2 * time.Second
)

var errClaimHeld = errors.New("movement claimed by another relay")

type RelayConfig struct {
	Workers   int
	BatchSize int
	Interval  time.Duration
}

// MovementRelay copies committed movements from the ledger's outbox to the
// audit stream. Movements of the same stock key always go to the same worker
// so they are published in commit order.
type MovementRelay struct {
	outbox    port.MovementOutbox
	publisher port.MovementPublisher
	dedup     port.MovementDeduplicator
	cfg       RelayConfig
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	timeout   time.Duration
}

// NewMovementRelay accepts a nil dedup when the sink is idempotent on its own.
func NewMovementRelay(
	outbox port.MovementOutbox,
	publisher port.MovementPublisher,
	dedup port.MovementDeduplicator,
	cfg RelayConfig,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *MovementRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &MovementRelay{
		outbox:    outbox,
		publisher: publisher,
		dedup:     dedup,
		cfg:       cfg,
		logger:    logger.With(zap.String("sink", publisher.Name())),
		metrics:   metrics,
		now:       time.Now,
		timeout:   publishTimeout,
	}
}

// Run polls until ctx is cancelled. Poll errors are logged and retried on the
// next tick.
func (r *MovementRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("movement relay started", zap.Int("workers", r.cfg.Workers), zap.Int("batch_size", r.cfg.BatchSize))
	for {
		if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("relay movements", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			r.logger.Info("movement relay stopped")
			return
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch and returns how many movements were marked
// published.
func (r *MovementRelay) RelayOnce(ctx context.Context) (int, error) {
	batch, err := r.outbox.FetchUnpublished(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch unpublished movements: %w", err)
	}
	r.metrics.SetRelayBacklog(len(batch))
	if len(batch) == 0 {
		return 0, nil
	}

	queues := make([]chan domain.StockMovement, r.cfg.Workers)
	for i := range queues {
		queues[i] = make(chan domain.StockMovement, len(batch))
	}
	for _, m := range batch {
		queues[shard(m.Key(), r.cfg.Workers)] <- m
	}

	var (
		mu        sync.Mutex
		published = make([]string, 0, len(batch))
		wg        sync.WaitGroup
	)
	for i, q := range queues {
		close(q)
		wg.Add(1)
		go func(id int, queue <-chan domain.StockMovement) {
			defer wg.Done()
			ids := r.workerLoop(ctx, id, queue)
			mu.Lock()
			published = append(published, ids...)
			mu.Unlock()
		}(i, q)
	}
	wg.Wait()

	if len(published) == 0 {
		return 0, nil
	}
	if err := r.outbox.MarkPublished(ctx, published, r.now()); err != nil {
		return 0, fmt.Errorf("mark %d movements published: %w", len(published), err)
	}
	return len(published), nil
}

func (r *MovementRelay) workerLoop(ctx context.Context, id int, queue <-chan domain.StockMovement) []string {
	var (
		ids     []string
		blocked = make(map[domain.StockKey]bool)
	)
	for m := range queue {
		// a failed movement holds back later ones for the same key
		if blocked[m.Key()] {
			continue
		}
		if err := r.publishOne(ctx, m); err != nil {
			blocked[m.Key()] = true
			r.metrics.ObserveRelay(r.publisher.Name(), "failed", 1)
			r.logger.Warn("publish movement",
				zap.Int("worker", id),
				zap.String("movement_id", m.ID),
				zap.Stringer("key", m.Key()),
				zap.Error(err),
			)
			continue
		}
		ids = append(ids, m.ID)
	}
	r.metrics.ObserveRelay(r.publisher.Name(), "published", len(ids))
	return ids
}

func (r *MovementRelay) publishOne(ctx context.Context, m domain.StockMovement) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if r.dedup != nil {
		claim, err := r.dedup.Claim(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("claim: %w", err)
		}
		switch claim {
		case port.ClaimPublished:
			// published before the outbox row was marked
			return nil
		case port.ClaimHeld:
			return errClaimHeld
		}
	}

	if err := r.publisher.Publish(ctx, m); err != nil {
		if r.dedup != nil {
			r.release(ctx, m.ID)
		}
		return err
	}

	if r.dedup != nil {
		// the publish deadline may already have passed
		confirmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := r.dedup.Confirm(confirmCtx, m.ID); err != nil {
			r.logger.Warn("confirm movement", zap.String("movement_id", m.ID), zap.Error(err))
		}
	}
	return nil
}

// release drops our pending claim. It runs on its own deadline since the
// publish context is often the thing that expired.
func (r *MovementRelay) release(ctx context.Context, movementID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := r.dedup.Unclaim(ctx, movementID); err != nil {
		r.logger.Error("unclaim movement", zap.String("movement_id", movementID), zap.Error(err))
	}
}

func shard(key domain.StockKey, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key.ProductID))
	h.Write([]byte{0})
	h.Write([]byte(key.Warehouse))
	return int(h.Sum32() % uint32(n))
}
