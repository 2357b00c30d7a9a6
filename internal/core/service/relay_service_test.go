package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/observability"
	"github.com/rl1809/stock-ledger/internal/port"
)

type fakeOutbox struct {
	mu        sync.Mutex
	pending   []domain.StockMovement
	published map[string]time.Time
	fetchErr  error
	markErr   error
}

func newFakeOutbox(movements ...domain.StockMovement) *fakeOutbox {
	return &fakeOutbox{pending: movements, published: make(map[string]time.Time)}
}

func (o *fakeOutbox) FetchUnpublished(ctx context.Context, limit int) ([]domain.StockMovement, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fetchErr != nil {
		return nil, o.fetchErr
	}
	var out []domain.StockMovement
	for _, m := range o.pending {
		if _, ok := o.published[m.ID]; ok {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, m)
	}
	return out, nil
}

func (o *fakeOutbox) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.markErr != nil {
		return o.markErr
	}
	for _, id := range ids {
		o.published[id] = at
	}
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []domain.StockMovement
	// fail rejects movements whose id is in the set
	fail map[string]bool
	// hang makes every publish wait for its context
	hang bool
}

func (p *fakePublisher) Publish(ctx context.Context, m domain.StockMovement) error {
	p.mu.Lock()
	hang := p.hang
	p.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[m.ID] {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, m)
	return nil
}

func (p *fakePublisher) setHang(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hang = v
}

func (p *fakePublisher) Name() string { return "fake" }

func (p *fakePublisher) sentFor(key domain.StockKey) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for _, m := range p.sent {
		if m.Key() == key {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

const claimDone = "done"

// fakeDedup keeps claim values like the Redis adapter does and rejects
// calls on a finished context the way go-redis does.
type fakeDedup struct {
	mu        sync.Mutex
	owner     string
	claims    map[string]string
	unclaimed []string
	confirmed []string
}

// newFakeDedup treats the given movements as already published.
func newFakeDedup(published ...string) *fakeDedup {
	d := &fakeDedup{owner: "pending:relay-test", claims: make(map[string]string)}
	for _, id := range published {
		d.claims[id] = claimDone
	}
	return d
}

func (d *fakeDedup) Claim(ctx context.Context, id string) (port.ClaimResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch current, ok := d.claims[id]; {
	case !ok || current == d.owner:
		d.claims[id] = d.owner
		return port.ClaimAcquired, nil
	case current == claimDone:
		return port.ClaimPublished, nil
	default:
		return port.ClaimHeld, nil
	}
}

func (d *fakeDedup) Confirm(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claims[id] = claimDone
	d.confirmed = append(d.confirmed, id)
	return nil
}

func (d *fakeDedup) Unclaim(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.claims[id] == d.owner {
		delete(d.claims, id)
	}
	d.unclaimed = append(d.unclaimed, id)
	return nil
}

func (d *fakeDedup) holdFor(owner, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claims[id] = "pending:" + owner
}

func (d *fakeDedup) expire(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claims, id)
}

func movementsFor(key domain.StockKey, n int) []domain.StockMovement {
	out := make([]domain.StockMovement, 0, n)
	for i := range n {
		out = append(out, domain.NewStockMovement(key, domain.MovementAllocation, i+1, domain.MovementMeta{}, time.Now()))
	}
	return out
}

func movementIDs(movements []domain.StockMovement) []string {
	out := make([]string, 0, len(movements))
	for _, m := range movements {
		out = append(out, m.ID)
	}
	return out
}

func TestRelayOnce_PublishesInKeyOrder(t *testing.T) {
	bolt := movementsFor(domain.NewStockKey("bolt", ""), 20)
	gear := movementsFor(domain.NewStockKey("gear", "EAST"), 20)
	var batch []domain.StockMovement
	for i := range bolt {
		batch = append(batch, bolt[i], gear[i])
	}

	outbox := newFakeOutbox(batch...)
	publisher := &fakePublisher{}
	relay := NewMovementRelay(outbox, publisher, newFakeDedup(), RelayConfig{Workers: 4, BatchSize: 100}, nil, nil)

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40, n)
	assert.Len(t, outbox.published, 40)

	assert.Equal(t, movementIDs(bolt), publisher.sentFor(domain.NewStockKey("bolt", "")))
	assert.Equal(t, movementIDs(gear), publisher.sentFor(domain.NewStockKey("gear", "EAST")))
}

func TestRelayOnce_FailureHoldsBackKey(t *testing.T) {
	bolt := movementsFor(domain.NewStockKey("bolt", ""), 3)
	gear := movementsFor(domain.NewStockKey("gear", ""), 2)

	outbox := newFakeOutbox(append(bolt, gear...)...)
	publisher := &fakePublisher{fail: map[string]bool{bolt[1].ID: true}}
	dedup := newFakeDedup()
	metrics := observability.NewMetrics()
	relay := NewMovementRelay(outbox, publisher, dedup, RelayConfig{Workers: 2}, nil, metrics)

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, []string{bolt[0].ID}, publisher.sentFor(domain.NewStockKey("bolt", "")))
	assert.Equal(t, movementIDs(gear), publisher.sentFor(domain.NewStockKey("gear", "")))
	assert.Equal(t, []string{bolt[1].ID}, dedup.unclaimed)
	assert.NotContains(t, outbox.published, bolt[2].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MovementsRelayed.WithLabelValues("fake", "failed")))

	// once the sink recovers the held back movements go out in order
	delete(publisher.fail, bolt[1].ID)
	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, movementIDs(bolt), publisher.sentFor(domain.NewStockKey("bolt", "")))
}

func TestRelayOnce_SkipsAlreadyClaimed(t *testing.T) {
	batch := movementsFor(domain.NewStockKey("bolt", ""), 2)
	outbox := newFakeOutbox(batch...)
	publisher := &fakePublisher{}
	relay := NewMovementRelay(outbox, publisher, newFakeDedup(batch[0].ID), RelayConfig{}, nil, nil)

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "claimed movements are still marked published")
	assert.Equal(t, []string{batch[1].ID}, publisher.sentFor(domain.NewStockKey("bolt", "")))
}

func TestRelayOnce_ConfirmsAfterPublish(t *testing.T) {
	batch := movementsFor(domain.NewStockKey("bolt", ""), 2)
	dedup := newFakeDedup()
	relay := NewMovementRelay(newFakeOutbox(batch...), &fakePublisher{}, dedup, RelayConfig{}, nil, nil)

	_, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, movementIDs(batch), dedup.confirmed)
	assert.Empty(t, dedup.unclaimed)
}

func TestRelayOnce_TimedOutPublishStaysUnpublished(t *testing.T) {
	key := domain.NewStockKey("bolt", "")
	batch := movementsFor(key, 1)
	outbox := newFakeOutbox(batch...)
	publisher := &fakePublisher{hang: true}
	dedup := newFakeDedup()
	relay := NewMovementRelay(outbox, publisher, dedup, RelayConfig{}, nil, nil)
	relay.timeout = 20 * time.Millisecond

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{batch[0].ID}, dedup.unclaimed, "claim is released after the deadline")
	assert.NotContains(t, dedup.claims, batch[0].ID)

	publisher.setHang(false)
	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, movementIDs(batch), publisher.sentFor(key))
	assert.Contains(t, outbox.published, batch[0].ID)
}

func TestRelayOnce_StalePendingClaimIsRetried(t *testing.T) {
	key := domain.NewStockKey("bolt", "")
	batch := movementsFor(key, 1)
	outbox := newFakeOutbox(batch...)
	publisher := &fakePublisher{}
	dedup := newFakeDedup()
	// a relay that crashed between claiming and publishing
	dedup.holdFor("relay-crashed", batch[0].ID)
	relay := NewMovementRelay(outbox, publisher, dedup, RelayConfig{}, nil, nil)

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "pending claim is not proof of delivery")
	assert.Empty(t, publisher.sent)
	assert.NotContains(t, outbox.published, batch[0].ID)

	dedup.expire(batch[0].ID)
	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, movementIDs(batch), publisher.sentFor(key))
}

func TestRelayOnce_OwnPendingClaimIsRetried(t *testing.T) {
	key := domain.NewStockKey("bolt", "")
	batch := movementsFor(key, 1)
	publisher := &fakePublisher{}
	dedup := newFakeDedup()
	dedup.holdFor("relay-test", batch[0].ID)
	relay := NewMovementRelay(newFakeOutbox(batch...), publisher, dedup, RelayConfig{}, nil, nil)

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, movementIDs(batch), publisher.sentFor(key))
}

func TestRelayOnce_WithoutDedup(t *testing.T) {
	outbox := newFakeOutbox(movementsFor(domain.NewStockKey("bolt", ""), 3)...)
	publisher := &fakePublisher{}

	n, err := NewMovementRelay(outbox, publisher, nil, RelayConfig{}, nil, nil).RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, publisher.sent, 3)
}

func TestRelayOnce_Errors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		n, err := NewMovementRelay(newFakeOutbox(), &fakePublisher{}, nil, RelayConfig{}, nil, nil).RelayOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("fetch", func(t *testing.T) {
		outbox := newFakeOutbox()
		outbox.fetchErr = errors.New("db down")
		_, err := NewMovementRelay(outbox, &fakePublisher{}, nil, RelayConfig{}, nil, nil).RelayOnce(context.Background())
		assert.ErrorIs(t, err, outbox.fetchErr)
	})

	t.Run("mark", func(t *testing.T) {
		outbox := newFakeOutbox(movementsFor(domain.NewStockKey("bolt", ""), 1)...)
		outbox.markErr = errors.New("db down")
		n, err := NewMovementRelay(outbox, &fakePublisher{}, nil, RelayConfig{}, nil, nil).RelayOnce(context.Background())
		assert.ErrorIs(t, err, outbox.markErr)
		assert.Zero(t, n)
	})
}

func TestRelay_RunUntilCancelled(t *testing.T) {
	outbox := newFakeOutbox(movementsFor(domain.NewStockKey("bolt", ""), 5)...)
	publisher := &fakePublisher{}
	relay := NewMovementRelay(outbox, publisher, nil, RelayConfig{Interval: 10 * time.Millisecond}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		outbox.mu.Lock()
		defer outbox.mu.Unlock()
		return len(outbox.published) == 5
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestShard_StableAndInRange(t *testing.T) {
	key := domain.NewStockKey("bolt", "EAST")
	first := shard(key, 8)
	for range 10 {
		assert.Equal(t, first, shard(key, 8))
	}
	for _, p := range []string{"a", "b", "c", "d", "e"} {
		s := shard(domain.NewStockKey(p, ""), 3)
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 3)
	}
}
