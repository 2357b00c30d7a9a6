package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	DefaultMovementStream = "stock:movements"
	publishedKeyPrefix    = "movement:published:"
	publishedKeyTTL       = 24 * time.Hour
	pendingClaimTTL       = 30 * time.Second
	publishedValue        = "done"
	pendingValuePrefix    = "pending:"
	defaultStreamMaxLen   = 1_000_000
)

// claimScript takes a pending claim unless the movement was confirmed or
// another owner holds a live pending claim. Our own stale claim is renewed.
var claimScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current or current == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return 1
end
if current == ARGV[3] then
	return 2
end
return 3
`)

// unclaimScript deletes a claim only if it still holds the pending value this
// process wrote, so a late unclaim cannot drop another relay's claim or a
// confirmed publish.
var unclaimScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisAdapter publishes movements to a Redis stream and de-duplicates
// relay deliveries with SETNX claims.
type RedisAdapter struct {
	client *redis.Client
	stream string
	maxLen int64
	owner  string
}

func NewRedisAdapter(client *redis.Client, stream, owner string) *RedisAdapter {
	if stream == "" {
		stream = DefaultMovementStream
	}
	return &RedisAdapter{
		client: client,
		stream: stream,
		maxLen: defaultStreamMaxLen,
		owner:  owner,
	}
}

func (r *RedisAdapter) Name() string {
	return "redis"
}

func (r *RedisAdapter) Publish(ctx context.Context, m domain.StockMovement) error {
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":         m.ID,
			"product_id": m.ProductID,
			"warehouse":  m.WarehouseLocation,
			"type":       string(m.Type),
			"quantity":   strconv.Itoa(m.Quantity),
			"reference":  m.ReferenceID,
			"actor":      m.Actor,
			"note":       m.Note,
			"created_at": m.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

func (r *RedisAdapter) Claim(ctx context.Context, movementID string) (port.ClaimResult, error) {
	n, err := claimScript.Run(ctx, r.client,
		[]string{publishedKeyPrefix + movementID},
		r.pendingValue(), pendingClaimTTL.Milliseconds(), publishedValue,
	).Int()
	if err != nil {
		return 0, err
	}
	switch result := port.ClaimResult(n); result {
	case port.ClaimAcquired, port.ClaimPublished, port.ClaimHeld:
		return result, nil
	default:
		return 0, fmt.Errorf("unexpected claim result %d", n)
	}
}

func (r *RedisAdapter) Confirm(ctx context.Context, movementID string) error {
	return r.client.Set(ctx, publishedKeyPrefix+movementID, publishedValue, publishedKeyTTL).Err()
}

func (r *RedisAdapter) Unclaim(ctx context.Context, movementID string) error {
	return unclaimScript.Run(ctx, r.client, []string{publishedKeyPrefix + movementID}, r.pendingValue()).Err()
}

func (r *RedisAdapter) pendingValue() string {
	return pendingValuePrefix + r.owner
}
