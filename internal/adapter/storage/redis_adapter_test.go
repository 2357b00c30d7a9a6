package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisPublish_AppendsToStream(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	stream := "test:stock:movements"
	client.Del(ctx, stream)

	adapter := NewRedisAdapter(client, stream, "relay-1")
	mv := domain.NewStockMovement(domain.NewStockKey("p-1", ""), domain.MovementRelease, -3, domain.MovementMeta{ReferenceID: "order-9"}, time.Now())

	require.NoError(t, adapter.Publish(ctx, mv))

	entries, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, mv.ID, entries[0].Values["id"])
	assert.Equal(t, "RELEASE", entries[0].Values["type"])
	assert.Equal(t, "-3", entries[0].Values["quantity"])
	assert.Equal(t, "MAIN", entries[0].Values["warehouse"])
}

func TestRedisClaim_ConfirmedIsPublished(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client, "", "relay-1")
	other := NewRedisAdapter(client, "", "relay-2")
	client.Del(ctx, publishedKeyPrefix+"claim-once")

	res, err := adapter.Claim(ctx, "claim-once")
	require.NoError(t, err)
	assert.Equal(t, port.ClaimAcquired, res)

	res, err = other.Claim(ctx, "claim-once")
	require.NoError(t, err)
	assert.Equal(t, port.ClaimHeld, res, "pending claim belongs to relay-1")

	require.NoError(t, adapter.Confirm(ctx, "claim-once"))

	for _, a := range []*RedisAdapter{adapter, other} {
		res, err = a.Claim(ctx, "claim-once")
		require.NoError(t, err)
		assert.Equal(t, port.ClaimPublished, res)
	}
	ttl, err := client.TTL(ctx, publishedKeyPrefix+"claim-once").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, pendingClaimTTL)
}

func TestRedisClaim_OwnPendingIsRenewed(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client, "", "relay-1")
	client.Del(ctx, publishedKeyPrefix+"claim-renew")

	for range 2 {
		res, err := adapter.Claim(ctx, "claim-renew")
		require.NoError(t, err)
		assert.Equal(t, port.ClaimAcquired, res)
	}
}

func TestRedisClaim_PendingExpires(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	crashed := NewRedisAdapter(client, "", "relay-crashed")
	next := NewRedisAdapter(client, "", "relay-2")
	key := publishedKeyPrefix + "claim-expire"
	client.Del(ctx, key)

	res, err := crashed.Claim(ctx, "claim-expire")
	require.NoError(t, err)
	require.Equal(t, port.ClaimAcquired, res)
	require.True(t, client.TTL(ctx, key).Val() <= pendingClaimTTL)

	// simulate the pending TTL running out
	require.NoError(t, client.PExpire(ctx, key, time.Millisecond).Err())
	time.Sleep(20 * time.Millisecond)

	res, err = next.Claim(ctx, "claim-expire")
	require.NoError(t, err)
	assert.Equal(t, port.ClaimAcquired, res)
}

func TestRedisUnclaim_OnlyOwnClaim(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	mine := NewRedisAdapter(client, "", "relay-1")
	theirs := NewRedisAdapter(client, "", "relay-2")
	client.Del(ctx, publishedKeyPrefix+"claim-owner")

	res, err := theirs.Claim(ctx, "claim-owner")
	require.NoError(t, err)
	require.Equal(t, port.ClaimAcquired, res)

	require.NoError(t, mine.Unclaim(ctx, "claim-owner"))
	exists, err := client.Exists(ctx, publishedKeyPrefix+"claim-owner").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists, "another relay's claim must survive")

	require.NoError(t, theirs.Unclaim(ctx, "claim-owner"))
	res, err = mine.Claim(ctx, "claim-owner")
	require.NoError(t, err)
	assert.Equal(t, port.ClaimAcquired, res)
}

func TestRedisUnclaim_KeepsConfirmed(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client, "", "relay-1")
	client.Del(ctx, publishedKeyPrefix+"claim-confirmed")

	_, err := adapter.Claim(ctx, "claim-confirmed")
	require.NoError(t, err)
	require.NoError(t, adapter.Confirm(ctx, "claim-confirmed"))
	require.NoError(t, adapter.Unclaim(ctx, "claim-confirmed"))

	res, err := adapter.Claim(ctx, "claim-confirmed")
	require.NoError(t, err)
	assert.Equal(t, port.ClaimPublished, res)
}

func TestRedisClaim_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	client.Del(ctx, publishedKeyPrefix+"claim-concurrent")

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			res, err := NewRedisAdapter(client, "", owner).Claim(ctx, "claim-concurrent")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if res == port.ClaimAcquired {
				successCount.Add(1)
			}
		}(fmt.Sprintf("relay-%d", i))
	}
	wg.Wait()

	assert.Equal(t, int32(1), successCount.Load())
}
