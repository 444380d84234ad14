package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/agency/internal/domain/shared"
	"github.com/redis/go-redis/v9"
)

const defaultLedgerPrefix = "agency:applied:"

// RedisLedger remembers applied mutation IDs in Redis, so several agents
// replaying for the same user share one view of what already landed
type RedisLedger struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisLedger connects to Redis and verifies the connection
func NewRedisLedger(ctx context.Context, addr, password string, db int) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisLedgerWithClient(client, ""), nil
}

// NewRedisLedgerWithClient wraps an existing client
func NewRedisLedgerWithClient(client *redis.Client, keyPrefix string) *RedisLedger {
	if keyPrefix == "" {
		keyPrefix = defaultLedgerPrefix
	}
	return &RedisLedger{client: client, keyPrefix: keyPrefix}
}

// MarkProcessed uses SETNX so concurrent replays agree on a single winner
func (l *RedisLedger) MarkProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.keyPrefix+id, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark mutation as applied: %w", err)
	}
	return ok, nil
}

// IsProcessed reports whether id has been marked
func (l *RedisLedger) IsProcessed(ctx context.Context, id string) (bool, error) {
	n, err := l.client.Exists(ctx, l.keyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check applied mutation: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis client
func (l *RedisLedger) Close() error {
	return l.client.Close()
}

// KeyPrefix returns the key namespace used for ledger entries
func (l *RedisLedger) KeyPrefix() string {
	return l.keyPrefix
}

var _ shared.IdempotencyStore = (*RedisLedger)(nil)
