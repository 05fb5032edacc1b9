package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/voucher-seckill/internal/clock"
)

const (
	// 2023-01-01T00:00:00Z
	idEpochSeconds = int64(1672531200)
	idCountBits    = 32
)

// RedisIDGenerator builds ids from seconds since the epoch in the high bits
// and a per-namespace daily Redis counter in the low 32 bits.
type RedisIDGenerator struct {
	client redis.UniversalClient
	clock  clock.Clock
}

func NewRedisIDGenerator(client redis.UniversalClient, c clock.Clock) *RedisIDGenerator {
	if c == nil {
		c = clock.NewSystem()
	}
	return &RedisIDGenerator{client: client, clock: c}
}

func (g *RedisIDGenerator) NextID(ctx context.Context, namespace string) (int64, error) {
	now := g.clock.Now().UTC()
	elapsed := now.Unix() - idEpochSeconds

	key := fmt.Sprintf("icr:%s:%s", namespace, now.Format("2006:01:02"))
	count, err := g.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("increment id counter %s: %w", key, err)
	}

	return elapsed<<idCountBits | count, nil
}
