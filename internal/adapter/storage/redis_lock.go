package storage

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "lock:"

var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker is a lease lock over SET NX PX. Each process gets a random
// prefix so tokens never collide across instances.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	seq    atomic.Uint64
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{
		client: client,
		prefix: strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := fmt.Sprintf("%s-%d", l.prefix, l.seq.Add(1))

	ok, err := l.client.SetNX(ctx, lockKeyPrefix+name, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLocker) Unlock(ctx context.Context, name, token string) error {
	if err := unlockScript.Run(ctx, l.client, []string{lockKeyPrefix + name}, token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}
