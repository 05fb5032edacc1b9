package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/voucher-seckill/internal/clock"
	"github.com/rl1809/voucher-seckill/internal/port"
)

var (
	// ErrNotFound means the entity is known to be absent (null sentinel or never warmed).
	ErrNotFound = errors.New("cache: not found")
	// ErrLockBusy is returned when the rebuild mutex stayed taken for every retry.
	ErrLockBusy = errors.New("cache: rebuild lock busy")
	// ErrUnavailable is returned while the Redis circuit breaker is open.
	ErrUnavailable = errors.New("cache: unavailable")

	errLockHeld = errors.New("cache: lock held elsewhere")
)

// Loader fetches the authoritative value. A nil value with a nil error means the entity does not exist.
type Loader[T any] func(ctx context.Context, id string) (*T, error)

// CachedEntry wraps a value with its logical expiry. The Redis key itself never expires.
type CachedEntry[T any] struct {
	Data       T         `json:"data"`
	ExpireTime time.Time `json:"expireTime"`
}

type Options struct {
	TTL         time.Duration
	Jitter      time.Duration
	NullTTL     time.Duration
	LockTTL     time.Duration
	RetryWait   time.Duration
	RetryLimit  int
	LoadTimeout time.Duration

	// LogicalTTL is the logical lifetime given to entries rebuilt in the background.
	LogicalTTL time.Duration
}

func DefaultOptions() Options {
	return Options{
		TTL:         30 * time.Minute,
		Jitter:      time.Minute,
		NullTTL:     2 * time.Minute,
		LockTTL:     10 * time.Second,
		RetryWait:   50 * time.Millisecond,
		RetryLimit:  100,
		LoadTimeout: 3 * time.Second,
		LogicalTTL:  20 * time.Second,
	}
}

type Deps struct {
	Client redis.UniversalClient
	Locker port.Locker
	Pool   *RebuildPool
	Clock  clock.Clock
	Log    *logrus.Logger
	Stats  *Stats
}

// Cache is a read-through cache for one entity type, keyed as cache:<entity>:<id>.
type Cache[T any] struct {
	entity string
	client redis.UniversalClient
	locker port.Locker
	pool   *RebuildPool
	clock  clock.Clock
	log    *logrus.Logger
	stats  *Stats
	opts   Options
	sf     singleflight.Group
	cb     *gobreaker.CircuitBreaker
}

func New[T any](entity string, deps Deps, opts Options) *Cache[T] {
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if deps.Stats == nil {
		deps.Stats = &Stats{}
	}
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = 1
	}

	log := deps.Log
	st := gobreaker.Settings{
		Name:        "cache:" + entity,
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warnf("[Cache] circuit breaker %s changed from %s to %s", name, from, to)
		},
	}

	return &Cache[T]{
		entity: entity,
		client: deps.Client,
		locker: deps.Locker,
		pool:   deps.Pool,
		clock:  deps.Clock,
		log:    deps.Log,
		stats:  deps.Stats,
		opts:   opts,
		cb:     gobreaker.NewCircuitBreaker(st),
	}
}

func (c *Cache[T]) Key(id string) string {
	return fmt.Sprintf("cache:%s:%s", c.entity, id)
}

type rawValue struct {
	val   string
	found bool
}

func (c *Cache[T]) read(ctx context.Context, key string) (string, bool, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		val, err := c.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return rawValue{}, nil
		}
		if err != nil {
			return nil, err
		}
		return rawValue{val: val, found: true}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", false, ErrUnavailable
		}
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	rv := res.(rawValue)
	return rv.val, rv.found, nil
}

// Get serves id with the pass-through strategy: hits and null sentinels are
// answered from Redis, misses are loaded by one holder of lock:<key> while
// everyone else backs off and re-reads.
func (c *Cache[T]) Get(ctx context.Context, id string, load Loader[T]) (*T, error) {
	key := c.Key(id)

	for attempt := 1; ; attempt++ {
		raw, found, err := c.read(ctx, key)
		if err != nil {
			return nil, err
		}
		if found {
			if raw == "" {
				c.stats.nullHits.Add(1)
				return nil, ErrNotFound
			}
			c.stats.hits.Add(1)
			return c.decode(raw)
		}

		// the flight is shared, so it must not die with whichever caller started it
		ch := c.sf.DoChan(key, func() (interface{}, error) {
			return c.loadWithMutex(context.WithoutCancel(ctx), id, key, load)
		})
		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-ch:
		}
		if res.Err == nil {
			return res.Val.(*T), nil
		}
		if !errors.Is(res.Err, errLockHeld) {
			return nil, res.Err
		}

		if attempt >= c.opts.RetryLimit {
			return nil, ErrLockBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.opts.RetryWait):
		}
	}
}

func (c *Cache[T]) loadWithMutex(ctx context.Context, id, key string, load Loader[T]) (*T, error) {
	token, ok, err := c.locker.TryLock(ctx, key, c.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errLockHeld
	}
	defer c.unlock(ctx, key, token)

	// another holder may have filled the key between our miss and the lock
	raw, found, err := c.read(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		if raw == "" {
			return nil, ErrNotFound
		}
		return c.decode(raw)
	}

	c.stats.misses.Add(1)
	loadCtx, cancel := context.WithTimeout(ctx, c.opts.LoadTimeout)
	defer cancel()

	v, err := load(loadCtx, id)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if v == nil {
		if err := c.client.Set(ctx, key, "", c.opts.NullTTL).Err(); err != nil {
			c.log.Warnf("[Cache] failed to write null sentinel %s: %v", key, err)
		}
		return nil, ErrNotFound
	}

	if err := c.Set(ctx, id, v); err != nil {
		c.log.Warnf("[Cache] failed to write %s: %v", key, err)
	}
	return v, nil
}

// GetLogical serves id with the logical-expiration strategy. Keys must be
// warmed with SetLogical; a stale entry is returned immediately while one
// caller schedules a rebuild on the pool.
func (c *Cache[T]) GetLogical(ctx context.Context, id string, load Loader[T]) (*T, error) {
	key := c.Key(id)

	raw, found, err := c.read(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found || raw == "" {
		return nil, ErrNotFound
	}

	entry, err := c.decodeEntry(raw)
	if err != nil {
		return nil, err
	}
	if c.clock.Now().Before(entry.ExpireTime) {
		c.stats.hits.Add(1)
		return &entry.Data, nil
	}
	c.stats.staleHits.Add(1)

	token, ok, err := c.locker.TryLock(ctx, key, c.opts.LockTTL)
	if err != nil {
		c.log.Warnf("[Cache] rebuild lock for %s failed: %v", key, err)
		return &entry.Data, nil
	}
	if !ok {
		return &entry.Data, nil
	}

	// re-check: a rebuild may have finished between the read and the lock
	if raw, found, err := c.read(ctx, key); err == nil && found && raw != "" {
		if fresh, err := c.decodeEntry(raw); err == nil && c.clock.Now().Before(fresh.ExpireTime) {
			c.unlock(ctx, key, token)
			return &fresh.Data, nil
		}
	}

	submitted := c.pool.Submit(func() {
		defer c.unlock(context.Background(), key, token)
		c.rebuild(id, key, load)
	})
	if !submitted {
		c.unlock(ctx, key, token)
		c.log.Warnf("[Cache] rebuild queue full, serving stale %s", key)
	}
	return &entry.Data, nil
}

func (c *Cache[T]) rebuild(id, key string, load Loader[T]) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.LoadTimeout)
	defer cancel()

	v, err := load(ctx, id)
	if err != nil {
		c.stats.rebuildFailures.Add(1)
		c.log.Errorf("[Cache] rebuild %s failed: %v", key, err)
		return
	}
	if v == nil {
		c.stats.rebuildFailures.Add(1)
		c.log.Warnf("[Cache] rebuild %s: entity no longer exists, dropping key", key)
		if err := c.client.Del(ctx, key).Err(); err != nil {
			c.log.Errorf("[Cache] drop %s failed: %v", key, err)
		}
		return
	}
	if err := c.SetLogical(ctx, id, v, c.opts.LogicalTTL); err != nil {
		c.stats.rebuildFailures.Add(1)
		c.log.Errorf("[Cache] rebuild %s write failed: %v", key, err)
		return
	}
	c.stats.rebuilds.Add(1)
}

// Set writes v with the value TTL plus jitter.
func (c *Cache[T]) Set(ctx context.Context, id string, v *T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.Key(id), data, c.ttl()).Err()
}

// SetLogical writes v with a logical expiry ttl from now and no Redis TTL.
func (c *Cache[T]) SetLogical(ctx context.Context, id string, v *T, ttl time.Duration) error {
	data, err := json.Marshal(CachedEntry[T]{Data: *v, ExpireTime: c.clock.Now().Add(ttl)})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.Key(id), data, 0).Err()
}

func (c *Cache[T]) Invalidate(ctx context.Context, id string) error {
	return c.client.Del(ctx, c.Key(id)).Err()
}

func (c *Cache[T]) ttl() time.Duration {
	if c.opts.Jitter <= 0 {
		return c.opts.TTL
	}
	return c.opts.TTL + time.Duration(rand.Int63n(int64(c.opts.Jitter)))
}

func (c *Cache[T]) unlock(ctx context.Context, key, token string) {
	if err := c.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
		c.log.Warnf("[Cache] unlock %s failed: %v", key, err)
	}
}

func (c *Cache[T]) decode(raw string) (*T, error) {
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode %s entry: %w", c.entity, err)
	}
	return &v, nil
}

func (c *Cache[T]) decodeEntry(raw string) (CachedEntry[T], error) {
	var entry CachedEntry[T]
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return entry, fmt.Errorf("decode %s entry: %w", c.entity, err)
	}
	return entry, nil
}
