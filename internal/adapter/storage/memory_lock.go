package storage

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rl1809/voucher-seckill/internal/clock"
)

type memoryLease struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is an in-process Locker with the same lease semantics as RedisLocker.
type MemoryLocker struct {
	mu     sync.Mutex
	clock  clock.Clock
	leases map[string]memoryLease
	seq    uint64
}

func NewMemoryLocker(c clock.Clock) *MemoryLocker {
	if c == nil {
		c = clock.NewSystem()
	}
	return &MemoryLocker{clock: c, leases: make(map[string]memoryLease)}
}

func (l *MemoryLocker) TryLock(_ context.Context, name string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if lease, ok := l.leases[name]; ok && now.Before(lease.expiresAt) {
		return "", false, nil
	}

	l.seq++
	token := "mem-" + strconv.FormatUint(l.seq, 10)
	l.leases[name] = memoryLease{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLocker) Unlock(_ context.Context, name, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lease, ok := l.leases[name]; ok && lease.token == token {
		delete(l.leases, name)
	}
	return nil
}
