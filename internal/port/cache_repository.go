package port

import (
	"context"
	"time"

	"github.com/rl1809/voucher-seckill/internal/core/domain"
)

type Locker interface {
	// TryLock makes one attempt to take the lease "lock:<name>" and returns the owner token on success
	TryLock(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error)

	// Unlock releases the lease only if it is still held by token
	Unlock(ctx context.Context, name, token string) error
}

type IDGenerator interface {
	// NextID returns a globally unique, roughly time ordered id within namespace
	NextID(ctx context.Context, namespace string) (int64, error)
}

type AdmissionGate interface {
	// Admit atomically checks stock and duplicates, then records the order and appends it to the order stream
	Admit(ctx context.Context, voucherID, userID, orderID int64) (domain.AdmissionResult, error)

	// SetStock preloads the seckill stock of a voucher
	SetStock(ctx context.Context, voucherID int64, stock int) error
}

type SessionStore interface {
	// GetUser resolves a login token, returning false when the session does not exist
	GetUser(ctx context.Context, token string) (domain.User, bool, error)

	// Touch extends the session lifetime
	Touch(ctx context.Context, token string, ttl time.Duration) error

	// SaveUser stores a session for token
	SaveUser(ctx context.Context, token string, u domain.User, ttl time.Duration) error
}

type RateLimiter interface {
	// Allow records one hit for key and reports whether it is within limit for the sliding window
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
