package port

import (
	"context"

	"github.com/rl1809/voucher-seckill/internal/core/domain"
)

type OrderStream interface {
	// EnsureGroup creates the consumer group (and the stream) if missing
	EnsureGroup(ctx context.Context) error

	// ReadNew blocks for up to the configured window waiting for one undelivered entry; nil means none arrived
	ReadNew(ctx context.Context) (*domain.StreamEntry, error)

	// ReadPending returns the oldest delivered but unacknowledged entry of this consumer, or nil
	ReadPending(ctx context.Context) (*domain.StreamEntry, error)

	// Ack removes the entry from the pending list
	Ack(ctx context.Context, entryID string) error

	// Deliveries reports how many times the entry has been delivered
	Deliveries(ctx context.Context, entryID string) (int64, error)

	// DeadLetter copies the entry to the dead-letter stream and acknowledges it
	DeadLetter(ctx context.Context, entry domain.StreamEntry, reason string) error
}
