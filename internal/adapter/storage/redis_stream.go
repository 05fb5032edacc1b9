package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/voucher-seckill/internal/core/domain"
)

type StreamConfig struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
}

// RedisStream reads the order stream through one consumer of a consumer group.
// Entries that cannot be decoded are moved to "<stream>.dead" and acknowledged
// so they never reach the caller.
type RedisStream struct {
	client redis.UniversalClient
	cfg    StreamConfig
	dead   string
	log    *logrus.Logger
}

func NewRedisStream(client redis.UniversalClient, cfg StreamConfig, log *logrus.Logger) *RedisStream {
	if cfg.Stream == "" {
		cfg.Stream = DefaultOrderStream
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	return &RedisStream{client: client, cfg: cfg, dead: cfg.Stream + ".dead", log: log}
}

func (s *RedisStream) DeadLetterStream() string {
	return s.dead
}

func (s *RedisStream) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.cfg.Stream, s.cfg.Group, "0").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("create group %s on %s: %w", s.cfg.Group, s.cfg.Stream, err)
}

func (s *RedisStream) ReadNew(ctx context.Context) (*domain.StreamEntry, error) {
	return s.readOne(ctx, ">", s.cfg.Block)
}

// ReadPending reads history, so it never blocks.
func (s *RedisStream) ReadPending(ctx context.Context) (*domain.StreamEntry, error) {
	return s.readOne(ctx, "0", -1)
}

func (s *RedisStream) readOne(ctx context.Context, id string, block time.Duration) (*domain.StreamEntry, error) {
	for {
		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.cfg.Group,
			Consumer: s.cfg.Consumer,
			Streams:  []string{s.cfg.Stream, id},
			Count:    1,
			Block:    block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, nil
			}
			return nil, err
		}
		if len(streams) == 0 || len(streams[0].Messages) == 0 {
			return nil, nil
		}

		msg := streams[0].Messages[0]
		entry, err := parseStreamEntry(msg)
		if err == nil {
			return &entry, nil
		}

		s.log.Warnf("[OrderStream] malformed entry %s: %v", msg.ID, err)
		if dlErr := s.deadLetterRaw(ctx, msg.ID, msg.Values, err.Error()); dlErr != nil {
			return nil, dlErr
		}
	}
}

func (s *RedisStream) Ack(ctx context.Context, entryID string) error {
	return s.client.XAck(ctx, s.cfg.Stream, s.cfg.Group, entryID).Err()
}

func (s *RedisStream) Deliveries(ctx context.Context, entryID string) (int64, error) {
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   s.cfg.Stream,
		Group:    s.cfg.Group,
		Start:    entryID,
		End:      entryID,
		Count:    1,
		Consumer: s.cfg.Consumer,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	return pending[0].RetryCount, nil
}

func (s *RedisStream) DeadLetter(ctx context.Context, entry domain.StreamEntry, reason string) error {
	values := map[string]interface{}{
		"id":        entry.OrderID,
		"userId":    entry.UserID,
		"voucherId": entry.VoucherID,
	}
	return s.deadLetterRaw(ctx, entry.EntryID, values, reason)
}

func (s *RedisStream) deadLetterRaw(ctx context.Context, entryID string, values map[string]interface{}, reason string) error {
	payload, _ := json.Marshal(values)

	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.dead,
		Values: map[string]interface{}{
			"original_stream": s.cfg.Stream,
			"consumer_group":  s.cfg.Group,
			"msg_id":          entryID,
			"payload":         string(payload),
			"error_reason":    reason,
			"created_at":      time.Now().UnixMilli(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("write dead letter %s: %w", entryID, err)
	}

	if err := s.Ack(ctx, entryID); err != nil {
		return fmt.Errorf("ack dead letter %s: %w", entryID, err)
	}

	s.log.Warnf("[OrderStream] entry moved to dead stream (stream=%s, group=%s, msgID=%s, reason=%s)",
		s.cfg.Stream, s.cfg.Group, entryID, reason)
	return nil
}

func parseStreamEntry(msg redis.XMessage) (domain.StreamEntry, error) {
	entry := domain.StreamEntry{EntryID: msg.ID}

	fields := []struct {
		key string
		dst *int64
	}{
		{"id", &entry.OrderID},
		{"userId", &entry.UserID},
		{"voucherId", &entry.VoucherID},
	}
	for _, f := range fields {
		raw, err := getStreamString(msg.Values, f.key)
		if err != nil {
			return domain.StreamEntry{}, err
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.StreamEntry{}, fmt.Errorf("invalid field %s: %w", f.key, err)
		}
		*f.dst = v
	}
	return entry, nil
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
