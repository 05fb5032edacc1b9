package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/voucher-seckill/internal/core/domain"
)

const (
	stockKeyPrefix     = "seckill:stock:"
	orderSetKeyPrefix  = "seckill:order:"
	DefaultOrderStream = "stream.orders"
)

// seckillScript returns 1 when sold out, 2 when the user already ordered,
// and 0 after taking one unit and appending the order to the stream.
var seckillScript = redis.NewScript(`
local stockKey = KEYS[1]
local orderKey = KEYS[2]
local streamKey = KEYS[3]

local voucherId = ARGV[1]
local userId = ARGV[2]
local orderId = ARGV[3]

local stock = tonumber(redis.call('GET', stockKey))
if stock == nil or stock <= 0 then
	return 1
end

if redis.call('SISMEMBER', orderKey, userId) == 1 then
	return 2
end

redis.call('INCRBY', stockKey, -1)
redis.call('SADD', orderKey, userId)
redis.call('XADD', streamKey, '*', 'userId', userId, 'voucherId', voucherId, 'id', orderId)
return 0
`)

// ErrClusterClient is returned by Admit on a Redis Cluster client. The
// admission script touches the stock key, the order set and the shared order
// stream in one call, and those keys live in different hash slots, so only
// single node and Sentinel deployments are supported.
var ErrClusterClient = errors.New("seckill admission does not support redis cluster")

type RedisAdapter struct {
	client redis.UniversalClient
	stream string
}

func NewRedisAdapter(client redis.UniversalClient, stream string) *RedisAdapter {
	if stream == "" {
		stream = DefaultOrderStream
	}
	return &RedisAdapter{client: client, stream: stream}
}

func stockKey(voucherID int64) string {
	return stockKeyPrefix + strconv.FormatInt(voucherID, 10)
}

func orderSetKey(voucherID int64) string {
	return orderSetKeyPrefix + strconv.FormatInt(voucherID, 10)
}

func (r *RedisAdapter) Admit(ctx context.Context, voucherID, userID, orderID int64) (domain.AdmissionResult, error) {
	if _, ok := r.client.(*redis.ClusterClient); ok {
		return 0, ErrClusterClient
	}
	keys := []string{stockKey(voucherID), orderSetKey(voucherID), r.stream}

	code, err := seckillScript.Run(ctx, r.client, keys, voucherID, userID, orderID).Int()
	if err != nil {
		return 0, fmt.Errorf("run seckill script: %w", err)
	}

	switch res := domain.AdmissionResult(code); res {
	case domain.AdmissionAccepted, domain.AdmissionSoldOut, domain.AdmissionDuplicate:
		return res, nil
	default:
		return 0, fmt.Errorf("unexpected seckill script result %d", code)
	}
}

func (r *RedisAdapter) SetStock(ctx context.Context, voucherID int64, stock int) error {
	return r.client.Set(ctx, stockKey(voucherID), stock, 0).Err()
}

// Stock returns the remaining admission stock, or -1 when the voucher was never loaded.
func (r *RedisAdapter) Stock(ctx context.Context, voucherID int64) (int, error) {
	n, err := r.client.Get(ctx, stockKey(voucherID)).Int()
	if err == redis.Nil {
		return -1, nil
	}
	return n, err
}
