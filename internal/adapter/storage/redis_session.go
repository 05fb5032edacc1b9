package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/voucher-seckill/internal/core/domain"
)

const sessionKeyPrefix = "login:token:"

// SessionStore keeps logged-in users as hashes under login:token:<token>.
type SessionStore struct {
	client redis.UniversalClient
}

func NewSessionStore(client redis.UniversalClient) *SessionStore {
	return &SessionStore{client: client}
}

func (s *SessionStore) GetUser(ctx context.Context, token string) (domain.User, bool, error) {
	fields, err := s.client.HGetAll(ctx, sessionKeyPrefix+token).Result()
	if err != nil {
		return domain.User{}, false, fmt.Errorf("load session: %w", err)
	}
	if len(fields) == 0 {
		return domain.User{}, false, nil
	}

	id, err := strconv.ParseInt(fields["id"], 10, 64)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("invalid session user id %q: %w", fields["id"], err)
	}
	return domain.User{ID: id, NickName: fields["nickName"], Icon: fields["icon"]}, true, nil
}

func (s *SessionStore) Touch(ctx context.Context, token string, ttl time.Duration) error {
	return s.client.Expire(ctx, sessionKeyPrefix+token, ttl).Err()
}

func (s *SessionStore) SaveUser(ctx context.Context, token string, u domain.User, ttl time.Duration) error {
	key := sessionKeyPrefix + token
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"id":       strconv.FormatInt(u.ID, 10),
			"nickName": u.NickName,
			"icon":     u.Icon,
		})
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return err
}
