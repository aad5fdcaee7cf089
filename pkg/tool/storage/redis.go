// pkg/tool/storage/redis.go
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-lti/pkg/tool/lti"
)

const defaultNoncePrefix = "lti:nonce:"

// RedisNonceStore keeps nonces as keys with a TTL, so expiry needs no purge.
type RedisNonceStore struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

var _ lti.NonceStore = (*RedisNonceStore)(nil)

// NewRedisNonceStore parses redisURL, connects and pings.
func NewRedisNonceStore(ctx context.Context, redisURL string, logger *zap.Logger) (*RedisNonceStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("storage: redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("storage: redis ping: %w", err)
	}
	return NewRedisNonceStoreWithClient(client, defaultNoncePrefix, logger), nil
}

// NewRedisNonceStoreWithClient wraps an existing client. An empty prefix
// selects "lti:nonce:".
func NewRedisNonceStoreWithClient(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisNonceStore {
	if prefix == "" {
		prefix = defaultNoncePrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisNonceStore{client: client, prefix: prefix, logger: logger}
}

func (s *RedisNonceStore) key(scope, value string) string {
	return s.prefix + scope + "|" + value
}

// Use is SET NX with the ttl.
func (s *RedisNonceStore) Use(ctx context.Context, scope, value string, ttl time.Duration) (bool, error) {
	if err := checkNonce(scope, value); err != nil {
		return false, err
	}
	ok, err := s.client.SetNX(ctx, s.key(scope, value), 1, ttl).Result()
	if err != nil {
		s.logger.Error("Failed to store nonce", zap.String("scope", scope), zap.Error(err))
		return false, fmt.Errorf("storage: redis use nonce: %w", err)
	}
	return ok, nil
}

// Consume is DEL; only the caller that removed the key wins.
func (s *RedisNonceStore) Consume(ctx context.Context, scope, value string) (bool, error) {
	if err := checkNonce(scope, value); err != nil {
		return false, err
	}
	n, err := s.client.Del(ctx, s.key(scope, value)).Result()
	if err != nil {
		s.logger.Error("Failed to consume nonce", zap.String("scope", scope), zap.Error(err))
		return false, fmt.Errorf("storage: redis consume nonce: %w", err)
	}
	return n == 1, nil
}

func (s *RedisNonceStore) Close() error {
	return s.client.Close()
}
