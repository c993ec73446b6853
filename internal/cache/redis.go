package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const redisKeyPrefix = "git-insights:cache:"

// redisStore delegates TTL handling to Redis key expiry.
type redisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRedisStore creates a Redis-backed cache store.
func NewRedisStore(redisURL string, ttl time.Duration, logger *logrus.Logger) (Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return &redisStore{rdb: rdb, ttl: ttl, logger: logger}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := s.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.WithError(err).Warn("cache read failed, treating as miss")
		}
		return nil, false
	}
	return val, true
}

func (s *redisStore) Set(ctx context.Context, key string, payload []byte) {
	if err := s.rdb.Set(ctx, redisKeyPrefix+key, payload, s.ttl).Err(); err != nil {
		s.logger.WithError(err).Warn("cache write failed")
	}
}

func (s *redisStore) Clear(ctx context.Context) {
	iter := s.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		s.logger.WithError(err).Warn("cache clear scan failed")
		return
	}
	if len(keys) > 0 {
		if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
			s.logger.WithError(err).Warn("cache clear failed")
		}
	}
}

func (s *redisStore) Close() error {
	return s.rdb.Close()
}
