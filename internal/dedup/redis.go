package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailwatcher/pkg/metrics"
)

// RedisStore 用一个 Redis SET 保存 id；SADD 在 Add 返回前已落到 Redis
type RedisStore struct {
	rdb    *redis.Client
	key    string
	size   int
	logger *zap.Logger
}

func OpenRedisStore(ctx context.Context, rdb *redis.Client, key string, logger *zap.Logger) (*RedisStore, error) {
	if key == "" {
		key = "mailwatcher:processed"
	}

	size, err := rdb.SCard(ctx, key).Result()
	if err != nil {
		// 和文件存储一样：读不到不致命
		logger.Warn("Dedup set not readable, size unknown",
			zap.String("key", key),
			zap.Error(err),
		)
		size = 0
	}

	metrics.SetDedupStoreSize(int(size))
	logger.Info("Dedup store loaded",
		zap.String("backend", BackendRedis),
		zap.String("key", key),
		zap.Int64("ids", size),
	)
	return &RedisStore{rdb: rdb, key: key, size: int(size), logger: logger}, nil
}

func (s *RedisStore) Contains(ctx context.Context, id string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, s.key, id).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: redis SISMEMBER: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Add(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("dedup: empty id")
	}
	added, err := s.rdb.SAdd(ctx, s.key, id).Result()
	if err != nil {
		return fmt.Errorf("dedup: redis SADD: %w", err)
	}
	if added > 0 {
		s.size++
		metrics.SetDedupStoreSize(s.size)
	}
	return nil
}

func (s *RedisStore) Len() int { return s.size }

// Close 不关闭共享的 redis client
func (s *RedisStore) Close() error { return nil }
