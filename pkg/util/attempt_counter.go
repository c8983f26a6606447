package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AttemptCounter 记录每封邮件连续失败的次数（跨周期、跨实例共享）
type AttemptCounter struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewAttemptCounter(rdb *redis.Client, ttl time.Duration) *AttemptCounter {
	return &AttemptCounter{rdb: rdb, ttl: ttl}
}

// Failed 失败次数加一并返回新值；第一次失败时设置过期时间
func (c *AttemptCounter) Failed(ctx context.Context, messageID string) (int64, error) {
	key := AttemptKey(messageID)
	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		c.rdb.Expire(ctx, key, c.ttl)
	}
	return count, nil
}

// Get 当前失败次数，不存在时为 0
func (c *AttemptCounter) Get(ctx context.Context, messageID string) (int64, error) {
	count, err := c.rdb.Get(ctx, AttemptKey(messageID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

// Reset 邮件记录成功后清除计数
func (c *AttemptCounter) Reset(ctx context.Context, messageID string) error {
	return c.rdb.Del(ctx, AttemptKey(messageID)).Err()
}

func AttemptKey(messageID string) string {
	return fmt.Sprintf("mailwatcher:attempts:%s", messageID)
}
