package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript 仍由自己持有时重置过期时间
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// CycleLock 基于 Redis SET NX 的跨进程互斥，避免多个实例同时同步同一个邮箱
type CycleLock struct {
	rdb    *redis.Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

func NewCycleLock(rdb *redis.Client, mailbox string, ttl time.Duration, logger *zap.Logger) *CycleLock {
	return &CycleLock{
		rdb:    rdb,
		key:    fmt.Sprintf("mailwatcher:lock:%s", mailbox),
		ttl:    ttl,
		logger: logger,
	}
}

// Acquire 尝试获取锁，返回 release 函数
// ok=false 表示其他实例正在运行
func (l *CycleLock) Acquire(ctx context.Context, owner string) (release func(), ok bool) {
	acquired, err := l.rdb.SetNX(ctx, l.key, owner, l.ttl).Result()
	if err != nil {
		// Redis 挂了？不阻止本地周期运行（本地仍有 in-progress 保护）
		l.logger.Warn("Redis cycle lock failed, running without it",
			zap.String("lock_key", l.key),
			zap.Error(err),
		)
		return func() {}, true
	}

	if !acquired {
		l.logger.Info("Cycle lock held by another instance",
			zap.String("lock_key", l.key),
		)
		return nil, false
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(owner, stop, done)

	return func() {
		close(stop)
		<-done

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, owner).Err(); err != nil {
			l.logger.Warn("Failed to release cycle lock",
				zap.String("lock_key", l.key),
				zap.Error(err),
			)
		}
	}, true
}

// keepAlive 周期运行期间每 ttl/3 续期一次，周期再长也不会丢锁
func (l *CycleLock) keepAlive(owner string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := l.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			extended, err := extendScript.Run(ctx, l.rdb, []string{l.key}, owner, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.logger.Warn("Failed to extend cycle lock",
					zap.String("lock_key", l.key),
					zap.Error(err),
				)
				continue
			}
			if extended == 0 {
				l.logger.Error("Cycle lock lost while cycle is running",
					zap.String("lock_key", l.key),
				)
				return
			}
		}
	}
}
