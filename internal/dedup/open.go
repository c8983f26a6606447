package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options 选择存储后端。Redis / DB 连接由调用方创建并负责关闭
type Options struct {
	Backend   string
	StateFile string
	RedisKey  string
	Redis     *redis.Client
	DB        *pgxpool.Pool
}

// Open 按 Backend 打开存储，空值等同于 file
func Open(ctx context.Context, opts Options, logger *zap.Logger) (Store, error) {
	switch opts.Backend {
	case "", BackendFile:
		return OpenFileStore(opts.StateFile, logger)
	case BackendRedis:
		if opts.Redis == nil {
			return nil, errors.New("dedup: redis backend selected but no redis client configured")
		}
		return OpenRedisStore(ctx, opts.Redis, opts.RedisKey, logger)
	case BackendPostgres:
		if opts.DB == nil {
			return nil, errors.New("dedup: postgres backend selected but no database configured")
		}
		return OpenPostgresStore(ctx, opts.DB, logger)
	default:
		return nil, fmt.Errorf("dedup: unknown backend %q", opts.Backend)
	}
}
