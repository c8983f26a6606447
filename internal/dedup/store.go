// Package dedup 记录已经完整处理过的邮件 id，避免跨周期重复处理。
package dedup

import (
	"context"
	"fmt"
)

// Store 已处理邮件 id 集合。Add 返回前必须已经写入持久化存储
type Store interface {
	Contains(ctx context.Context, id string) (bool, error)
	Add(ctx context.Context, id string) error
	Len() int
	Close() error
}

// Backend 名称
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// PersistenceWarning 启动时状态文件缺失或损坏，存储以空集合启动
type PersistenceWarning struct {
	Path string
	Err  error
}

func (w *PersistenceWarning) Error() string {
	return fmt.Sprintf("dedup state %s unusable, starting empty: %v", w.Path, w.Err)
}

func (w *PersistenceWarning) Unwrap() error { return w.Err }
