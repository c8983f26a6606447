package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"mailwatcher/pkg/metrics"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS processed_messages (
	id           TEXT PRIMARY KEY,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresStore 用 processed_messages 表保存 id
type PostgresStore struct {
	db     *pgxpool.Pool
	size   int
	logger *zap.Logger
}

func OpenPostgresStore(ctx context.Context, db *pgxpool.Pool, logger *zap.Logger) (*PostgresStore, error) {
	if _, err := db.Exec(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("dedup: create table: %w", err)
	}

	var size int
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM processed_messages`).Scan(&size); err != nil {
		return nil, fmt.Errorf("dedup: count rows: %w", err)
	}

	metrics.SetDedupStoreSize(size)
	logger.Info("Dedup store loaded",
		zap.String("backend", BackendPostgres),
		zap.Int("ids", size),
	)
	return &PostgresStore{db: db, size: size, logger: logger}, nil
}

func (s *PostgresStore) Contains(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_messages WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("dedup: query: %w", err)
	}
	return exists, nil
}

// Add 使用 ON CONFLICT 保证幂等
func (s *PostgresStore) Add(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("dedup: empty id")
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO processed_messages (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id,
	)
	if err != nil {
		return fmt.Errorf("dedup: insert: %w", err)
	}
	if tag.RowsAffected() > 0 {
		s.size++
		metrics.SetDedupStoreSize(s.size)
	}
	return nil
}

func (s *PostgresStore) Len() int { return s.size }

// Close 不关闭共享的连接池
func (s *PostgresStore) Close() error { return nil }
