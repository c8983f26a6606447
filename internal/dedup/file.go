package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"mailwatcher/pkg/metrics"
)

// FileStore 以 JSON 数组保存 id（插入顺序），每次 Add 全量重写文件
type FileStore struct {
	mu     sync.Mutex
	path   string
	ids    []string
	index  map[string]struct{}
	logger *zap.Logger
}

// OpenFileStore 加载状态文件。文件缺失或损坏不是致命错误：
// 以空集合启动并记录 warning
func OpenFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("dedup: state file path is required")
	}

	s := &FileStore{
		path:   path,
		index:  make(map[string]struct{}),
		logger: logger,
	}

	if err := s.load(); err != nil {
		var warn *PersistenceWarning
		if !errors.As(err, &warn) {
			return nil, err
		}
		logger.Warn("Dedup state not loaded, starting empty",
			zap.String("path", path),
			zap.Error(warn.Err),
		)
	}

	metrics.SetDedupStoreSize(len(s.ids))
	logger.Info("Dedup store loaded",
		zap.String("backend", BackendFile),
		zap.String("path", path),
		zap.Int("ids", len(s.ids)),
	)
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return &PersistenceWarning{Path: s.path, Err: err}
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return &PersistenceWarning{Path: s.path, Err: err}
	}

	for _, id := range ids {
		if _, ok := s.index[id]; ok || id == "" {
			continue
		}
		s.index[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
	return nil
}

func (s *FileStore) Contains(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok, nil
}

// Add 加入 id 并同步重写状态文件；写失败时内存集合回滚
func (s *FileStore) Add(_ context.Context, id string) error {
	if id == "" {
		return errors.New("dedup: empty id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; ok {
		return nil
	}

	s.ids = append(s.ids, id)
	if err := s.flush(); err != nil {
		s.ids = s.ids[:len(s.ids)-1]
		return err
	}
	s.index[id] = struct{}{}
	metrics.SetDedupStoreSize(len(s.ids))
	return nil
}

// flush 写临时文件 + fsync + rename，保证文件要么是旧集合要么是新集合
// 调用方必须持有 s.mu
func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.ids, "", "  ")
	if err != nil {
		return fmt.Errorf("dedup: encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("dedup: create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("dedup: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // rename 成功后是 no-op

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("dedup: write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("dedup: sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("dedup: close state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("dedup: replace state: %w", err)
	}
	return nil
}

func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// IDs 返回插入顺序的 id 副本
func (s *FileStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

func (s *FileStore) Close() error { return nil }
