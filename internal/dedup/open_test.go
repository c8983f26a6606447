package dedup

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestOpen_SelectsBackend(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	tests := []struct {
		name    string
		opts    Options
		wantErr bool
		check   func(t *testing.T, s Store)
	}{
		{
			name: "default is file",
			opts: Options{StateFile: filepath.Join(t.TempDir(), "p.json")},
			check: func(t *testing.T, s Store) {
				if _, ok := s.(*FileStore); !ok {
					t.Errorf("got %T, want *FileStore", s)
				}
			},
		},
		{
			name: "redis",
			opts: Options{Backend: BackendRedis, Redis: rdb},
			check: func(t *testing.T, s Store) {
				if _, ok := s.(*RedisStore); !ok {
					t.Errorf("got %T, want *RedisStore", s)
				}
			},
		},
		{name: "redis without client", opts: Options{Backend: BackendRedis}, wantErr: true},
		{name: "postgres without pool", opts: Options{Backend: BackendPostgres}, wantErr: true},
		{name: "unknown", opts: Options{Backend: "etcd"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(ctx, tt.opts, zap.NewNop())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			tt.check(t, s)
		})
	}
}
