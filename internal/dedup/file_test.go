package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func readIDs(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return ids
}

func TestFileStore_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processedMails.json")

	s, err := OpenFileStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("len: got %d, want 0", s.Len())
	}
}

func TestFileStore_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processedMails.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := OpenFileStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("len: got %d, want 0", s.Len())
	}

	// 第一次 Add 会用合法内容覆盖损坏的文件
	if err := s.Add(context.Background(), "M1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := readIDs(t, path); len(got) != 1 || got[0] != "M1" {
		t.Errorf("state: got %v", got)
	}
}

func TestFileStore_AddRewritesFullSetInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "processed.json")
	ctx := context.Background()

	s, err := OpenFileStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}

	for _, id := range []string{"A", "B", "C", "B"} {
		if err := s.Add(ctx, id); err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
	}

	want := []string{"A", "B", "C"}
	got := readIDs(t, path)
	if len(got) != len(want) {
		t.Fatalf("state: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("state[%d]: got %q, want %q", i, got[i], want[i])
		}
	}

	ok, _ := s.Contains(ctx, "B")
	if !ok {
		t.Error("B should be contained")
	}
	ok, _ = s.Contains(ctx, "Z")
	if ok {
		t.Error("Z should not be contained")
	}
}

func TestFileStore_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.json")
	ctx := context.Background()

	first, err := OpenFileStore(path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Add(ctx, "M1"); err != nil {
		t.Fatal(err)
	}

	second, err := OpenFileStore(path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	ok, _ := second.Contains(ctx, "M1")
	if !ok {
		t.Error("M1 should survive a reload")
	}
	if ids := second.IDs(); len(ids) != 1 {
		t.Errorf("ids: got %v", ids)
	}
}

func TestFileStore_WriteFailureRollsBack(t *testing.T) {
	dir := t.TempDir()
	// 父路径是普通文件，MkdirAll 必然失败
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(blocker, "processed.json")

	s, err := OpenFileStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}

	if err := s.Add(context.Background(), "M1"); err == nil {
		t.Fatal("expected write error")
	}
	ok, _ := s.Contains(context.Background(), "M1")
	if ok {
		t.Error("failed Add must not leave the id in memory")
	}
}

func TestPersistenceWarning_Unwrap(t *testing.T) {
	w := &PersistenceWarning{Path: "x", Err: os.ErrNotExist}
	if !errors.Is(w, os.ErrNotExist) {
		t.Error("warning should unwrap to the cause")
	}
}
