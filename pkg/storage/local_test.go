package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestLocalReadWrite(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}

	if err := s.Write(ctx, "sub/dir/doc.yaml", []byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	data, err := s.Read(ctx, "sub/dir/doc.yaml")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("Read returned %q, want %q", data, "hello")
	}
}

func TestLocalReadNotFound(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}

	_, err = s.Read(ctx, "missing.yaml")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Read of missing file returned %v, want ErrNotFound", err)
	}
}

func TestLocalWriteLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewLocal(root)
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}

	if err := s.Write(ctx, "doc.yaml", []byte("v1")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Write(ctx, "doc.yaml", []byte("v2")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 1 || names[0] != "doc.yaml" {
		t.Errorf("root contains %v, want only doc.yaml", names)
	}

	data, err := s.Read(ctx, "doc.yaml")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "v2" {
		t.Errorf("Read returned %q after overwrite, want %q", data, "v2")
	}
}

func TestLocalDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}

	if err := s.Write(ctx, "doc.yaml", []byte("x")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Delete(ctx, "doc.yaml"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, err := s.Exists(ctx, "doc.yaml")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("file still exists after Delete")
	}
}

func TestLocalList(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}

	for _, path := range []string{"a/one.json", "a/two.json", "b/three.json"} {
		if err := s.Write(ctx, path, []byte("{}")); err != nil {
			t.Fatalf("Write %s failed: %v", path, err)
		}
	}

	got, err := s.List(ctx, "a")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	sort.Strings(got)
	want := []string{filepath.Join("a", "one.json"), filepath.Join("a", "two.json")}
	if len(got) != len(want) {
		t.Fatalf("List returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
