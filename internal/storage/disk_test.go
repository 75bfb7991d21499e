package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDirUsage(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "embedding_cache.json"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "local_index", "meta")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "local_index", "vectors.db"), []byte("ab"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "seg"), []byte("c"), 0644); err != nil {
		t.Fatal(err)
	}

	u, err := DirUsage(dir)
	if err != nil {
		t.Fatal(err)
	}
	if u.TotalBytes != 8 {
		t.Errorf("total: got %d bytes, want 8", u.TotalBytes)
	}
	if u.Entries["embedding_cache.json"] != 5 {
		t.Errorf("embedding cache: got %d bytes, want 5", u.Entries["embedding_cache.json"])
	}
	if u.Entries["local_index"] != 3 {
		t.Errorf("local index: got %d bytes, want 3", u.Entries["local_index"])
	}
}

func TestDirUsage_Missing(t *testing.T) {
	u, err := DirUsage(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatal(err)
	}
	if u.TotalBytes != 0 || len(u.Entries) != 0 {
		t.Errorf("missing dir: got %+v", u)
	}
}
