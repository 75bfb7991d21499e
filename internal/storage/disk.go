package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Usage is the on-disk size of a cache directory, split by top-level entry
// (embedding cache file, result cache, local index, source registry).
type Usage struct {
	TotalBytes int64            `json:"total_bytes"`
	Entries    map[string]int64 `json:"entries,omitempty"`
}

// DirUsage sums the sizes of the files under dir, grouped by the first path element
// below dir. A missing dir has zero usage.
func DirUsage(dir string) (*Usage, error) {
	u := &Usage{Entries: make(map[string]int64)}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		top, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
		u.Entries[top] += info.Size()
		u.TotalBytes += info.Size()
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return u, nil
}
