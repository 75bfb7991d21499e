package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"github.com/hyperjump/nutrirag/internal/models"
	"github.com/hyperjump/nutrirag/internal/persist"
	"go.uber.org/zap"
)

const fileFormatVersion = 1

type fileState struct {
	Version int                       `json:"version"`
	Entries map[string][]models.Match `json:"entries"`
}

// FileCache keeps results in memory and rewrites one JSON file after every change.
type FileCache struct {
	path    string
	entries map[string][]models.Match
	logger  *zap.Logger
	mu      sync.RWMutex
}

// NewFileCache loads path. A missing file gives an empty cache; a corrupt one is logged
// at error level and replaced by an empty cache on the next write.
func NewFileCache(path string, logger *zap.Logger) *FileCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &FileCache{
		path:    path,
		entries: make(map[string][]models.Match),
		logger:  logger,
	}
	if path == "" {
		return c
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Error("failed to read result cache, starting empty", zap.String("path", path), zap.Error(err))
		}
		return c
	}
	var st fileState
	if err := json.Unmarshal(data, &st); err != nil || st.Version != fileFormatVersion {
		logger.Error("result cache file is corrupt, starting empty",
			zap.String("path", path), zap.Int("version", st.Version), zap.Error(err))
		return c
	}
	if st.Entries != nil {
		c.entries = st.Entries
	}
	return c
}

func (c *FileCache) Lookup(_ context.Context, key string) ([]models.Match, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	matches, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return cloneMatches(matches), true, nil
}

func (c *FileCache) Store(_ context.Context, key string, matches []models.Match) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if matches == nil {
		matches = []models.Match{}
	}
	c.entries[key] = cloneMatches(matches)
	c.persistLocked()
	return nil
}

func (c *FileCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]models.Match)
	c.persistLocked()
	return nil
}

func (c *FileCache) Len(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), nil
}

func (c *FileCache) Close() error {
	return nil
}

func (c *FileCache) persistLocked() {
	if c.path == "" {
		return
	}
	data, err := json.Marshal(fileState{Version: fileFormatVersion, Entries: c.entries})
	if err == nil {
		err = persist.WriteFile(c.path, data, 0644)
	}
	if err != nil {
		c.logger.Warn("failed to persist result cache", zap.String("path", c.path), zap.Error(err))
	}
}
