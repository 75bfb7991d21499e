package vector

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/hyperjump/nutrirag/internal/keyword"
	"github.com/hyperjump/nutrirag/internal/models"
	"github.com/hyperjump/nutrirag/internal/storage"
	"go.uber.org/zap"
)

// Local index file names inside its directory.
const (
	LocalDBFile       = "items.db"
	LocalMetadataFile = "metadata.bleve"
)

// LocalIndex is the local-fallback index. SQLite is the system of record; vectors are
// mirrored into a MemoryIndex for search and metadata into a Bleve index for filters.
type LocalIndex struct {
	store    storage.Storage
	mem      *MemoryIndex
	meta     keyword.MetadataIndex
	metadata map[string]models.Metadata
	logger   *zap.Logger
	mu       sync.RWMutex
}

// LocalOption configures a LocalIndex.
type LocalOption func(*LocalIndex)

// WithLocalLogger sets the logger.
func WithLocalLogger(l *zap.Logger) LocalOption {
	return func(li *LocalIndex) { li.logger = l }
}

// OpenLocalIndex opens (or creates) the local index stored in dir and loads every
// record into memory.
func OpenLocalIndex(ctx context.Context, dir string, dimensions int, opts ...LocalOption) (*LocalIndex, error) {
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, LocalDBFile))
	if err != nil {
		return nil, err
	}
	meta, err := keyword.NewBleveIndex(filepath.Join(dir, LocalMetadataFile))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	li, err := NewLocalIndex(ctx, store, meta, dimensions, opts...)
	if err != nil {
		_ = meta.Close()
		_ = store.Close()
		return nil, err
	}
	return li, nil
}

// NewLocalIndex builds a LocalIndex over existing stores and loads every record.
func NewLocalIndex(ctx context.Context, store storage.Storage, meta keyword.MetadataIndex, dimensions int, opts ...LocalOption) (*LocalIndex, error) {
	mem, err := NewMemoryIndex(dimensions)
	if err != nil {
		return nil, err
	}
	li := &LocalIndex{
		store:    store,
		mem:      mem,
		meta:     meta,
		metadata: make(map[string]models.Metadata),
	}
	for _, opt := range opts {
		opt(li)
	}
	if li.logger == nil {
		li.logger = zap.NewNop()
	}
	if err := li.load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load local index: %w", err)
	}
	return li, nil
}

func (li *LocalIndex) load(ctx context.Context) error {
	skipped := 0
	err := li.store.ForEachItem(ctx, func(item *models.Item) error {
		if len(item.Vector) != li.mem.Dimensions() {
			skipped++
			return nil
		}
		if err := li.mem.Upsert([]string{item.ID}, [][]float32{item.Vector}); err != nil {
			return err
		}
		li.metadata[item.ID] = item.Metadata
		return nil
	})
	if err != nil {
		return err
	}
	if skipped > 0 {
		li.logger.Warn("skipped stored items with a different vector dimension",
			zap.Int("skipped", skipped), zap.Int("dimensions", li.mem.Dimensions()))
	}

	// Rebuild the filter index when it drifted from the store, e.g. after a crash between writes.
	n, err := li.meta.DocCount()
	if err != nil {
		return err
	}
	if int(n) != len(li.metadata) {
		li.logger.Info("rebuilding local metadata index", zap.Uint64("indexed", n), zap.Int("items", len(li.metadata)))
		for id, md := range li.metadata {
			if err := li.meta.Index(ctx, id, md); err != nil {
				return err
			}
		}
	}
	li.logger.Debug("local index loaded", zap.Int("items", li.mem.Size()))
	return nil
}

// Upsert stores records and makes them searchable.
func (li *LocalIndex) Upsert(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	items := make([]*models.Item, len(records))
	ids := make([]string, len(records))
	vecs := make([][]float32, len(records))
	for i, r := range records {
		if len(r.Vector) != li.mem.Dimensions() {
			return fmt.Errorf("%w: record %s has %d, index expects %d", ErrDimensionMismatch, r.ID, len(r.Vector), li.mem.Dimensions())
		}
		for k, v := range r.Metadata {
			if _, err := keyword.Term(v); err != nil {
				return fmt.Errorf("record %s metadata key %q: %w", r.ID, k, err)
			}
		}
		items[i] = &models.Item{
			ID:       r.ID,
			Content:  r.Metadata.String(models.MetaContent),
			ItemType: r.Metadata.String(models.MetaItemType),
			Metadata: r.Metadata.Clone(),
			Vector:   r.Vector,
		}
		ids[i] = r.ID
		vecs[i] = r.Vector
	}

	li.mu.Lock()
	defer li.mu.Unlock()
	if err := li.store.UpsertItems(ctx, items); err != nil {
		return fmt.Errorf("failed to store records: %w", err)
	}
	if err := li.mem.Upsert(ids, vecs); err != nil {
		return err
	}
	for _, it := range items {
		li.metadata[it.ID] = it.Metadata
		if err := li.meta.Index(ctx, it.ID, it.Metadata); err != nil {
			return fmt.Errorf("failed to index metadata for %s: %w", it.ID, err)
		}
	}
	return nil
}

// Query returns the topK most similar records that match filter.
func (li *LocalIndex) Query(ctx context.Context, vector []float32, topK int, filter map[string]interface{}) ([]models.Match, error) {
	li.mu.RLock()
	defer li.mu.RUnlock()

	allowed, err := li.meta.Match(ctx, filter)
	if err != nil {
		if errors.Is(err, keyword.ErrUnsupportedValue) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFilter, err)
		}
		return nil, fmt.Errorf("failed to evaluate filter: %w", err)
	}
	var allow func(string) bool
	if allowed != nil {
		allow = func(id string) bool {
			_, ok := allowed[id]
			return ok
		}
	}
	hits, err := li.mem.Search(ctx, vector, topK, allow)
	if err != nil {
		return nil, err
	}
	matches := make([]models.Match, len(hits))
	for i, h := range hits {
		matches[i] = models.Match{ID: h.ID, Score: h.Score, Metadata: li.metadata[h.ID].Clone()}
	}
	return matches, nil
}

// Delete removes records by id. Unknown ids are ignored.
func (li *LocalIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	li.mu.Lock()
	defer li.mu.Unlock()
	if _, err := li.store.DeleteItems(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}
	li.mem.Remove(ids)
	for _, id := range ids {
		delete(li.metadata, id)
		if err := li.meta.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to unindex %s: %w", id, err)
		}
	}
	return nil
}

// Fetch returns one record with its vector.
func (li *LocalIndex) Fetch(ctx context.Context, id string) (*models.Record, error) {
	item, err := li.store.GetItem(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &models.Record{ID: item.ID, Vector: item.Vector, Metadata: item.Metadata}, nil
}

// DeleteByFilter deletes every record matching a non-empty filter.
func (li *LocalIndex) DeleteByFilter(ctx context.Context, filter map[string]interface{}) ([]string, error) {
	if len(filter) == 0 {
		return nil, fmt.Errorf("%w: delete by filter requires a non-empty filter", ErrUnsupportedFilter)
	}
	li.mu.RLock()
	matched, err := li.meta.Match(ctx, filter)
	li.mu.RUnlock()
	if err != nil {
		if errors.Is(err, keyword.ErrUnsupportedValue) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFilter, err)
		}
		return nil, err
	}
	ids := make([]string, 0, len(matched))
	for id := range matched {
		ids = append(ids, id)
	}
	if err := li.Delete(ctx, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Count returns the number of stored records.
func (li *LocalIndex) Count(ctx context.Context) (int64, error) {
	return li.store.CountItems(ctx)
}

// Close releases the store and the metadata index.
func (li *LocalIndex) Close() error {
	return errors.Join(li.meta.Close(), li.store.Close())
}
