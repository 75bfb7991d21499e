// Package retrieval composes the embedding cache, the vector index and the result cache
// into the engine used by ingestion, the interview workflow and the HTTP API.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/nutrirag/internal/embedding"
	"github.com/hyperjump/nutrirag/internal/fingerprint"
	"github.com/hyperjump/nutrirag/internal/models"
	"github.com/hyperjump/nutrirag/internal/persist"
	"github.com/hyperjump/nutrirag/internal/resultcache"
	"github.com/hyperjump/nutrirag/internal/vector"
	"go.uber.org/zap"
)

// Config is fixed for the lifetime of an Engine.
type Config struct {
	IndexName  string
	CacheDir   string
	Deployment vector.Deployment
	// Dimensions defaults to the embedder's dimension.
	Dimensions int
	// Metric defaults to vector.MetricCosine.
	Metric string
}

// Deps are the collaborators an Engine is built from. Only Embedder is required.
type Deps struct {
	Embedder embedding.Embedder
	// Provisioner connects to the remote index. Nil means no remote index is available.
	Provisioner vector.Provisioner
	// Local opens the local fallback index. Defaults to vector.LocalFactory under CacheDir.
	Local func() (vector.Index, error)
	// ResultCache defaults to a file cache under CacheDir.
	ResultCache resultcache.Cache
}

// Engine adds, deletes and retrieves items. It is safe for concurrent use.
//
// Every successful mutation clears the whole result cache. Embeddings are keyed by
// content and survive mutations.
type Engine struct {
	cfg     Config
	mode    vector.Mode
	cache   *embedding.Cache
	index   vector.Index
	results resultcache.Cache
	// scope namespaces result-cache keys. Persistent result caches outlive the
	// engine, and an engine must never serve another index's or backend's matches.
	scope string

	logger      *zap.Logger
	metrics     *Metrics
	newID       func() string
	defaultTopK int

	// mu guards gen and stale. gen is bumped by every invalidation so a retrieval that
	// raced a mutation does not store its result.
	mu    sync.Mutex
	gen   uint64
	stale bool
}

// Stats summarizes the engine state.
type Stats struct {
	IndexName             string `json:"index_name"`
	Mode                  string `json:"mode"`
	Dimensions            int    `json:"dimensions"`
	Items                 int64  `json:"items"`
	EmbeddingCacheEntries int    `json:"embedding_cache_entries"`
	ResultCacheEntries    int    `json:"result_cache_entries"`
}

// New builds an engine and decides its vector backend once. Whether the embedding cache
// file existed is checked before the cache is opened, since opening never creates it.
func New(ctx context.Context, cfg Config, deps Deps, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.defaultTopK <= 0 {
		o.defaultTopK = models.DefaultTopK
	}
	if deps.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if strings.TrimSpace(cfg.IndexName) == "" {
		return nil, errors.New("index name is required")
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = deps.Embedder.Dimensions()
	}
	if cfg.Metric == "" {
		cfg.Metric = vector.MetricCosine
	}
	if cfg.Deployment == "" {
		cfg.Deployment = vector.DeploymentDevelopment
	}

	cachePath := embedding.CachePath(cfg.CacheDir)
	cacheExists := persist.Exists(cachePath)
	hits, misses := o.metrics.embeddingCounters()
	cache := embedding.NewCache(cachePath, deps.Embedder,
		embedding.WithCacheLogger(o.logger.Named("embedding-cache")),
		embedding.WithCacheCounters(hits, misses))

	local := deps.Local
	if local == nil {
		local = vector.LocalFactory(ctx, cfg.CacheDir, cfg.Dimensions, o.logger.Named("local-index"))
	}
	index, mode, err := vector.DecideBackend(ctx, vector.BackendRequest{
		Deployment:       cfg.Deployment,
		LocalCacheExists: cacheExists,
		IndexName:        cfg.IndexName,
		Dimensions:       cfg.Dimensions,
		Metric:           cfg.Metric,
		Provisioner:      deps.Provisioner,
		Local:            local,
		Logger:           o.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to select vector backend: %w", err)
	}

	results := deps.ResultCache
	if results == nil {
		results = resultcache.NewFileCache(filepath.Join(cfg.CacheDir, resultcache.FileName), o.logger.Named("result-cache"))
	}

	o.metrics.setMode(mode)
	o.logger.Info("retrieval engine ready",
		zap.String("index", cfg.IndexName),
		zap.String("mode", mode.String()),
		zap.String("deployment", string(cfg.Deployment)),
		zap.Int("dimensions", cfg.Dimensions),
		zap.Int("cached_embeddings", cache.Len()))

	return &Engine{
		cfg:         cfg,
		mode:        mode,
		scope:       cfg.IndexName + "/" + mode.String(),
		cache:       cache,
		index:       index,
		results:     results,
		logger:      o.logger,
		metrics:     o.metrics,
		newID:       o.newID,
		defaultTopK: o.defaultTopK,
	}, nil
}

// Mode reports the backend chosen at construction.
func (e *Engine) Mode() vector.Mode {
	return e.mode
}

// Dimensions returns the vector dimension.
func (e *Engine) Dimensions() int {
	return e.cfg.Dimensions
}

// AddItem embeds content, stores it under a fresh id and returns the id. The caller's
// metadata is copied, never modified.
func (e *Engine) AddItem(ctx context.Context, content string, metadata models.Metadata, itemType string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	vec, err := e.cache.GetEmbedding(ctx, content)
	if err != nil {
		return "", err
	}
	record := models.Record{
		ID:       e.newID(),
		Vector:   vec,
		Metadata: itemMetadata(metadata, content, itemType),
	}
	if err := e.index.Upsert(ctx, []models.Record{record}); err != nil {
		return "", fmt.Errorf("failed to upsert item: %w", err)
	}
	e.invalidateResults(ctx, "add")
	e.logger.Debug("item added", zap.String("id", record.ID), zap.String("item_type", itemType))
	return record.ID, nil
}

// BulkAddItems adds contents[i] with metadatas[i] and itemTypes[i] for every i and
// returns the ids in input order. Mismatched lengths fail before anything is embedded.
// If the upsert fails no ids are returned; embeddings computed so far stay cached.
func (e *Engine) BulkAddItems(ctx context.Context, contents []string, metadatas []models.Metadata, itemTypes []string) ([]string, error) {
	if len(contents) != len(metadatas) || len(contents) != len(itemTypes) {
		return nil, fmt.Errorf("%w: %d contents, %d metadatas, %d item types",
			ErrArgumentMismatch, len(contents), len(metadatas), len(itemTypes))
	}
	if len(contents) == 0 {
		return []string{}, nil
	}
	for i, content := range contents {
		if strings.TrimSpace(content) == "" {
			return nil, fmt.Errorf("item %d: %w", i, ErrEmptyContent)
		}
	}

	vecs, err := e.cache.GetEmbeddings(ctx, contents)
	if err != nil {
		return nil, err
	}
	records := make([]models.Record, len(contents))
	ids := make([]string, len(contents))
	for i, content := range contents {
		ids[i] = e.newID()
		records[i] = models.Record{
			ID:       ids[i],
			Vector:   vecs[i],
			Metadata: itemMetadata(metadatas[i], content, itemTypes[i]),
		}
	}
	if err := e.index.Upsert(ctx, records); err != nil {
		return nil, fmt.Errorf("failed to upsert %d items: %w", len(records), err)
	}
	e.invalidateResults(ctx, "bulk_add")
	e.logger.Debug("items added", zap.Int("count", len(ids)))
	return ids, nil
}

// BulkAdd is BulkAddItems for the HTTP input shape.
func (e *Engine) BulkAdd(ctx context.Context, in models.BulkItemInput) ([]string, error) {
	return e.BulkAddItems(ctx, in.Contents, in.Metadatas, in.ItemTypes)
}

// GetRetrievals returns up to topK matches for query, best first. topK <= 0 uses the
// default. Results are memoized until the next mutation.
func (e *Engine) GetRetrievals(ctx context.Context, query string, topK int, filter map[string]interface{}) ([]models.Match, error) {
	matches, _, err := e.retrieve(ctx, query, topK, filter)
	return matches, err
}

// Retrieve runs a RetrievalQuery and reports whether it was served from the result cache.
func (e *Engine) Retrieve(ctx context.Context, q models.RetrievalQuery) (*models.RetrievalResponse, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyQuery, err)
	}
	start := time.Now()
	matches, cached, err := e.retrieve(ctx, q.Query, q.TopK, q.Filter)
	if err != nil {
		return nil, err
	}
	return &models.RetrievalResponse{
		Query:     q.Query,
		TopK:      q.TopK,
		Matches:   matches,
		Cached:    cached,
		QueryTime: time.Since(start).Milliseconds(),
	}, nil
}

func (e *Engine) retrieve(ctx context.Context, query string, topK int, filter map[string]interface{}) ([]models.Match, bool, error) {
	defer e.metrics.observeRetrieval(time.Now())

	if strings.TrimSpace(query) == "" {
		return nil, false, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = e.defaultTopK
	}
	key := fingerprint.Scoped(e.scope, fingerprint.Query(query, topK, filter))

	gen, usable := e.snapshot(ctx)
	if usable {
		cached, ok, err := e.results.Lookup(ctx, key)
		if err != nil {
			e.logger.Warn("result cache lookup failed", zap.Error(err))
		} else if ok {
			e.metrics.resultCache(true)
			e.logger.Debug("result cache hit", zap.String("key", key), zap.Int("matches", len(cached)))
			return cached, true, nil
		}
	}
	e.metrics.resultCache(false)
	e.logger.Debug("result cache miss", zap.String("key", key))

	vec, err := e.cache.GetEmbedding(ctx, query)
	if err != nil {
		return nil, false, err
	}
	matches, err := e.index.Query(ctx, vec, topK, filter)
	if err != nil {
		return nil, false, fmt.Errorf("failed to query index: %w", err)
	}
	if matches == nil {
		matches = []models.Match{}
	}

	e.mu.Lock()
	if e.gen == gen && !e.stale {
		if err := e.results.Store(ctx, key, matches); err != nil {
			e.logger.Warn("failed to store retrieval result", zap.Error(err))
		}
	}
	e.mu.Unlock()
	return matches, false, nil
}

// snapshot returns the current generation and whether the result cache may be read. A
// cache whose last clear failed is retried here and bypassed until a clear succeeds.
func (e *Engine) snapshot(ctx context.Context) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stale {
		if err := e.results.Clear(ctx); err != nil {
			e.logger.Warn("result cache still uncleared, bypassing it", zap.Error(err))
			return e.gen, false
		}
		e.stale = false
	}
	return e.gen, true
}

// DeleteItem removes one item. Deleting an unknown id is not an error.
func (e *Engine) DeleteItem(ctx context.Context, id string) error {
	if err := e.index.Delete(ctx, []string{id}); err != nil {
		return fmt.Errorf("failed to delete item %s: %w", id, err)
	}
	e.invalidateResults(ctx, "delete")
	e.logger.Debug("item deleted", zap.String("id", id))
	return nil
}

// DeleteItems removes several items with one index call.
func (e *Engine) DeleteItems(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := e.index.Delete(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete %d items: %w", len(ids), err)
	}
	e.invalidateResults(ctx, "delete")
	e.logger.Debug("items deleted", zap.Int("count", len(ids)))
	return nil
}

// DeleteWhere removes every item whose metadata matches filter and returns their ids.
func (e *Engine) DeleteWhere(ctx context.Context, filter map[string]interface{}) ([]string, error) {
	if len(filter) == 0 {
		return nil, errors.New("delete filter must not be empty")
	}
	ids, err := e.index.DeleteByFilter(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to delete by filter: %w", err)
	}
	e.invalidateResults(ctx, "delete_where")
	e.logger.Info("items deleted by filter", zap.String("filter", fingerprint.CanonicalFilter(filter)), zap.Int("count", len(ids)))
	return ids, nil
}

// GetItem returns the stored record for id.
func (e *Engine) GetItem(ctx context.Context, id string) (*models.Record, error) {
	rec, err := e.index.Fetch(ctx, id)
	if errors.Is(err, vector.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch item %s: %w", id, err)
	}
	return rec, nil
}

// Count returns the number of indexed items.
func (e *Engine) Count(ctx context.Context) (int64, error) {
	return e.index.Count(ctx)
}

// Stats reports counts for the status endpoint.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	items, err := e.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	cached, err := e.results.Len(ctx)
	if err != nil {
		e.logger.Warn("failed to count result cache entries", zap.Error(err))
	}
	return &Stats{
		IndexName:             e.cfg.IndexName,
		Mode:                  e.mode.String(),
		Dimensions:            e.cfg.Dimensions,
		Items:                 items,
		EmbeddingCacheEntries: e.cache.Len(),
		ResultCacheEntries:    cached,
	}, nil
}

// ClearCaches empties both the embedding cache and the result cache.
func (e *Engine) ClearCaches(ctx context.Context) error {
	e.cache.ClearCache()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	if err := e.results.Clear(ctx); err != nil {
		e.stale = true
		return fmt.Errorf("failed to clear result cache: %w", err)
	}
	e.stale = false
	return nil
}

// Close releases the index, the result cache and the embedder.
func (e *Engine) Close() error {
	return errors.Join(e.index.Close(), e.results.Close(), e.cache.Close())
}

// invalidateResults clears the result cache after a successful mutation. A failed clear
// is logged and leaves the cache bypassed until a later clear succeeds.
func (e *Engine) invalidateResults(ctx context.Context, op string) {
	e.metrics.mutation(op)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	if err := e.results.Clear(ctx); err != nil {
		e.stale = true
		e.logger.Warn("failed to clear result cache, bypassing it until cleared", zap.String("op", op), zap.Error(err))
		return
	}
	e.stale = false
}

func itemMetadata(in models.Metadata, content, itemType string) models.Metadata {
	meta := in.Clone()
	meta.Normalize()
	meta[models.MetaContent] = content
	meta[models.MetaItemType] = itemType
	return meta
}
