// Package ingest turns files, web pages and spreadsheets of links into chunked items in
// the retrieval engine, tracking which items came from which source.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/nutrirag/internal/extract"
	"github.com/hyperjump/nutrirag/internal/models"
	"github.com/hyperjump/nutrirag/internal/storage"
	"go.uber.org/zap"
)

// Defaults for ingested chunks.
const (
	DefaultBatchSize = 10
	ItemTypeDocument = "nutrition_document"
	CategoryArticle  = "nutrition_article"
)

// Metadata keys written on every chunk.
const (
	MetaSource     = "source"
	MetaChunkIndex = "chunk_index"
	MetaCategory   = "category"
	MetaTitle      = "title"
)

// Sink receives chunks. *retrieval.Engine implements it.
type Sink interface {
	BulkAddItems(ctx context.Context, contents []string, metadatas []models.Metadata, itemTypes []string) ([]string, error)
	DeleteItems(ctx context.Context, ids []string) error
}

// SourceStore remembers what was ingested from each source.
type SourceStore interface {
	PutSource(ctx context.Context, src *models.Source) error
	GetSource(ctx context.Context, path string) (*models.Source, error)
	DeleteSource(ctx context.Context, path string) error
	ListSources(ctx context.Context) ([]*models.Source, error)
}

// Result describes one ingested source.
type Result struct {
	Source  string   `json:"source"`
	Chunks  int      `json:"chunks"`
	Skipped bool     `json:"skipped,omitempty"`
	ItemIDs []string `json:"item_ids,omitempty"`
}

// Ingester chunks documents and adds them to a Sink in fixed-size batches.
type Ingester struct {
	sink      Sink
	sources   SourceStore
	chunker   *Chunker
	extractor *extract.Extractor
	fetcher   *Fetcher
	batchSize int
	itemType  string
	category  string
	logger    *zap.Logger
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Ingester) { in.logger = l }
}

// WithBatchSize sets how many chunks go into one BulkAddItems call.
func WithBatchSize(n int) Option {
	return func(in *Ingester) { in.batchSize = n }
}

// WithFetcher replaces the default Fetcher.
func WithFetcher(f *Fetcher) Option {
	return func(in *Ingester) { in.fetcher = f }
}

// WithItemType sets the item type of ingested chunks.
func WithItemType(t string) Option {
	return func(in *Ingester) { in.itemType = t }
}

// WithCategory sets the category metadata of ingested chunks.
func WithCategory(c string) Option {
	return func(in *Ingester) { in.category = c }
}

// New creates an Ingester. extractor may be nil for the default extractor.
func New(sink Sink, sources SourceStore, chunker *Chunker, extractor *extract.Extractor, opts ...Option) *Ingester {
	in := &Ingester{
		sink:      sink,
		sources:   sources,
		chunker:   chunker,
		extractor: extractor,
		batchSize: DefaultBatchSize,
		itemType:  ItemTypeDocument,
		category:  CategoryArticle,
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.logger == nil {
		in.logger = zap.NewNop()
	}
	if in.extractor == nil {
		in.extractor = extract.NewExtractor()
	}
	if in.fetcher == nil {
		in.fetcher = NewFetcher(WithFetcherLogger(in.logger))
	}
	if in.batchSize <= 0 {
		in.batchSize = DefaultBatchSize
	}
	return in
}

// IngestText chunks text and adds the chunks under source. extra is merged into every
// chunk's metadata. If a batch fails, chunks already added for this text are deleted.
func (in *Ingester) IngestText(ctx context.Context, source, text string, extra models.Metadata) ([]string, error) {
	chunks, err := in.chunker.Chunk(text)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk %s: %w", source, err)
	}
	ids := make([]string, 0, len(chunks))
	for start := 0; start < len(chunks); start += in.batchSize {
		end := min(start+in.batchSize, len(chunks))
		metas := make([]models.Metadata, 0, end-start)
		types := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			meta := extra.Clone()
			meta[MetaSource] = source
			meta[MetaChunkIndex] = i
			meta[MetaCategory] = in.category
			metas = append(metas, meta)
			types = append(types, in.itemType)
		}
		batch, err := in.sink.BulkAddItems(ctx, chunks[start:end], metas, types)
		if err != nil {
			in.rollback(ctx, source, ids)
			return nil, fmt.Errorf("failed to add chunks %d-%d of %s: %w", start, end-1, source, err)
		}
		ids = append(ids, batch...)
		in.logger.Debug("ingested batch", zap.String("source", source), zap.Int("from", start), zap.Int("to", end))
	}
	return ids, nil
}

func (in *Ingester) rollback(ctx context.Context, source string, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := in.sink.DeleteItems(ctx, ids); err != nil {
		in.logger.Warn("failed to remove partially ingested chunks", zap.String("source", source), zap.Error(err))
	}
}

// IngestURL downloads one document and ingests it, replacing whatever was previously
// ingested from the same URL. Google Drive share links are downloaded directly.
func (in *Ingester) IngestURL(ctx context.Context, rawURL string) (*Result, error) {
	link := DriveDownloadURL(rawURL)
	doc, err := in.fetcher.Fetch(ctx, link)
	if err != nil {
		return nil, err
	}
	text, err := in.extractor.ExtractDocument(doc.ContentType, link, doc.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", rawURL, err)
	}
	extra := models.Metadata{}
	if !extract.IsPDF(doc.ContentType, link) {
		if title := extract.HTMLTitle(doc.Body); title != "" {
			extra[MetaTitle] = title
		}
	}
	if err := in.forget(ctx, rawURL); err != nil {
		return nil, err
	}
	ids, err := in.IngestText(ctx, rawURL, text, extra)
	if err != nil {
		return nil, err
	}
	if err := in.sources.PutSource(ctx, &models.Source{Path: rawURL, ItemIDs: ids, IngestedAt: time.Now().UTC()}); err != nil {
		in.rollback(ctx, rawURL, ids)
		return nil, fmt.Errorf("failed to record source %s: %w", rawURL, err)
	}
	in.logger.Info("ingested url", zap.String("url", rawURL), zap.Int("chunks", len(ids)))
	return &Result{Source: rawURL, Chunks: len(ids), ItemIDs: ids}, nil
}

// IngestURLList ingests every link in the given column of the first sheet of the
// workbook at path. An empty column means "urls". A failing link is logged and skipped;
// all failures are returned joined after the rest of the list has been processed.
func (in *Ingester) IngestURLList(ctx context.Context, path, column string) ([]*Result, error) {
	if column == "" {
		column = extract.DefaultURLColumn
	}
	urls, err := extract.ReadURLColumn(path, column)
	if err != nil {
		return nil, fmt.Errorf("failed to read url list: %w", err)
	}
	in.logger.Info("ingesting url list", zap.String("path", path), zap.Int("urls", len(urls)))
	var results []*Result
	var errs []error
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := in.IngestURL(ctx, u)
		if err != nil {
			in.logger.Warn("failed to ingest url", zap.String("url", u), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// IngestFile ingests a local file. A file whose modification time and size match the
// last ingestion is skipped; a changed file has its previous chunks deleted first.
func (in *Ingester) IngestFile(ctx context.Context, path string) (*Result, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	if !extract.Supported(absPath) {
		return nil, fmt.Errorf("%w: %s", extract.ErrUnsupportedFormat, filepath.Ext(absPath))
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	modTime, size := info.ModTime().UnixNano(), info.Size()

	prev, err := in.source(ctx, absPath)
	if err != nil {
		return nil, err
	}
	if prev.Unchanged(modTime, size) {
		in.logger.Debug("skipping unchanged file", zap.String("path", absPath))
		return &Result{Source: absPath, Chunks: len(prev.ItemIDs), Skipped: true}, nil
	}

	text, err := in.extractor.Extract(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	if err := in.forget(ctx, absPath); err != nil {
		return nil, err
	}
	ids, err := in.IngestText(ctx, absPath, text, models.Metadata{MetaTitle: filepath.Base(absPath)})
	if err != nil {
		return nil, err
	}
	src := &models.Source{Path: absPath, ModTime: modTime, Size: size, ItemIDs: ids, IngestedAt: time.Now().UTC()}
	if err := in.sources.PutSource(ctx, src); err != nil {
		in.rollback(ctx, absPath, ids)
		return nil, fmt.Errorf("failed to record source %s: %w", absPath, err)
	}
	in.logger.Info("ingested file", zap.String("path", absPath), zap.Int("chunks", len(ids)))
	return &Result{Source: absPath, Chunks: len(ids), ItemIDs: ids}, nil
}

// IngestDirectory walks dir recursively and ingests every supported regular file.
// It returns the number of files ingested (unchanged files are not counted) and stops
// at the first error.
func (in *Ingester) IngestDirectory(ctx context.Context, dir string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != absDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !extract.Supported(path) {
			return nil
		}
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		res, ingestErr := in.IngestFile(ctx, path)
		if ingestErr != nil {
			return ingestErr
		}
		if !res.Skipped {
			n++
		}
		return nil
	})
	return n, err
}

// RemoveSource deletes every item ingested from a file path or URL and forgets the
// source. It returns the number of items deleted; an unknown source deletes nothing.
func (in *Ingester) RemoveSource(ctx context.Context, source string) (int, error) {
	key := sourceKey(source)
	prev, err := in.source(ctx, key)
	if err != nil || prev == nil {
		return 0, err
	}
	if err := in.forget(ctx, key); err != nil {
		return 0, err
	}
	in.logger.Info("removed source", zap.String("source", key), zap.Int("items", len(prev.ItemIDs)))
	return len(prev.ItemIDs), nil
}

// Sources lists every ingested source.
func (in *Ingester) Sources(ctx context.Context) ([]*models.Source, error) {
	return in.sources.ListSources(ctx)
}

// source returns the recorded source, or nil when there is none.
func (in *Ingester) source(ctx context.Context, key string) (*models.Source, error) {
	src, err := in.sources.GetSource(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load source %s: %w", key, err)
	}
	return src, nil
}

// forget deletes the items previously ingested from key and the record of key, so an
// interrupted re-ingestion is never mistaken for an unchanged source.
func (in *Ingester) forget(ctx context.Context, key string) error {
	prev, err := in.source(ctx, key)
	if err != nil || prev == nil {
		return err
	}
	if len(prev.ItemIDs) > 0 {
		if err := in.sink.DeleteItems(ctx, prev.ItemIDs); err != nil {
			return fmt.Errorf("failed to delete previous items of %s: %w", key, err)
		}
		in.logger.Debug("deleted previous items", zap.String("source", key), zap.Int("items", len(prev.ItemIDs)))
	}
	if err := in.sources.DeleteSource(ctx, key); err != nil {
		return fmt.Errorf("failed to delete source %s: %w", key, err)
	}
	return nil
}

func sourceKey(source string) string {
	if strings.Contains(source, "://") {
		return source
	}
	if abs, err := filepath.Abs(source); err == nil {
		return abs
	}
	return source
}
