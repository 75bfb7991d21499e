package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/nutrirag/internal/models"
	"github.com/hyperjump/nutrirag/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type sinkItem struct {
	content  string
	meta     models.Metadata
	itemType string
}

// fakeSink records added and deleted items. failOn makes the n-th BulkAddItems call fail.
type fakeSink struct {
	mu      sync.Mutex
	items   map[string]sinkItem
	batches []int
	deleted []string
	failOn  int
	next    int
}

func newFakeSink() *fakeSink {
	return &fakeSink{items: make(map[string]sinkItem)}
}

func (s *fakeSink) BulkAddItems(_ context.Context, contents []string, metas []models.Metadata, types []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, len(contents))
	if s.failOn == len(s.batches) {
		return nil, errors.New("index unavailable")
	}
	ids := make([]string, len(contents))
	for i := range contents {
		s.next++
		ids[i] = fmt.Sprintf("id-%d", s.next)
		s.items[ids[i]] = sinkItem{content: contents[i], meta: metas[i], itemType: types[i]}
	}
	return ids, nil
}

func (s *fakeSink) DeleteItems(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.items, id)
	}
	s.deleted = append(s.deleted, ids...)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func newTestIngester(t *testing.T, chunkSize, overlap int, opts ...Option) (*Ingester, *fakeSink, storage.Storage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "sources.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	chunker, err := NewChunker(chunkSize, overlap)
	require.NoError(t, err)
	sink := newFakeSink()
	return New(sink, store, chunker, nil, opts...), sink, store
}

func longText(words int) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = "the"
	}
	return strings.Join(parts, " ")
}

func TestIngestFile_CreatesChunksWithMetadata(t *testing.T) {
	ctx := context.Background()
	in, sink, store := newTestIngester(t, DefaultChunkSize, DefaultChunkOverlap)
	path := filepath.Join(t.TempDir(), "fiber.txt")
	require.NoError(t, os.WriteFile(path, []byte("Whole grains are rich in fiber."), 0600))

	res, err := in.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	require.Len(t, res.ItemIDs, 1)

	item := sink.items[res.ItemIDs[0]]
	assert.Equal(t, "Whole grains are rich in fiber.", item.content)
	assert.Equal(t, ItemTypeDocument, item.itemType)
	assert.Equal(t, mustAbs(t, path), item.meta[MetaSource])
	assert.Equal(t, 0, item.meta[MetaChunkIndex])
	assert.Equal(t, CategoryArticle, item.meta[MetaCategory])
	assert.Equal(t, "fiber.txt", item.meta[MetaTitle])

	src, err := store.GetSource(ctx, mustAbs(t, path))
	require.NoError(t, err)
	assert.Equal(t, res.ItemIDs, src.ItemIDs)
}

func TestIngestFile_SkipsUnchangedAndReplacesChanged(t *testing.T) {
	ctx := context.Background()
	in, sink, _ := newTestIngester(t, DefaultChunkSize, DefaultChunkOverlap)
	path := filepath.Join(t.TempDir(), "note.md")
	require.NoError(t, os.WriteFile(path, []byte("first version"), 0600))

	first, err := in.IngestFile(ctx, path)
	require.NoError(t, err)

	again, err := in.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.Len(t, sink.batches, 1)

	require.NoError(t, os.WriteFile(path, []byte("second, longer version"), 0600))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	second, err := in.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.False(t, second.Skipped)
	assert.Equal(t, first.ItemIDs, sink.deleted)
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, "second, longer version", sink.items[second.ItemIDs[0]].content)
}

func TestIngestFile_Unsupported(t *testing.T) {
	in, _, _ := newTestIngester(t, DefaultChunkSize, DefaultChunkOverlap)
	path := filepath.Join(t.TempDir(), "photo.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89}, 0600))
	_, err := in.IngestFile(context.Background(), path)
	assert.Error(t, err)
}

func TestIngestText_BatchesOfTen(t *testing.T) {
	in, sink, _ := newTestIngester(t, 5, 0)
	ids, err := in.IngestText(context.Background(), "mem://doc", longText(115), nil)
	require.NoError(t, err)
	assert.Len(t, ids, 23)
	assert.Equal(t, []int{10, 10, 3}, sink.batches)
	for id, item := range sink.items {
		assert.Equal(t, "mem://doc", item.meta[MetaSource], id)
	}
}

func TestIngestText_FailedBatchRollsBack(t *testing.T) {
	ctx := context.Background()
	in, sink, store := newTestIngester(t, 5, 0)
	sink.failOn = 2
	path := filepath.Join(t.TempDir(), "long.txt")
	require.NoError(t, os.WriteFile(path, []byte(longText(100)), 0600))

	_, err := in.IngestFile(ctx, path)
	require.Error(t, err)
	assert.Len(t, sink.deleted, 10, "first batch is removed again")
	assert.Zero(t, sink.count())

	_, err = store.GetSource(ctx, mustAbs(t, path))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIngestDirectory(t *testing.T) {
	in, sink, _ := newTestIngester(t, DefaultChunkSize, DefaultChunkOverlap)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("apples"), 0600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.md"), []byte("bananas"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.png"), []byte("x"), 0600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "d.txt"), []byte("hidden"), 0600))

	n, err := in.IngestDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, sink.count())

	n, err = in.IngestDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, n, "unchanged files are not re-ingested")
}

func TestRemoveSource(t *testing.T) {
	ctx := context.Background()
	in, sink, _ := newTestIngester(t, DefaultChunkSize, DefaultChunkOverlap)
	path := filepath.Join(t.TempDir(), "gone.txt")
	require.NoError(t, os.WriteFile(path, []byte("to be removed"), 0600))
	_, err := in.IngestFile(ctx, path)
	require.NoError(t, err)

	n, err := in.RemoveSource(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, sink.count())

	n, err = in.RemoveSource(ctx, path)
	require.NoError(t, err)
	assert.Zero(t, n)

	sources, err := in.Sources(ctx)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestIngestURL_HTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Protein Basics</title></head><body><p>Eggs and lentils.</p></body></html>`)
	}))
	defer srv.Close()

	in, sink, _ := newTestIngester(t, DefaultChunkSize, DefaultChunkOverlap)
	res, err := in.IngestURL(context.Background(), srv.URL+"/protein")
	require.NoError(t, err)
	require.Len(t, res.ItemIDs, 1)
	item := sink.items[res.ItemIDs[0]]
	assert.Equal(t, "Eggs and lentils.", item.content)
	assert.Equal(t, "Protein Basics", item.meta[MetaTitle])
	assert.Equal(t, srv.URL+"/protein", item.meta[MetaSource])

	// Re-ingesting a URL replaces its items.
	_, err = in.IngestURL(context.Background(), srv.URL+"/protein")
	require.NoError(t, err)
	assert.Equal(t, 1, sink.count())
}

func TestIngestURLList_ContinuesPastFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "Hydration matters.")
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "urls.xlsx")
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "urls")
	f.SetCellValue("Sheet1", "A2", srv.URL+"/missing")
	f.SetCellValue("Sheet1", "A3", srv.URL+"/water")
	require.NoError(t, f.SaveAs(path))
	f.Close()

	in, sink, _ := newTestIngester(t, DefaultChunkSize, DefaultChunkOverlap)
	results, err := in.IngestURLList(context.Background(), path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	require.Len(t, results, 1)
	assert.Equal(t, srv.URL+"/water", results[0].Source)
	assert.Equal(t, 1, sink.count())
}

func TestFetcher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF")
	}))
	defer srv.Close()

	doc, err := NewFetcher(WithMaxElapsed(10*time.Second)).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.Equal(t, "%PDF", string(doc.Body))
}

func TestFetcher_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewFetcher().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

// failingSources records nothing: every PutSource fails.
type failingSources struct {
	storage.Storage
}

func (failingSources) PutSource(context.Context, *models.Source) error {
	return errors.New("disk full")
}

func TestIngest_FailedSourceRecordRollsBack(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "Legumes are high in folate.")
	}))
	defer srv.Close()

	_, sink, store := newTestIngester(t, DefaultChunkSize, DefaultChunkOverlap)
	chunker, err := NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	require.NoError(t, err)
	in := New(sink, failingSources{store}, chunker, nil)

	path := filepath.Join(t.TempDir(), "folate.txt")
	require.NoError(t, os.WriteFile(path, []byte("Leafy greens are rich in folate."), 0600))
	_, err = in.IngestFile(ctx, path)
	require.Error(t, err)
	assert.Zero(t, sink.count(), "file chunks are removed when the source cannot be recorded")

	_, err = in.IngestURL(ctx, srv.URL+"/folate")
	require.Error(t, err)
	assert.Zero(t, sink.count(), "url chunks are removed when the source cannot be recorded")
	assert.Len(t, sink.deleted, 2)
}

func mustAbs(t *testing.T, path string) string {
	t.Helper()
	a, err := filepath.Abs(path)
	require.NoError(t, err)
	return a
}
