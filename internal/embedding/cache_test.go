package embedding

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"
)

func newTestCache(t *testing.T, dims int) (*Cache, *MockEmbedder, string) {
	t.Helper()
	path := CachePath(t.TempDir())
	provider := NewMockEmbedder(dims)
	return NewCache(path, provider), provider, path
}

func TestCache_GetEmbeddingMemoizes(t *testing.T) {
	ctx := context.Background()
	cache, provider, path := newTestCache(t, 8)

	first, err := cache.GetEmbedding(ctx, "oats with berries")
	require.NoError(t, err)
	second, err := cache.GetEmbedding(ctx, "oats with berries")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, provider.EmbedCalls())
	assert.Equal(t, 1, cache.Len())
	assert.FileExists(t, path)
}

func TestCache_GetEmbeddingsPreservesOrderAndBatchesMisses(t *testing.T) {
	ctx := context.Background()
	cache, provider, _ := newTestCache(t, 8)

	_, err := cache.GetEmbedding(ctx, "b")
	require.NoError(t, err)

	texts := []string{"a", "b", "c", "a"}
	vecs, err := cache.GetEmbeddings(ctx, texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))

	for i, text := range texts {
		assert.Equal(t, provider.vector(text), vecs[i], "position %d", i)
	}
	assert.Equal(t, 1, provider.BatchCalls(), "misses go to the provider in one call")
	assert.Equal(t, 3, provider.TextsEmbedded(), "duplicate misses are embedded once")
	assert.Equal(t, 3, cache.Len())
}

func TestCache_GetEmbeddingsAllHitsSkipsProvider(t *testing.T) {
	ctx := context.Background()
	cache, provider, _ := newTestCache(t, 4)

	_, err := cache.GetEmbeddings(ctx, []string{"x", "y"})
	require.NoError(t, err)
	_, err = cache.GetEmbeddings(ctx, []string{"y", "x"})
	require.NoError(t, err)

	assert.Equal(t, 1, provider.BatchCalls())
}

func TestCache_GetEmbeddingsEmpty(t *testing.T) {
	cache, provider, _ := newTestCache(t, 4)
	vecs, err := cache.GetEmbeddings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Equal(t, 0, provider.BatchCalls())
}

func TestCache_ProviderFailureCachesNothing(t *testing.T) {
	ctx := context.Background()
	cache, provider, _ := newTestCache(t, 4)
	boom := errors.New("provider down")
	provider.FailWith(boom)

	_, err := cache.GetEmbeddings(ctx, []string{"a", "b"})
	require.ErrorIs(t, err, boom)
	_, err = cache.GetEmbedding(ctx, "a")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, cache.Len())
}

func TestCache_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cache, _, path := newTestCache(t, 16)
	want, err := cache.GetEmbeddings(ctx, []string{"lentil soup", "greek yogurt"})
	require.NoError(t, err)

	provider := NewMockEmbedder(16)
	reopened := NewCache(path, provider)
	assert.Equal(t, 2, reopened.Len())

	got, err := reopened.GetEmbeddings(ctx, []string{"greek yogurt", "lentil soup"})
	require.NoError(t, err)
	assert.Equal(t, want[1], got[0])
	assert.Equal(t, want[0], got[1])
	assert.Equal(t, 0, provider.BatchCalls())
}

func TestCache_CorruptFileStartsEmptyAndLogsError(t *testing.T) {
	path := CachePath(t.TempDir())
	require.NoError(t, os.WriteFile(path, []byte("definitely not a cache file"), 0644))

	core, logs := observer.New(zapcore.DebugLevel)
	cache := NewCache(path, NewMockEmbedder(4), WithCacheLogger(zap.New(core)))

	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())

	_, err := cache.GetEmbedding(context.Background(), "recovered")
	require.NoError(t, err)
	entries, err := ReadCacheFile(path)
	require.NoError(t, err, "next persist overwrites the corrupt file")
	assert.Len(t, entries, 1)
}

func TestCache_PersistFailureIsNotReturned(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	path := filepath.Join(blocker, CacheFileName)

	core, logs := observer.New(zapcore.DebugLevel)
	cache := NewCache(path, NewMockEmbedder(4), WithCacheLogger(zap.New(core)))

	vec, err := cache.GetEmbedding(context.Background(), "still works")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, 1, cache.Len())
	assert.GreaterOrEqual(t, logs.FilterLevelExact(zapcore.WarnLevel).Len(), 1)
}

func TestCache_ClearCachePersistsEmptyState(t *testing.T) {
	ctx := context.Background()
	cache, provider, path := newTestCache(t, 4)
	_, err := cache.GetEmbeddings(ctx, []string{"a", "b"})
	require.NoError(t, err)

	cache.ClearCache()
	assert.Equal(t, 0, cache.Len())
	entries, err := ReadCacheFile(path)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = cache.GetEmbedding(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, provider.EmbedCalls())
}

func TestCache_Counters(t *testing.T) {
	hits := prometheus.NewCounter(prometheus.CounterOpts{Name: "hits"})
	misses := prometheus.NewCounter(prometheus.CounterOpts{Name: "misses"})
	cache := NewCache(CachePath(t.TempDir()), NewMockEmbedder(4), WithCacheCounters(hits, misses))

	_, err := cache.GetEmbeddings(context.Background(), []string{"a", "b", "a"})
	require.NoError(t, err)
	_, err = cache.GetEmbedding(context.Background(), "b")
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(hits))
	assert.Equal(t, float64(3), testutil.ToFloat64(misses))
}

func TestReadCacheFile(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := ReadCacheFile(filepath.Join(t.TempDir(), "nope.bin"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("truncated file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "c.bin")
		require.NoError(t, WriteCacheFile(path, map[string][]float32{"k": {1, 2, 3}}))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data[:len(data)-6], 0644))

		_, err = ReadCacheFile(path)
		assert.ErrorIs(t, err, ErrCorruptCache)
	})

	t.Run("flipped byte", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "c.bin")
		require.NoError(t, WriteCacheFile(path, map[string][]float32{"k": {1, 2, 3}}))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		data[14] ^= 0xFF
		require.NoError(t, os.WriteFile(path, data, 0644))

		_, err = ReadCacheFile(path)
		assert.ErrorIs(t, err, ErrCorruptCache)
	})

	t.Run("empty map", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "c.bin")
		require.NoError(t, WriteCacheFile(path, map[string][]float32{}))
		entries, err := ReadCacheFile(path)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestReadCacheFile_RejectsInflatedCount(t *testing.T) {
	var body bytes.Buffer
	body.Write(cacheMagic[:])
	require.NoError(t, binary.Write(&body, binary.LittleEndian, cacheVersion))
	require.NoError(t, binary.Write(&body, binary.LittleEndian, uint32(0xFFFFFFFF)))
	data := binary.LittleEndian.AppendUint32(body.Bytes(), crc32.ChecksumIEEE(body.Bytes()))

	path := filepath.Join(t.TempDir(), "embedding_cache.bin")
	require.NoError(t, os.WriteFile(path, data, 0600))
	_, err := ReadCacheFile(path)
	assert.ErrorIs(t, err, ErrCorruptCache)
}
