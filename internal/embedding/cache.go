package embedding

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyperjump/nutrirag/internal/fingerprint"
	"github.com/hyperjump/nutrirag/internal/persist"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// CacheFileName is the embedding cache file name inside the cache directory.
const CacheFileName = "embedding_cache.bin"

var cacheMagic = [4]byte{'N', 'R', 'E', 'C'}

const cacheVersion uint32 = 1

// ErrCorruptCache is returned by ReadCacheFile when the file cannot be decoded.
var ErrCorruptCache = errors.New("embedding cache file is corrupt")

// CachePath returns the embedding cache file path for a cache directory.
func CachePath(cacheDir string) string {
	return filepath.Join(cacheDir, CacheFileName)
}

// Cache memoizes text embeddings keyed by content fingerprint and persists the whole
// mapping to a single file after every batch that added entries.
type Cache struct {
	path     string
	provider Embedder
	entries  map[string][]float32
	logger   *zap.Logger
	hits     prometheus.Counter
	misses   prometheus.Counter
	mu       sync.Mutex
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheLogger sets the logger used for hits, misses, and persistence problems.
func WithCacheLogger(l *zap.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// WithCacheCounters records hit and miss counts. Either counter may be nil.
func WithCacheCounters(hits, misses prometheus.Counter) CacheOption {
	return func(c *Cache) {
		c.hits = hits
		c.misses = misses
	}
}

// NewCache loads the cache stored at path, fronting provider. A missing file yields an
// empty cache. An unreadable or corrupt file also yields an empty cache, and the loss
// of previously cached entries is logged at error level.
func NewCache(path string, provider Embedder, opts ...CacheOption) *Cache {
	c := &Cache{
		path:     path,
		provider: provider,
		entries:  make(map[string][]float32),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	entries, err := ReadCacheFile(path)
	switch {
	case err == nil:
		c.entries = entries
		c.logger.Debug("embedding cache loaded", zap.String("path", path), zap.Int("entries", len(entries)))
	case errors.Is(err, os.ErrNotExist):
		c.logger.Debug("embedding cache file not found, starting empty", zap.String("path", path))
	default:
		c.logger.Error("embedding cache file is unreadable, starting empty; previously cached embeddings are discarded",
			zap.String("path", path), zap.Error(err))
	}
	return c
}

// Dimensions returns the provider's embedding dimension.
func (c *Cache) Dimensions() int {
	return c.provider.Dimensions()
}

// Len returns the number of cached embeddings.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetEmbedding returns the embedding for text, calling the provider on a miss and
// persisting the cache before returning.
func (c *Cache) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := fingerprint.Text(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if vec, ok := c.entries[key]; ok {
		c.countHits(1)
		c.logger.Debug("embedding cache hit", zap.String("key", key))
		return vec, nil
	}
	c.countMisses(1)
	c.logger.Debug("embedding cache miss", zap.String("key", key))

	vec, err := c.provider.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	c.entries[key] = vec
	c.persistLocked()
	return vec, nil
}

// GetEmbeddings returns one embedding per text, aligned with the input. Misses are
// embedded with a single provider call and the cache is persisted once at the end.
func (c *Cache) GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Positions in texts waiting for each missing key; duplicates share one provider slot.
	pending := make(map[string][]int)
	var missKeys []string
	var missTexts []string
	hits := 0
	for i, text := range texts {
		key := fingerprint.Text(text)
		if vec, ok := c.entries[key]; ok {
			out[i] = vec
			hits++
			continue
		}
		if _, seen := pending[key]; !seen {
			missKeys = append(missKeys, key)
			missTexts = append(missTexts, text)
		}
		pending[key] = append(pending[key], i)
	}
	c.countHits(hits)
	c.countMisses(len(texts) - hits)
	c.logger.Debug("embedding cache batch lookup",
		zap.Int("texts", len(texts)), zap.Int("hits", hits), zap.Int("unique_misses", len(missTexts)))

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.provider.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed batch: %w", err)
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, key := range missKeys {
		c.entries[key] = vecs[j]
		for _, i := range pending[key] {
			out[i] = vecs[j]
		}
	}
	c.persistLocked()
	return out, nil
}

// ClearCache drops every entry and persists the empty state.
func (c *Cache) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]float32)
	c.persistLocked()
	c.logger.Info("embedding cache cleared", zap.String("path", c.path))
}

// Close releases the provider.
func (c *Cache) Close() error {
	return c.provider.Close()
}

// persistLocked writes the whole cache. Failures are logged and never returned: the
// in-memory state stays authoritative.
func (c *Cache) persistLocked() {
	if c.path == "" {
		return
	}
	if err := WriteCacheFile(c.path, c.entries); err != nil {
		c.logger.Warn("failed to persist embedding cache", zap.String("path", c.path), zap.Error(err))
	}
}

func (c *Cache) countHits(n int) {
	if c.hits != nil && n > 0 {
		c.hits.Add(float64(n))
	}
}

func (c *Cache) countMisses(n int) {
	if c.misses != nil && n > 0 {
		c.misses.Add(float64(n))
	}
}

// WriteCacheFile atomically writes entries to path. Format (little endian): magic (4),
// version (4), count (4), then per entry: keyLen (4), key, dim (4), dim*float32; then a
// CRC-32 (IEEE) of everything before it.
func WriteCacheFile(path string, entries map[string][]float32) error {
	return persist.WriteFunc(path, 0644, func(w io.Writer) error {
		crc := crc32.NewIEEE()
		bw := bufio.NewWriter(io.MultiWriter(w, crc))
		if _, err := bw.Write(cacheMagic[:]); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, cacheVersion); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(entries))); err != nil {
			return err
		}
		for key, vec := range entries {
			if err := binary.Write(bw, binary.LittleEndian, uint32(len(key))); err != nil {
				return err
			}
			if _, err := bw.WriteString(key); err != nil {
				return err
			}
			if err := binary.Write(bw, binary.LittleEndian, uint32(len(vec))); err != nil {
				return err
			}
			if _, err := bw.Write(float32SliceToBytes(vec)); err != nil {
				return err
			}
		}
		if err := bw.Flush(); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, crc.Sum32())
	})
}

// ReadCacheFile reads a file written by WriteCacheFile. A missing file returns an error
// matching os.ErrNotExist; any decoding problem returns an error wrapping ErrCorruptCache.
func ReadCacheFile(path string) (map[string][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 16 {
		return nil, fmt.Errorf("%w: file too short (%d bytes)", ErrCorruptCache, len(data))
	}
	body, tail := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(tail) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptCache)
	}
	r := bytes.NewReader(body)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != cacheMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptCache)
	}
	var version, count uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: read version: %v", ErrCorruptCache, err)
	}
	if version != cacheVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptCache, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: read count: %v", ErrCorruptCache, err)
	}
	// Every entry takes at least eight bytes, so a larger count cannot be honest.
	if int64(count)*8 > int64(r.Len()) {
		return nil, fmt.Errorf("%w: entry count %d exceeds file", ErrCorruptCache, count)
	}
	entries := make(map[string][]float32, count)
	for i := uint32(0); i < count; i++ {
		var keyLen uint32
		if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
			return nil, fmt.Errorf("%w: read key length: %v", ErrCorruptCache, err)
		}
		if int64(keyLen) > int64(r.Len()) {
			return nil, fmt.Errorf("%w: key length %d exceeds file", ErrCorruptCache, keyLen)
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("%w: read key: %v", ErrCorruptCache, err)
		}
		var dim uint32
		if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
			return nil, fmt.Errorf("%w: read dimension: %v", ErrCorruptCache, err)
		}
		if int64(dim)*4 > int64(r.Len()) {
			return nil, fmt.Errorf("%w: dimension %d exceeds file", ErrCorruptCache, dim)
		}
		buf := make([]byte, dim*4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: read vector: %v", ErrCorruptCache, err)
		}
		entries[string(key)] = bytesToFloat32Slice(buf)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptCache, r.Len())
	}
	return entries, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
