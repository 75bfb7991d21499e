package vector

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/nutrirag/internal/keyword"
	"github.com/hyperjump/nutrirag/internal/models"
	"github.com/hyperjump/nutrirag/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Hash fields written for every record.
const (
	fieldEmbedding = "embedding"
	fieldMetadata  = "metadata"
	fieldDistance  = "vector_distance"
)

const redisScanBatch = 500

// NewRedisClient connects to a Redis Stack server. RESP2 is forced because the FT.*
// reply parsers in go-redis are only stable on that protocol.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := utils.ParseRedisURL(rawURL)
	if err != nil {
		return nil, err
	}
	opts.Protocol = 2
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisProvisioner creates RediSearch vector indexes over HASH keys.
type RedisProvisioner struct {
	client     *redis.Client
	filterable []string
	logger     *zap.Logger
}

// ProvisionerOption configures a RedisProvisioner.
type ProvisionerOption func(*RedisProvisioner)

// WithFilterableFields declares metadata keys that get a TAG field and can be used in
// query filters. item_type is always filterable.
func WithFilterableFields(keys ...string) ProvisionerOption {
	return func(p *RedisProvisioner) { p.filterable = append(p.filterable, keys...) }
}

// WithProvisionerLogger sets the logger.
func WithProvisionerLogger(l *zap.Logger) ProvisionerOption {
	return func(p *RedisProvisioner) { p.logger = l }
}

// NewRedisProvisioner returns a provisioner using client.
func NewRedisProvisioner(client *redis.Client, opts ...ProvisionerOption) *RedisProvisioner {
	p := &RedisProvisioner{client: client}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// Close closes the Redis client. Indexes returned by EnsureIndex share it, so only call
// Close when no index from this provisioner is in use.
func (p *RedisProvisioner) Close() error {
	return p.client.Close()
}

func (p *RedisProvisioner) tagFields() []string {
	seen := map[string]bool{models.MetaItemType: true}
	fields := []string{models.MetaItemType}
	for _, k := range p.filterable {
		if k == "" || k == models.MetaContent || seen[k] {
			continue
		}
		seen[k] = true
		fields = append(fields, k)
	}
	return fields
}

// EnsureIndex returns a handle on index name, creating it when FT._LIST does not report it.
func (p *RedisProvisioner) EnsureIndex(ctx context.Context, name string, dimensions int, metric string) (Index, error) {
	if name == "" {
		return nil, errors.New("index name is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid dimensions %d", dimensions)
	}
	distance, err := distanceMetric(metric)
	if err != nil {
		return nil, err
	}

	existing, err := p.client.FT_List(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}
	found := false
	for _, n := range existing {
		if n == name {
			found = true
			break
		}
	}

	tags := p.tagFields()
	if found {
		p.logger.Info("using existing remote index", zap.String("index", name))
	} else {
		schema := []*redis.FieldSchema{
			{
				FieldName: fieldEmbedding,
				FieldType: redis.SearchFieldTypeVector,
				VectorArgs: &redis.FTVectorArgs{
					HNSWOptions: &redis.FTHNSWOptions{
						Type:           "FLOAT32",
						Dim:            dimensions,
						DistanceMetric: distance,
					},
				},
			},
			{FieldName: models.MetaContent, FieldType: redis.SearchFieldTypeText},
		}
		for _, t := range tags {
			schema = append(schema, &redis.FieldSchema{FieldName: t, FieldType: redis.SearchFieldTypeTag, CaseSensitive: true})
		}
		_, err := p.client.FTCreate(ctx, name, &redis.FTCreateOptions{
			OnHash: true,
			Prefix: []interface{}{name + ":"},
		}, schema...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to create index %s: %w", name, err)
		}
		p.logger.Info("created remote index",
			zap.String("index", name), zap.Int("dimensions", dimensions), zap.String("metric", metric))
	}

	return &RedisIndex{
		client:     p.client,
		name:       name,
		prefix:     name + ":",
		dimensions: dimensions,
		tags:       tags,
		logger:     p.logger,
	}, nil
}

// DropIndex removes index name; when deleteDocs is set the indexed hashes go too.
func (p *RedisProvisioner) DropIndex(ctx context.Context, name string, deleteDocs bool) error {
	err := p.client.FTDropIndexWithArgs(ctx, name, &redis.FTDropIndexOptions{DeleteDocs: deleteDocs}).Err()
	if err != nil {
		return fmt.Errorf("failed to drop index %s: %w", name, err)
	}
	p.logger.Info("dropped remote index", zap.String("index", name), zap.Bool("delete_docs", deleteDocs))
	return nil
}

func distanceMetric(metric string) (string, error) {
	switch strings.ToLower(metric) {
	case "", MetricCosine:
		return "COSINE", nil
	case MetricDotProduct:
		return "IP", nil
	default:
		return "", fmt.Errorf("unsupported metric %q", metric)
	}
}

// RedisIndex is the remote similarity index. Records are hashes at "<name>:<id>".
type RedisIndex struct {
	client     *redis.Client
	name       string
	prefix     string
	dimensions int
	tags       []string
	logger     *zap.Logger
}

// Name returns the RediSearch index name.
func (r *RedisIndex) Name() string {
	return r.name
}

func (r *RedisIndex) key(id string) string {
	return r.prefix + id
}

// Upsert writes every record in one pipeline.
func (r *RedisIndex) Upsert(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, rec := range records {
		if len(rec.Vector) != r.dimensions {
			return fmt.Errorf("%w: record %s has %d, index expects %d", ErrDimensionMismatch, rec.ID, len(rec.Vector), r.dimensions)
		}
		md, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", rec.ID, err)
		}
		fields := map[string]interface{}{
			fieldEmbedding:     float32ToBytes(rec.Vector),
			fieldMetadata:      string(md),
			models.MetaContent: rec.Metadata.String(models.MetaContent),
		}
		for _, t := range r.tags {
			v, ok := rec.Metadata[t]
			if !ok {
				continue
			}
			term, err := keyword.Term(v)
			if err != nil {
				return fmt.Errorf("record %s metadata key %q: %w", rec.ID, t, err)
			}
			fields[t] = term
		}
		// HSET only adds fields, so drop the old hash to clear tags the new metadata lacks.
		pipe.Del(ctx, r.key(rec.ID))
		pipe.HSet(ctx, r.key(rec.ID), fields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to upsert records: %w", err)
	}
	return nil
}

// Query runs a KNN search, optionally pre-filtered by TAG equality.
func (r *RedisIndex) Query(ctx context.Context, vector []float32, topK int, filter map[string]interface{}) ([]models.Match, error) {
	if len(vector) != r.dimensions {
		return nil, fmt.Errorf("%w: query has %d, index expects %d", ErrDimensionMismatch, len(vector), r.dimensions)
	}
	if topK <= 0 {
		return []models.Match{}, nil
	}
	prefilter, err := r.filterExpr(filter)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("%s=>[KNN %d @%s $vec AS %s]", prefilter, topK, fieldEmbedding, fieldDistance)
	res, err := r.client.FTSearchWithArgs(ctx, r.name, q, &redis.FTSearchOptions{
		Return: []redis.FTSearchReturn{
			{FieldName: fieldDistance},
			{FieldName: fieldMetadata},
		},
		SortBy:         []redis.FTSearchSortBy{{FieldName: fieldDistance, Asc: true}},
		Limit:          topK,
		DialectVersion: 2,
		Params: map[string]interface{}{
			"vec": float32ToBytes(vector),
		},
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	matches := make([]models.Match, 0, len(res.Docs))
	for _, doc := range res.Docs {
		distance, err := strconv.ParseFloat(doc.Fields[fieldDistance], 64)
		if err != nil {
			r.logger.Warn("skipping search hit without distance", zap.String("key", doc.ID))
			continue
		}
		md, err := decodeMetadata(doc.Fields[fieldMetadata])
		if err != nil {
			r.logger.Warn("skipping search hit with bad metadata", zap.String("key", doc.ID), zap.Error(err))
			continue
		}
		matches = append(matches, models.Match{
			ID:       strings.TrimPrefix(doc.ID, r.prefix),
			Score:    1 - distance,
			Metadata: md,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

// filterExpr renders filter as a RediSearch TAG pre-filter, or "*" when empty.
func (r *RedisIndex) filterExpr(filter map[string]interface{}) (string, error) {
	if len(filter) == 0 {
		return "*", nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if !r.isTag(k) {
			return "", fmt.Errorf("%w: %q is not a filterable field of index %s", ErrUnsupportedFilter, k, r.name)
		}
		term, err := keyword.Term(filter[k])
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnsupportedFilter, err)
		}
		parts = append(parts, fmt.Sprintf("@%s:{%s}", k, EscapeTag(term)))
	}
	return "(" + strings.Join(parts, " ") + ")", nil
}

func (r *RedisIndex) isTag(k string) bool {
	for _, t := range r.tags {
		if t == k {
			return true
		}
	}
	return false
}

// Delete removes records by id.
func (r *RedisIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}
	return nil
}

// Fetch reads one record back.
func (r *RedisIndex) Fetch(ctx context.Context, id string) (*models.Record, error) {
	fields, err := r.client.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	md, err := decodeMetadata(fields[fieldMetadata])
	if err != nil {
		return nil, fmt.Errorf("failed to decode metadata for %s: %w", id, err)
	}
	return &models.Record{ID: id, Vector: bytesToFloat32(fields[fieldEmbedding]), Metadata: md}, nil
}

// DeleteByFilter pages through matching keys and deletes them.
func (r *RedisIndex) DeleteByFilter(ctx context.Context, filter map[string]interface{}) ([]string, error) {
	if len(filter) == 0 {
		return nil, fmt.Errorf("%w: delete by filter requires a non-empty filter", ErrUnsupportedFilter)
	}
	expr, err := r.filterExpr(filter)
	if err != nil {
		return nil, err
	}
	var deleted []string
	for {
		res, err := r.client.FTSearchWithArgs(ctx, r.name, expr, &redis.FTSearchOptions{
			NoContent:      true,
			Limit:          redisScanBatch,
			DialectVersion: 2,
		}).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to search records to delete: %w", err)
		}
		if len(res.Docs) == 0 {
			return deleted, nil
		}
		keys := make([]string, len(res.Docs))
		for i, doc := range res.Docs {
			keys[i] = doc.ID
			deleted = append(deleted, strings.TrimPrefix(doc.ID, r.prefix))
		}
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return deleted, fmt.Errorf("failed to delete records: %w", err)
		}
	}
}

// Count returns num_docs from FT.INFO, falling back to a key scan.
func (r *RedisIndex) Count(ctx context.Context) (int64, error) {
	info, err := r.client.FTInfo(ctx, r.name).Result()
	if err == nil {
		return int64(info.NumDocs), nil
	}
	r.logger.Debug("FT.INFO failed, counting keys", zap.Error(err))
	var cursor uint64
	var n int64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", redisScanBatch).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to count records: %w", err)
		}
		n += int64(len(keys))
		cursor = next
		if cursor == 0 {
			return n, nil
		}
	}
}

// Close releases the client.
func (r *RedisIndex) Close() error {
	return r.client.Close()
}

// EscapeTag backslash-escapes the characters RediSearch treats as separators in TAG queries.
func EscapeTag(s string) string {
	var b strings.Builder
	for _, c := range s {
		if strings.ContainsRune(",.<>{}[]\"':;!@#$%^&*()-+=~|/\\ ", c) {
			b.WriteRune('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func decodeMetadata(raw string) (models.Metadata, error) {
	md := models.Metadata{}
	if raw == "" {
		return md, nil
	}
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, err
	}
	return md, nil
}

func float32ToBytes(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

func bytesToFloat32(s string) []float32 {
	b := []byte(s)
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
