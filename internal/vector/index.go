// Package vector stores item vectors and answers similarity queries, either against a
// remote RediSearch index or a local fallback kept on disk.
package vector

import (
	"context"
	"errors"

	"github.com/hyperjump/nutrirag/internal/models"
)

var (
	// ErrNotFound is returned by Fetch for an unknown id.
	ErrNotFound = errors.New("vector record not found")
	// ErrDimensionMismatch is returned when a vector does not have the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrUnsupportedFilter is returned for filters the backend cannot evaluate.
	ErrUnsupportedFilter = errors.New("unsupported filter")
	// ErrProvisioning wraps failures to create or connect to the remote index.
	ErrProvisioning = errors.New("failed to provision remote index")
)

// Index is a similarity index over records. Query returns matches in descending score
// order; Upsert replaces records that already exist.
type Index interface {
	Upsert(ctx context.Context, records []models.Record) error
	Query(ctx context.Context, vector []float32, topK int, filter map[string]interface{}) ([]models.Match, error)
	Delete(ctx context.Context, ids []string) error
	Fetch(ctx context.Context, id string) (*models.Record, error)
	// DeleteByFilter deletes every record matching filter and returns their ids.
	DeleteByFilter(ctx context.Context, filter map[string]interface{}) ([]string, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Provisioner creates or connects to a named remote index.
type Provisioner interface {
	EnsureIndex(ctx context.Context, name string, dimensions int, metric string) (Index, error)
}

// Metric names accepted by provisioners.
const (
	MetricCosine     = "cosine"
	MetricDotProduct = "dotproduct"
)
