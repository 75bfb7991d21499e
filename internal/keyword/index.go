// Package keyword indexes item metadata so equality filters can be evaluated locally.
package keyword

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/hyperjump/nutrirag/internal/models"
)

// ErrUnsupportedValue is returned for filter or metadata values that are not scalars.
var ErrUnsupportedValue = errors.New("unsupported metadata value")

// MetadataIndex evaluates metadata equality filters.
type MetadataIndex interface {
	Index(ctx context.Context, id string, metadata models.Metadata) error
	// Match returns the ids whose metadata equals every key/value in filter.
	Match(ctx context.Context, filter map[string]interface{}) (map[string]struct{}, error)
	Delete(ctx context.Context, id string) error
	DocCount() (uint64, error)
	Close() error
}

// Term renders a scalar metadata value the way it is indexed. Numbers use the shortest
// float representation, so 2 and 2.0 compare equal.
func Term(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.FormatFloat(float64(t), 'g', -1, 64), nil
	case int32:
		return strconv.FormatFloat(float64(t), 'g', -1, 64), nil
	case int64:
		return strconv.FormatFloat(float64(t), 'g', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 64), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}
