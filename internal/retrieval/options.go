package retrieval

import (
	"github.com/google/uuid"
	"github.com/hyperjump/nutrirag/internal/models"
	"go.uber.org/zap"
)

type engineOptions struct {
	logger      *zap.Logger
	metrics     *Metrics
	newID       func() string
	defaultTopK int
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithMetrics records cache and index activity.
func WithMetrics(m *Metrics) Option {
	return func(o *engineOptions) { o.metrics = m }
}

// WithIDGenerator replaces the item id generator (uuid v4 by default).
func WithIDGenerator(fn func() string) Option {
	return func(o *engineOptions) { o.newID = fn }
}

// WithDefaultTopK sets the result count used when a retrieval asks for none.
func WithDefaultTopK(k int) Option {
	return func(o *engineOptions) { o.defaultTopK = k }
}

func defaultOptions() engineOptions {
	return engineOptions{
		newID:       uuid.NewString,
		defaultTopK: models.DefaultTopK,
	}
}
