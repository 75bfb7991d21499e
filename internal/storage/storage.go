// Package storage persists items and ingest sources on the local disk.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/nutrirag/internal/models"
)

// ErrNotFound is returned when an item or source does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines item and source persistence operations.
type Storage interface {
	// Item operations
	UpsertItems(ctx context.Context, items []*models.Item) error
	GetItem(ctx context.Context, id string) (*models.Item, error)
	DeleteItems(ctx context.Context, ids []string) (int64, error)
	ListItems(ctx context.Context, offset, limit int) ([]*models.Item, error)
	// ForEachItem visits every item with its vector, in insertion order.
	ForEachItem(ctx context.Context, fn func(*models.Item) error) error
	CountItems(ctx context.Context) (int64, error)

	// Source operations
	PutSource(ctx context.Context, src *models.Source) error
	GetSource(ctx context.Context, path string) (*models.Source, error)
	DeleteSource(ctx context.Context, path string) error
	ListSources(ctx context.Context) ([]*models.Source, error)

	Close() error
}
