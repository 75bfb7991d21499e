// Package models defines the shared data structures for items, retrievals, and meal recommendations.
package models

import "time"

// Reserved metadata keys written by the retrieval engine.
const (
	MetaContent  = "content"
	MetaItemType = "item_type"
)

// Metadata maps string keys to scalar values (string, bool, or number).
type Metadata map[string]interface{}

// Clone returns a shallow copy of m. A nil map yields an empty, non-nil copy.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Normalize converts every integer or float32 value to float64 in place, the type a
// JSON round trip produces, so stored, cached and reloaded metadata compare equal.
func (m Metadata) Normalize() {
	for k, v := range m {
		switch n := v.(type) {
		case int:
			m[k] = float64(n)
		case int8:
			m[k] = float64(n)
		case int16:
			m[k] = float64(n)
		case int32:
			m[k] = float64(n)
		case int64:
			m[k] = float64(n)
		case uint:
			m[k] = float64(n)
		case uint8:
			m[k] = float64(n)
		case uint16:
			m[k] = float64(n)
		case uint32:
			m[k] = float64(n)
		case uint64:
			m[k] = float64(n)
		case float32:
			m[k] = float64(n)
		}
	}
}

// String returns the value at key when it is a string.
func (m Metadata) String(key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// Item is a stored knowledge-base entry.
type Item struct {
	ID        string    `json:"id" db:"id"`
	Content   string    `json:"content" db:"content"`
	ItemType  string    `json:"item_type" db:"item_type"`
	Metadata  Metadata  `json:"metadata" db:"metadata"`
	Vector    []float32 `json:"-" db:"vector"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Record is what a vector index stores for one item.
type Record struct {
	ID       string    `json:"id"`
	Vector   []float32 `json:"-"`
	Metadata Metadata  `json:"metadata"`
}

// ItemInput is the input for adding one item.
type ItemInput struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata,omitempty"`
	ItemType string   `json:"item_type"`
}

// BulkItemInput is the input for adding many items. The three slices must have equal length.
type BulkItemInput struct {
	Contents  []string   `json:"contents"`
	Metadatas []Metadata `json:"metadatas"`
	ItemTypes []string   `json:"item_types"`
}
