package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/nutrirag/pkg/utils"
)

// MemoryIndex is an in-memory brute-force cosine index over id/vector pairs.
type MemoryIndex struct {
	dimensions int
	ids        []string
	vectors    [][]float32
	norms      []float64
	pos        map[string]int
	mu         sync.RWMutex
}

// ScoredID is one MemoryIndex hit.
type ScoredID struct {
	ID    string
	Score float64
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		pos:        make(map[string]int),
	}, nil
}

// Dimensions returns the vector dimension.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Upsert adds vectors, replacing any existing vector with the same id.
func (m *MemoryIndex) Upsert(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	for _, v := range vectors {
		if len(v) != m.dimensions {
			return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(v), m.dimensions)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		if p, ok := m.pos[id]; ok {
			m.vectors[p] = vec
			m.norms[p] = utils.Norm(vec)
			continue
		}
		m.pos[id] = len(m.ids)
		m.ids = append(m.ids, id)
		m.vectors = append(m.vectors, vec)
		m.norms = append(m.norms, utils.Norm(vec))
	}
	return nil
}

// Search returns the top-k ids by cosine similarity. When allow is non-nil only ids it
// accepts are considered.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, allow func(id string) bool) ([]ScoredID, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("%w: query has %d, index expects %d", ErrDimensionMismatch, len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.ids) == 0 {
		return []ScoredID{}, nil
	}
	qn := utils.Norm(query)
	scores := make([]ScoredID, 0, len(m.ids))
	for i, vec := range m.vectors {
		if allow != nil && !allow(m.ids[i]) {
			continue
		}
		var score float64
		if qn > 0 && m.norms[i] > 0 {
			score = utils.Dot(query, vec) / (qn * m.norms[i])
		}
		scores = append(scores, ScoredID{ID: m.ids[i], Score: score})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}

// Get returns a copy of the vector stored for id.
func (m *MemoryIndex) Get(id string) ([]float32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pos[id]
	if !ok {
		return nil, false
	}
	out := make([]float32, m.dimensions)
	copy(out, m.vectors[p])
	return out, true
}

// Remove deletes vectors by id. Unknown ids are ignored.
func (m *MemoryIndex) Remove(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		p, ok := m.pos[id]
		if !ok {
			continue
		}
		last := len(m.ids) - 1
		if p != last {
			m.ids[p] = m.ids[last]
			m.vectors[p] = m.vectors[last]
			m.norms[p] = m.norms[last]
			m.pos[m.ids[p]] = p
		}
		m.ids = m.ids[:last]
		m.vectors = m.vectors[:last]
		m.norms = m.norms[:last]
		delete(m.pos, id)
	}
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}
