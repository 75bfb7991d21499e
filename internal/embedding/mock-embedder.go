package embedding

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/hyperjump/nutrirag/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests. The same text always gets the same
// unit-length vector, and every provider call is counted.
type MockEmbedder struct {
	dimensions int
	embedCalls atomic.Int64
	batchCalls atomic.Int64
	textsSeen  atomic.Int64

	mu  sync.Mutex
	err error
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// FailWith makes subsequent calls return err. Pass nil to recover.
func (e *MockEmbedder) FailWith(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

func (e *MockEmbedder) failure() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Embed returns a deterministic embedding based on the text hash.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.embedCalls.Add(1)
	if err := e.failure(); err != nil {
		return nil, err
	}
	e.textsSeen.Add(1)
	return e.vector(text), nil
}

// EmbedBatch embeds every text in one call.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.batchCalls.Add(1)
	if err := e.failure(); err != nil {
		return nil, err
	}
	e.textsSeen.Add(int64(len(texts)))
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = e.vector(text)
	}
	return embeddings, nil
}

// vector spreads a sine wave seeded by the text hash over every dimension.
func (e *MockEmbedder) vector(text string) []float32 {
	seed := float64(textHash(text))
	vec := make([]float32, e.dimensions)
	for i := range vec {
		vec[i] = float32(math.Sin(seed*float64(i+1))*0.1 + 0.01)
	}
	utils.NormalizeL2(vec)
	return vec
}

// EmbedCalls returns the number of Embed calls.
func (e *MockEmbedder) EmbedCalls() int { return int(e.embedCalls.Load()) }

// BatchCalls returns the number of EmbedBatch calls.
func (e *MockEmbedder) BatchCalls() int { return int(e.batchCalls.Load()) }

// TextsEmbedded returns how many texts were successfully embedded across all calls.
func (e *MockEmbedder) TextsEmbedded() int { return int(e.textsSeen.Load()) }

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
