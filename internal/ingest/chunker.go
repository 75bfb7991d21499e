package ingest

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/tiktoken-go/tokenizer"
)

// Default chunking parameters, in tokens.
const (
	DefaultChunkSize    = 600
	DefaultChunkOverlap = 100
)

// Chunker splits text into overlapping windows of cl100k_base tokens.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	codec        tokenizer.Codec
}

// NewChunker creates a chunker with the given size and overlap in tokens. Non-positive
// values select the defaults.
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = DefaultChunkOverlap
	}
	if chunkOverlap >= chunkSize {
		return nil, errors.New("chunk overlap must be smaller than chunk size")
	}
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap, codec: codec}, nil
}

// Chunk normalizes text and splits it. Text that fits in one chunk is returned whole;
// blank text returns nil.
func (c *Chunker) Chunk(text string) ([]string, error) {
	text = Preprocess(text)
	if text == "" {
		return nil, nil
	}
	tokens, _, err := c.codec.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize: %w", err)
	}
	if len(tokens) <= c.chunkSize {
		return []string{text}, nil
	}

	step := c.chunkSize - c.chunkOverlap
	var chunks []string
	for start := 0; start < len(tokens); start += step {
		end := start + c.chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk, err := c.codec.Decode(tokens[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to decode chunk %d: %w", len(chunks), err)
		}
		if chunk = strings.TrimSpace(chunk); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(tokens) {
			break
		}
	}
	return chunks, nil
}

// CountTokens returns the number of tokens in text.
func (c *Chunker) CountTokens(text string) (int, error) {
	tokens, _, err := c.codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(tokens), nil
}

// Preprocess trims text and collapses every whitespace run into one space.
func Preprocess(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range strings.TrimSpace(text) {
		if unicode.IsSpace(r) {
			pendingSpace = true
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
