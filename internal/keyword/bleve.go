package keyword

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/nutrirag/internal/models"
)

const fieldPrefix = "m_"

// termPrefix keeps dynamic mapping from reading date-like values as datetimes.
const termPrefix = "v:"

// BleveIndex implements MetadataIndex using Bleve. Every metadata value is indexed as a
// single untokenized term, so a TermQuery is an exact equality test.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex opens the index at path, creating it on first use. An empty path builds
// an in-memory index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(metadataMapping())
		if err != nil {
			return nil, fmt.Errorf("create in-memory metadata index: %w", err)
		}
		return &BleveIndex{index: idx}, nil
	}
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, metadataMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("metadata index %s: %w", path, err)
	}
	return &BleveIndex{index: idx}, nil
}

// metadataMapping indexes every dynamic field with the keyword analyzer and stores
// nothing; hits only need ids.
func metadataMapping() *mapping.IndexMappingImpl {
	item := bleve.NewDocumentMapping()
	item.Dynamic = true
	m := bleve.NewIndexMapping()
	m.DefaultAnalyzer = keywordanalyzer.Name
	m.DefaultMapping = item
	m.StoreDynamic = false
	return m
}

func fieldName(key string) string {
	return fieldPrefix + strings.ReplaceAll(key, ".", "__")
}

// Index replaces the indexed metadata of id.
func (b *BleveIndex) Index(ctx context.Context, id string, metadata models.Metadata) error {
	doc := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		term, err := Term(v)
		if err != nil {
			return fmt.Errorf("metadata key %q: %w", k, err)
		}
		doc[fieldName(k)] = termPrefix + term
	}
	return b.index.Index(id, doc)
}

// Match runs a conjunction of exact-term queries. An empty filter returns nil, meaning
// no restriction.
func (b *BleveIndex) Match(ctx context.Context, filter map[string]interface{}) (map[string]struct{}, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	queries := make([]blevequery.Query, 0, len(filter))
	for k, v := range filter {
		term, err := Term(v)
		if err != nil {
			return nil, fmt.Errorf("filter key %q: %w", k, err)
		}
		tq := bleve.NewTermQuery(termPrefix + term)
		tq.SetField(fieldName(k))
		queries = append(queries, tq)
	}

	count, err := b.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("count metadata documents: %w", err)
	}
	out := make(map[string]struct{})
	if count == 0 {
		return out, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(queries...), int(count), 0, false)
	results, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("metadata filter search: %w", err)
	}
	for _, hit := range results.Hits {
		out[hit.ID] = struct{}{}
	}
	return out, nil
}

// Delete removes a document from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the total number of documents in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}
