// Package query answers questions over an index with a tiered retrieval
// chain that always produces a well formed result.
package query

import (
	"context"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
)

// DefaultTopK is used when a request does not set TopK.
const DefaultTopK = 5

// Request is one search.
type Request struct {
	IndexName string   `json:"index_name"`
	Query     string   `json:"query"`
	Keywords  []string `json:"keywords,omitempty"`
	TopK      int      `json:"top_k"`

	// embedding of Query, filled once per search
	embedding []float32
}

// Item is a ranked retrieval hit.
type Item struct {
	ChunkID  string
	DocID    string
	Content  string
	Metadata map[string]any
	Score    float64
}

func (it Item) toChunk() common.SearchChunk {
	meta := it.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return common.SearchChunk{
		DocID:    it.DocID,
		Content:  it.Content,
		Metadata: meta,
		Score:    it.Score,
	}
}

// Retriever ranks graph chunks of an index for a request.
type Retriever interface {
	Name() string
	Retrieve(ctx context.Context, req Request) ([]Item, error)
}
