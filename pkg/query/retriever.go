package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"
)

// HybridWeight is the share of the lexical score in hybrid ranking.
const HybridWeight = 0.3

const (
	RetrieverVector = "vector"
	RetrieverHybrid = "hybrid"
)

var retrievers = map[string]func(store.GraphStore) Retriever{
	RetrieverVector: func(s store.GraphStore) Retriever { return vectorRetriever{store: s} },
	RetrieverHybrid: func(s store.GraphStore) Retriever { return hybridRetriever{store: s, weight: HybridWeight} },
}

// NewRetriever looks up a retriever by name.
func NewRetriever(name string, s store.GraphStore) (Retriever, error) {
	build, ok := retrievers[name]
	if !ok {
		return nil, fmt.Errorf("unknown retriever %q", name)
	}
	return build(s), nil
}

// retrieverFor prefers hybrid ranking whenever keywords are given.
func retrieverFor(req Request) string {
	for _, k := range req.Keywords {
		if k != "" {
			return RetrieverHybrid
		}
	}
	return RetrieverVector
}

type vectorRetriever struct {
	store store.GraphStore
}

func (vectorRetriever) Name() string { return RetrieverVector }

func (r vectorRetriever) Retrieve(ctx context.Context, req Request) ([]Item, error) {
	hits, err := r.store.SearchChunks(ctx, req.IndexName, req.embedding, req.TopK)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(hits))
	for _, h := range hits {
		items = append(items, Item{
			ChunkID:  h.ID,
			DocID:    h.DocID,
			Content:  h.Text,
			Metadata: store.CloneMetadata(h.Metadata),
			Score:    h.Score,
		})
	}
	return items, nil
}

// hybridRetriever over-fetches vector neighbours, keeps those containing at
// least one keyword and ranks them by (1-w)*vector + w*lexical, where the
// lexical score is the fraction of keywords found in the chunk.
type hybridRetriever struct {
	store  store.GraphStore
	weight float64
}

func (hybridRetriever) Name() string { return RetrieverHybrid }

func (r hybridRetriever) Retrieve(ctx context.Context, req Request) ([]Item, error) {
	hits, err := r.store.SearchChunks(ctx, req.IndexName, req.embedding, store.CandidateCount(req.TopK))
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(hits))
	for _, h := range hits {
		lexical := store.KeywordCoverage(h.Text, req.Keywords)
		if lexical == 0 {
			continue
		}
		items = append(items, Item{
			ChunkID:  h.ID,
			DocID:    h.DocID,
			Content:  h.Text,
			Metadata: store.CloneMetadata(h.Metadata),
			Score:    (1-r.weight)*h.Score + r.weight*lexical,
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	if len(items) > req.TopK {
		items = items[:req.TopK]
	}
	return items, nil
}
