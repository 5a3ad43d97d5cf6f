package query

import (
	"context"
	"testing"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runeCount(s string) int { return len([]rune(s)) }

func TestBuildContext(t *testing.T) {
	items := []Item{
		{Content: "first", Metadata: map[string]any{"a": 1}},
		{Content: "second"},
	}
	got := BuildContext(items, 0, runeCount)
	assert.Equal(t, "Chunk 1:\nMetadata: {\"a\":1}\nfirst\n\nChunk 2:\nsecond\n", got)
}

func TestBuildContextEmpty(t *testing.T) {
	assert.Empty(t, BuildContext(nil, 100, runeCount))
	assert.Empty(t, BuildContext([]Item{{Content: "  "}, {}}, 100, runeCount))
}

func TestBuildContextBudget(t *testing.T) {
	items := []Item{{Content: "aaaa"}, {Content: "bbbb"}}
	one := formatChunk(1, items[0])

	got := BuildContext(items, runeCount(one)+5, runeCount)
	assert.Equal(t, one, got, "second chunk does not fit")

	got = BuildContext(items, 10, runeCount)
	assert.Equal(t, 10, runeCount(got), "oversized first chunk is truncated")
	assert.Equal(t, one[:10], got)
}

type chunkStore struct {
	store.GraphStore
	hits []common.ScoredChunk
	k    int
}

func (s *chunkStore) SearchChunks(_ context.Context, _ string, _ []float32, k int) ([]common.ScoredChunk, error) {
	s.k = k
	return s.hits, nil
}

func TestHybridRetriever(t *testing.T) {
	cs := &chunkStore{hits: []common.ScoredChunk{
		{Chunk: common.Chunk{ID: "a", Text: "vector only"}, Score: 0.9},
		{Chunk: common.Chunk{ID: "b", Text: "mentions Alpha"}, Score: 0.5},
		{Chunk: common.Chunk{ID: "c", Text: "alpha and beta"}, Score: 0.4},
	}}
	r, err := NewRetriever(RetrieverHybrid, cs)
	require.NoError(t, err)

	items, err := r.Retrieve(context.Background(), Request{TopK: 2, Keywords: []string{"alpha", "beta"}})
	require.NoError(t, err)
	assert.Equal(t, 4, cs.k, "over-fetches max(3, 2*topK)")
	require.Len(t, items, 2)
	assert.Equal(t, "c", items[0].ChunkID)
	assert.InDelta(t, 0.7*0.4+0.3*1.0, items[0].Score, 1e-9)
	assert.Equal(t, "b", items[1].ChunkID)
	assert.InDelta(t, 0.7*0.5+0.3*0.5, items[1].Score, 1e-9)
}

func TestRetrieverLookup(t *testing.T) {
	_, err := NewRetriever("bm25", nil)
	assert.Error(t, err)
	assert.Equal(t, RetrieverVector, retrieverFor(Request{}))
	assert.Equal(t, RetrieverVector, retrieverFor(Request{Keywords: []string{""}}))
	assert.Equal(t, RetrieverHybrid, retrieverFor(Request{Keywords: []string{"x"}}))
}
