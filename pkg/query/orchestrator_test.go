package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai/aitest"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dim = 32

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.UpsertIndex(context.Background(), common.Index{Name: "papers", Dimension: dim})
	require.NoError(t, err)
	return s
}

func addDocument(t *testing.T, s *sqlite.Store, id, content string, meta map[string]any) {
	t.Helper()
	_, err := s.CreateDocument(context.Background(), common.Document{
		DocID:     id,
		IndexName: "papers",
		Content:   content,
		Metadata:  meta,
		Embedding: aitest.Embed(content, dim),
	})
	require.NoError(t, err)
}

func answerWith2017(prompt string, _ ai.GenerateOptions) (string, error) {
	if strings.Contains(prompt, "2017") {
		return "Transformers were introduced in 2017.", nil
	}
	return "I don't know.", nil
}

func TestSearchEmptyIndexServesSyntheticChunk(t *testing.T) {
	s := newStore(t)
	client := aitest.New(dim)
	trace := NewQueryTrace()

	res := NewOrchestrator(s, client).SearchTraced(context.Background(), Request{IndexName: "papers", Query: "anything"}, trace)

	assert.Equal(t, ai.FallbackAnswer, res.Answer)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "fallback", res.Chunks[0].DocID)
	assert.Equal(t, FallbackContent, res.Chunks[0].Content)
	assert.Equal(t, map[string]any{"index_name": "papers"}, res.Chunks[0].Metadata)
	assert.Zero(t, res.Chunks[0].Score)
	assert.Zero(t, client.CompletionCount(), "no generation for empty context")

	snap := trace.Snapshot()
	assert.Equal(t, []Tier{TierGraph, TierVector, TierDocuments, TierSynthetic}, snap.Attempted)
	assert.Equal(t, TierSynthetic, snap.Served)
}

func TestSearchUnknownIndexNeverFails(t *testing.T) {
	s := newStore(t)
	res := NewOrchestrator(s, aitest.New(dim)).Search(context.Background(), Request{IndexName: "missing", Query: "q"})
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "fallback", res.Chunks[0].DocID)
	assert.Equal(t, "missing", res.Chunks[0].Metadata["index_name"])
}

func TestSearchVectorTierAnswers(t *testing.T) {
	s := newStore(t)
	addDocument(t, s, "doc-1", "Transformers were introduced in 2017", map[string]any{})
	addDocument(t, s, "doc-2", "Convolutional networks dominate vision benchmarks", nil)
	client := aitest.New(dim)
	client.Complete = answerWith2017

	trace := NewQueryTrace()
	res := NewOrchestrator(s, client).SearchTraced(context.Background(), Request{
		IndexName: "papers",
		Query:     "When were transformers introduced?",
		TopK:      1,
	}, trace)

	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "doc-1", res.Chunks[0].DocID)
	assert.Equal(t, "Transformers were introduced in 2017", res.Chunks[0].Content)
	assert.Greater(t, res.Chunks[0].Score, 0.0)
	assert.Contains(t, res.Answer, "2017")
	assert.Equal(t, TierVector, trace.Snapshot().Served)

	require.Equal(t, 1, client.CompletionCount())
	prompt := client.Completions[0]
	assert.True(t, strings.HasPrefix(prompt, "Context from the knowledge base:\nChunk 1:\nTransformers were introduced in 2017\n"), prompt)
	assert.True(t, strings.HasSuffix(prompt, "Question: When were transformers introduced?\nAnswer using only the context above."), prompt)
}

func TestSearchKeywordMissFallsBackToDocuments(t *testing.T) {
	s := newStore(t)
	addDocument(t, s, "doc-1", "Transformers were introduced in 2017", map[string]any{"year": float64(2017)})
	client := aitest.New(dim)
	trace := NewQueryTrace()

	res := NewOrchestrator(s, client).SearchTraced(context.Background(), Request{
		IndexName: "papers",
		Query:     "transformers",
		Keywords:  []string{"healthcare"},
		TopK:      3,
	}, trace)

	assert.Equal(t, ai.FallbackAnswer, res.Answer)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "doc-1", res.Chunks[0].DocID)
	assert.Zero(t, res.Chunks[0].Score)
	assert.Equal(t, map[string]any{"year": float64(2017)}, res.Chunks[0].Metadata)
	assert.Zero(t, client.CompletionCount())
	assert.Equal(t, TierDocuments, trace.Snapshot().Served)
}

func writeChunks(t *testing.T, s *sqlite.Store) {
	t.Helper()
	texts := []string{
		"Attention layers replaced recurrence in sequence models.",
		"Transformers were introduced in 2017 by researchers at Google.",
		"Later work scaled transformers to billions of parameters.",
	}
	w := common.GraphWrite{IndexName: "papers"}
	for i, text := range texts {
		w.Chunks = append(w.Chunks, common.Chunk{
			ID:        []string{"c0", "c1", "c2"}[i],
			DocID:     "paper-1",
			RunID:     "run-1",
			Seq:       i,
			Text:      text,
			Metadata:  map[string]any{"title": "Attention"},
			Embedding: aitest.Embed(text, dim),
		})
	}
	w.Entities = []common.Entity{
		{ID: "e1", Label: "Organization", Name: "Google", Sources: []string{"c1"}},
		{ID: "e2", Label: "Concept", Name: "Transformer", Sources: []string{"c1", "c2"}},
	}
	_, err := s.WriteGraph(context.Background(), w)
	require.NoError(t, err)
}

func TestSearchGraphTierWithContext(t *testing.T) {
	s := newStore(t)
	writeChunks(t, s)
	addDocument(t, s, "doc-1", "Unrelated document", nil)
	client := aitest.New(dim)
	client.Complete = answerWith2017
	trace := NewQueryTrace()

	res := NewOrchestrator(s, client, WithGraphContext(true)).SearchTraced(context.Background(), Request{
		IndexName: "papers",
		Query:     "When were transformers introduced by Google?",
		TopK:      1,
	}, trace)

	require.Len(t, res.Chunks, 1)
	hit := res.Chunks[0]
	assert.Equal(t, "paper-1", hit.DocID)
	assert.Contains(t, hit.Content, "2017")
	assert.Equal(t, "Attention", hit.Metadata["title"])
	assert.ElementsMatch(t, []string{"Google (Organization)", "Transformer (Concept)"}, hit.Metadata["entities"])
	assert.Equal(t, "Attention layers replaced recurrence in sequence models.", hit.Metadata["previous_chunk"])
	assert.Contains(t, res.Answer, "2017")
	assert.Equal(t, TierGraph, trace.Snapshot().Served)
	assert.Equal(t, []string{"c1"}, trace.Snapshot().ConsideredChunkIDs)
}

func TestSearchHybridRanksByKeywords(t *testing.T) {
	s := newStore(t)
	writeChunks(t, s)
	client := aitest.New(dim)

	res := NewOrchestrator(s, client).Search(context.Background(), Request{
		IndexName: "papers",
		Query:     "transformers",
		Keywords:  []string{"billions", "parameters"},
		TopK:      5,
	})

	require.Len(t, res.Chunks, 1)
	assert.Contains(t, res.Chunks[0].Content, "billions")
}

func TestSearchGenerationFailureDemotes(t *testing.T) {
	s := newStore(t)
	writeChunks(t, s)
	addDocument(t, s, "doc-1", "Transformers were introduced in 2017", nil)
	client := aitest.New(dim)
	calls := 0
	client.Complete = func(prompt string, opts ai.GenerateOptions) (string, error) {
		calls++
		if calls == 1 {
			return "", common.Transient("generate", errors.New("connection reset"))
		}
		return answerWith2017(prompt, opts)
	}
	trace := NewQueryTrace()

	res := NewOrchestrator(s, client).SearchTraced(context.Background(), Request{IndexName: "papers", Query: "transformers introduced", TopK: 1}, trace)

	assert.Equal(t, 2, calls)
	assert.Equal(t, "doc-1", res.Chunks[0].DocID)
	assert.Contains(t, res.Answer, "2017")
	snap := trace.Snapshot()
	assert.Contains(t, snap.Failed[TierGraph], "connection reset")
	assert.Equal(t, TierVector, snap.Served)
}

func TestSearchEmbeddingFailureServesDocuments(t *testing.T) {
	s := newStore(t)
	addDocument(t, s, "doc-1", "Transformers were introduced in 2017", nil)
	client := aitest.New(dim)
	client.EmbedErr = errors.New("provider down")

	res := NewOrchestrator(s, client).Search(context.Background(), Request{IndexName: "papers", Query: "transformers"})

	assert.Equal(t, ai.FallbackAnswer, res.Answer)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "doc-1", res.Chunks[0].DocID)
	assert.Equal(t, map[string]any{}, res.Chunks[0].Metadata)
}

type brokenStore struct {
	Store
}

var errStore = errors.New("store unreachable")

func (brokenStore) SearchChunks(context.Context, string, []float32, int) ([]common.ScoredChunk, error) {
	return nil, errStore
}

func (brokenStore) VectorSearch(context.Context, string, []float32, int, []string) ([]common.ScoredDocument, error) {
	return nil, errStore
}

func (brokenStore) ListDocuments(context.Context, string, int) ([]common.Document, error) {
	return nil, errStore
}

func TestSearchStoreFailureServesSyntheticChunk(t *testing.T) {
	client := aitest.New(dim)
	trace := NewQueryTrace()

	res := NewOrchestrator(brokenStore{}, client).SearchTraced(context.Background(), Request{IndexName: "papers", Query: "q"}, trace)

	assert.Equal(t, ai.FallbackAnswer, res.Answer)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "fallback", res.Chunks[0].DocID)
	snap := trace.Snapshot()
	assert.Len(t, snap.Failed, 3)
	assert.Zero(t, client.CompletionCount())
}
