// Package storetest holds the behaviour every store.Storage backend must
// show. Backend packages run it against their own implementation.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) store.Storage

const dim = 4

func vec(v ...float32) []float32 { return v }

// Run executes the whole suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("IndexLifecycle", func(t *testing.T) { testIndexLifecycle(t, newStore(t)) })
	t.Run("DocumentCRUD", func(t *testing.T) { testDocumentCRUD(t, newStore(t)) })
	t.Run("UpdateOnlyContent", func(t *testing.T) { testUpdateOnlyContent(t, newStore(t)) })
	t.Run("VectorSearch", func(t *testing.T) { testVectorSearch(t, newStore(t)) })
	t.Run("DeleteIndexCascades", func(t *testing.T) { testDeleteIndexCascades(t, newStore(t)) })
	t.Run("GraphWriteAndContext", func(t *testing.T) { testGraphWriteAndContext(t, newStore(t)) })
	t.Run("MergeEntities", func(t *testing.T) { testMergeEntities(t, newStore(t)) })
	t.Run("Schemas", func(t *testing.T) { testSchemas(t, newStore(t)) })
}

func testIndexLifecycle(t *testing.T, s store.Storage) {
	defer s.Close()
	ctx := context.Background()

	missing, err := s.GetIndex(ctx, "papers")
	require.NoError(t, err)
	assert.Nil(t, missing)

	created, err := s.CreateIndex(ctx, common.Index{Name: "papers", Description: "research", Dimension: dim})
	require.NoError(t, err)
	assert.Equal(t, "papers", created.Name)
	assert.False(t, created.CreatedAt.IsZero())

	_, err = s.CreateIndex(ctx, common.Index{Name: "papers", Dimension: dim})
	assert.True(t, common.IsConflict(err), "expected conflict, got %v", err)

	time.Sleep(time.Millisecond)
	updated, err := s.UpsertIndex(ctx, common.Index{Name: "papers", Description: "updated", Dimension: dim})
	require.NoError(t, err)
	assert.Equal(t, "updated", updated.Description)
	assert.True(t, updated.CreatedAt.Equal(created.CreatedAt), "created_at must survive upsert")
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	_, err = s.UpsertIndex(ctx, common.Index{Name: "blogs", Dimension: dim})
	require.NoError(t, err)

	all, err := s.ListIndexes(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "blogs", all[0].Name)
	assert.Equal(t, "papers", all[1].Name)

	require.NoError(t, s.DeleteIndex(ctx, "blogs"))
	require.NoError(t, s.DeleteIndex(ctx, "blogs"), "deleting an absent index is a no-op")
	all, err = s.ListIndexes(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func seedIndex(t *testing.T, s store.Storage, name string) {
	t.Helper()
	_, err := s.UpsertIndex(context.Background(), common.Index{Name: name, Dimension: dim})
	require.NoError(t, err)
}

func testDocumentCRUD(t *testing.T, s store.Storage) {
	defer s.Close()
	ctx := context.Background()
	seedIndex(t, s, "papers")

	doc, err := s.CreateDocument(ctx, common.Document{
		IndexName: "papers",
		Content:   "Transformers were introduced in 2017",
		Metadata:  map[string]any{"source": "arxiv"},
		Embedding: vec(1, 0, 0, 0),
	})
	require.NoError(t, err)
	require.NotEmpty(t, doc.DocID)
	assert.Equal(t, "arxiv", doc.Metadata["source"])

	_, err = s.CreateDocument(ctx, common.Document{DocID: doc.DocID, IndexName: "papers", Content: "dup", Embedding: vec(0, 1, 0, 0)})
	assert.True(t, common.IsConflict(err), "expected conflict, got %v", err)

	_, err = s.CreateDocument(ctx, common.Document{IndexName: "nope", Content: "orphan", Embedding: vec(0, 1, 0, 0)})
	assert.True(t, common.IsNotFound(err), "expected not found for missing index, got %v", err)

	got, err := s.GetDocument(ctx, "papers", doc.DocID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc.Content, got.Content)
	assert.Equal(t, []float32{1, 0, 0, 0}, got.Embedding)

	other, err := s.GetDocument(ctx, "blogs", doc.DocID)
	require.NoError(t, err)
	assert.Nil(t, other, "documents are scoped to their index")

	missing, err := s.UpdateDocument(ctx, "papers", "does-not-exist", common.DocumentPatch{})
	require.NoError(t, err)
	assert.Nil(t, missing)

	time.Sleep(time.Millisecond)
	touched, err := s.UpdateDocument(ctx, "papers", doc.DocID, common.DocumentPatch{})
	require.NoError(t, err)
	require.NotNil(t, touched)
	assert.True(t, touched.UpdatedAt.After(doc.UpdatedAt), "empty patch still advances updated_at")

	second, err := s.CreateDocument(ctx, common.Document{IndexName: "papers", Content: "newer", Embedding: vec(0, 1, 0, 0)})
	require.NoError(t, err)
	list, err := s.ListDocuments(ctx, "papers", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)

	time.Sleep(time.Millisecond)
	_, err = s.UpdateDocument(ctx, "papers", doc.DocID, common.DocumentPatch{Metadata: map[string]any{"v": 2}})
	require.NoError(t, err)
	list, err = s.ListDocuments(ctx, "papers", 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, doc.DocID, list[0].DocID, "most recently updated first")

	require.NoError(t, s.DeleteDocument(ctx, "papers", second.DocID))
	gone, err := s.GetDocument(ctx, "papers", second.DocID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func testUpdateOnlyContent(t *testing.T, s store.Storage) {
	defer s.Close()
	ctx := context.Background()
	seedIndex(t, s, "papers")

	doc, err := s.CreateDocument(ctx, common.Document{
		IndexName: "papers",
		Content:   "old",
		Metadata:  map[string]any{"author": "vaswani"},
		Embedding: vec(1, 0, 0, 0),
	})
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	content := "new"
	updated, err := s.UpdateDocument(ctx, "papers", doc.DocID, common.DocumentPatch{Content: &content, Embedding: vec(0, 1, 0, 0)})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, doc.DocID, updated.DocID)
	assert.Equal(t, "new", updated.Content)
	assert.Equal(t, "vaswani", updated.Metadata["author"])
	assert.True(t, updated.UpdatedAt.After(doc.UpdatedAt))
	assert.True(t, updated.CreatedAt.Equal(doc.CreatedAt))
}

func testVectorSearch(t *testing.T, s store.Storage) {
	defer s.Close()
	ctx := context.Background()
	seedIndex(t, s, "papers")
	seedIndex(t, s, "blogs")

	docs := []common.Document{
		{IndexName: "papers", Content: "Healthcare systems and AI", Embedding: vec(1, 0, 0, 0)},
		{IndexName: "papers", Content: "Graph databases", Embedding: vec(0.9, 0.1, 0, 0)},
		{IndexName: "papers", Content: "Protein folding", Embedding: vec(0, 0, 1, 0)},
		{IndexName: "blogs", Content: "Healthcare blog", Embedding: vec(1, 0, 0, 0)},
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		created, err := s.CreateDocument(ctx, d)
		require.NoError(t, err)
		ids[i] = created.DocID
	}

	hits, err := s.VectorSearch(ctx, "papers", vec(1, 0, 0, 0), 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, ids[0], hits[0].DocID, "exact embedding ranks first")
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	for _, h := range hits {
		assert.NotEqual(t, ids[3], h.DocID, "results are scoped to the index")
	}

	hits, err = s.VectorSearch(ctx, "papers", vec(1, 0, 0, 0), 5, []string{"HEALTHCARE"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, ids[0], hits[0].DocID)

	hits, err = s.VectorSearch(ctx, "papers", vec(1, 0, 0, 0), 5, []string{"quantum"})
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.VectorSearch(ctx, "empty", vec(1, 0, 0, 0), 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func testDeleteIndexCascades(t *testing.T, s store.Storage) {
	defer s.Close()
	ctx := context.Background()
	seedIndex(t, s, "papers")
	seedIndex(t, s, "blogs")

	doc, err := s.CreateDocument(ctx, common.Document{IndexName: "papers", Content: "a", Embedding: vec(1, 0, 0, 0)})
	require.NoError(t, err)
	keep, err := s.CreateDocument(ctx, common.Document{IndexName: "blogs", Content: "b", Embedding: vec(1, 0, 0, 0)})
	require.NoError(t, err)
	writeSampleGraph(t, s, "papers", doc.DocID)
	require.NoError(t, s.SaveSchema(ctx, "papers", "custom", []byte(`{"strict":true}`)))

	require.NoError(t, s.DeleteIndex(ctx, "papers"))

	for _, idx := range []string{"papers", "blogs"} {
		got, err := s.GetDocument(ctx, idx, doc.DocID)
		require.NoError(t, err)
		assert.Nil(t, got, "document must not survive in %s", idx)
	}
	hits, err := s.VectorSearch(ctx, "blogs", vec(1, 0, 0, 0), 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, keep.DocID, hits[0].DocID)

	counts, err := s.CountGraph(ctx, "papers")
	require.NoError(t, err)
	assert.Equal(t, common.GraphCounts{}, counts)
	body, err := s.GetSchema(ctx, "papers", "custom")
	require.NoError(t, err)
	assert.Nil(t, body)
}

// writeSampleGraph writes two chained chunks, three entities and two
// relationships: Ada -WORKS_AT-> ACME, A. Lovelace -WORKS_AT-> ACME.
func writeSampleGraph(t *testing.T, s store.Storage, index, docID string) common.GraphWrite {
	t.Helper()
	w := common.GraphWrite{
		IndexName: index,
		Chunks: []common.Chunk{
			{ID: index + "-c0", DocID: docID, RunID: index + "-run", Seq: 0, Text: "Ada works at ACME.", Embedding: vec(1, 0, 0, 0), Metadata: map[string]any{"source": "t"}},
			{ID: index + "-c1", DocID: docID, RunID: index + "-run", Seq: 1, Text: "A. Lovelace also works at ACME.", Embedding: vec(0, 1, 0, 0)},
		},
		Entities: []common.Entity{
			{ID: index + "-e1", Label: "Person", Name: "Ada", Properties: map[string]any{"role": "engineer"}, Sources: []string{index + "-c0"}},
			{ID: index + "-e2", Label: "Person", Name: "A. Lovelace", Properties: map[string]any{"born": "1815"}, Sources: []string{index + "-c1"}},
			{ID: index + "-e3", Label: "Organization", Name: "ACME", Sources: []string{index + "-c0", index + "-c1"}},
		},
		Relationships: []common.Relationship{
			{ID: index + "-r1", SourceID: index + "-e1", TargetID: index + "-e3", Type: "WORKS_AT", Sources: []string{index + "-c0"}},
			{ID: index + "-r2", SourceID: index + "-e2", TargetID: index + "-e3", Type: "WORKS_AT", Sources: []string{index + "-c1"}},
		},
	}
	stats, err := s.WriteGraph(context.Background(), w)
	require.NoError(t, err)
	require.Equal(t, common.WriteStats{Chunks: 2, Nodes: 3, Relationships: 2}, stats)
	return w
}

func testGraphWriteAndContext(t *testing.T, s store.Storage) {
	defer s.Close()
	ctx := context.Background()
	seedIndex(t, s, "papers")
	writeSampleGraph(t, s, "papers", "doc-1")

	hits, err := s.SearchChunks(ctx, "papers", vec(0, 1, 0, 0), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "papers-c1", hits[0].ID)
	assert.Equal(t, "doc-1", hits[0].DocID)

	cc, err := s.ChunkContext(ctx, []string{"papers-c1", "unknown", "papers-c0"})
	require.NoError(t, err)
	require.Len(t, cc, 2)
	assert.Equal(t, "papers-c1", cc[0].ChunkID)
	assert.Equal(t, "Ada works at ACME.", cc[0].Previous)
	assert.Empty(t, cc[0].Next)
	assert.Equal(t, "A. Lovelace also works at ACME.", cc[1].Next)
	names := []string{}
	for _, e := range cc[0].Entities {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{"A. Lovelace", "ACME"}, names)

	people, err := s.ListEntities(ctx, common.EntityFilter{IndexName: "papers", Labels: []string{"Person"}})
	require.NoError(t, err)
	assert.Len(t, people, 2)

	prefixed, err := s.ListEntities(ctx, common.EntityFilter{IndexName: "papers", NamePrefix: "ac"})
	require.NoError(t, err)
	require.Len(t, prefixed, 1)
	assert.Equal(t, "ACME", prefixed[0].Name)
	assert.ElementsMatch(t, []string{"papers-c0", "papers-c1"}, prefixed[0].Sources)

	byDoc, err := s.ListEntities(ctx, common.EntityFilter{IndexName: "papers", DocIDs: []string{"other"}})
	require.NoError(t, err)
	assert.Empty(t, byDoc)

	counts, err := s.CountGraph(ctx, "papers")
	require.NoError(t, err)
	assert.Equal(t, common.GraphCounts{Chunks: 2, Entities: 3, Relationships: 2}, counts)
}

func testMergeEntities(t *testing.T, s store.Storage) {
	defer s.Close()
	ctx := context.Background()
	seedIndex(t, s, "papers")
	writeSampleGraph(t, s, "papers", "doc-1")

	stats, err := s.MergeEntities(ctx, "papers", []common.MergeGroup{{
		Canonical:  "papers-e1",
		Duplicates: []string{"papers-e2"},
		Properties: map[string]any{"role": "engineer", "born": "1815"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EntitiesRemoved)
	assert.Equal(t, 1, stats.RelationshipsMoved)
	assert.Equal(t, 1, stats.RelationshipsDropped, "parallel WORKS_AT collapses")

	people, err := s.ListEntities(ctx, common.EntityFilter{IndexName: "papers", Labels: []string{"Person"}})
	require.NoError(t, err)
	require.Len(t, people, 1)
	ada := people[0]
	assert.Equal(t, "papers-e1", ada.ID)
	assert.Equal(t, "1815", fmt.Sprint(ada.Properties["born"]))
	assert.ElementsMatch(t, []string{"papers-c0", "papers-c1"}, ada.Sources, "mentions move to the survivor")

	rels, err := s.ListRelationships(ctx, "papers", nil)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "papers-e1", rels[0].SourceID)
	assert.Equal(t, "papers-e3", rels[0].TargetID)
}

func testSchemas(t *testing.T, s store.Storage) {
	defer s.Close()
	ctx := context.Background()
	seedIndex(t, s, "papers")

	body, err := s.GetSchema(ctx, "papers", "auto")
	require.NoError(t, err)
	assert.Nil(t, body)

	require.NoError(t, s.SaveSchema(ctx, "papers", "auto", []byte(`{"v":1}`)))
	require.NoError(t, s.SaveSchema(ctx, "papers", "auto", []byte(`{"v":2}`)))
	body, err = s.GetSchema(ctx, "papers", "auto")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(body))
}
