package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai/aitest"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/graph"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/leaselock"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/query"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/schema"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 32

const adaText = "Ada Lovelace worked with Charles Babbage on the Analytical Engine."

const extraction = `{
	"entities": [
		{"name": "Ada Lovelace", "label": "Person", "properties": [{"key": "field", "value": "mathematics"}]},
		{"name": "Charles Babbage", "label": "Person", "properties": []}
	],
	"relationships": [
		{"source": "Ada Lovelace", "target": "Charles Babbage", "type": "worked with", "properties": []}
	]
}`

const extractedSchema = `{
	"node_types": [{"label": "Person", "description": "", "properties": ["name"]}],
	"relationship_types": [{"label": "WORKED_WITH", "description": ""}],
	"patterns": [{"source": "Person", "relation": "WORKED_WITH", "target": "Person"}]
}`

type fixture struct {
	svc    *Services
	ai     *aitest.Client
	store  *sqlite.Store
	locker *leaselock.Local
}

func newFixture(t *testing.T, onError graph.OnError) fixture {
	t.Helper()
	ctx := context.Background()
	s, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	client := aitest.New(testDim)
	client.Format = func(name, prompt string, out any) error {
		switch {
		case strings.Contains(prompt, "BROKEN"):
			return errors.New("model refused")
		case name == "graph_schema":
			return json.Unmarshal([]byte(extractedSchema), out)
		case strings.Contains(prompt, "Ada"):
			return json.Unmarshal([]byte(extraction), out)
		}
		return nil
	}

	g, err := graph.NewGraphClient(graph.NewGraphClientParams{
		AIClient:   client,
		Store:      s,
		ChunkSize:  400,
		MaxRetries: 1,
		OnError:    onError,
	})
	require.NoError(t, err)

	locker := leaselock.NewLocal()
	svc := New(Params{
		Store:     s,
		AI:        client,
		Graph:     g,
		Locker:    locker,
		Dimension: testDim,
		TopK:      5,
	})
	return fixture{svc: svc, ai: client, store: s, locker: locker}
}

func (f fixture) createIndex(t *testing.T, name string) {
	t.Helper()
	_, err := f.svc.Indexes.Create(context.Background(), IndexInput{Name: name})
	require.NoError(t, err)
}

func TestIndexLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, graph.OnErrorIgnore)

	idx, err := f.svc.Indexes.Create(ctx, IndexInput{Name: " papers ", Description: "ml papers"})
	require.NoError(t, err)
	assert.Equal(t, "papers", idx.Name)
	assert.Equal(t, testDim, idx.Dimension, "dimension defaults to the configured one")
	assert.Equal(t, "papers_vector_idx", idx.VectorIndexName)

	_, err = f.svc.Indexes.Create(ctx, IndexInput{Name: "papers"})
	assert.True(t, common.IsConflict(err), "duplicate name: %v", err)

	_, err = f.svc.Indexes.Create(ctx, IndexInput{Name: "  "})
	assert.True(t, common.IsValidation(err))

	updated, err := f.svc.Indexes.Upsert(ctx, IndexInput{Name: "papers", Description: "updated"})
	require.NoError(t, err)
	assert.Equal(t, "updated", updated.Description)
	assert.Equal(t, idx.CreatedAt.Unix(), updated.CreatedAt.Unix())

	list, err := f.svc.Indexes.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = f.svc.Indexes.Get(ctx, "missing")
	assert.True(t, common.IsNotFound(err))
	assert.True(t, common.IsNotFound(f.svc.Indexes.Delete(ctx, "missing")))
}

func TestDeleteIndexRemovesDocuments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, graph.OnErrorIgnore)
	f.createIndex(t, "papers")
	f.createIndex(t, "other")

	doc, err := f.svc.Documents.Create(ctx, "papers", DocumentInput{DocID: "d1", Content: "Transformers were introduced in 2017"})
	require.NoError(t, err)
	_, err = f.svc.Documents.Create(ctx, "other", DocumentInput{DocID: "d2", Content: "Unrelated"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Indexes.Delete(ctx, "papers"))

	_, err = f.svc.Documents.Get(ctx, "papers", doc.DocID)
	assert.True(t, common.IsNotFound(err))
	hits, err := f.store.VectorSearch(ctx, "other", aitest.Embed(doc.Content, testDim), 5, nil)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, doc.DocID, h.DocID)
	}
}

func TestCreateDocumentEmbedsAndPopsFlags(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, graph.OnErrorIgnore)
	f.createIndex(t, "papers")

	doc, err := f.svc.Documents.Create(ctx, "papers", DocumentInput{
		Content:  "Transformers were introduced in 2017",
		Metadata: map[string]any{"source": "arxiv", MetaBuildKG: false, MetaSchemaKey: "academic"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.DocID)
	assert.Len(t, doc.Embedding, testDim)
	assert.Equal(t, map[string]any{"source": "arxiv"}, doc.Metadata)
	assert.Empty(t, f.ai.Formats, "no extraction without build_kg")

	counts, err := f.store.CountGraph(ctx, "papers")
	require.NoError(t, err)
	assert.Zero(t, counts.Chunks)
}

func TestCreateDocumentValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, graph.OnErrorIgnore)
	f.createIndex(t, "papers")

	_, err := f.svc.Documents.Create(ctx, "missing", DocumentInput{Content: "x"})
	assert.True(t, common.IsNotFound(err))

	_, err = f.svc.Documents.Create(ctx, "papers", DocumentInput{Content: "  "})
	assert.True(t, common.IsValidation(err))

	_, err = f.svc.Documents.Create(ctx, "papers", DocumentInput{Content: "x", Embedding: []float32{1, 2, 3}})
	assert.True(t, common.IsValidation(err), "wrong dimension: %v", err)

	_, err = f.svc.Documents.Create(ctx, "papers", DocumentInput{DocID: "d1", Content: "x"})
	require.NoError(t, err)
	_, err = f.svc.Documents.Create(ctx, "papers", DocumentInput{DocID: "d1", Content: "y"})
	assert.True(t, common.IsConflict(err))
}

func TestCreateDocumentBuildsGraph(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, graph.OnErrorIgnore)
	f.createIndex(t, "papers")

	doc, err := f.svc.Documents.Create(ctx, "papers", DocumentInput{
		Content:  adaText,
		Metadata: map[string]any{MetaBuildKG: "true", "source": "lab-notes"},
	})
	require.NoError(t, err)

	assert.Equal(t, true, doc.Metadata[MetaIngestDone])
	assert.Equal(t, schema.KeyDefault, doc.Metadata[MetaIngestSchema])
	summary, ok := doc.Metadata[MetaIngestSummary].(map[string]any)
	require.True(t, ok, "summary: %#v", doc.Metadata[MetaIngestSummary])
	assert.EqualValues(t, 2, summary["nodes"])
	assert.EqualValues(t, 1, summary["relationships"])
	assert.EqualValues(t, 1, summary["chunks"])

	counts, err := f.store.CountGraph(ctx, "papers")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Chunks)
	assert.Equal(t, 2, counts.Entities)
	assert.Equal(t, 1, counts.Relationships)

	hits, err := f.store.SearchChunks(ctx, "papers", aitest.Embed(adaText, testDim), 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "lab-notes", hits[0].Metadata["source"])
	assert.Equal(t, doc.DocID, hits[0].Metadata["doc_id"])
	assert.NotContains(t, hits[0].Metadata, MetaBuildKG)
}

func TestCreateDocumentWithPresetSchema(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, graph.OnErrorIgnore)
	f.createIndex(t, "papers")

	doc, err := f.svc.Documents.Create(ctx, "papers", DocumentInput{
		Content:  adaText,
		Metadata: map[string]any{MetaBuildKG: true, MetaSchemaKey: "academic"},
	})
	require.NoError(t, err)
	assert.Equal(t, "academic", doc.Metadata[MetaIngestSchema])

	counts, err := f.store.CountGraph(ctx, "papers")
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Entities)
	assert.Zero(t, counts.Relationships, "WORKED_WITH is not an academic pattern")
}

func TestGraphFailureKeepsDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown schema key", func(t *testing.T) {
		f := newFixture(t, graph.OnErrorIgnore)
		f.createIndex(t, "papers")
		doc, err := f.svc.Documents.Create(ctx, "papers", DocumentInput{
			Content:  adaText,
			Metadata: map[string]any{MetaBuildKG: true, MetaSchemaKey: "medical"},
		})
		require.NoError(t, err)
		assert.NotContains(t, doc.Metadata, MetaIngestDone)
		assert.Len(t, doc.Embedding, testDim)
	})

	t.Run("extraction raises", func(t *testing.T) {
		f := newFixture(t, graph.OnErrorRaise)
		f.createIndex(t, "papers")
		doc, err := f.svc.Documents.Create(ctx, "papers", DocumentInput{
			Content:  "BROKEN text",
			Metadata: map[string]any{MetaBuildKG: true},
		})
		require.NoError(t, err)
		assert.NotContains(t, doc.Metadata, MetaIngestDone)

		stored, err := f.svc.Documents.Get(ctx, "papers", doc.DocID)
		require.NoError(t, err)
		assert.Equal(t, "BROKEN text", stored.Content)
	})
}

func TestUpdateContentOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, graph.OnErrorIgnore)
	f.createIndex(t, "papers")

	doc, err := f.svc.Documents.Create(ctx, "papers", DocumentInput{
		DocID:    "d1",
		Content:  "old content",
		Metadata: map[string]any{"source": "unit"},
	})
	require.NoError(t, err)

	content := "new content about attention"
	updated, err := f.svc.Documents.Update(ctx, "papers", "d1", DocumentUpdate{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, "d1", updated.DocID)
	assert.Equal(t, content, updated.Content)
	assert.Equal(t, doc.Metadata, updated.Metadata)
	assert.True(t, updated.UpdatedAt.After(doc.UpdatedAt))
	assert.Equal(t, aitest.Embed(content, testDim), updated.Embedding)

	_, err = f.svc.Documents.Update(ctx, "papers", "missing", DocumentUpdate{Content: &content})
	assert.True(t, common.IsNotFound(err))
}

func TestUpdateWithBuildFlagIngests(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, graph.OnErrorIgnore)
	f.createIndex(t, "papers")
	_, err := f.svc.Documents.Create(ctx, "papers", DocumentInput{DocID: "d1", Content: "placeholder"})
	require.NoError(t, err)

	content := adaText
	updated, err := f.svc.Documents.Update(ctx, "papers", "d1", DocumentUpdate{
		Content:  &content,
		Metadata: map[string]any{"source": "unit", MetaBuildKG: true},
	})
	require.NoError(t, err)
	assert.Equal(t, true, updated.Metadata[MetaIngestDone])
	assert.Equal(t, "unit", updated.Metadata["source"])
	assert.NotContains(t, updated.Metadata, MetaBuildKG)
}

func TestListAndDeleteDocuments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, graph.OnErrorIgnore)
	f.createIndex(t, "papers")
	for _, id := range []string{"a", "b", "c"} {
		_, err := f.svc.Documents.Create(ctx, "papers", DocumentInput{DocID: id, Content: "content " + id})
		require.NoError(t, err)
	}

	docs, err := f.svc.Documents.List(ctx, "papers", 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "c", docs[0].DocID, "newest first")

	require.NoError(t, f.svc.Documents.Delete(ctx, "papers", "c"))
	assert.True(t, common.IsNotFound(f.svc.Documents.Delete(ctx, "papers", "c")))

	_, err = f.svc.Documents.List(ctx, "missing", 0)
	assert.True(t, common.IsNotFound(err))
}

func TestDeleteDocumentKeepsGraph(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, graph.OnErrorIgnore)
	f.createIndex(t, "papers")

	doc, err := f.svc.Documents.Create(ctx, "papers", DocumentInput{
		Content:  adaText,
		Metadata: map[string]any{MetaBuildKG: true},
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.Documents.Delete(ctx, "papers", doc.DocID))

	counts, err := f.store.CountGraph(ctx, "papers")
	require.NoError(t, err)
	assert.Zero(t, counts.Documents)
	assert.Equal(t, 1, counts.Chunks)
	assert.Equal(t, 2, counts.Entities)

	require.NoError(t, f.svc.Indexes.Delete(ctx, "papers"))
	counts, err = f.store.CountGraph(ctx, "papers")
	require.NoError(t, err)
	assert.Zero(t, counts.Chunks)
}

func TestSearchScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, graph.OnErrorIgnore)
	f.createIndex(t, "papers")
	f.ai.Complete = func(prompt string, _ ai.GenerateOptions) (string, error) {
		if strings.Contains(prompt, "2017") {
			return "They were introduced in 2017.", nil
		}
		return "unknown", nil
	}
	_, err := f.svc.Documents.Create(ctx, "papers", DocumentInput{Content: "Transformers were introduced in 2017", Metadata: map[string]any{}})
	require.NoError(t, err)

	res, err := f.svc.Search.Search(ctx, SearchInput{IndexName: "papers", Query: "When were transformers introduced?", TopK: 1})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "Transformers were introduced in 2017", res.Chunks[0].Content)
	assert.Positive(t, res.Chunks[0].Score)
	assert.Contains(t, res.Answer, "2017")
}

func TestSearchKeywordMissFallsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, graph.OnErrorIgnore)
	f.createIndex(t, "papers")
	_, err := f.svc.Documents.Create(ctx, "papers", DocumentInput{Content: "Transformers were introduced in 2017"})
	require.NoError(t, err)

	res, snap, err := f.svc.Search.SearchTraced(ctx, SearchInput{IndexName: "papers", Query: "transformers", Keywords: []string{"healthcare", " "}})
	require.NoError(t, err)
	require.NotEmpty(t, res.Chunks)
	assert.Contains(t, []query.Tier{query.TierDocuments, query.TierSynthetic}, snap.Served)
	for _, c := range res.Chunks {
		assert.Zero(t, c.Score)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, graph.OnErrorIgnore)
	f.createIndex(t, "papers")

	res, err := f.svc.Search.Search(ctx, SearchInput{IndexName: "papers", Query: "anything"})
	require.NoError(t, err)
	assert.Equal(t, ai.FallbackAnswer, res.Answer)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, query.FallbackContent, res.Chunks[0].Content)
	assert.Zero(t, f.ai.CompletionCount())
}

func TestSearchValidation(t *testing.T) {
	f := newFixture(t, graph.OnErrorIgnore)
	tests := []SearchInput{
		{IndexName: "", Query: "q"},
		{IndexName: "papers", Query: "   "},
		{IndexName: "papers", Query: "q", TopK: 21},
		{IndexName: "papers", Query: "q", TopK: -1},
	}
	for _, in := range tests {
		_, err := f.svc.Search.Search(context.Background(), in)
		assert.True(t, common.IsValidation(err), "%+v: %v", in, err)
	}
}

func TestResolveStrategies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, graph.OnErrorIgnore)
	f.createIndex(t, "papers")
	for _, id := range []string{"d1", "d2"} {
		_, err := f.svc.Documents.Create(ctx, "papers", DocumentInput{
			DocID:    id,
			Content:  adaText,
			Metadata: map[string]any{MetaBuildKG: true, MetaResolve: false},
		})
		require.NoError(t, err)
	}
	before, err := f.store.CountGraph(ctx, "papers")
	require.NoError(t, err)
	require.Equal(t, 4, before.Entities, "re-ingesting creates new nodes")

	_, err = f.svc.Resolve.Resolve(ctx, "papers", ResolveInput{Strategy: "phonetic"})
	assert.True(t, common.IsValidation(err))
	after, err := f.store.CountGraph(ctx, "papers")
	require.NoError(t, err)
	assert.Equal(t, before, after, "unknown strategy must not mutate the graph")

	_, err = f.svc.Resolve.Resolve(ctx, "missing", ResolveInput{Strategy: "exact"})
	assert.True(t, common.IsNotFound(err))

	report, err := f.svc.Resolve.Resolve(ctx, "papers", ResolveInput{Strategy: " Exact "})
	require.NoError(t, err)
	assert.Equal(t, "exact", report.Strategy)
	assert.Equal(t, 4, report.Candidates)
	assert.Equal(t, 2, report.Merged)

	after, err = f.store.CountGraph(ctx, "papers")
	require.NoError(t, err)
	assert.Equal(t, 2, after.Entities)
	assert.Equal(t, 1, after.Relationships)
}

func TestResolveBusyIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, graph.OnErrorIgnore)
	f.createIndex(t, "papers")

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = f.locker.WithLease(ctx, "resolve:papers", leaselock.Options{}, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered
	defer close(release)

	_, err := f.svc.Resolve.Resolve(ctx, "papers", ResolveInput{Strategy: "fuzzy"})
	assert.True(t, common.IsConflict(err), "got %v", err)
}

func TestSchemaApply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, graph.OnErrorIgnore)
	f.createIndex(t, "papers")

	assert.Contains(t, f.svc.Schemas.Presets(), "academic")

	res, err := f.svc.Schemas.Apply(ctx, "papers", SchemaInput{Mode: SchemaModePreset, Key: "business"})
	require.NoError(t, err)
	assert.Equal(t, "business", res.Key)
	assert.True(t, res.Schema.Strict)

	_, err = f.svc.Schemas.Apply(ctx, "papers", SchemaInput{Mode: SchemaModePreset, Key: "medical"})
	assert.True(t, common.IsValidation(err))

	custom := schema.Schema{
		NodeTypes:         []schema.NodeType{{Label: "Person"}},
		RelationshipTypes: []schema.RelationshipType{{Label: "WORKED_WITH"}},
		Strict:            true,
	}
	res, err = f.svc.Schemas.Apply(ctx, "papers", SchemaInput{Mode: SchemaModeDefine, Key: "people", Schema: &custom})
	require.NoError(t, err)
	assert.Equal(t, "people", res.Key)

	doc, err := f.svc.Documents.Create(ctx, "papers", DocumentInput{
		Content:  adaText,
		Metadata: map[string]any{MetaBuildKG: true, MetaSchemaKey: "people"},
	})
	require.NoError(t, err)
	assert.Equal(t, "people", doc.Metadata[MetaIngestSchema])

	res, err = f.svc.Schemas.Apply(ctx, "papers", SchemaInput{Mode: SchemaModeAuto, Sample: adaText})
	require.NoError(t, err)
	assert.Equal(t, schema.KeyAuto, res.Key)
	assert.Equal(t, []string{"Person"}, res.Schema.NodeLabels())

	_, err = f.svc.Schemas.Apply(ctx, "papers", SchemaInput{Mode: SchemaModeDefine})
	assert.True(t, common.IsValidation(err))
	_, err = f.svc.Schemas.Apply(ctx, "papers", SchemaInput{Mode: "guess"})
	assert.True(t, common.IsValidation(err))
	_, err = f.svc.Schemas.Apply(ctx, "missing", SchemaInput{Mode: SchemaModePreset, Key: "academic"})
	assert.True(t, common.IsNotFound(err))
}
