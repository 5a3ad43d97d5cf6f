package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/kiwi/rag/internal/util"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/graph"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/schema"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"
)

// Metadata keys that steer graph ingestion. They are removed before the
// document is stored.
const (
	MetaBuildKG       = "build_kg"
	MetaSchemaKey     = "schema_key"
	MetaResolve       = "perform_entity_resolution"
	MetaIngestDone    = "graph_ingest_completed"
	MetaIngestSchema  = "graph_schema_key"
	MetaIngestSummary = "graph_ingest_summary"
)

type DocumentInput struct {
	DocID     string         `json:"doc_id"`
	Content   string         `json:"content" validate:"required"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"embedding,omitempty"`
}

// DocumentUpdate leaves nil fields untouched.
type DocumentUpdate struct {
	Content   *string        `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"embedding,omitempty"`
}

// ingestFlags are the graph options popped from document metadata.
type ingestFlags struct {
	build     bool
	schemaKey string
	resolve   bool
}

func popIngestFlags(meta map[string]any) ingestFlags {
	f := ingestFlags{resolve: true}
	if v, ok := meta[MetaBuildKG]; ok {
		f.build = flagBool(v, false)
		delete(meta, MetaBuildKG)
	}
	if v, ok := meta[MetaSchemaKey]; ok {
		if s, ok := v.(string); ok {
			f.schemaKey = strings.TrimSpace(s)
		}
		delete(meta, MetaSchemaKey)
	}
	if v, ok := meta[MetaResolve]; ok {
		f.resolve = flagBool(v, true)
		delete(meta, MetaResolve)
	}
	return f
}

func flagBool(v any, def bool) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
			return parsed
		}
	case float64:
		return b != 0
	}
	return def
}

type DocumentService struct {
	store   store.Storage
	ai      ai.GraphAIClient
	graph   *graph.GraphClient
	schemas *schema.Manager
}

func (s *DocumentService) index(ctx context.Context, op, name string) (common.Index, error) {
	idx, err := util.RetryWithContext(ctx, readRetry, func(ctx context.Context) (*common.Index, error) {
		return s.store.GetIndex(ctx, name)
	})
	if err != nil {
		return common.Index{}, err
	}
	if idx == nil {
		return common.Index{}, common.NotFound(op, "index %s not found", name)
	}
	return *idx, nil
}

// embed checks a supplied embedding or asks the provider for one.
func (s *DocumentService) embed(ctx context.Context, op string, idx common.Index, content string, supplied []float32) ([]float32, error) {
	if supplied != nil {
		if err := store.CheckDimension(op, supplied, idx.Dimension); err != nil {
			return nil, err
		}
		return supplied, nil
	}
	vec, err := s.ai.GenerateEmbedding(ctx, []byte(content))
	if err != nil {
		return nil, err
	}
	return ai.FitDimension(vec, idx.Dimension), nil
}

// Create stores a document with its embedding. When the metadata asks for
// it the content is also ingested into the knowledge graph; a failed
// ingestion is logged and the document stays stored.
func (s *DocumentService) Create(ctx context.Context, indexName string, in DocumentInput) (common.Document, error) {
	if strings.TrimSpace(in.Content) == "" {
		return common.Document{}, common.Validation("create_document", "content is required")
	}
	idx, err := s.index(ctx, "create_document", indexName)
	if err != nil {
		return common.Document{}, err
	}

	meta := store.CloneMetadata(in.Metadata)
	flags := popIngestFlags(meta)

	embedding, err := s.embed(ctx, "create_document", idx, in.Content, in.Embedding)
	if err != nil {
		return common.Document{}, err
	}

	doc, err := s.store.CreateDocument(ctx, common.Document{
		DocID:     strings.TrimSpace(in.DocID),
		IndexName: idx.Name,
		Content:   in.Content,
		Metadata:  meta,
		Embedding: embedding,
	})
	if err != nil {
		return common.Document{}, err
	}
	log.Info("Document created", "index", idx.Name, "doc_id", doc.DocID)

	if flags.build {
		if updated := s.ingest(ctx, doc, flags); updated != nil {
			doc = *updated
		}
	}
	return doc, nil
}

// ingest builds the graph for doc and records the outcome in its metadata.
// It returns nil when ingestion failed.
func (s *DocumentService) ingest(ctx context.Context, doc common.Document, flags ingestFlags) *common.Document {
	if s.graph == nil {
		log.Warn("Graph ingestion requested but no graph client is configured", "doc_id", doc.DocID)
		return nil
	}
	sch, err := s.schemas.Resolve(ctx, doc.IndexName, flags.schemaKey, doc.Content)
	if err != nil {
		log.Error("Graph ingestion failed", "index", doc.IndexName, "doc_id", doc.DocID, "err", err)
		return nil
	}
	chunkMeta := store.CloneMetadata(doc.Metadata)
	delete(chunkMeta, MetaIngestDone)
	delete(chunkMeta, MetaIngestSchema)
	delete(chunkMeta, MetaIngestSummary)
	chunkMeta["doc_id"] = doc.DocID
	stats, err := s.graph.Ingest(ctx, graph.Input{
		IndexName: doc.IndexName,
		DocID:     doc.DocID,
		Text:      doc.Content,
		Metadata:  chunkMeta,
		Schema:    sch,
		Resolve:   flags.resolve,
	})
	if err != nil {
		log.Error("Graph ingestion failed", "index", doc.IndexName, "doc_id", doc.DocID, "err", err)
		return nil
	}

	schemaKey := flags.schemaKey
	if schemaKey == "" {
		schemaKey = schema.KeyDefault
	}
	meta := store.CloneMetadata(doc.Metadata)
	meta[MetaIngestDone] = true
	meta[MetaIngestSchema] = schemaKey
	meta[MetaIngestSummary] = map[string]any{
		"nodes":         stats.NodesCreated,
		"relationships": stats.RelationshipsCreated,
		"chunks":        stats.ChunksProcessed,
	}
	updated, err := s.store.UpdateDocument(ctx, doc.IndexName, doc.DocID, common.DocumentPatch{Metadata: meta})
	if err != nil {
		log.Error("Failed to record graph ingestion", "doc_id", doc.DocID, "err", err)
		return nil
	}
	log.Info("Graph ingestion completed", "index", doc.IndexName, "doc_id", doc.DocID,
		"nodes", stats.NodesCreated, "relationships", stats.RelationshipsCreated, "chunks", stats.ChunksProcessed)
	return updated
}

// Get fails with common.ErrNotFound for an unknown index or document.
func (s *DocumentService) Get(ctx context.Context, indexName, docID string) (common.Document, error) {
	if _, err := s.index(ctx, "get_document", indexName); err != nil {
		return common.Document{}, err
	}
	doc, err := util.RetryWithContext(ctx, readRetry, func(ctx context.Context) (*common.Document, error) {
		return s.store.GetDocument(ctx, indexName, docID)
	})
	if err != nil {
		return common.Document{}, err
	}
	if doc == nil {
		return common.Document{}, common.NotFound("get_document", "document %s not found in index %s", docID, indexName)
	}
	return *doc, nil
}

// List returns the documents of an index, newest first.
func (s *DocumentService) List(ctx context.Context, indexName string, limit int) ([]common.Document, error) {
	if _, err := s.index(ctx, "list_documents", indexName); err != nil {
		return nil, err
	}
	return util.RetryWithContext(ctx, readRetry, func(ctx context.Context) ([]common.Document, error) {
		return s.store.ListDocuments(ctx, indexName, limit)
	})
}

// Update applies in. New content is re-embedded unless an embedding is
// supplied, and is ingested into the graph when the new metadata asks for it.
func (s *DocumentService) Update(ctx context.Context, indexName, docID string, in DocumentUpdate) (common.Document, error) {
	if in.Content != nil && strings.TrimSpace(*in.Content) == "" {
		return common.Document{}, common.Validation("update_document", "content must not be empty")
	}
	current, err := s.Get(ctx, indexName, docID)
	if err != nil {
		return common.Document{}, err
	}
	idx, err := s.index(ctx, "update_document", indexName)
	if err != nil {
		return common.Document{}, err
	}

	var patch common.DocumentPatch
	flags := ingestFlags{resolve: true}
	if in.Metadata != nil {
		patch.Metadata = store.CloneMetadata(in.Metadata)
		flags = popIngestFlags(patch.Metadata)
	}
	patch.Content = in.Content
	switch {
	case in.Embedding != nil:
		if err := store.CheckDimension("update_document", in.Embedding, idx.Dimension); err != nil {
			return common.Document{}, err
		}
		patch.Embedding = in.Embedding
	case in.Content != nil:
		patch.Embedding, err = s.embed(ctx, "update_document", idx, *in.Content, nil)
		if err != nil {
			return common.Document{}, err
		}
	}

	updated, err := s.store.UpdateDocument(ctx, indexName, current.DocID, patch)
	if err != nil {
		return common.Document{}, err
	}
	if updated == nil {
		return common.Document{}, common.NotFound("update_document", "document %s not found in index %s", docID, indexName)
	}
	log.Info("Document updated", "index", indexName, "doc_id", docID)

	if in.Content != nil && flags.build {
		if ingested := s.ingest(ctx, *updated, flags); ingested != nil {
			updated = ingested
		}
	}
	return *updated, nil
}

func (s *DocumentService) Delete(ctx context.Context, indexName, docID string) error {
	if _, err := s.Get(ctx, indexName, docID); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, indexName, docID); err != nil {
		return err
	}
	log.Info("Document deleted", "index", indexName, "doc_id", docID)
	return nil
}
