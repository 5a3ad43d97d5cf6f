package neo4j

import (
	"context"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const documentReturn = `RETURN d.doc_id AS doc_id, d.index_name AS index_name, d.content AS content,
	d.metadata_json AS metadata_json, d.embedding AS embedding,
	d.created_at AS created_at, d.updated_at AS updated_at`

func documentFromRecord(rec *neo4j.Record) common.Document {
	return common.Document{
		DocID:     getString(rec, "doc_id"),
		IndexName: getString(rec, "index_name"),
		Content:   getString(rec, "content"),
		Metadata:  decodeJSON(get(rec, "metadata_json")),
		Embedding: fromList(get(rec, "embedding")),
		CreatedAt: fromNanos(getInt(rec, "created_at")),
		UpdatedAt: fromNanos(getInt(rec, "updated_at")),
	}
}

func (s *Store) CreateDocument(ctx context.Context, doc common.Document) (common.Document, error) {
	if doc.DocID == "" {
		doc.DocID = uuid.NewString()
	}
	meta, err := encodeJSON(doc.Metadata)
	if err != nil {
		return common.Document{}, err
	}

	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		idx, err := collect(ctx, tx, `MATCH (i:RAGIndex {name: $index}) RETURN i.name AS name`, map[string]any{"index": doc.IndexName})
		if err != nil {
			return nil, err
		}
		if len(idx) == 0 {
			return nil, common.NotFound("create_document", "index %q does not exist", doc.IndexName)
		}
		existing, err := collect(ctx, tx, `MATCH (d:RAGDocument {doc_id: $doc_id}) RETURN d.doc_id AS doc_id`, map[string]any{"doc_id": doc.DocID})
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return nil, common.Conflict("create_document", "document %q already exists", doc.DocID)
		}

		recs, err := collect(ctx, tx, `
			MATCH (i:RAGIndex {name: $index})
			CREATE (d:RAGDocument {doc_id: $doc_id, index_name: $index, content: $content,
				metadata_json: $metadata_json, embedding: $embedding, created_at: $now, updated_at: $now})
			CREATE (d)-[:IN_INDEX]->(i)
			`+documentReturn, map[string]any{
			"index":         doc.IndexName,
			"doc_id":        doc.DocID,
			"content":       doc.Content,
			"metadata_json": meta,
			"embedding":     toList(doc.Embedding),
			"now":           s.tick(0),
		})
		if err != nil {
			return nil, err
		}
		return documentFromRecord(recs[0]), nil
	})
	if err != nil {
		return common.Document{}, mapErr("create_document", err)
	}
	return out.(common.Document), nil
}

func (s *Store) GetDocument(ctx context.Context, index, docID string) (*common.Document, error) {
	recs, err := s.read(ctx,
		`MATCH (d:RAGDocument {doc_id: $doc_id, index_name: $index}) `+documentReturn,
		map[string]any{"doc_id": docID, "index": index},
	)
	if err != nil {
		return nil, mapErr("get_document", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	doc := documentFromRecord(recs[0])
	return &doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, index string, limit int) ([]common.Document, error) {
	query := `MATCH (d:RAGDocument {index_name: $index}) ` + documentReturn + ` ORDER BY updated_at DESC, doc_id`
	params := map[string]any{"index": index}
	if limit > 0 {
		query += ` LIMIT $limit`
		params["limit"] = int64(limit)
	}
	recs, err := s.read(ctx, query, params)
	if err != nil {
		return nil, mapErr("list_documents", err)
	}
	out := make([]common.Document, 0, len(recs))
	for _, rec := range recs {
		out = append(out, documentFromRecord(rec))
	}
	return out, nil
}

func (s *Store) UpdateDocument(ctx context.Context, index, docID string, patch common.DocumentPatch) (*common.Document, error) {
	params := map[string]any{
		"doc_id":        docID,
		"index":         index,
		"content":       nil,
		"metadata_json": nil,
		"embedding":     toList(patch.Embedding),
		"now":           s.tick(0),
	}
	if patch.Content != nil {
		params["content"] = *patch.Content
	}
	if patch.Metadata != nil {
		meta, err := encodeJSON(patch.Metadata)
		if err != nil {
			return nil, err
		}
		params["metadata_json"] = meta
	}

	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		recs, err := collect(ctx, tx, `
			MATCH (d:RAGDocument {doc_id: $doc_id, index_name: $index})
			SET d.content = coalesce($content, d.content),
				d.metadata_json = coalesce($metadata_json, d.metadata_json),
				d.embedding = coalesce($embedding, d.embedding),
				d.updated_at = CASE WHEN $now > d.updated_at THEN $now ELSE d.updated_at + 1 END
			`+documentReturn, params)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			return (*common.Document)(nil), nil
		}
		doc := documentFromRecord(recs[0])
		return &doc, nil
	})
	if err != nil {
		return nil, mapErr("update_document", err)
	}
	return out.(*common.Document), nil
}

func (s *Store) DeleteDocument(ctx context.Context, index, docID string) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, exec(ctx, tx,
			`MATCH (d:RAGDocument {doc_id: $doc_id, index_name: $index}) DETACH DELETE d`,
			map[string]any{"doc_id": docID, "index": index},
		)
	})
	return mapErr("delete_document", err)
}

func (s *Store) VectorSearch(ctx context.Context, index string, embedding []float32, topK int, keywords []string) ([]common.ScoredDocument, error) {
	recs, err := s.read(ctx, `
		MATCH (d:RAGDocument {index_name: $index})
		WHERE d.embedding IS NOT NULL AND size(d.embedding) = size($embedding)
		WITH d, vector.similarity.cosine(d.embedding, $embedding) AS score
		ORDER BY score DESC, d.doc_id
		LIMIT $limit
		RETURN d.doc_id AS doc_id, d.content AS content, d.metadata_json AS metadata_json, score`,
		map[string]any{
			"index":     index,
			"embedding": toList(embedding),
			"limit":     int64(store.CandidateCount(topK)),
		},
	)
	if err != nil {
		return nil, mapErr("vector_search", err)
	}

	candidates := make([]common.ScoredDocument, 0, len(recs))
	for _, rec := range recs {
		candidates = append(candidates, common.ScoredDocument{
			DocID:    getString(rec, "doc_id"),
			Content:  getString(rec, "content"),
			Metadata: decodeJSON(get(rec, "metadata_json")),
			Score:    rawCosine(getFloat(rec, "score")),
		})
	}
	return store.RankDocuments(candidates, keywords, topK), nil
}
