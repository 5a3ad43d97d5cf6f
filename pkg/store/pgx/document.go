package pgx

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"

	"github.com/google/uuid"
	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const documentColumns = `doc_id, index_name, content, metadata, embedding, created_at, updated_at`

func scanDocument(row pgxv5.Row) (common.Document, error) {
	var doc common.Document
	var emb *pgvector.Vector
	if err := row.Scan(&doc.DocID, &doc.IndexName, &doc.Content, &doc.Metadata, &emb, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return common.Document{}, err
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	doc.Embedding = fromVector(emb)
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return doc, nil
}

func (s *Store) CreateDocument(ctx context.Context, doc common.Document) (common.Document, error) {
	if doc.DocID == "" {
		doc.DocID = uuid.NewString()
	}
	row := s.conn.QueryRow(ctx, `
		INSERT INTO rag_documents (doc_id, index_name, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+documentColumns,
		doc.DocID, doc.IndexName, clean(doc.Content), cleanMap(doc.Metadata), toVector(doc.Embedding),
	)
	out, err := scanDocument(row)
	if err != nil {
		return common.Document{}, mapErr("create_document", err)
	}
	return out, nil
}

func (s *Store) GetDocument(ctx context.Context, index, docID string) (*common.Document, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM rag_documents WHERE index_name = $1 AND doc_id = $2`,
		index, docID,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr("get_document", err)
	}
	return &doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, index string, limit int) ([]common.Document, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.conn.Query(ctx, `
		SELECT `+documentColumns+` FROM rag_documents
		WHERE index_name = $1
		ORDER BY updated_at DESC, doc_id
		LIMIT $2`,
		index, lim,
	)
	if err != nil {
		return nil, mapErr("list_documents", err)
	}
	defer rows.Close()

	out := []common.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, mapErr("list_documents", err)
		}
		out = append(out, doc)
	}
	return out, mapErr("list_documents", rows.Err())
}

// UpdateDocument writes only the patched columns. COALESCE keeps the stored
// value for every nil field.
func (s *Store) UpdateDocument(ctx context.Context, index, docID string, patch common.DocumentPatch) (*common.Document, error) {
	var content *string
	if patch.Content != nil {
		c := clean(*patch.Content)
		content = &c
	}
	var meta any
	if patch.Metadata != nil {
		meta = cleanMap(patch.Metadata)
	}
	row := s.conn.QueryRow(ctx, `
		UPDATE rag_documents SET
			content = COALESCE($3, content),
			metadata = COALESCE($4, metadata),
			embedding = COALESCE($5, embedding),
			updated_at = GREATEST(now(), updated_at + interval '1 microsecond')
		WHERE index_name = $1 AND doc_id = $2
		RETURNING `+documentColumns,
		index, docID, content, meta, toVector(patch.Embedding),
	)
	doc, err := scanDocument(row)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr("update_document", err)
	}
	return &doc, nil
}

func (s *Store) DeleteDocument(ctx context.Context, index, docID string) error {
	_, err := s.conn.Exec(ctx, `DELETE FROM rag_documents WHERE index_name = $1 AND doc_id = $2`, index, docID)
	return mapErr("delete_document", err)
}

func (s *Store) VectorSearch(ctx context.Context, index string, embedding []float32, topK int, keywords []string) ([]common.ScoredDocument, error) {
	vec := pgvector.NewVector(embedding)
	rows, err := s.conn.Query(ctx, `
		SELECT doc_id, content, metadata, 1 - (embedding <=> $2) AS score
		FROM rag_documents
		WHERE index_name = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $3`,
		index, vec, store.CandidateCount(topK),
	)
	if err != nil {
		return nil, mapErr("vector_search", err)
	}
	defer rows.Close()

	var candidates []common.ScoredDocument
	for rows.Next() {
		var hit common.ScoredDocument
		if err := rows.Scan(&hit.DocID, &hit.Content, &hit.Metadata, &hit.Score); err != nil {
			return nil, mapErr("vector_search", err)
		}
		candidates = append(candidates, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("vector_search", err)
	}
	return store.RankDocuments(candidates, keywords, topK), nil
}
