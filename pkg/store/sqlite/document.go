package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"

	"github.com/google/uuid"
)

const documentColumns = `doc_id, index_name, content, metadata, embedding, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (common.Document, error) {
	var doc common.Document
	var meta string
	var emb sql.NullString
	var created, updated int64
	if err := row.Scan(&doc.DocID, &doc.IndexName, &doc.Content, &meta, &emb, &created, &updated); err != nil {
		return common.Document{}, err
	}
	var err error
	if doc.Metadata, err = decodeMap(meta); err != nil {
		return common.Document{}, err
	}
	if doc.Embedding, err = decodeVector(emb); err != nil {
		return common.Document{}, err
	}
	doc.CreatedAt = fromNanos(created)
	doc.UpdatedAt = fromNanos(updated)
	return doc, nil
}

func (s *Store) CreateDocument(ctx context.Context, doc common.Document) (common.Document, error) {
	if doc.DocID == "" {
		doc.DocID = uuid.NewString()
	}
	meta, err := encodeJSON(store.CloneMetadata(doc.Metadata))
	if err != nil {
		return common.Document{}, err
	}
	emb, err := encodeVector(doc.Embedding)
	if err != nil {
		return common.Document{}, err
	}
	now := s.tick(0)
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO rag_documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING `+documentColumns,
		doc.DocID, doc.IndexName, doc.Content, meta, emb, now, now,
	)
	out, err := scanDocument(row)
	if err != nil {
		return common.Document{}, mapErr("create_document", err)
	}
	return out, nil
}

func (s *Store) GetDocument(ctx context.Context, index, docID string) (*common.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM rag_documents WHERE index_name = ? AND doc_id = ?`,
		index, docID,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr("get_document", err)
	}
	return &doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, index string, limit int) ([]common.Document, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM rag_documents
		WHERE index_name = ?
		ORDER BY updated_at DESC, doc_id
		LIMIT ?`,
		index, limit,
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
	return out, rows.Err()
}

func (s *Store) UpdateDocument(ctx context.Context, index, docID string, patch common.DocumentPatch) (*common.Document, error) {
	var out *common.Document
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+documentColumns+` FROM rag_documents WHERE index_name = ? AND doc_id = ?`,
			index, docID,
		)
		doc, err := scanDocument(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		if patch.Content != nil {
			doc.Content = *patch.Content
		}
		if patch.Metadata != nil {
			doc.Metadata = store.CloneMetadata(patch.Metadata)
		}
		if patch.Embedding != nil {
			doc.Embedding = patch.Embedding
		}
		meta, err := encodeJSON(doc.Metadata)
		if err != nil {
			return err
		}
		emb, err := encodeVector(doc.Embedding)
		if err != nil {
			return err
		}
		updated := s.tick(doc.UpdatedAt.UnixNano())

		if _, err := tx.ExecContext(ctx, `
			UPDATE rag_documents SET content = ?, metadata = ?, embedding = ?, updated_at = ?
			WHERE doc_id = ?`,
			doc.Content, meta, emb, updated, docID,
		); err != nil {
			return err
		}
		doc.UpdatedAt = fromNanos(updated)
		out = &doc
		return nil
	})
	if err != nil {
		return nil, mapErr("update_document", err)
	}
	return out, nil
}

func (s *Store) DeleteDocument(ctx context.Context, index, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rag_documents WHERE index_name = ? AND doc_id = ?`, index, docID)
	return mapErr("delete_document", err)
}

func (s *Store) VectorSearch(ctx context.Context, index string, embedding []float32, topK int, keywords []string) ([]common.ScoredDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, content, metadata, embedding FROM rag_documents WHERE index_name = ? AND embedding IS NOT NULL`,
		index,
	)
	if err != nil {
		return nil, mapErr("vector_search", err)
	}
	defer rows.Close()

	var all []common.ScoredDocument
	for rows.Next() {
		var hit common.ScoredDocument
		var meta string
		var emb sql.NullString
		if err := rows.Scan(&hit.DocID, &hit.Content, &meta, &emb); err != nil {
			return nil, mapErr("vector_search", err)
		}
		vec, err := decodeVector(emb)
		if err != nil {
			return nil, mapErr("vector_search", err)
		}
		if hit.Metadata, err = decodeMap(meta); err != nil {
			return nil, mapErr("vector_search", err)
		}
		hit.Score = store.CosineSimilarity(embedding, vec)
		all = append(all, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("vector_search", err)
	}

	candidates := store.RankDocuments(all, nil, store.CandidateCount(topK))
	return store.RankDocuments(candidates, keywords, topK), nil
}
