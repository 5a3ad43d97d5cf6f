package pgx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const writeBatchSize = 500

// WriteGraph persists chunks, entities, mentions and relationships in one
// transaction, sending the inserts in pipelined batches.
func (s *Store) WriteGraph(ctx context.Context, w common.GraphWrite) (common.WriteStats, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return common.WriteStats{}, mapErr("write_graph", err)
	}
	defer tx.Rollback(ctx)

	var stats common.WriteStats
	send := func(batch *pgxv5.Batch) error {
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	}

	err = store.ChunkRange(len(w.Chunks), writeBatchSize, func(start, end int) error {
		batch := &pgxv5.Batch{}
		for _, c := range w.Chunks[start:end] {
			batch.Queue(`
				INSERT INTO graph_chunks (id, index_name, doc_id, run_id, seq, text, metadata, embedding)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				c.ID, w.IndexName, c.DocID, c.RunID, c.Seq, clean(c.Text), cleanMap(c.Metadata), toVector(c.Embedding),
			)
		}
		stats.Chunks += end - start
		return send(batch)
	})
	if err != nil {
		return common.WriteStats{}, mapErr("write_graph", err)
	}

	err = store.ChunkRange(len(w.Entities), writeBatchSize, func(start, end int) error {
		batch := &pgxv5.Batch{}
		for _, e := range w.Entities[start:end] {
			batch.Queue(`
				INSERT INTO graph_entities (id, index_name, label, name, properties, embedding)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				e.ID, w.IndexName, e.Label, clean(e.Name), cleanMap(e.Properties), toVector(e.Embedding),
			)
			for _, chunkID := range store.DedupeStrings(e.Sources) {
				batch.Queue(
					`INSERT INTO graph_mentions (entity_id, chunk_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
					e.ID, chunkID,
				)
			}
		}
		stats.Nodes += end - start
		return send(batch)
	})
	if err != nil {
		return common.WriteStats{}, mapErr("write_graph", err)
	}

	err = store.ChunkRange(len(w.Relationships), writeBatchSize, func(start, end int) error {
		batch := &pgxv5.Batch{}
		for _, r := range w.Relationships[start:end] {
			sources := store.DedupeStrings(r.Sources)
			if sources == nil {
				sources = []string{}
			}
			batch.Queue(`
				INSERT INTO graph_relationships (id, index_name, source_id, target_id, type, properties, sources)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				r.ID, w.IndexName, r.SourceID, r.TargetID, r.Type, cleanMap(r.Properties), sources,
			)
		}
		stats.Relationships += end - start
		return send(batch)
	})
	if err != nil {
		return common.WriteStats{}, mapErr("write_graph", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return common.WriteStats{}, mapErr("write_graph", err)
	}
	logger.Debug("[Store][WriteGraph] Graph written", "index", w.IndexName, "chunks", stats.Chunks, "nodes", stats.Nodes, "relationships", stats.Relationships)
	return stats, nil
}

func (s *Store) SearchChunks(ctx context.Context, index string, embedding []float32, k int) ([]common.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, `
		SELECT id, index_name, doc_id, run_id, seq, text, metadata, 1 - (embedding <=> $2) AS score
		FROM graph_chunks
		WHERE index_name = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2, id
		LIMIT $3`,
		index, pgvector.NewVector(embedding), k,
	)
	if err != nil {
		return nil, mapErr("search_chunks", err)
	}
	defer rows.Close()

	var hits []common.ScoredChunk
	for rows.Next() {
		var c common.ScoredChunk
		if err := rows.Scan(&c.ID, &c.IndexName, &c.DocID, &c.RunID, &c.Seq, &c.Text, &c.Metadata, &c.Score); err != nil {
			return nil, mapErr("search_chunks", err)
		}
		hits = append(hits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("search_chunks", err)
	}
	return hits, nil
}

const entityColumns = `e.id, e.index_name, e.label, e.name, e.properties, e.embedding,
	ARRAY(SELECT mm.chunk_id FROM graph_mentions mm WHERE mm.entity_id = e.id ORDER BY mm.chunk_id)`

func scanEntity(row pgxv5.Row) (common.Entity, error) {
	var e common.Entity
	var emb *pgvector.Vector
	if err := row.Scan(&e.ID, &e.IndexName, &e.Label, &e.Name, &e.Properties, &emb, &e.Sources); err != nil {
		return common.Entity{}, err
	}
	e.Embedding = fromVector(emb)
	if e.Properties == nil {
		e.Properties = map[string]any{}
	}
	return e, nil
}

func (s *Store) ChunkContext(ctx context.Context, chunkIDs []string) ([]common.ChunkContext, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, `
		SELECT c.id, p.text, n.text
		FROM graph_chunks c
		LEFT JOIN graph_chunks p ON p.run_id = c.run_id AND p.seq = c.seq - 1
		LEFT JOIN graph_chunks n ON n.run_id = c.run_id AND n.seq = c.seq + 1
		WHERE c.id = ANY($1)`,
		chunkIDs,
	)
	if err != nil {
		return nil, mapErr("chunk_context", err)
	}
	found := map[string]*common.ChunkContext{}
	for rows.Next() {
		var id string
		var prev, next *string
		if err := rows.Scan(&id, &prev, &next); err != nil {
			rows.Close()
			return nil, mapErr("chunk_context", err)
		}
		cc := &common.ChunkContext{ChunkID: id}
		if prev != nil {
			cc.Previous = *prev
		}
		if next != nil {
			cc.Next = *next
		}
		found[id] = cc
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapErr("chunk_context", err)
	}

	rows, err = s.conn.Query(ctx, `
		SELECT m.chunk_id, `+entityColumns+`
		FROM graph_entities e
		JOIN graph_mentions m ON m.entity_id = e.id
		WHERE m.chunk_id = ANY($1)
		ORDER BY e.label, e.name`,
		chunkIDs,
	)
	if err != nil {
		return nil, mapErr("chunk_context", err)
	}
	defer rows.Close()
	for rows.Next() {
		var chunkID string
		var e common.Entity
		var emb *pgvector.Vector
		if err := rows.Scan(&chunkID, &e.ID, &e.IndexName, &e.Label, &e.Name, &e.Properties, &emb, &e.Sources); err != nil {
			return nil, mapErr("chunk_context", err)
		}
		e.Embedding = fromVector(emb)
		if cc, ok := found[chunkID]; ok {
			cc.Entities = append(cc.Entities, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("chunk_context", err)
	}

	out := make([]common.ChunkContext, 0, len(found))
	for _, id := range chunkIDs {
		if cc, ok := found[id]; ok {
			out = append(out, *cc)
			delete(found, id)
		}
	}
	return out, nil
}

func (s *Store) ListEntities(ctx context.Context, filter common.EntityFilter) ([]common.Entity, error) {
	where := []string{"e.index_name = $1"}
	args := []any{filter.IndexName}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(filter.Labels) > 0 {
		where = append(where, "e.label = ANY("+arg(filter.Labels)+")")
	}
	if filter.NamePrefix != "" {
		where = append(where, "lower(e.name) LIKE "+arg(escapeLike(strings.ToLower(filter.NamePrefix))+"%"))
	}
	if len(filter.DocIDs) > 0 {
		where = append(where, `EXISTS (
			SELECT 1 FROM graph_mentions m JOIN graph_chunks c ON c.id = m.chunk_id
			WHERE m.entity_id = e.id AND c.doc_id = ANY(`+arg(filter.DocIDs)+`))`)
	}

	rows, err := s.conn.Query(ctx, `
		SELECT `+entityColumns+`
		FROM graph_entities e
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY e.id`, args...)
	if err != nil {
		return nil, mapErr("list_entities", err)
	}
	defer rows.Close()

	var out []common.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, mapErr("list_entities", err)
		}
		out = append(out, e)
	}
	return out, mapErr("list_entities", rows.Err())
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *Store) ListRelationships(ctx context.Context, index string, entityIDs []string) ([]common.Relationship, error) {
	query := `SELECT id, index_name, source_id, target_id, type, properties, sources
		FROM graph_relationships WHERE index_name = $1`
	args := []any{index}
	if len(entityIDs) > 0 {
		query += ` AND (source_id = ANY($2) OR target_id = ANY($2))`
		args = append(args, entityIDs)
	}
	query += ` ORDER BY id`

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr("list_relationships", err)
	}
	defer rows.Close()

	var out []common.Relationship
	for rows.Next() {
		var r common.Relationship
		if err := rows.Scan(&r.ID, &r.IndexName, &r.SourceID, &r.TargetID, &r.Type, &r.Properties, &r.Sources); err != nil {
			return nil, mapErr("list_relationships", err)
		}
		out = append(out, r)
	}
	return out, mapErr("list_relationships", rows.Err())
}

func (s *Store) CountGraph(ctx context.Context, index string) (common.GraphCounts, error) {
	var c common.GraphCounts
	err := s.conn.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM rag_documents WHERE index_name = $1),
			(SELECT count(*) FROM graph_chunks WHERE index_name = $1),
			(SELECT count(*) FROM graph_entities WHERE index_name = $1),
			(SELECT count(*) FROM graph_relationships WHERE index_name = $1)`,
		index,
	).Scan(&c.Documents, &c.Chunks, &c.Entities, &c.Relationships)
	if err != nil {
		return common.GraphCounts{}, mapErr("count_graph", err)
	}
	return c, nil
}

func (s *Store) SaveSchema(ctx context.Context, index, key string, body []byte) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO graph_schemas (index_name, key, body) VALUES ($1, $2, $3)
		ON CONFLICT (index_name, key) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`,
		index, key, body,
	)
	return mapErr("save_schema", err)
}

func (s *Store) GetSchema(ctx context.Context, index, key string) ([]byte, error) {
	var body []byte
	err := s.conn.QueryRow(ctx,
		`SELECT body FROM graph_schemas WHERE index_name = $1 AND key = $2`, index, key,
	).Scan(&body)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr("get_schema", err)
	}
	return body, nil
}
