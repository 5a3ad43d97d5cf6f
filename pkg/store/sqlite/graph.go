package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"
)

func (s *Store) WriteGraph(ctx context.Context, w common.GraphWrite) (common.WriteStats, error) {
	var stats common.WriteStats
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, c := range w.Chunks {
			meta, err := encodeJSON(store.CloneMetadata(c.Metadata))
			if err != nil {
				return err
			}
			emb, err := encodeVector(c.Embedding)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO graph_chunks (id, index_name, doc_id, run_id, seq, text, metadata, embedding)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				c.ID, w.IndexName, c.DocID, c.RunID, c.Seq, c.Text, meta, emb,
			); err != nil {
				return err
			}
			stats.Chunks++
		}

		for _, e := range w.Entities {
			props, err := encodeJSON(store.CloneMetadata(e.Properties))
			if err != nil {
				return err
			}
			emb, err := encodeVector(e.Embedding)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO graph_entities (id, index_name, label, name, properties, embedding)
				VALUES (?, ?, ?, ?, ?, ?)`,
				e.ID, w.IndexName, e.Label, e.Name, props, emb,
			); err != nil {
				return err
			}
			for _, chunkID := range store.DedupeStrings(e.Sources) {
				if _, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO graph_mentions (entity_id, chunk_id) VALUES (?, ?)`,
					e.ID, chunkID,
				); err != nil {
					return err
				}
			}
			stats.Nodes++
		}

		for _, r := range w.Relationships {
			props, err := encodeJSON(store.CloneMetadata(r.Properties))
			if err != nil {
				return err
			}
			sources, err := encodeJSON(store.DedupeStrings(r.Sources))
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO graph_relationships (id, index_name, source_id, target_id, type, properties, sources)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				r.ID, w.IndexName, r.SourceID, r.TargetID, r.Type, props, sources,
			); err != nil {
				return err
			}
			stats.Relationships++
		}
		return nil
	})
	if err != nil {
		return common.WriteStats{}, mapErr("write_graph", err)
	}
	return stats, nil
}

func (s *Store) SearchChunks(ctx context.Context, index string, embedding []float32, k int) ([]common.ScoredChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, index_name, doc_id, run_id, seq, text, metadata, embedding
		FROM graph_chunks WHERE index_name = ? AND embedding IS NOT NULL`,
		index,
	)
	if err != nil {
		return nil, mapErr("search_chunks", err)
	}
	defer rows.Close()

	var hits []common.ScoredChunk
	for rows.Next() {
		var c common.ScoredChunk
		var meta string
		var emb sql.NullString
		if err := rows.Scan(&c.ID, &c.IndexName, &c.DocID, &c.RunID, &c.Seq, &c.Text, &meta, &emb); err != nil {
			return nil, mapErr("search_chunks", err)
		}
		vec, err := decodeVector(emb)
		if err != nil {
			return nil, mapErr("search_chunks", err)
		}
		if c.Metadata, err = decodeMap(meta); err != nil {
			return nil, mapErr("search_chunks", err)
		}
		c.Score = store.CosineSimilarity(embedding, vec)
		hits = append(hits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("search_chunks", err)
	}
	return store.TopChunks(hits, k), nil
}

func (s *Store) ChunkContext(ctx context.Context, chunkIDs []string) ([]common.ChunkContext, error) {
	out := make([]common.ChunkContext, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		var runID string
		var seq int
		err := s.db.QueryRowContext(ctx, `SELECT run_id, seq FROM graph_chunks WHERE id = ?`, id).Scan(&runID, &seq)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, mapErr("chunk_context", err)
		}

		cc := common.ChunkContext{ChunkID: id}
		for _, n := range []struct {
			seq  int
			dest *string
		}{{seq - 1, &cc.Previous}, {seq + 1, &cc.Next}} {
			err := s.db.QueryRowContext(ctx,
				`SELECT text FROM graph_chunks WHERE run_id = ? AND seq = ?`, runID, n.seq,
			).Scan(n.dest)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return nil, mapErr("chunk_context", err)
			}
		}

		entities, err := s.queryEntities(ctx, `
			SELECT e.id, e.index_name, e.label, e.name, e.properties, e.embedding
			FROM graph_entities e JOIN graph_mentions m ON m.entity_id = e.id
			WHERE m.chunk_id = ? ORDER BY e.label, e.name`, id)
		if err != nil {
			return nil, mapErr("chunk_context", err)
		}
		cc.Entities = entities
		out = append(out, cc)
	}
	return out, nil
}

func (s *Store) queryEntities(ctx context.Context, query string, args ...any) ([]common.Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []common.Entity
	for rows.Next() {
		var e common.Entity
		var props string
		var emb sql.NullString
		if err := rows.Scan(&e.ID, &e.IndexName, &e.Label, &e.Name, &props, &emb); err != nil {
			rows.Close()
			return nil, err
		}
		if e.Properties, err = decodeMap(props); err != nil {
			rows.Close()
			return nil, err
		}
		if e.Embedding, err = decodeVector(emb); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// the single pooled connection is free again once rows is closed
	for i := range out {
		srcRows, err := s.db.QueryContext(ctx,
			`SELECT chunk_id FROM graph_mentions WHERE entity_id = ? ORDER BY chunk_id`, out[i].ID)
		if err != nil {
			return nil, err
		}
		for srcRows.Next() {
			var c string
			if err := srcRows.Scan(&c); err != nil {
				srcRows.Close()
				return nil, err
			}
			out[i].Sources = append(out[i].Sources, c)
		}
		srcRows.Close()
	}
	return out, nil
}

func (s *Store) ListEntities(ctx context.Context, filter common.EntityFilter) ([]common.Entity, error) {
	var where []string
	var args []any
	where = append(where, "e.index_name = ?")
	args = append(args, filter.IndexName)
	if len(filter.Labels) > 0 {
		where = append(where, "e.label IN ("+placeholders(len(filter.Labels))+")")
		args = append(args, toArgs(filter.Labels)...)
	}
	if filter.NamePrefix != "" {
		where = append(where, "lower(e.name) LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(strings.ToLower(filter.NamePrefix))+"%")
	}
	if len(filter.DocIDs) > 0 {
		where = append(where, `EXISTS (
			SELECT 1 FROM graph_mentions m JOIN graph_chunks c ON c.id = m.chunk_id
			WHERE m.entity_id = e.id AND c.doc_id IN (`+placeholders(len(filter.DocIDs))+`))`)
		args = append(args, toArgs(filter.DocIDs)...)
	}

	entities, err := s.queryEntities(ctx, `
		SELECT e.id, e.index_name, e.label, e.name, e.properties, e.embedding
		FROM graph_entities e
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY e.id`, args...)
	if err != nil {
		return nil, mapErr("list_entities", err)
	}
	return entities, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *Store) ListRelationships(ctx context.Context, index string, entityIDs []string) ([]common.Relationship, error) {
	query := `SELECT id, index_name, source_id, target_id, type, properties, sources
		FROM graph_relationships WHERE index_name = ?`
	args := []any{index}
	if len(entityIDs) > 0 {
		ph := placeholders(len(entityIDs))
		query += ` AND (source_id IN (` + ph + `) OR target_id IN (` + ph + `))`
		args = append(args, toArgs(entityIDs)...)
		args = append(args, toArgs(entityIDs)...)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr("list_relationships", err)
	}
	defer rows.Close()

	var out []common.Relationship
	for rows.Next() {
		var r common.Relationship
		var props, sources string
		if err := rows.Scan(&r.ID, &r.IndexName, &r.SourceID, &r.TargetID, &r.Type, &props, &sources); err != nil {
			return nil, mapErr("list_relationships", err)
		}
		if r.Properties, err = decodeMap(props); err != nil {
			return nil, mapErr("list_relationships", err)
		}
		if err := json.Unmarshal([]byte(sources), &r.Sources); err != nil {
			return nil, mapErr("list_relationships", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CountGraph(ctx context.Context, index string) (common.GraphCounts, error) {
	var c common.GraphCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM rag_documents WHERE index_name = ?),
			(SELECT count(*) FROM graph_chunks WHERE index_name = ?),
			(SELECT count(*) FROM graph_entities WHERE index_name = ?),
			(SELECT count(*) FROM graph_relationships WHERE index_name = ?)`,
		index, index, index, index,
	).Scan(&c.Documents, &c.Chunks, &c.Entities, &c.Relationships)
	if err != nil {
		return common.GraphCounts{}, mapErr("count_graph", err)
	}
	return c, nil
}

func (s *Store) SaveSchema(ctx context.Context, index, key string, body []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_schemas (index_name, key, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(index_name, key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		index, key, string(body), s.tick(0),
	)
	return mapErr("save_schema", err)
}

func (s *Store) GetSchema(ctx context.Context, index, key string) ([]byte, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM graph_schemas WHERE index_name = ? AND key = ?`, index, key,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr("get_schema", err)
	}
	return []byte(body), nil
}
