package neo4j

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// entityProjection renders an entity as a map, including the ids of the
// chunks that mention it.
const entityProjection = `e {.id, .index_name, .label, .name, .properties_json, .embedding,
	sources: [(m:Chunk)-[:HAS_ENTITY]->(e) | m.id]}`

func entityFromMap(raw any) (common.Entity, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return common.Entity{}, false
	}
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	sources := strList(m["sources"])
	slices.Sort(sources)
	return common.Entity{
		ID:         str("id"),
		IndexName:  str("index_name"),
		Label:      str("label"),
		Name:       str("name"),
		Properties: decodeJSON(m["properties_json"]),
		Embedding:  fromList(m["embedding"]),
		Sources:    sources,
	}, true
}

func (s *Store) WriteGraph(ctx context.Context, w common.GraphWrite) (common.WriteStats, error) {
	chunks := make([]map[string]any, 0, len(w.Chunks))
	bySeq := make(map[string]string, len(w.Chunks))
	for _, c := range w.Chunks {
		meta, err := encodeJSON(c.Metadata)
		if err != nil {
			return common.WriteStats{}, err
		}
		chunks = append(chunks, map[string]any{
			"id":            c.ID,
			"doc_id":        c.DocID,
			"run_id":        c.RunID,
			"seq":           int64(c.Seq),
			"text":          c.Text,
			"metadata_json": meta,
			"embedding":     toList(c.Embedding),
		})
		bySeq[fmt.Sprintf("%s/%d", c.RunID, c.Seq)] = c.ID
	}
	var links []map[string]any
	for _, c := range w.Chunks {
		if next, ok := bySeq[fmt.Sprintf("%s/%d", c.RunID, c.Seq+1)]; ok {
			links = append(links, map[string]any{"from": c.ID, "to": next})
		}
	}

	entities := make([]map[string]any, 0, len(w.Entities))
	for _, e := range w.Entities {
		props, err := encodeJSON(e.Properties)
		if err != nil {
			return common.WriteStats{}, err
		}
		sources := store.DedupeStrings(e.Sources)
		if sources == nil {
			sources = []string{}
		}
		entities = append(entities, map[string]any{
			"id":              e.ID,
			"label":           e.Label,
			"name":            e.Name,
			"properties_json": props,
			"embedding":       toList(e.Embedding),
			"sources":         sources,
		})
	}

	rels := make([]map[string]any, 0, len(w.Relationships))
	for _, r := range w.Relationships {
		props, err := encodeJSON(r.Properties)
		if err != nil {
			return common.WriteStats{}, err
		}
		sources := store.DedupeStrings(r.Sources)
		if sources == nil {
			sources = []string{}
		}
		rels = append(rels, map[string]any{
			"id":              r.ID,
			"source_id":       r.SourceID,
			"target_id":       r.TargetID,
			"type":            r.Type,
			"properties_json": props,
			"sources":         sources,
		})
	}

	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		var stats common.WriteStats
		idx, err := collect(ctx, tx, `MATCH (i:RAGIndex {name: $index}) RETURN i.name AS name`, map[string]any{"index": w.IndexName})
		if err != nil {
			return nil, err
		}
		if len(idx) == 0 {
			return nil, common.NotFound("write_graph", "index %q does not exist", w.IndexName)
		}

		if len(chunks) > 0 {
			recs, err := collect(ctx, tx, `
				UNWIND $chunks AS c
				CREATE (ch:Chunk {id: c.id, index_name: $index, doc_id: c.doc_id, run_id: c.run_id,
					seq: c.seq, text: c.text, metadata_json: c.metadata_json, embedding: c.embedding})
				WITH ch, c
				OPTIONAL MATCH (d:RAGDocument {doc_id: c.doc_id})
				FOREACH (_ IN CASE WHEN d IS NULL THEN [] ELSE [1] END | CREATE (ch)-[:FROM_DOCUMENT]->(d))
				RETURN count(ch) AS n`, map[string]any{"index": w.IndexName, "chunks": chunks})
			if err != nil {
				return nil, err
			}
			stats.Chunks = int(getInt(recs[0], "n"))
		}

		if len(links) > 0 {
			if err := exec(ctx, tx, `
				UNWIND $links AS l
				MATCH (a:Chunk {id: l.from}), (b:Chunk {id: l.to})
				CREATE (a)-[:NEXT_CHUNK]->(b)`, map[string]any{"links": links}); err != nil {
				return nil, err
			}
		}

		if len(entities) > 0 {
			recs, err := collect(ctx, tx, `
				UNWIND $entities AS e
				CREATE (n:__Entity__ {id: e.id, index_name: $index, label: e.label, name: e.name,
					properties_json: e.properties_json, embedding: e.embedding})
				WITH n, e
				CALL {
					WITH n, e
					UNWIND e.sources AS sid
					MATCH (ch:Chunk {id: sid})
					MERGE (ch)-[:HAS_ENTITY]->(n)
					RETURN count(*) AS mentions
				}
				RETURN count(n) AS n`, map[string]any{"index": w.IndexName, "entities": entities})
			if err != nil {
				return nil, err
			}
			stats.Nodes = int(getInt(recs[0], "n"))
		}

		if len(rels) > 0 {
			recs, err := collect(ctx, tx, `
				UNWIND $rels AS r
				MATCH (a:__Entity__ {id: r.source_id}), (b:__Entity__ {id: r.target_id})
				CREATE (a)-[rel:RELATED {id: r.id, index_name: $index, type: r.type,
					properties_json: r.properties_json, sources: r.sources}]->(b)
				RETURN count(rel) AS n`, map[string]any{"index": w.IndexName, "rels": rels})
			if err != nil {
				return nil, err
			}
			stats.Relationships = int(getInt(recs[0], "n"))
		}
		return stats, nil
	})
	if err != nil {
		return common.WriteStats{}, mapErr("write_graph", err)
	}
	return out.(common.WriteStats), nil
}

func (s *Store) SearchChunks(ctx context.Context, index string, embedding []float32, k int) ([]common.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	recs, err := s.read(ctx, `
		MATCH (c:Chunk {index_name: $index})
		WHERE c.embedding IS NOT NULL AND size(c.embedding) = size($embedding)
		WITH c, vector.similarity.cosine(c.embedding, $embedding) AS score
		ORDER BY score DESC, c.id
		LIMIT $k
		RETURN c.id AS id, c.index_name AS index_name, c.doc_id AS doc_id, c.run_id AS run_id,
			c.seq AS seq, c.text AS text, c.metadata_json AS metadata_json, score`,
		map[string]any{"index": index, "embedding": toList(embedding), "k": int64(k)},
	)
	if err != nil {
		return nil, mapErr("search_chunks", err)
	}
	out := make([]common.ScoredChunk, 0, len(recs))
	for _, rec := range recs {
		out = append(out, common.ScoredChunk{
			Chunk: common.Chunk{
				ID:        getString(rec, "id"),
				IndexName: getString(rec, "index_name"),
				DocID:     getString(rec, "doc_id"),
				RunID:     getString(rec, "run_id"),
				Seq:       int(getInt(rec, "seq")),
				Text:      getString(rec, "text"),
				Metadata:  decodeJSON(get(rec, "metadata_json")),
			},
			Score: rawCosine(getFloat(rec, "score")),
		})
	}
	return out, nil
}

func (s *Store) ChunkContext(ctx context.Context, chunkIDs []string) ([]common.ChunkContext, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	recs, err := s.read(ctx, `
		UNWIND $ids AS cid
		MATCH (c:Chunk {id: cid})
		OPTIONAL MATCH (p:Chunk)-[:NEXT_CHUNK]->(c)
		OPTIONAL MATCH (c)-[:NEXT_CHUNK]->(n:Chunk)
		OPTIONAL MATCH (c)-[:HAS_ENTITY]->(e:__Entity__)
		WITH c, p, n, e ORDER BY e.label, e.name
		RETURN c.id AS id, p.text AS prev, n.text AS next, collect(`+entityProjection+`) AS entities`,
		map[string]any{"ids": chunkIDs},
	)
	if err != nil {
		return nil, mapErr("chunk_context", err)
	}

	found := make(map[string]common.ChunkContext, len(recs))
	for _, rec := range recs {
		cc := common.ChunkContext{
			ChunkID:  getString(rec, "id"),
			Previous: getString(rec, "prev"),
			Next:     getString(rec, "next"),
		}
		list, _ := get(rec, "entities").([]any)
		for _, raw := range list {
			if e, ok := entityFromMap(raw); ok {
				cc.Entities = append(cc.Entities, e)
			}
		}
		found[cc.ChunkID] = cc
	}

	out := make([]common.ChunkContext, 0, len(found))
	for _, id := range chunkIDs {
		if cc, ok := found[id]; ok {
			out = append(out, cc)
			delete(found, id)
		}
	}
	return out, nil
}

func (s *Store) ListEntities(ctx context.Context, filter common.EntityFilter) ([]common.Entity, error) {
	where := []string{"e.index_name = $index"}
	params := map[string]any{"index": filter.IndexName}
	if len(filter.Labels) > 0 {
		where = append(where, "e.label IN $labels")
		params["labels"] = filter.Labels
	}
	if filter.NamePrefix != "" {
		where = append(where, "toLower(e.name) STARTS WITH $prefix")
		params["prefix"] = strings.ToLower(filter.NamePrefix)
	}
	if len(filter.DocIDs) > 0 {
		where = append(where, "EXISTS { MATCH (ch:Chunk)-[:HAS_ENTITY]->(e) WHERE ch.doc_id IN $doc_ids }")
		params["doc_ids"] = filter.DocIDs
	}

	recs, err := s.read(ctx, `
		MATCH (e:__Entity__)
		WHERE `+strings.Join(where, " AND ")+`
		RETURN `+entityProjection+` AS entity
		ORDER BY e.id`, params)
	if err != nil {
		return nil, mapErr("list_entities", err)
	}
	var out []common.Entity
	for _, rec := range recs {
		if e, ok := entityFromMap(get(rec, "entity")); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) ListRelationships(ctx context.Context, index string, entityIDs []string) ([]common.Relationship, error) {
	query := `MATCH (a:__Entity__)-[r:RELATED]->(b:__Entity__) WHERE r.index_name = $index`
	params := map[string]any{"index": index}
	if len(entityIDs) > 0 {
		query += ` AND (a.id IN $ids OR b.id IN $ids)`
		params["ids"] = entityIDs
	}
	query += `
		RETURN r.id AS id, r.index_name AS index_name, a.id AS source_id, b.id AS target_id,
			r.type AS type, r.properties_json AS properties_json, r.sources AS sources
		ORDER BY id`

	recs, err := s.read(ctx, query, params)
	if err != nil {
		return nil, mapErr("list_relationships", err)
	}
	var out []common.Relationship
	for _, rec := range recs {
		out = append(out, common.Relationship{
			ID:         getString(rec, "id"),
			IndexName:  getString(rec, "index_name"),
			SourceID:   getString(rec, "source_id"),
			TargetID:   getString(rec, "target_id"),
			Type:       getString(rec, "type"),
			Properties: decodeJSON(get(rec, "properties_json")),
			Sources:    strList(get(rec, "sources")),
		})
	}
	return out, nil
}

func (s *Store) CountGraph(ctx context.Context, index string) (common.GraphCounts, error) {
	recs, err := s.read(ctx, `
		RETURN
			COUNT { MATCH (d:RAGDocument) WHERE d.index_name = $index } AS documents,
			COUNT { MATCH (c:Chunk) WHERE c.index_name = $index } AS chunks,
			COUNT { MATCH (e:__Entity__) WHERE e.index_name = $index } AS entities,
			COUNT { MATCH ()-[r:RELATED]->() WHERE r.index_name = $index } AS relationships`,
		map[string]any{"index": index},
	)
	if err != nil {
		return common.GraphCounts{}, mapErr("count_graph", err)
	}
	rec := recs[0]
	return common.GraphCounts{
		Documents:     int(getInt(rec, "documents")),
		Chunks:        int(getInt(rec, "chunks")),
		Entities:      int(getInt(rec, "entities")),
		Relationships: int(getInt(rec, "relationships")),
	}, nil
}

func (s *Store) SaveSchema(ctx context.Context, index, key string, body []byte) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, exec(ctx, tx, `
			MERGE (s:GraphSchema {index_name: $index, key: $key})
			SET s.body = $body, s.updated_at = $now`,
			map[string]any{"index": index, "key": key, "body": string(body), "now": s.tick(0)},
		)
	})
	return mapErr("save_schema", err)
}

func (s *Store) GetSchema(ctx context.Context, index, key string) ([]byte, error) {
	recs, err := s.read(ctx,
		`MATCH (s:GraphSchema {index_name: $index, key: $key}) RETURN s.body AS body`,
		map[string]any{"index": index, "key": key},
	)
	if err != nil {
		return nil, mapErr("get_schema", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return []byte(getString(recs[0], "body")), nil
}
