package neo4j

import (
	"context"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const indexReturn = `RETURN i.name AS name, i.description AS description, i.dimension AS dimension,
	i.vector_index_name AS vector_index_name, i.created_at AS created_at, i.updated_at AS updated_at`

func indexFromRecord(rec *neo4j.Record) common.Index {
	return common.Index{
		Name:            getString(rec, "name"),
		Description:     getString(rec, "description"),
		Dimension:       int(getInt(rec, "dimension")),
		VectorIndexName: getString(rec, "vector_index_name"),
		CreatedAt:       fromNanos(getInt(rec, "created_at")),
		UpdatedAt:       fromNanos(getInt(rec, "updated_at")),
	}
}

func indexParams(idx common.Index, now int64) map[string]any {
	return map[string]any{
		"name":              idx.Name,
		"description":       idx.Description,
		"dimension":         int64(idx.Dimension),
		"vector_index_name": idx.VectorIndexName,
		"now":               now,
	}
}

func (s *Store) CreateIndex(ctx context.Context, idx common.Index) (common.Index, error) {
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		existing, err := collect(ctx, tx, `MATCH (i:RAGIndex {name: $name}) RETURN i.name AS name`, map[string]any{"name": idx.Name})
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return nil, common.Conflict("create_index", "index %q already exists", idx.Name)
		}
		recs, err := collect(ctx, tx, `
			CREATE (i:RAGIndex {name: $name, description: $description, dimension: $dimension,
				vector_index_name: $vector_index_name, created_at: $now, updated_at: $now})
			`+indexReturn, indexParams(idx, s.tick(0)))
		if err != nil {
			return nil, err
		}
		return indexFromRecord(recs[0]), nil
	})
	if err != nil {
		return common.Index{}, mapErr("create_index", err)
	}
	return out.(common.Index), nil
}

func (s *Store) UpsertIndex(ctx context.Context, idx common.Index) (common.Index, error) {
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		recs, err := collect(ctx, tx, `
			MERGE (i:RAGIndex {name: $name})
			ON CREATE SET i.created_at = $now, i.updated_at = $now
			ON MATCH SET i.updated_at = CASE WHEN $now > i.updated_at THEN $now ELSE i.updated_at + 1 END
			SET i.description = $description, i.dimension = $dimension, i.vector_index_name = $vector_index_name
			`+indexReturn, indexParams(idx, s.tick(0)))
		if err != nil {
			return nil, err
		}
		return indexFromRecord(recs[0]), nil
	})
	if err != nil {
		return common.Index{}, mapErr("upsert_index", err)
	}
	return out.(common.Index), nil
}

func (s *Store) GetIndex(ctx context.Context, name string) (*common.Index, error) {
	recs, err := s.read(ctx, `MATCH (i:RAGIndex {name: $name}) `+indexReturn, map[string]any{"name": name})
	if err != nil {
		return nil, mapErr("get_index", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	idx := indexFromRecord(recs[0])
	return &idx, nil
}

func (s *Store) ListIndexes(ctx context.Context) ([]common.Index, error) {
	recs, err := s.read(ctx, `MATCH (i:RAGIndex) `+indexReturn+` ORDER BY name`, nil)
	if err != nil {
		return nil, mapErr("list_indexes", err)
	}
	out := make([]common.Index, 0, len(recs))
	for _, rec := range recs {
		out = append(out, indexFromRecord(rec))
	}
	return out, nil
}

// DeleteIndex removes the index node and every node scoped to it.
func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := exec(ctx, tx, `
			MATCH (n)
			WHERE (n:RAGDocument OR n:Chunk OR n:__Entity__ OR n:GraphSchema) AND n.index_name = $name
			DETACH DELETE n`, map[string]any{"name": name}); err != nil {
			return nil, err
		}
		return nil, exec(ctx, tx, `MATCH (i:RAGIndex {name: $name}) DETACH DELETE i`, map[string]any{"name": name})
	})
	return mapErr("delete_index", err)
}
