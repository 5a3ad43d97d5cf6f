package neo4j

import (
	"context"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Each statement returns the number of touched relationships or nodes as n.
const (
	moveOutgoingSQL = `
		MATCH (c:__Entity__ {id: $canonical})
		MATCH (d:__Entity__)-[r:RELATED]->(t)
		WHERE d.id IN $dupes AND d.index_name = $index
		CREATE (c)-[moved:RELATED]->(t)
		SET moved = properties(r)
		DELETE r
		RETURN count(moved) AS n`
	moveIncomingSQL = `
		MATCH (c:__Entity__ {id: $canonical})
		MATCH (src)-[r:RELATED]->(d:__Entity__)
		WHERE d.id IN $dupes AND d.index_name = $index
		CREATE (src)-[moved:RELATED]->(c)
		SET moved = properties(r)
		DELETE r
		RETURN count(moved) AS n`
	dropSelfLoopsSQL = `
		MATCH (c:__Entity__ {id: $canonical})-[r:RELATED]->(c)
		WITH r, r.id AS rid
		DELETE r
		RETURN count(rid) AS n`
	dropParallelSQL = `
		MATCH (a:__Entity__)-[r:RELATED]->(b:__Entity__)
		WHERE a.id = $canonical OR b.id = $canonical
		MATCH (a)-[o:RELATED]->(b)
		WHERE o.type = r.type AND o.id < r.id
		WITH DISTINCT r, r.id AS rid
		DELETE r
		RETURN count(rid) AS n`
	moveMentionsSQL = `
		MATCH (c:__Entity__ {id: $canonical})
		MATCH (ch:Chunk)-[:HAS_ENTITY]->(d:__Entity__)
		WHERE d.id IN $dupes AND d.index_name = $index
		MERGE (ch)-[:HAS_ENTITY]->(c)
		RETURN count(*) AS n`
	setPropertiesSQL = `
		MATCH (c:__Entity__ {id: $canonical, index_name: $index})
		SET c.properties_json = $properties_json
		RETURN count(c) AS n`
	deleteDupesSQL = `
		MATCH (d:__Entity__)
		WHERE d.id IN $dupes AND d.index_name = $index
		WITH d, d.id AS did
		DETACH DELETE d
		RETURN count(did) AS n`
)

// MergeEntities folds duplicates into their canonical entity in one write
// transaction.
func (s *Store) MergeEntities(ctx context.Context, index string, groups []common.MergeGroup) (common.MergeStats, error) {
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		var stats common.MergeStats
		count := func(query string, params map[string]any) (int, error) {
			recs, err := collect(ctx, tx, query, params)
			if err != nil || len(recs) == 0 {
				return 0, err
			}
			return int(getInt(recs[0], "n")), nil
		}

		for _, g := range groups {
			dupes := store.DedupeStrings(g.Duplicates)
			if g.Canonical == "" || len(dupes) == 0 {
				continue
			}
			params := map[string]any{"canonical": g.Canonical, "dupes": dupes, "index": index}

			for _, q := range []string{moveOutgoingSQL, moveIncomingSQL} {
				n, err := count(q, params)
				if err != nil {
					return nil, err
				}
				stats.RelationshipsMoved += n
			}
			for _, q := range []string{dropSelfLoopsSQL, dropParallelSQL} {
				n, err := count(q, params)
				if err != nil {
					return nil, err
				}
				stats.RelationshipsDropped += n
			}
			if _, err := count(moveMentionsSQL, params); err != nil {
				return nil, err
			}
			if g.Properties != nil {
				props, err := encodeJSON(g.Properties)
				if err != nil {
					return nil, err
				}
				params["properties_json"] = props
				if _, err := count(setPropertiesSQL, params); err != nil {
					return nil, err
				}
			}
			n, err := count(deleteDupesSQL, params)
			if err != nil {
				return nil, err
			}
			stats.EntitiesRemoved += n
		}
		return stats, nil
	})
	if err != nil {
		return common.MergeStats{}, mapErr("merge_entities", err)
	}
	return out.(common.MergeStats), nil
}
