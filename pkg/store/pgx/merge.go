package pgx

import (
	"context"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"
)

// MergeEntities folds every duplicate into its canonical entity inside one
// transaction. Relationships and mentions move to the survivor; self loops
// and parallel relationships created by the move are dropped, keeping the
// smallest id.
func (s *Store) MergeEntities(ctx context.Context, index string, groups []common.MergeGroup) (common.MergeStats, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return common.MergeStats{}, mapErr("merge_entities", err)
	}
	defer tx.Rollback(ctx)

	var stats common.MergeStats
	for _, g := range groups {
		dupes := store.DedupeStrings(g.Duplicates)
		if g.Canonical == "" || len(dupes) == 0 {
			continue
		}

		for _, col := range []string{"source_id", "target_id"} {
			tag, err := tx.Exec(ctx,
				`UPDATE graph_relationships SET `+col+` = $1 WHERE index_name = $2 AND `+col+` = ANY($3)`,
				g.Canonical, index, dupes,
			)
			if err != nil {
				return common.MergeStats{}, mapErr("merge_entities", err)
			}
			stats.RelationshipsMoved += int(tag.RowsAffected())
		}

		tag, err := tx.Exec(ctx,
			`DELETE FROM graph_relationships WHERE index_name = $1 AND source_id = $2 AND target_id = $2`,
			index, g.Canonical,
		)
		if err != nil {
			return common.MergeStats{}, mapErr("merge_entities", err)
		}
		stats.RelationshipsDropped += int(tag.RowsAffected())

		tag, err = tx.Exec(ctx, `
			DELETE FROM graph_relationships r
			WHERE r.index_name = $1 AND (r.source_id = $2 OR r.target_id = $2)
			AND EXISTS (
				SELECT 1 FROM graph_relationships o
				WHERE o.source_id = r.source_id AND o.target_id = r.target_id
				AND o.type = r.type AND o.id < r.id
			)`,
			index, g.Canonical,
		)
		if err != nil {
			return common.MergeStats{}, mapErr("merge_entities", err)
		}
		stats.RelationshipsDropped += int(tag.RowsAffected())

		if _, err := tx.Exec(ctx, `
			INSERT INTO graph_mentions (entity_id, chunk_id)
			SELECT $1, chunk_id FROM graph_mentions WHERE entity_id = ANY($2)
			ON CONFLICT DO NOTHING`,
			g.Canonical, dupes,
		); err != nil {
			return common.MergeStats{}, mapErr("merge_entities", err)
		}

		if g.Properties != nil {
			if _, err := tx.Exec(ctx,
				`UPDATE graph_entities SET properties = $1 WHERE id = $2 AND index_name = $3`,
				cleanMap(g.Properties), g.Canonical, index,
			); err != nil {
				return common.MergeStats{}, mapErr("merge_entities", err)
			}
		}

		tag, err = tx.Exec(ctx,
			`DELETE FROM graph_entities WHERE index_name = $1 AND id = ANY($2)`,
			index, dupes,
		)
		if err != nil {
			return common.MergeStats{}, mapErr("merge_entities", err)
		}
		stats.EntitiesRemoved += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return common.MergeStats{}, mapErr("merge_entities", err)
	}
	logger.Debug("[Store][MergeEntities] Entities merged", "index", index, "groups", len(groups), "removed", stats.EntitiesRemoved)
	return stats, nil
}
