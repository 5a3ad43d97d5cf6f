package sqlite

import (
	"context"
	"database/sql"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"
)

// MergeEntities re-points relationships and mentions of every duplicate to
// its canonical entity, then deletes the duplicates. Self loops and
// parallel relationships (same source, type and target) that the merge
// produces are dropped, keeping the smallest id.
func (s *Store) MergeEntities(ctx context.Context, index string, groups []common.MergeGroup) (common.MergeStats, error) {
	var stats common.MergeStats
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, g := range groups {
			dupes := store.DedupeStrings(g.Duplicates)
			if g.Canonical == "" || len(dupes) == 0 {
				continue
			}
			ph := placeholders(len(dupes))
			dupeArgs := toArgs(dupes)

			for _, col := range []string{"source_id", "target_id"} {
				res, err := tx.ExecContext(ctx,
					`UPDATE graph_relationships SET `+col+` = ? WHERE index_name = ? AND `+col+` IN (`+ph+`)`,
					append([]any{g.Canonical, index}, dupeArgs...)...,
				)
				if err != nil {
					return err
				}
				n, _ := res.RowsAffected()
				stats.RelationshipsMoved += int(n)
			}

			res, err := tx.ExecContext(ctx,
				`DELETE FROM graph_relationships WHERE index_name = ? AND source_id = ? AND target_id = ?`,
				index, g.Canonical, g.Canonical,
			)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			stats.RelationshipsDropped += int(n)

			res, err = tx.ExecContext(ctx, `
				DELETE FROM graph_relationships AS r
				WHERE r.index_name = ? AND (r.source_id = ? OR r.target_id = ?)
				AND EXISTS (
					SELECT 1 FROM graph_relationships o
					WHERE o.source_id = r.source_id AND o.target_id = r.target_id
					AND o.type = r.type AND o.id < r.id
				)`,
				index, g.Canonical, g.Canonical,
			)
			if err != nil {
				return err
			}
			n, _ = res.RowsAffected()
			stats.RelationshipsDropped += int(n)

			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO graph_mentions (entity_id, chunk_id)
				SELECT ?, chunk_id FROM graph_mentions WHERE entity_id IN (`+ph+`)`,
				append([]any{g.Canonical}, dupeArgs...)...,
			); err != nil {
				return err
			}

			if g.Properties != nil {
				props, err := encodeJSON(g.Properties)
				if err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx,
					`UPDATE graph_entities SET properties = ? WHERE id = ? AND index_name = ?`,
					props, g.Canonical, index,
				); err != nil {
					return err
				}
			}

			res, err = tx.ExecContext(ctx,
				`DELETE FROM graph_entities WHERE index_name = ? AND id IN (`+ph+`)`,
				append([]any{index}, dupeArgs...)...,
			)
			if err != nil {
				return err
			}
			n, _ = res.RowsAffected()
			stats.EntitiesRemoved += int(n)
		}
		return nil
	})
	if err != nil {
		return common.MergeStats{}, mapErr("merge_entities", err)
	}
	return stats, nil
}
