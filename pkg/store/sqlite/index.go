package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
)

const indexColumns = `name, description, dimension, vector_index_name, created_at, updated_at`

func scanIndex(row interface{ Scan(...any) error }) (common.Index, error) {
	var idx common.Index
	var created, updated int64
	if err := row.Scan(&idx.Name, &idx.Description, &idx.Dimension, &idx.VectorIndexName, &created, &updated); err != nil {
		return common.Index{}, err
	}
	idx.CreatedAt = fromNanos(created)
	idx.UpdatedAt = fromNanos(updated)
	return idx, nil
}

func (s *Store) CreateIndex(ctx context.Context, idx common.Index) (common.Index, error) {
	now := s.tick(0)
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO rag_indexes (`+indexColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING `+indexColumns,
		idx.Name, idx.Description, idx.Dimension, idx.VectorIndexName, now, now,
	)
	out, err := scanIndex(row)
	if err != nil {
		return common.Index{}, mapErr("create_index", err)
	}
	return out, nil
}

func (s *Store) UpsertIndex(ctx context.Context, idx common.Index) (common.Index, error) {
	now := s.tick(0)
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO rag_indexes (`+indexColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			dimension = excluded.dimension,
			vector_index_name = excluded.vector_index_name,
			updated_at = MAX(excluded.updated_at, rag_indexes.updated_at + 1)
		RETURNING `+indexColumns,
		idx.Name, idx.Description, idx.Dimension, idx.VectorIndexName, now, now,
	)
	out, err := scanIndex(row)
	if err != nil {
		return common.Index{}, mapErr("upsert_index", err)
	}
	return out, nil
}

func (s *Store) GetIndex(ctx context.Context, name string) (*common.Index, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+indexColumns+` FROM rag_indexes WHERE name = ?`, name)
	idx, err := scanIndex(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr("get_index", err)
	}
	return &idx, nil
}

func (s *Store) ListIndexes(ctx context.Context) ([]common.Index, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+indexColumns+` FROM rag_indexes ORDER BY name`)
	if err != nil {
		return nil, mapErr("list_indexes", err)
	}
	defer rows.Close()

	out := []common.Index{}
	for rows.Next() {
		idx, err := scanIndex(rows)
		if err != nil {
			return nil, mapErr("list_indexes", err)
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

// DeleteIndex relies on ON DELETE CASCADE for every dependent table.
func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rag_indexes WHERE name = ?`, name)
	return mapErr("delete_index", err)
}
