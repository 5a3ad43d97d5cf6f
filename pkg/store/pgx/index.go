package pgx

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
)

const indexColumns = `name, description, dimension, vector_index_name, created_at, updated_at`

func scanIndex(row pgxv5.Row) (common.Index, error) {
	var idx common.Index
	err := row.Scan(&idx.Name, &idx.Description, &idx.Dimension, &idx.VectorIndexName, &idx.CreatedAt, &idx.UpdatedAt)
	idx.CreatedAt = idx.CreatedAt.UTC()
	idx.UpdatedAt = idx.UpdatedAt.UTC()
	return idx, err
}

func (s *Store) CreateIndex(ctx context.Context, idx common.Index) (common.Index, error) {
	row := s.conn.QueryRow(ctx, `
		INSERT INTO rag_indexes (name, description, dimension, vector_index_name)
		VALUES ($1, $2, $3, $4)
		RETURNING `+indexColumns,
		idx.Name, clean(idx.Description), idx.Dimension, idx.VectorIndexName,
	)
	out, err := scanIndex(row)
	if err != nil {
		return common.Index{}, mapErr("create_index", err)
	}
	return out, nil
}

func (s *Store) UpsertIndex(ctx context.Context, idx common.Index) (common.Index, error) {
	row := s.conn.QueryRow(ctx, `
		INSERT INTO rag_indexes (name, description, dimension, vector_index_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			dimension = EXCLUDED.dimension,
			vector_index_name = EXCLUDED.vector_index_name,
			updated_at = GREATEST(now(), rag_indexes.updated_at + interval '1 microsecond')
		RETURNING `+indexColumns,
		idx.Name, clean(idx.Description), idx.Dimension, idx.VectorIndexName,
	)
	out, err := scanIndex(row)
	if err != nil {
		return common.Index{}, mapErr("upsert_index", err)
	}
	return out, nil
}

func (s *Store) GetIndex(ctx context.Context, name string) (*common.Index, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+indexColumns+` FROM rag_indexes WHERE name = $1`, name)
	idx, err := scanIndex(row)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr("get_index", err)
	}
	return &idx, nil
}

func (s *Store) ListIndexes(ctx context.Context) ([]common.Index, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+indexColumns+` FROM rag_indexes ORDER BY name`)
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
	return out, mapErr("list_indexes", rows.Err())
}

func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	_, err := s.conn.Exec(ctx, `DELETE FROM rag_indexes WHERE name = $1`, name)
	return mapErr("delete_index", err)
}
