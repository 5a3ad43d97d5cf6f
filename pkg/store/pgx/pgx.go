// Package pgx implements store.Storage on PostgreSQL with pgvector.
package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/kiwi/rag/internal/util"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// Store is the Postgres backed store.Storage. Similarity uses the pgvector
// cosine distance operator, score = 1 - distance.
type Store struct {
	conn pgxIConn
	pool *pgxpool.Pool
}

var _ store.Storage = (*Store)(nil)

// Open connects a pool to databaseURL with the pgvector types registered on
// every connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgxv5.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, common.Transient("open", err)
	}
	return &Store{conn: pool, pool: pool}, nil
}

// NewWithConnection wraps an existing connection or transaction.
func NewWithConnection(conn pgxIConn) *Store {
	return &Store{conn: conn}
}

// Pool exposes the underlying pool for components sharing the database,
// such as lease locks. It is nil for stores built on a plain connection.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return common.Conflict(op, "%s", pgErr.Detail)
		case "23503":
			return common.NotFound(op, "referenced row missing: %s", pgErr.Detail)
		case "40001", "40P01", "55P03", "57P03":
			return common.Transient(op, err)
		}
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "08" {
			return common.Transient(op, err)
		}
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return common.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func toVector(v []float32) any {
	if v == nil {
		return nil
	}
	return pgvector.NewVector(v)
}

func fromVector(v *pgvector.Vector) []float32 {
	if v == nil {
		return nil
	}
	return v.Slice()
}

func clean(s string) string {
	return util.SanitizePostgresText(s)
}

func cleanMap(m map[string]any) map[string]any {
	out := store.CloneMetadata(m)
	for k, v := range out {
		if s, ok := v.(string); ok {
			out[k] = clean(s)
		}
	}
	return out
}
