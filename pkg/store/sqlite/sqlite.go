// Package sqlite implements store.Storage on an embedded SQLite database
// (pure Go driver). Similarity is computed in process, which keeps it
// suitable for local runs, the CLI and tests rather than large corpora.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS rag_indexes (
	name TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	dimension INTEGER NOT NULL DEFAULT 0,
	vector_index_name TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rag_documents (
	doc_id TEXT PRIMARY KEY,
	index_name TEXT NOT NULL REFERENCES rag_indexes(name) ON DELETE CASCADE,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	embedding TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rag_documents_index ON rag_documents(index_name, updated_at);

CREATE TABLE IF NOT EXISTS graph_chunks (
	id TEXT PRIMARY KEY,
	index_name TEXT NOT NULL REFERENCES rag_indexes(name) ON DELETE CASCADE,
	doc_id TEXT NOT NULL DEFAULT '',
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	text TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	embedding TEXT
);
CREATE INDEX IF NOT EXISTS idx_graph_chunks_index ON graph_chunks(index_name);
CREATE INDEX IF NOT EXISTS idx_graph_chunks_run ON graph_chunks(run_id, seq);

CREATE TABLE IF NOT EXISTS graph_entities (
	id TEXT PRIMARY KEY,
	index_name TEXT NOT NULL REFERENCES rag_indexes(name) ON DELETE CASCADE,
	label TEXT NOT NULL,
	name TEXT NOT NULL,
	properties TEXT NOT NULL DEFAULT '{}',
	embedding TEXT
);
CREATE INDEX IF NOT EXISTS idx_graph_entities_index ON graph_entities(index_name, label);

CREATE TABLE IF NOT EXISTS graph_mentions (
	entity_id TEXT NOT NULL REFERENCES graph_entities(id) ON DELETE CASCADE,
	chunk_id TEXT NOT NULL REFERENCES graph_chunks(id) ON DELETE CASCADE,
	PRIMARY KEY (entity_id, chunk_id)
);
CREATE INDEX IF NOT EXISTS idx_graph_mentions_chunk ON graph_mentions(chunk_id);

CREATE TABLE IF NOT EXISTS graph_relationships (
	id TEXT PRIMARY KEY,
	index_name TEXT NOT NULL REFERENCES rag_indexes(name) ON DELETE CASCADE,
	source_id TEXT NOT NULL REFERENCES graph_entities(id) ON DELETE CASCADE,
	target_id TEXT NOT NULL REFERENCES graph_entities(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	properties TEXT NOT NULL DEFAULT '{}',
	sources TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_graph_relationships_source ON graph_relationships(source_id);
CREATE INDEX IF NOT EXISTS idx_graph_relationships_target ON graph_relationships(target_id);

CREATE TABLE IF NOT EXISTS graph_schemas (
	index_name TEXT NOT NULL REFERENCES rag_indexes(name) ON DELETE CASCADE,
	key TEXT NOT NULL,
	body TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (index_name, key)
);
`

// Store is the SQLite backed store.Storage.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Storage = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps in-memory databases shared and serialises
	// writers, which SQLite does anyway
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// tick returns a timestamp strictly greater than prev so updated_at always
// advances, also within one clock tick.
func (s *Store) tick(prev int64) int64 {
	n := s.now().UTC().UnixNano()
	if n <= prev {
		return prev + 1
	}
	return n
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return common.Conflict(op, "%v", err)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return common.NotFound(op, "referenced row missing: %v", err)
		case sqlite3.SQLITE_CONSTRAINT:
			if strings.Contains(se.Error(), "FOREIGN KEY") {
				return common.NotFound(op, "referenced row missing: %v", err)
			}
			return common.Conflict(op, "%v", err)
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return common.Transient(op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeVector(v []float32) (any, error) {
	if v == nil {
		return nil, nil
	}
	return encodeJSON(v)
}

func decodeVector(raw sql.NullString) ([]float32, error) {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil, nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(raw.String), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeMap(raw string) (map[string]any, error) {
	out := map[string]any{}
	if raw == "" || raw == "null" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func toArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
