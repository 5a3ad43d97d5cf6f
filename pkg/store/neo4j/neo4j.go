// Package neo4j implements store.Storage on a Neo4j graph database.
//
// Nodes: RAGIndex, RAGDocument, Chunk, __Entity__ and GraphSchema. Chunks
// link to their document with FROM_DOCUMENT, to the next chunk of the same
// run with NEXT_CHUNK and to mentioned entities with HAS_ENTITY. Extracted
// relationships are stored as RELATED edges carrying their type as a
// property, since Cypher cannot parameterise relationship types.
// Map-valued attributes are kept as JSON strings and timestamps as unix
// nanoseconds.
package neo4j

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Config holds the connection settings.
type Config struct {
	URI          string
	User         string
	Password     string
	Database     string
	MaxPoolSize  int
	QueryTimeout time.Duration
}

// Store is the Neo4j backed store.Storage.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	now      func() time.Time
}

var _ store.Storage = (*Store)(nil)

var schemaStatements = []string{
	`CREATE CONSTRAINT rag_index_name IF NOT EXISTS FOR (i:RAGIndex) REQUIRE i.name IS UNIQUE`,
	`CREATE CONSTRAINT rag_document_id IF NOT EXISTS FOR (d:RAGDocument) REQUIRE d.doc_id IS UNIQUE`,
	`CREATE CONSTRAINT chunk_id IF NOT EXISTS FOR (c:Chunk) REQUIRE c.id IS UNIQUE`,
	`CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:__Entity__) REQUIRE e.id IS UNIQUE`,
	`CREATE INDEX rag_document_index IF NOT EXISTS FOR (d:RAGDocument) ON (d.index_name)`,
	`CREATE INDEX chunk_index IF NOT EXISTS FOR (c:Chunk) ON (c.index_name)`,
	`CREATE INDEX entity_index IF NOT EXISTS FOR (e:__Entity__) ON (e.index_name, e.label)`,
	`CREATE INDEX graph_schema_key IF NOT EXISTS FOR (s:GraphSchema) ON (s.index_name, s.key)`,
}

// Open connects, verifies connectivity and ensures constraints and indexes.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.User == "" {
		cfg.User = "neo4j"
	}
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = 50
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}

	auth := neo4j.BasicAuth(cfg.User, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPoolSize
		c.SocketConnectTimeout = cfg.QueryTimeout
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, common.Transient("open", err)
	}

	s := &Store{driver: driver, database: cfg.Database, now: time.Now}
	if err := s.ensureSchema(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for _, q := range schemaStatements {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			return fmt.Errorf("failed to apply neo4j schema: %w", err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return fmt.Errorf("failed to apply neo4j schema: %w", err)
		}
	}
	logger.Debug("[Store] Neo4j schema ensured", "statements", len(schemaStatements))
	return nil
}

func (s *Store) Close() error {
	return s.driver.Close(context.Background())
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.database,
	})
}

func (s *Store) write(ctx context.Context, fn func(tx neo4j.ManagedTransaction) (any, error)) (any, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	return session.ExecuteWrite(ctx, fn)
}

func (s *Store) read(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, query, params)
	})
	if err != nil {
		return nil, err
	}
	return out.([]*neo4j.Record), nil
}

func collect(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) ([]*neo4j.Record, error) {
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return res.Collect(ctx)
}

func exec(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) error {
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

// tick returns a timestamp strictly greater than prev.
func (s *Store) tick(prev int64) int64 {
	n := s.now().UTC().UnixNano()
	if n <= prev {
		return prev + 1
	}
	return n
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *common.Error
	if errors.As(err, &ce) {
		return err
	}
	var ne *neo4j.Neo4jError
	if errors.As(err, &ne) && ne.Code == "Neo.ClientError.Schema.ConstraintValidationFailed" {
		return common.Conflict(op, "%s", ne.Msg)
	}
	if neo4j.IsConnectivityError(err) || neo4j.IsRetryable(err) {
		return common.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func encodeJSON(m map[string]any) (string, error) {
	b, err := json.Marshal(store.CloneMetadata(m))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(raw any) map[string]any {
	out := map[string]any{}
	s, _ := raw.(string)
	if s == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		logger.Warn("[Store] Dropping undecodable neo4j json property", "err", err)
		return map[string]any{}
	}
	return out
}

// toList converts an embedding into a driver list; nil stays nil so the
// property is not set.
func toList(v []float32) any {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func fromList(raw any) []float32 {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(list))
	for _, v := range list {
		switch f := v.(type) {
		case float64:
			out = append(out, float32(f))
		case int64:
			out = append(out, float32(f))
		}
	}
	return out
}

func strList(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func getString(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func getInt(rec *neo4j.Record, key string) int64 {
	v, _ := rec.Get(key)
	n, _ := v.(int64)
	return n
}

func getFloat(rec *neo4j.Record, key string) float64 {
	v, _ := rec.Get(key)
	switch f := v.(type) {
	case float64:
		return f
	case int64:
		return float64(f)
	}
	return 0
}

func get(rec *neo4j.Record, key string) any {
	v, _ := rec.Get(key)
	return v
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// rawCosine undoes the [0, 1] normalisation applied by
// vector.similarity.cosine.
func rawCosine(normalised float64) float64 {
	return 2*normalised - 1
}
