// Package cache memoises embeddings in Redis so re-ingesting or re-querying
// identical text does not pay for a provider call twice.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

var ErrMiss = errors.New("cache miss")

// Store is the byte level key/value backend of the cache.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisStore adapts a go-redis client to Store.
type RedisStore struct {
	rdb *goredis.Client
}

// NewRedisStore dials addr and verifies the connection with a PING.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

// EmbeddingCache wraps a GraphAIClient and serves embeddings from Store.
// Generation calls pass straight through. Cache errors never fail a call;
// they are logged and the provider is asked instead.
type EmbeddingCache struct {
	ai.GraphAIClient

	store     Store
	namespace string
	ttl       time.Duration
	group     singleflight.Group
}

// New wraps inner. namespace should identify the embedding model and
// dimension so vectors of different models never mix.
func New(inner ai.GraphAIClient, store Store, namespace string, ttl time.Duration) *EmbeddingCache {
	return &EmbeddingCache{
		GraphAIClient: inner,
		store:         store,
		namespace:     namespace,
		ttl:           ttl,
	}
}

func (c *EmbeddingCache) key(input []byte) string {
	sum := sha256.Sum256(input)
	return "emb:" + c.namespace + ":" + hex.EncodeToString(sum[:])
}

func (c *EmbeddingCache) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	key := c.key(input)
	if vec, ok := c.lookup(ctx, key); ok {
		return vec, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		vec, err := c.GraphAIClient.GenerateEmbedding(ctx, input)
		if err != nil {
			return nil, err
		}
		c.remember(ctx, key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func (c *EmbeddingCache) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	var missIdx []int
	var missIn [][]byte
	for i, in := range inputs {
		if vec, ok := c.lookup(ctx, c.key(in)); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missIn = append(missIn, in)
	}
	if len(missIn) == 0 {
		return out, nil
	}
	fresh, err := c.GraphAIClient.GenerateEmbeddings(ctx, missIn)
	if err != nil {
		return nil, err
	}
	for j, vec := range fresh {
		out[missIdx[j]] = vec
		c.remember(ctx, c.key(missIn[j]), vec)
	}
	return out, nil
}

func (c *EmbeddingCache) lookup(ctx context.Context, key string) ([]float32, bool) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			logger.Warn("[Cache] embedding lookup failed", "err", err)
		}
		return nil, false
	}
	vec, err := decode(raw)
	if err != nil {
		logger.Warn("[Cache] dropping corrupt embedding entry", "key", key, "err", err)
		return nil, false
	}
	return vec, true
}

func (c *EmbeddingCache) remember(ctx context.Context, key string, vec []float32) {
	if err := c.store.Set(ctx, key, encode(vec), c.ttl); err != nil {
		logger.Warn("[Cache] embedding store failed", "err", err)
	}
}

func encode(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decode(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding length %d", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return vec, nil
}
