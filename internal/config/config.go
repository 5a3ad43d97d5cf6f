// Package config reads the process configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kiwi/rag/internal/util"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"

	"github.com/go-playground/validator"
)

const (
	BackendPgx    = "pgx"
	BackendNeo4j  = "neo4j"
	BackendSQLite = "sqlite"

	AdapterOpenAI = "openai"
	AdapterOllama = "ollama"
)

type Config struct {
	StoreBackend string `validate:"oneof=pgx neo4j sqlite"`
	DatabaseURL  string
	SQLitePath   string
	Neo4j        Neo4jConfig

	AIAdapter        string `validate:"oneof=openai ollama"`
	EmbeddingModel   string `validate:"required"`
	ChatModel        string `validate:"required"`
	ExtractionModel  string
	EmbeddingURL     string
	EmbeddingKey     string
	ChatURL          string
	ChatKey          string
	VectorDimensions int           `validate:"gt=0"`
	Temperature      float64       `validate:"gte=0,lte=2"`
	MaxTokens        int           `validate:"gte=0"`
	EmbeddingTimeout time.Duration `validate:"gte=0"`
	ChatTimeout      time.Duration `validate:"gte=0"`
	ParallelRequests int           `validate:"gt=0"`

	DefaultTopK    int `validate:"min=1,max=20"`
	ContextTokens  int `validate:"gt=0"`
	TokenEncoding  string
	ChunkSize      int `validate:"gt=0"`
	ChunkOverlap   int `validate:"gte=0"`
	MaxRetries     int `validate:"gte=0"`
	OnError        string `validate:"oneof=IGNORE RAISE"`
	FuzzyThreshold float64 `validate:"gt=0,lte=1"`
	SemanticThresh float64 `validate:"gt=0,lte=1"`

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	Port        string
	BodyLimit   string
	CORSOrigins []string
}

type Neo4jConfig struct {
	URI      string
	User     string
	Password string
	Database string
}

// Load builds the configuration from environment variables and validates it.
func Load() (*Config, error) {
	c := &Config{
		StoreBackend: strings.ToLower(util.GetEnvString("STORE_BACKEND", BackendPgx)),
		DatabaseURL:  util.GetEnv("DATABASE_URL"),
		SQLitePath:   util.GetEnvString("SQLITE_PATH", "rag.db"),
		Neo4j: Neo4jConfig{
			URI:      util.GetEnvString("NEO4J_URI", "neo4j://localhost:7687"),
			User:     util.GetEnvString("NEO4J_USER", "neo4j"),
			Password: util.GetEnv("NEO4J_PASSWORD"),
			Database: util.GetEnv("NEO4J_DATABASE"),
		},

		AIAdapter:        strings.ToLower(util.GetEnvString("AI_ADAPTER", AdapterOpenAI)),
		EmbeddingModel:   util.GetEnvString("AI_EMBED_MODEL", "text-embedding-3-small"),
		ChatModel:        util.GetEnvString("AI_CHAT_MODEL", "gpt-4o-mini"),
		ExtractionModel:  util.GetEnv("AI_EXTRACT_MODEL"),
		EmbeddingURL:     util.GetEnv("AI_EMBED_URL"),
		EmbeddingKey:     util.GetEnvString("AI_EMBED_KEY", util.GetEnv("OPENAI_API_KEY")),
		ChatURL:          util.GetEnv("AI_CHAT_URL"),
		ChatKey:          util.GetEnvString("AI_CHAT_KEY", util.GetEnv("OPENAI_API_KEY")),
		VectorDimensions: util.GetEnvInt("VECTOR_DIMENSIONS", 1536),
		Temperature:      util.GetEnvNumeric("LLM_TEMPERATURE", 0),
		MaxTokens:        util.GetEnvInt("LLM_MAX_TOKENS", 2000),
		EmbeddingTimeout: util.GetEnvDuration("EMBEDDING_TIMEOUT", 30*time.Second),
		ChatTimeout:      util.GetEnvDuration("CHAT_TIMEOUT", 60*time.Second),
		ParallelRequests: util.GetEnvInt("AI_PARALLEL_REQ", 4),

		DefaultTopK:    util.GetEnvInt("DEFAULT_TOP_K", 5),
		ContextTokens:  util.GetEnvInt("CONTEXT_TOKENS", 6000),
		TokenEncoding:  util.GetEnvString("TOKEN_ENCODING", "cl100k_base"),
		ChunkSize:      util.GetEnvInt("KG_CHUNK_SIZE", 4000),
		ChunkOverlap:   util.GetEnvInt("KG_CHUNK_OVERLAP", 200),
		MaxRetries:     util.GetEnvInt("KG_MAX_RETRIES", 3),
		OnError:        strings.ToUpper(util.GetEnvString("KG_ON_ERROR", "IGNORE")),
		FuzzyThreshold: util.GetEnvNumeric("RESOLVER_FUZZY_THRESHOLD", 0.85),
		SemanticThresh: util.GetEnvNumeric("RESOLVER_SEMANTIC_THRESHOLD", 0.92),

		RedisAddr:     util.GetEnv("REDIS_ADDR"),
		RedisPassword: util.GetEnv("REDIS_PASSWORD"),
		RedisDB:       util.GetEnvInt("REDIS_DB", 0),
		CacheTTL:      util.GetEnvDuration("EMBEDDING_CACHE_TTL", 24*time.Hour),

		Port:        util.GetEnvString("PORT", "8080"),
		BodyLimit:   util.GetEnvString("BODY_LIMIT", "25M"),
		CORSOrigins: util.GetEnvList("CORS_ORIGINS"),
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks field ranges and the settings each backend and adapter
// requires.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return common.Validation("config", "%v", err)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return common.Validation("config", "KG_CHUNK_OVERLAP must be smaller than KG_CHUNK_SIZE")
	}
	switch c.StoreBackend {
	case BackendPgx:
		if c.DatabaseURL == "" {
			return common.Validation("config", "DATABASE_URL is required for the %s backend", c.StoreBackend)
		}
	case BackendNeo4j:
		if c.Neo4j.URI == "" {
			return common.Validation("config", "NEO4J_URI is required for the %s backend", c.StoreBackend)
		}
	}
	if c.AIAdapter == AdapterOpenAI && (c.ChatKey == "" || c.EmbeddingKey == "") {
		return common.Validation("config", "AI_CHAT_KEY and AI_EMBED_KEY are required for the %s adapter", c.AIAdapter)
	}
	return nil
}

// CacheNamespace identifies the embedding space for cached vectors.
func (c *Config) CacheNamespace() string {
	return fmt.Sprintf("%s:%s:%d", c.AIAdapter, c.EmbeddingModel, c.VectorDimensions)
}
