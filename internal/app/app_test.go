package app

import (
	"context"
	"testing"

	"github.com/OFFIS-RIT/kiwi/rag/internal/config"
	"github.com/OFFIS-RIT/kiwi/rag/internal/service"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai/aitest"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		StoreBackend:     config.BackendSQLite,
		SQLitePath:       ":memory:",
		AIAdapter:        config.AdapterOllama,
		EmbeddingModel:   "embed",
		ChatModel:        "chat",
		VectorDimensions: 16,
		MaxTokens:        256,
		ParallelRequests: 2,
		DefaultTopK:      3,
		ContextTokens:    1000,
		ChunkSize:        500,
		ChunkOverlap:     50,
		MaxRetries:       1,
		OnError:          "IGNORE",
		FuzzyThreshold:   0.85,
		SemanticThresh:   0.92,
	}
}

func TestNewWithClientsWiresServices(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	st, err := sqlite.Open(ctx, cfg.SQLitePath)
	require.NoError(t, err)
	defer st.Close()

	a, err := NewWithClients(cfg, st, aitest.New(cfg.VectorDimensions), nil)
	require.NoError(t, err)
	require.NotNil(t, a.Services)
	require.NotNil(t, a.Graph)

	idx, err := a.Services.Indexes.Create(ctx, service.IndexInput{Name: "papers"})
	require.NoError(t, err)
	assert.Equal(t, cfg.VectorDimensions, idx.Dimension)

	doc, err := a.Services.Documents.Create(ctx, "papers", service.DocumentInput{Content: "Transformers were introduced in 2017"})
	require.NoError(t, err)
	assert.Len(t, doc.Embedding, cfg.VectorDimensions)

	res, err := a.Services.Search.Search(ctx, service.SearchInput{IndexName: "papers", Query: "transformers 2017"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Chunks)
	assert.Equal(t, doc.DocID, res.Chunks[0].DocID)

	// the caller owns the store, Close releases nothing
	require.NoError(t, a.Close())
	_, err = st.GetIndex(ctx, "papers")
	require.NoError(t, err)
}

func TestNewWithClientsRejectsBadPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.OnError = "PANIC"
	st, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer st.Close()

	_, err = NewWithClients(cfg, st, aitest.New(cfg.VectorDimensions), nil)
	require.Error(t, err)
	assert.True(t, common.IsValidation(err))
}

func TestNewOpensSQLite(t *testing.T) {
	cfg := testConfig()
	cfg.SQLitePath = t.TempDir() + "/rag.db"
	t.Setenv("AWS_BUCKET", "")

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, a.Bucket)
	assert.NotNil(t, a.Services)
	require.NoError(t, a.Close())
}
