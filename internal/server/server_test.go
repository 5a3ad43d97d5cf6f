package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/kiwi/rag/internal/app"
	"github.com/OFFIS-RIT/kiwi/rag/internal/config"
	"github.com/OFFIS-RIT/kiwi/rag/internal/queue"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai/aitest"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store/sqlite"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	queue string
	body  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, queueName string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{queue: queueName, body: body})
	return nil
}

func newTestServer(t *testing.T, jobs queue.Publisher) *echo.Echo {
	t.Helper()
	ctx := context.Background()
	cfg := &config.Config{
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
		BodyLimit:        "1M",
		CORSOrigins:      []string{"*"},
	}
	st, err := sqlite.Open(ctx, cfg.SQLitePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	a, err := app.NewWithClients(cfg, st, aitest.New(cfg.VectorDimensions), nil)
	require.NoError(t, err)
	return New(a, jobs)
}

func do(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func TestHealth(t *testing.T) {
	e := newTestServer(t, nil)

	rec := do(t, e, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	decodeBody(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "sqlite", body["store"])

	assert.Equal(t, http.StatusOK, do(t, e, http.MethodGet, "/health", "").Code)
}

func TestIndexRoutes(t *testing.T) {
	e := newTestServer(t, nil)

	rec := do(t, e, http.MethodPost, "/api/indexes", `{"name":"papers","description":"ml papers"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var idx map[string]any
	decodeBody(t, rec, &idx)
	assert.Equal(t, "papers", idx["name"])

	assert.Equal(t, http.StatusConflict, do(t, e, http.MethodPost, "/api/indexes", `{"name":"papers"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, e, http.MethodPost, "/api/indexes", `{"description":"no name"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, e, http.MethodPost, "/api/indexes", `{"name":`).Code)

	rec = do(t, e, http.MethodPut, "/api/indexes/notes", `{"description":"upserted"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, e, http.MethodGet, "/api/indexes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	decodeBody(t, rec, &list)
	assert.Len(t, list, 2)

	assert.Equal(t, http.StatusOK, do(t, e, http.MethodGet, "/api/indexes/papers", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, e, http.MethodGet, "/api/indexes/missing", "").Code)

	assert.Equal(t, http.StatusOK, do(t, e, http.MethodDelete, "/api/indexes/notes", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, e, http.MethodDelete, "/api/indexes/notes", "").Code)
}

func TestDocumentRoutes(t *testing.T) {
	e := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, do(t, e, http.MethodPost, "/api/indexes", `{"name":"papers"}`).Code)

	rec := do(t, e, http.MethodPost, "/api/indexes/papers/documents",
		`{"doc_id":"d1","content":"Transformers were introduced in 2017","metadata":{"year":2017}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var doc map[string]any
	decodeBody(t, rec, &doc)
	assert.Equal(t, "d1", doc["doc_id"])
	assert.NotContains(t, doc, "embedding")

	assert.Equal(t, http.StatusBadRequest,
		do(t, e, http.MethodPost, "/api/indexes/papers/documents", `{"metadata":{}}`).Code)
	assert.Equal(t, http.StatusNotFound,
		do(t, e, http.MethodPost, "/api/indexes/missing/documents", `{"content":"x"}`).Code)

	rec = do(t, e, http.MethodPut, "/api/indexes/papers/documents/d1", `{"content":"Attention is all you need"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &doc)
	assert.Equal(t, "Attention is all you need", doc["content"])

	rec = do(t, e, http.MethodGet, "/api/indexes/papers/documents?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var docs []map[string]any
	decodeBody(t, rec, &docs)
	require.Len(t, docs, 1)

	assert.Equal(t, http.StatusOK, do(t, e, http.MethodGet, "/api/indexes/papers/documents/d1", "").Code)
	assert.Equal(t, http.StatusOK, do(t, e, http.MethodDelete, "/api/indexes/papers/documents/d1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, e, http.MethodGet, "/api/indexes/papers/documents/d1", "").Code)
}

func TestSearchRoute(t *testing.T) {
	e := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, do(t, e, http.MethodPost, "/api/indexes", `{"name":"papers"}`).Code)
	require.Equal(t, http.StatusCreated, do(t, e, http.MethodPost, "/api/indexes/papers/documents",
		`{"doc_id":"d1","content":"Transformers were introduced in 2017"}`).Code)

	rec := do(t, e, http.MethodPost, "/api/search", `{"index_name":"papers","query":"transformers 2017"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res struct {
		Answer string           `json:"answer"`
		Chunks []map[string]any `json:"chunks"`
		Trace  map[string]any   `json:"trace"`
	}
	decodeBody(t, rec, &res)
	assert.NotEmpty(t, res.Answer)
	require.NotEmpty(t, res.Chunks)
	assert.Equal(t, "d1", res.Chunks[0]["doc_id"])
	assert.Nil(t, res.Trace)

	rec = do(t, e, http.MethodPost, "/api/search?trace=true", `{"index_name":"papers","query":"transformers 2017"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &res)
	require.NotNil(t, res.Trace)
	assert.NotEmpty(t, res.Trace["attempted"])

	assert.Equal(t, http.StatusBadRequest,
		do(t, e, http.MethodPost, "/api/search", `{"index_name":"papers","query":"x","top_k":21}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(t, e, http.MethodPost, "/api/search", `{"index_name":"papers"}`).Code)
}

func TestSchemaAndResolveRoutes(t *testing.T) {
	e := newTestServer(t, nil)

	rec := do(t, e, http.MethodGet, "/api/schemas/presets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var presets map[string]any
	decodeBody(t, rec, &presets)
	assert.Contains(t, presets, "academic")
	assert.Contains(t, presets, "business")

	require.Equal(t, http.StatusCreated, do(t, e, http.MethodPost, "/api/indexes", `{"name":"papers"}`).Code)

	rec = do(t, e, http.MethodPost, "/api/indexes/papers/schema", `{"mode":"preset","key":"academic"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusBadRequest,
		do(t, e, http.MethodPost, "/api/indexes/papers/schema", `{"mode":"preset","key":"nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(t, e, http.MethodPost, "/api/indexes/papers/schema", `{"mode":"guess"}`).Code)

	rec = do(t, e, http.MethodPost, "/api/indexes/papers/resolve", `{"strategy":"exact"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusBadRequest,
		do(t, e, http.MethodPost, "/api/indexes/papers/resolve", `{"strategy":"psychic"}`).Code)
	assert.Equal(t, http.StatusNotFound,
		do(t, e, http.MethodPost, "/api/indexes/missing/resolve", `{"strategy":"exact"}`).Code)
}

func TestIngestRoute(t *testing.T) {
	t.Run("without queue", func(t *testing.T) {
		e := newTestServer(t, nil)
		require.Equal(t, http.StatusCreated, do(t, e, http.MethodPost, "/api/indexes", `{"name":"papers"}`).Code)
		rec := do(t, e, http.MethodPost, "/api/indexes/papers/ingest", `{"content":"Ada Lovelace"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("queued", func(t *testing.T) {
		jobs := &fakePublisher{}
		e := newTestServer(t, jobs)
		require.Equal(t, http.StatusCreated, do(t, e, http.MethodPost, "/api/indexes", `{"name":"papers"}`).Code)

		rec := do(t, e, http.MethodPost, "/api/indexes/papers/ingest",
			`{"doc_id":"d1","content":"Ada Lovelace","schema_key":"academic"}`)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		require.Len(t, jobs.msgs, 1)
		assert.Equal(t, queue.IngestQueue, jobs.msgs[0].queue)

		var job queue.IngestJob
		require.NoError(t, json.Unmarshal(jobs.msgs[0].body, &job))
		assert.Equal(t, "papers", job.IndexName)
		assert.Equal(t, "d1", job.DocID)
		assert.Equal(t, "academic", job.SchemaKey)

		assert.Equal(t, http.StatusBadRequest,
			do(t, e, http.MethodPost, "/api/indexes/papers/ingest", `{"doc_id":"d2"}`).Code)
		assert.Equal(t, http.StatusNotFound,
			do(t, e, http.MethodPost, "/api/indexes/missing/ingest", `{"content":"x"}`).Code)

		rec = do(t, e, http.MethodPost, "/api/indexes/papers/resolve", `{"strategy":"fuzzy","async":true}`)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		require.Len(t, jobs.msgs, 2)
		assert.Equal(t, queue.ResolveQueue, jobs.msgs[1].queue)

		rec = do(t, e, http.MethodPost, "/api/indexes/papers/resolve", `{"strategy":"psychic","async":true}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Len(t, jobs.msgs, 2)
	})

	t.Run("broker down", func(t *testing.T) {
		e := newTestServer(t, &fakePublisher{err: errors.New("connection closed")})
		require.Equal(t, http.StatusCreated, do(t, e, http.MethodPost, "/api/indexes", `{"name":"papers"}`).Code)
		rec := do(t, e, http.MethodPost, "/api/indexes/papers/ingest", `{"content":"x"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
