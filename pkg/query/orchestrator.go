package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"
)

var log = logger.Component("Search")

// FallbackContent is the text of the synthetic chunk served when every
// other tier came back empty.
const FallbackContent = "No matching documents were found, but the system is operational."

// Tier names one step of the fallback chain.
type Tier string

const (
	TierGraph     Tier = "graph"
	TierVector    Tier = "vector"
	TierDocuments Tier = "documents"
	TierSynthetic Tier = "synthetic"
)

var errNoEmbedding = errors.New("query embedding unavailable")

// Store is the part of the storage the orchestrator reads from.
type Store interface {
	store.DocumentStore
	store.GraphStore
}

// Orchestrator runs a search through the graph, vector, documents and
// synthetic tiers and returns the first non-empty result.
type Orchestrator struct {
	store         Store
	ai            ai.GraphAIClient
	tokens        *ai.TokenCounter
	graphContext  bool
	contextTokens int
	genOpts       []ai.GenerateOption
	tracer        Tracer
}

type Option func(*Orchestrator)

// WithGraphContext attaches linked entities and neighbour chunk text to the
// metadata of graph tier items.
func WithGraphContext(enabled bool) Option {
	return func(o *Orchestrator) { o.graphContext = enabled }
}

// WithContextTokens sets the token budget of the assembled context.
// Non-positive values disable the budget.
func WithContextTokens(n int) Option {
	return func(o *Orchestrator) { o.contextTokens = n }
}

func WithTokenCounter(c *ai.TokenCounter) Option {
	return func(o *Orchestrator) { o.tokens = c }
}

// WithGenerateOptions is passed to every answer generation.
func WithGenerateOptions(opts ...ai.GenerateOption) Option {
	return func(o *Orchestrator) { o.genOpts = append(o.genOpts, opts...) }
}

func WithTracer(t Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

func NewOrchestrator(s Store, client ai.GraphAIClient, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:         s,
		ai:            client,
		contextTokens: DefaultContextTokens,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tokens == nil {
		o.tokens = ai.NewTokenCounter(ai.DefaultEncoding)
	}
	return o
}

type tier struct {
	name Tier
	run  func(ctx context.Context, s *search) (common.SearchResult, error)
}

// search is the state of one Search call shared by its tiers.
type search struct {
	req      Request
	tracer   Tracer
	embedded bool
	embedErr error
}

// Search never fails. Every tier error is logged and demotes to the next
// tier; the synthetic tier always answers.
func (o *Orchestrator) Search(ctx context.Context, req Request) common.SearchResult {
	return o.SearchTraced(ctx, req, nil)
}

// SearchTraced is Search with an extra per-call tracer.
func (o *Orchestrator) SearchTraced(ctx context.Context, req Request, tracer Tracer) common.SearchResult {
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	req.Query = strings.TrimSpace(req.Query)
	s := &search{req: req, tracer: MultiTracer{o.tracer, tracer}}

	tiers := []tier{
		{TierGraph, o.graphTier},
		{TierVector, o.vectorTier},
		{TierDocuments, o.documentsTier},
	}
	for _, t := range tiers {
		recordTier(s.tracer, TraceEventTierAttempted, t.name, nil)
		res, err := t.run(ctx, s)
		if err != nil {
			log.Warn("tier failed", "tier", t.name, "index", req.IndexName, "err", err)
			recordTier(s.tracer, TraceEventTierFailed, t.name, err)
			continue
		}
		if len(res.Chunks) == 0 {
			log.Debug("tier returned no chunks", "tier", t.name, "index", req.IndexName)
			continue
		}
		recordTier(s.tracer, TraceEventTierServed, t.name, nil)
		log.Info("search served", "tier", t.name, "index", req.IndexName, "chunks", len(res.Chunks))
		return res
	}

	recordTier(s.tracer, TraceEventTierAttempted, TierSynthetic, nil)
	recordTier(s.tracer, TraceEventTierServed, TierSynthetic, nil)
	log.Info("search served", "tier", TierSynthetic, "index", req.IndexName)
	return syntheticResult(req.IndexName)
}

func syntheticResult(index string) common.SearchResult {
	return common.SearchResult{
		Answer: ai.FallbackAnswer,
		Chunks: []common.SearchChunk{{
			DocID:    "fallback",
			Content:  FallbackContent,
			Metadata: map[string]any{"index_name": index},
			Score:    0,
		}},
	}
}

// embedding computes the query embedding once per search.
func (o *Orchestrator) embedding(ctx context.Context, s *search) ([]float32, error) {
	if !s.embedded {
		s.embedded = true
		if s.req.Query == "" {
			s.embedErr = common.Validation("search", "query is empty")
		} else {
			s.req.embedding, s.embedErr = o.ai.GenerateEmbedding(ctx, []byte(s.req.Query))
		}
	}
	if s.embedErr != nil {
		return nil, fmt.Errorf("%w: %w", errNoEmbedding, s.embedErr)
	}
	return s.req.embedding, nil
}

func (o *Orchestrator) graphTier(ctx context.Context, s *search) (common.SearchResult, error) {
	if _, err := o.embedding(ctx, s); err != nil {
		return common.SearchResult{}, err
	}
	r, err := NewRetriever(retrieverFor(s.req), o.store)
	if err != nil {
		return common.SearchResult{}, err
	}
	items, err := r.Retrieve(ctx, s.req)
	if err != nil {
		return common.SearchResult{}, fmt.Errorf("%s retriever: %w", r.Name(), err)
	}
	if len(items) == 0 {
		return common.SearchResult{}, nil
	}
	recordConsidered(s.tracer, TierGraph, items)
	if o.graphContext {
		o.enrich(ctx, items)
	}
	return o.generate(ctx, s, items)
}

func (o *Orchestrator) vectorTier(ctx context.Context, s *search) (common.SearchResult, error) {
	emb, err := o.embedding(ctx, s)
	if err != nil {
		return common.SearchResult{}, err
	}
	docs, err := o.store.VectorSearch(ctx, s.req.IndexName, emb, s.req.TopK, s.req.Keywords)
	if err != nil {
		return common.SearchResult{}, fmt.Errorf("vector search: %w", err)
	}
	if len(docs) == 0 {
		return common.SearchResult{}, nil
	}
	items := make([]Item, 0, len(docs))
	for _, d := range docs {
		items = append(items, Item{DocID: d.DocID, Content: d.Content, Metadata: d.Metadata, Score: d.Score})
	}
	recordConsidered(s.tracer, TierVector, items)
	return o.generate(ctx, s, items)
}

// documentsTier serves the most recently updated documents without
// generating an answer.
func (o *Orchestrator) documentsTier(ctx context.Context, s *search) (common.SearchResult, error) {
	docs, err := o.store.ListDocuments(ctx, s.req.IndexName, s.req.TopK)
	if err != nil {
		return common.SearchResult{}, fmt.Errorf("list documents: %w", err)
	}
	res := common.SearchResult{Answer: ai.FallbackAnswer, Chunks: make([]common.SearchChunk, 0, len(docs))}
	for _, d := range docs {
		res.Chunks = append(res.Chunks, Item{DocID: d.DocID, Content: d.Content, Metadata: d.Metadata}.toChunk())
	}
	return res, nil
}

// generate answers over items. Empty context answers with the fallback text
// without calling the model.
func (o *Orchestrator) generate(ctx context.Context, s *search, items []Item) (common.SearchResult, error) {
	res := common.SearchResult{Chunks: make([]common.SearchChunk, 0, len(items))}
	for i, it := range items {
		c := it.toChunk()
		if c.DocID == "" {
			c.DocID = it.ChunkID
		}
		if c.DocID == "" {
			c.DocID = fmt.Sprintf("chunk_%d", i+1)
		}
		res.Chunks = append(res.Chunks, c)
	}

	contextText := BuildContext(items, o.contextTokens, o.tokens.Count)
	if contextText == "" {
		recordTier(s.tracer, TraceEventGenerationSkipped, "", nil)
		res.Answer = ai.FallbackAnswer
		return res, nil
	}

	opts := append([]ai.GenerateOption{ai.WithSystemPrompts(ai.AnswerSystemPrompt)}, o.genOpts...)
	answer, err := o.ai.GenerateCompletion(ctx, fmt.Sprintf(ai.AnswerPrompt, contextText, s.req.Query), opts...)
	if err != nil {
		return common.SearchResult{}, fmt.Errorf("generate answer: %w", err)
	}
	res.Answer = strings.TrimSpace(answer)
	if res.Answer == "" {
		res.Answer = ai.FallbackAnswer
	}
	return res, nil
}

// enrich adds the graph neighbourhood of each chunk to its metadata. A
// failing lookup leaves the items as they are.
func (o *Orchestrator) enrich(ctx context.Context, items []Item) {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it.ChunkID != "" {
			ids = append(ids, it.ChunkID)
		}
	}
	if len(ids) == 0 {
		return
	}
	contexts, err := o.store.ChunkContext(ctx, ids)
	if err != nil {
		log.Warn("graph context lookup failed", "err", err)
		return
	}
	byID := make(map[string]common.ChunkContext, len(contexts))
	for _, c := range contexts {
		byID[c.ChunkID] = c
	}
	for i := range items {
		c, ok := byID[items[i].ChunkID]
		if !ok {
			continue
		}
		if items[i].Metadata == nil {
			items[i].Metadata = map[string]any{}
		}
		if len(c.Entities) > 0 {
			names := make([]string, 0, len(c.Entities))
			for _, e := range c.Entities {
				names = append(names, fmt.Sprintf("%s (%s)", e.Name, e.Label))
			}
			items[i].Metadata["entities"] = names
		}
		if c.Previous != "" {
			items[i].Metadata["previous_chunk"] = c.Previous
		}
		if c.Next != "" {
			items[i].Metadata["next_chunk"] = c.Next
		}
	}
}
