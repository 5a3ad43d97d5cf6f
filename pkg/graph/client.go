package graph

import (
	"fmt"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/resolver"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"
)

// GraphClient turns text into knowledge-graph chunks, entities and
// relationships and writes them to a graph store.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	ai                 ai.GraphAIClient
	store              store.GraphStore
	resolver           *resolver.Resolver
	splitter           FixedSizeSplitter
	tokens             *ai.TokenCounter
	parallelAiRequests int
	maxRetries         int
	onError            OnError
}

// NewGraphClientParams defines the configuration parameters for creating
// a new GraphClient.
//
// TokenEncoder names the tiktoken encoding used for token statistics.
// ChunkSize and ChunkOverlap are measured in runes.
// ParallelAiRequests controls how many extraction requests run concurrently.
// OnError is the default policy for runs that do not set their own.
type NewGraphClientParams struct {
	AIClient           ai.GraphAIClient
	Store              store.GraphStore
	Resolver           *resolver.Resolver
	TokenEncoder       string
	ChunkSize          int
	ChunkOverlap       int
	ParallelAiRequests int
	MaxRetries         int
	OnError            OnError
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters.
//
// Example:
//
//	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
//		AIClient:           aiClient,
//		Store:              storage,
//		TokenEncoder:       "cl100k_base",
//		ChunkSize:          4000,
//		ChunkOverlap:       200,
//		ParallelAiRequests: 8,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	if params.AIClient == nil {
		return nil, fmt.Errorf("graph client needs an ai client")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("graph client needs a graph store")
	}

	tokens := ai.NewTokenCounter(params.TokenEncoder)
	if err := tokens.Err(); err != nil {
		log.Warn("token encoder unavailable, estimating token counts", "encoder", params.TokenEncoder, "err", err)
	}

	splitter := FixedSizeSplitter{Size: params.ChunkSize, Overlap: params.ChunkOverlap, Approximate: true}
	if splitter.Size <= 0 {
		splitter = DefaultSplitter()
	}
	if err := splitter.validate(); err != nil {
		return nil, err
	}

	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	parallel := params.ParallelAiRequests
	if parallel <= 0 {
		parallel = 4
	}
	onError := params.OnError
	if onError == "" {
		onError = OnErrorIgnore
	}
	if _, err := ParseOnError(string(onError)); err != nil {
		return nil, err
	}

	res := params.Resolver
	if res == nil {
		res = resolver.New(params.Store, resolver.Options{})
	}

	return &GraphClient{
		ai:                 params.AIClient,
		store:              params.Store,
		resolver:           res,
		splitter:           splitter,
		tokens:             tokens,
		parallelAiRequests: parallel,
		maxRetries:         maxRetries,
		onError:            onError,
	}, nil
}

// CountTokens returns the number of tokens of text in the client's encoding.
func (g *GraphClient) CountTokens(text string) int {
	return g.tokens.Count(text)
}
