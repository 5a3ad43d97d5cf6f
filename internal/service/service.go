// Package service holds the use cases behind the HTTP API, the queue worker
// and the CLI. Services validate input, talk to the store and the providers
// and translate failures into the kinds of pkg/common.
package service

import (
	"time"

	"github.com/OFFIS-RIT/kiwi/rag/internal/util"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/graph"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/leaselock"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/query"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/resolver"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/schema"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"
)

var log = logger.Component("Service")

// readRetry retries read only store calls on transient failures.
var readRetry = util.RetryPolicy{
	MaxTries: 3,
	Backoff:  200 * time.Millisecond,
	RetryIf:  common.IsTransient,
}

// Params wires the services to their collaborators.
type Params struct {
	Store     store.Storage
	AI        ai.GraphAIClient
	Graph     *graph.GraphClient
	Schemas   *schema.Manager
	Resolver  *resolver.Resolver
	Search    *query.Orchestrator
	Locker    leaselock.Locker
	Dimension int
	TopK      int
}

// Services bundles every use case.
type Services struct {
	Indexes   *IndexService
	Documents *DocumentService
	Search    *SearchService
	Schemas   *SchemaService
	Resolve   *ResolveService
}

func New(p Params) *Services {
	if p.Schemas == nil {
		p.Schemas = schema.NewManager(p.Store, p.AI)
	}
	if p.Resolver == nil {
		p.Resolver = resolver.New(p.Store, resolver.Options{})
	}
	if p.Search == nil {
		p.Search = query.NewOrchestrator(p.Store, p.AI)
	}
	if p.Locker == nil {
		p.Locker = leaselock.NewLocal()
	}
	return &Services{
		Indexes:   &IndexService{store: p.Store, dimension: p.Dimension},
		Documents: &DocumentService{store: p.Store, ai: p.AI, graph: p.Graph, schemas: p.Schemas},
		Search:    &SearchService{orchestrator: p.Search, defaultTopK: p.TopK},
		Schemas:   &SchemaService{store: p.Store, manager: p.Schemas},
		Resolve:   &ResolveService{store: p.Store, resolver: p.Resolver, locker: p.Locker},
	}
}
