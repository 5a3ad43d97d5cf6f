package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/kiwi/rag/internal/util"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/resolver"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/schema"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"
)

var log = logger.Component("Ingest")

type State string

const (
	StateIdle       State = "idle"
	StateSplitting  State = "splitting"
	StateExtracting State = "extracting"
	StateWriting    State = "writing"
	StateResolving  State = "resolving"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// OnError decides what a failed chunk extraction does to the run.
type OnError string

const (
	// OnErrorIgnore skips the failed chunk and keeps going.
	OnErrorIgnore OnError = "IGNORE"
	// OnErrorRaise fails the run and writes nothing.
	OnErrorRaise OnError = "RAISE"
)

func ParseOnError(s string) (OnError, error) {
	switch OnError(strings.ToUpper(strings.TrimSpace(s))) {
	case "", OnErrorIgnore:
		return OnErrorIgnore, nil
	case OnErrorRaise:
		return OnErrorRaise, nil
	}
	return "", common.Validation("ingest", "unknown on_error policy %q", s)
}

// Input is one text to ingest into an index.
type Input struct {
	IndexName string
	DocID     string
	Text      string
	// Metadata is copied onto every chunk node.
	Metadata map[string]any
	Schema   schema.Schema
	// Resolve runs exact entity resolution on the index after writing.
	Resolve bool
	// OnError overrides the client's policy when set.
	OnError OnError
}

// Stats summarises a finished run.
type Stats struct {
	ChunksProcessed      int              `json:"chunks_processed"`
	NodesCreated         int              `json:"nodes_created"`
	RelationshipsCreated int              `json:"relationships_created"`
	ChunksSkipped        int              `json:"chunks_skipped"`
	Tokens               int              `json:"tokens"`
	Resolution           *resolver.Report `json:"resolution,omitempty"`
}

// Run is a single ingestion. It moves through
// idle, splitting, extracting, writing and optionally resolving before it
// ends in done or failed.
type Run struct {
	ID string

	client *GraphClient
	input  Input

	mu      sync.Mutex
	started bool
	state   State
	stats   Stats
	err     error
}

// NewRun prepares an ingestion of in. Nothing happens until Execute.
func (g *GraphClient) NewRun(in Input) (*Run, error) {
	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run ID: %w", err)
	}
	if in.OnError == "" {
		in.OnError = g.onError
	}
	return &Run{ID: id, client: g, input: in, state: StateIdle}, nil
}

// Ingest creates a run for in and executes it.
func (g *GraphClient) Ingest(ctx context.Context, in Input) (Stats, error) {
	run, err := g.NewRun(in)
	if err != nil {
		return Stats{}, err
	}
	return run.Execute(ctx)
}

func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Run) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Err returns the failure of a failed run.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	prev := r.state
	r.state = s
	r.mu.Unlock()
	log.Debug("state changed", "run", r.ID, "index", r.input.IndexName, "from", prev, "to", s)
}

func (r *Run) fail(err error) (Stats, error) {
	r.mu.Lock()
	r.err = err
	stats := r.stats
	r.mu.Unlock()
	r.setState(StateFailed)
	log.Error("ingestion failed", "run", r.ID, "index", r.input.IndexName, "doc", r.input.DocID, "err", err)
	return stats, err
}

// Execute runs the pipeline. A run executes once; later calls fail.
func (r *Run) Execute(ctx context.Context) (Stats, error) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return r.Stats(), fmt.Errorf("run %s already executed", r.ID)
	}
	r.started = true
	r.mu.Unlock()

	in := r.input
	if in.IndexName == "" {
		return r.fail(common.Validation("ingest", "index name is required"))
	}
	g := r.client
	start := time.Now()

	r.setState(StateSplitting)
	texts, err := g.splitter.Split(in.Text)
	if err != nil {
		return r.fail(err)
	}
	if len(texts) == 0 {
		r.setState(StateDone)
		log.Info("nothing to ingest", "run", r.ID, "index", in.IndexName, "doc", in.DocID)
		return r.Stats(), nil
	}

	chunks := make([]common.Chunk, len(texts))
	tokens := 0
	for i, text := range texts {
		id, err := gonanoid.New()
		if err != nil {
			return r.fail(fmt.Errorf("failed to generate ID for chunk: %w", err))
		}
		chunks[i] = common.Chunk{
			ID:        id,
			IndexName: in.IndexName,
			DocID:     in.DocID,
			RunID:     r.ID,
			Seq:       i,
			Text:      text,
			Metadata:  store.CloneMetadata(in.Metadata),
		}
		tokens += g.CountTokens(text)
	}

	r.setState(StateExtracting)
	results, skipped, err := r.extract(ctx, chunks)
	if err != nil {
		return r.fail(err)
	}

	builder := newGraphBuilder(in.IndexName)
	for _, res := range results {
		if res == nil {
			continue
		}
		if err := builder.mergeEntitiesAndRelations(chunks[res.chunk].ID, extractResponse{
			Entities:      res.entities,
			Relationships: res.relations,
		}); err != nil {
			return r.fail(err)
		}
	}
	entities, relations := in.Schema.Filter(builder.entities, builder.relations)
	if dropped := len(builder.entities) - len(entities); dropped > 0 {
		log.Debug("schema dropped entities", "run", r.ID, "count", dropped)
	}

	if err := r.embed(ctx, chunks, entities); err != nil {
		return r.fail(err)
	}

	r.setState(StateWriting)
	written, err := g.store.WriteGraph(ctx, common.GraphWrite{
		IndexName:     in.IndexName,
		Chunks:        chunks,
		Entities:      entities,
		Relationships: relations,
	})
	if err != nil {
		return r.fail(fmt.Errorf("write graph: %w", err))
	}

	r.mu.Lock()
	r.stats = Stats{
		ChunksProcessed:      len(chunks) - skipped,
		NodesCreated:         written.Nodes,
		RelationshipsCreated: written.Relationships,
		ChunksSkipped:        skipped,
		Tokens:               tokens,
	}
	r.mu.Unlock()

	if in.Resolve && written.Nodes > 0 {
		r.setState(StateResolving)
		report, err := g.resolver.Resolve(ctx, "exact", common.EntityFilter{IndexName: in.IndexName})
		if err != nil {
			if in.OnError == OnErrorRaise {
				return r.fail(fmt.Errorf("resolve entities: %w", err))
			}
			log.Warn("entity resolution failed", "run", r.ID, "index", in.IndexName, "err", err)
		} else {
			r.mu.Lock()
			r.stats.Resolution = &report
			r.mu.Unlock()
		}
	}

	r.setState(StateDone)
	stats := r.Stats()
	log.Info("ingestion finished",
		"run", r.ID,
		"index", in.IndexName,
		"doc", in.DocID,
		"chunks", stats.ChunksProcessed,
		"skipped", stats.ChunksSkipped,
		"nodes", stats.NodesCreated,
		"relationships", stats.RelationshipsCreated,
		"tokens", stats.Tokens,
		"duration", time.Since(start),
	)
	return stats, nil
}

// extract runs the extraction of every chunk with bounded parallelism. The
// result slice is indexed by chunk position; skipped chunks stay nil.
func (r *Run) extract(ctx context.Context, chunks []common.Chunk) ([]*extracted, int, error) {
	g := r.client
	in := r.input
	systemPrompt := fmt.Sprintf(ai.ExtractionSystemPrompt, in.Schema.PromptRules(ai.ExtractionSchemaRules))
	policy := util.RetryPolicy{
		MaxTries: g.maxRetries,
		Backoff:  500 * time.Millisecond,
		RetryIf:  isTransient,
	}

	results := make([]*extracted, len(chunks))
	var mu sync.Mutex
	skipped := 0

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.parallelAiRequests)
	for i := range chunks {
		eg.Go(func() error {
			select {
			case <-egCtx.Done():
				return egCtx.Err()
			default:
			}
			res, err := util.RetryWithContext(egCtx, policy, func(ctx context.Context) (extractResponse, error) {
				return extractFromChunk(ctx, g.ai, systemPrompt, chunks[i].Text)
			})
			if err != nil {
				if in.OnError == OnErrorRaise || egCtx.Err() != nil {
					return fmt.Errorf("extract chunk %d: %w", i, err)
				}
				log.Warn("skipping chunk after failed extraction", "run", r.ID, "chunk", i, "err", err)
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			results[i] = &extracted{chunk: i, entities: res.Entities, relations: res.Relationships}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, skipped, err
	}
	return results, skipped, nil
}

// embed fills in chunk and entity embeddings. Chunk embeddings are required
// for graph retrieval; entity embeddings only feed semantic resolution, so
// under the ignore policy a failure there is logged and tolerated.
func (r *Run) embed(ctx context.Context, chunks []common.Chunk, entities []common.Entity) error {
	g := r.client
	inputs := make([][]byte, len(chunks))
	for i := range chunks {
		inputs[i] = []byte(chunks[i].Text)
	}
	vecs, err := store.GenerateEmbeddings(ctx, g.ai, inputs)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	for i := range chunks {
		chunks[i].Embedding = vecs[i]
	}

	if len(entities) == 0 {
		return nil
	}
	inputs = make([][]byte, len(entities))
	for i, e := range entities {
		inputs[i] = []byte(e.Label + ": " + e.Name)
	}
	vecs, err = store.GenerateEmbeddings(ctx, g.ai, inputs)
	if err != nil {
		if r.input.OnError == OnErrorRaise {
			return fmt.Errorf("embed entities: %w", err)
		}
		log.Warn("entity embeddings failed, semantic resolution will skip this run", "run", r.ID, "err", err)
		return nil
	}
	for i := range entities {
		entities[i].Embedding = vecs[i]
	}
	return nil
}
