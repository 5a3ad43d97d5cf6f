package query

import (
	"sort"
	"sync"
)

type TraceEventKind string

const (
	TraceEventTierAttempted     TraceEventKind = "tier_attempted"
	TraceEventTierFailed        TraceEventKind = "tier_failed"
	TraceEventTierServed        TraceEventKind = "tier_served"
	TraceEventConsideredChunks  TraceEventKind = "considered_chunks"
	TraceEventGenerationSkipped TraceEventKind = "generation_skipped"
)

// TraceEvent is an extensible event envelope for search tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	Tier     Tier
	ChunkIDs []string
	Error    string
}

// Tracer is a sink for search tracing events.
//
// Implementers can forward events to logs, metrics, or custom post-processing
// pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func recordTier(t Tracer, kind TraceEventKind, tier Tier, err error) {
	if t == nil {
		return
	}
	ev := TraceEvent{Kind: kind, Tier: tier}
	if err != nil {
		ev.Error = err.Error()
	}
	t.Record(ev)
}

func recordConsidered(t Tracer, tier Tier, items []Item) {
	if t == nil {
		return
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		id := it.ChunkID
		if id == "" {
			id = it.DocID
		}
		ids = append(ids, id)
	}
	t.Record(TraceEvent{Kind: TraceEventConsideredChunks, Tier: tier, ChunkIDs: ids})
}

// QueryTrace collects which tiers a search went through and which chunks
// they looked at.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	attempted  []Tier
	failed     map[Tier]string
	served     Tier
	considered map[string]struct{}
	skipped    bool
}

type QueryTraceSnapshot struct {
	Attempted          []Tier          `json:"attempted"`
	Failed             map[Tier]string `json:"failed,omitempty"`
	Served             Tier            `json:"served"`
	ConsideredChunkIDs []string        `json:"considered_chunk_ids,omitempty"`
	GenerationSkipped  bool            `json:"generation_skipped"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		failed:     make(map[Tier]string),
		considered: make(map[string]struct{}),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventTierAttempted:
		t.attempted = append(t.attempted, event.Tier)
	case TraceEventTierFailed:
		t.failed[event.Tier] = event.Error
	case TraceEventTierServed:
		t.served = event.Tier
	case TraceEventConsideredChunks:
		for _, id := range event.ChunkIDs {
			if id == "" {
				continue
			}
			t.considered[id] = struct{}{}
		}
	case TraceEventGenerationSkipped:
		t.skipped = true
	default:
		return
	}
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := QueryTraceSnapshot{
		Attempted:          append([]Tier(nil), t.attempted...),
		Failed:             make(map[Tier]string, len(t.failed)),
		Served:             t.served,
		ConsideredChunkIDs: make([]string, 0, len(t.considered)),
		GenerationSkipped:  t.skipped,
	}
	for k, v := range t.failed {
		s.Failed[k] = v
	}
	for id := range t.considered {
		s.ConsideredChunkIDs = append(s.ConsideredChunkIDs, id)
	}
	sort.Strings(s.ConsideredChunkIDs)

	return s
}
