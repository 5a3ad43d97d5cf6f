package common

import "time"

// Index is a logical namespace that partitions documents and their vector
// space. Names are unique across the store and every document belongs to
// exactly one index.
type Index struct {
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Dimension       int       `json:"dimension,omitempty"`
	VectorIndexName string    `json:"vector_index_name,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Document is the unit of storage and of the direct vector search tier.
// Its embedding length always equals the owning index's dimension.
type Document struct {
	DocID     string         `json:"doc_id"`
	IndexName string         `json:"index_name"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"embedding,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// DocumentPatch carries the optional assignments of an update. Nil fields
// are left untouched; updated_at advances even when every field is nil.
type DocumentPatch struct {
	Content   *string
	Metadata  map[string]any
	Embedding []float32
}

// Empty reports whether the patch assigns nothing besides updated_at.
func (p DocumentPatch) Empty() bool {
	return p.Content == nil && p.Metadata == nil && p.Embedding == nil
}

// ScoredDocument is a document hit of a similarity search.
type ScoredDocument struct {
	DocID    string         `json:"doc_id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score"`
}

// Chunk is a bounded slice of ingested text stored as a graph node. Chunks of
// one ingestion run are chained by Seq; the chunk with Seq n links to n+1.
type Chunk struct {
	ID        string         `json:"id"`
	IndexName string         `json:"index_name"`
	DocID     string         `json:"doc_id,omitempty"`
	RunID     string         `json:"run_id"`
	Seq       int            `json:"seq"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"embedding,omitempty"`
}

// ScoredChunk is a chunk hit of the graph-aware retrieval.
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// Entity is an extracted graph node. Sources lists the ids of the chunks
// that mention it; a merge never drops an entry from that list.
type Entity struct {
	ID         string         `json:"id"`
	IndexName  string         `json:"index_name"`
	Label      string         `json:"label"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
	Embedding  []float32      `json:"embedding,omitempty"`
	Sources    []string       `json:"sources,omitempty"`
}

// Relationship is a directed, typed edge between two entities.
type Relationship struct {
	ID         string         `json:"id"`
	IndexName  string         `json:"index_name"`
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Sources    []string       `json:"sources,omitempty"`
}

// GraphWrite is everything a single ingestion run persists. Backends write it
// in one transaction.
type GraphWrite struct {
	IndexName     string
	Chunks        []Chunk
	Entities      []Entity
	Relationships []Relationship
}

// WriteStats reports what a GraphWrite created.
type WriteStats struct {
	Chunks        int `json:"chunks"`
	Nodes         int `json:"nodes"`
	Relationships int `json:"relationships"`
}

// GraphCounts summarises the graph side of one index.
type GraphCounts struct {
	Documents     int `json:"documents"`
	Chunks        int `json:"chunks"`
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
}

// ChunkContext is the graph neighbourhood of one retrieved chunk.
type ChunkContext struct {
	ChunkID  string   `json:"chunk_id"`
	Entities []Entity `json:"entities,omitempty"`
	Previous string   `json:"previous,omitempty"`
	Next     string   `json:"next,omitempty"`
}

// EntityFilter restricts the candidate set of a listing or a resolution.
// Zero values match everything within the index.
type EntityFilter struct {
	IndexName  string
	Labels     []string
	DocIDs     []string
	NamePrefix string
}

// MergeGroup collapses Duplicates into Canonical. Properties replaces the
// canonical's property map.
type MergeGroup struct {
	Canonical  string
	Duplicates []string
	Properties map[string]any
}

// MergeStats reports what MergeEntities changed.
type MergeStats struct {
	EntitiesRemoved      int `json:"entities_removed"`
	RelationshipsMoved   int `json:"relationships_moved"`
	RelationshipsDropped int `json:"relationships_dropped"`
}

// SearchChunk is one context item returned to search callers.
type SearchChunk struct {
	DocID    string         `json:"doc_id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score"`
}

// SearchResult is the response of a search. It is always well formed, also
// when every retrieval tier failed.
type SearchResult struct {
	Answer string        `json:"answer"`
	Chunks []SearchChunk `json:"chunks"`
}
