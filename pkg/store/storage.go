package store

import (
	"context"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
)

// IndexStore persists index namespaces. Lookups of absent indexes return
// nil without an error.
type IndexStore interface {
	// CreateIndex fails with common.ErrConflict when the name is taken.
	CreateIndex(ctx context.Context, idx common.Index) (common.Index, error)
	// UpsertIndex creates the index or updates its attributes, keeping
	// created_at.
	UpsertIndex(ctx context.Context, idx common.Index) (common.Index, error)
	GetIndex(ctx context.Context, name string) (*common.Index, error)
	ListIndexes(ctx context.Context) ([]common.Index, error)
	// DeleteIndex removes the index with its documents, chunks, entities,
	// relationships and schemas. Deleting an absent index is a no-op.
	DeleteIndex(ctx context.Context, name string) error
}

// DocumentStore persists documents and exposes the similarity primitive.
type DocumentStore interface {
	// CreateDocument assigns a doc id when empty and stamps both timestamps.
	// It fails with common.ErrConflict for a taken doc id and with
	// common.ErrNotFound when the owning index does not exist.
	CreateDocument(ctx context.Context, doc common.Document) (common.Document, error)
	GetDocument(ctx context.Context, index, docID string) (*common.Document, error)
	// ListDocuments orders by updated_at, newest first. limit <= 0 returns all.
	ListDocuments(ctx context.Context, index string, limit int) ([]common.Document, error)
	// UpdateDocument applies patch and always advances updated_at.
	UpdateDocument(ctx context.Context, index, docID string, patch common.DocumentPatch) (*common.Document, error)
	DeleteDocument(ctx context.Context, index, docID string) error
	// VectorSearch over-fetches CandidateCount(topK) neighbours of embedding
	// within index, keeps those containing any keyword and returns at most
	// topK ordered by descending score.
	VectorSearch(ctx context.Context, index string, embedding []float32, topK int, keywords []string) ([]common.ScoredDocument, error)
}

// GraphStore persists the knowledge graph built by ingestion.
type GraphStore interface {
	WriteGraph(ctx context.Context, w common.GraphWrite) (common.WriteStats, error)
	SearchChunks(ctx context.Context, index string, embedding []float32, k int) ([]common.ScoredChunk, error)
	// ChunkContext returns linked entities and neighbour chunk text per id,
	// in the order of chunkIDs. Unknown ids are skipped.
	ChunkContext(ctx context.Context, chunkIDs []string) ([]common.ChunkContext, error)
	ListEntities(ctx context.Context, filter common.EntityFilter) ([]common.Entity, error)
	// ListRelationships returns the relationships touching entityIDs, or all
	// relationships of the index when entityIDs is empty.
	ListRelationships(ctx context.Context, index string, entityIDs []string) ([]common.Relationship, error)
	// MergeEntities collapses every group in one transaction.
	MergeEntities(ctx context.Context, index string, groups []common.MergeGroup) (common.MergeStats, error)
	CountGraph(ctx context.Context, index string) (common.GraphCounts, error)
}

// SchemaStore keeps serialized schemas per index and key.
type SchemaStore interface {
	SaveSchema(ctx context.Context, index, key string, body []byte) error
	// GetSchema returns nil without an error when nothing is stored.
	GetSchema(ctx context.Context, index, key string) ([]byte, error)
}

// Storage is the full document/graph store.
type Storage interface {
	IndexStore
	DocumentStore
	GraphStore
	SchemaStore
	Close() error
}
