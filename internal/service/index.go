package service

import (
	"context"
	"strings"

	"github.com/OFFIS-RIT/kiwi/rag/internal/util"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"
)

// IndexInput describes an index to create or update.
type IndexInput struct {
	Name            string `json:"name" validate:"required"`
	Description     string `json:"description"`
	Dimension       int    `json:"dimension" validate:"gte=0"`
	VectorIndexName string `json:"vector_index_name"`
}

type IndexService struct {
	store     store.IndexStore
	dimension int
}

func (s *IndexService) normalize(op string, in IndexInput) (common.Index, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return common.Index{}, common.Validation(op, "index name is required")
	}
	if in.Dimension < 0 {
		return common.Index{}, common.Validation(op, "dimension must not be negative")
	}
	idx := common.Index{
		Name:            name,
		Description:     in.Description,
		Dimension:       in.Dimension,
		VectorIndexName: in.VectorIndexName,
	}
	if idx.Dimension == 0 {
		idx.Dimension = s.dimension
	}
	if idx.VectorIndexName == "" {
		idx.VectorIndexName = name + "_vector_idx"
	}
	return idx, nil
}

// Create fails with common.ErrConflict when the name is taken.
func (s *IndexService) Create(ctx context.Context, in IndexInput) (common.Index, error) {
	idx, err := s.normalize("create_index", in)
	if err != nil {
		return common.Index{}, err
	}
	created, err := s.store.CreateIndex(ctx, idx)
	if err != nil {
		return common.Index{}, err
	}
	log.Info("Index created", "index", created.Name, "dimension", created.Dimension)
	return created, nil
}

// Upsert creates the index or updates its attributes.
func (s *IndexService) Upsert(ctx context.Context, in IndexInput) (common.Index, error) {
	idx, err := s.normalize("upsert_index", in)
	if err != nil {
		return common.Index{}, err
	}
	return s.store.UpsertIndex(ctx, idx)
}

// Get fails with common.ErrNotFound for an unknown index.
func (s *IndexService) Get(ctx context.Context, name string) (common.Index, error) {
	idx, err := util.RetryWithContext(ctx, readRetry, func(ctx context.Context) (*common.Index, error) {
		return s.store.GetIndex(ctx, name)
	})
	if err != nil {
		return common.Index{}, err
	}
	if idx == nil {
		return common.Index{}, common.NotFound("get_index", "index %s not found", name)
	}
	return *idx, nil
}

func (s *IndexService) List(ctx context.Context) ([]common.Index, error) {
	return util.RetryWithContext(ctx, readRetry, func(ctx context.Context) ([]common.Index, error) {
		return s.store.ListIndexes(ctx)
	})
}

// Delete removes the index and everything stored in it.
func (s *IndexService) Delete(ctx context.Context, name string) error {
	if _, err := s.Get(ctx, name); err != nil {
		return err
	}
	if err := s.store.DeleteIndex(ctx, name); err != nil {
		return err
	}
	log.Info("Index deleted", "index", name)
	return nil
}
