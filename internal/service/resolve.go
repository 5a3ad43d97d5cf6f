package service

import (
	"context"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/leaselock"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/resolver"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"
)

type ResolveInput struct {
	Strategy string       `json:"strategy" validate:"required"`
	Filter   ResolveScope `json:"filter"`
	// Wait blocks until a concurrent resolution of the index finishes
	// instead of failing with a conflict.
	Wait bool `json:"wait"`
}

// ResolveScope narrows the entities considered for merging.
type ResolveScope struct {
	Labels     []string `json:"labels"`
	DocIDs     []string `json:"doc_ids"`
	NamePrefix string   `json:"name_prefix"`
}

type ResolveService struct {
	store    store.IndexStore
	resolver *resolver.Resolver
	locker   leaselock.Locker
}

// Resolve merges duplicate entities of an index. An unknown strategy fails
// before the store is touched. Resolutions of one index never overlap.
func (s *ResolveService) Resolve(ctx context.Context, indexName string, in ResolveInput) (resolver.Report, error) {
	const op = "resolve_entities"
	name := strings.ToLower(strings.TrimSpace(in.Strategy))
	strategy, err := s.resolver.Strategy(name)
	if err != nil {
		return resolver.Report{}, err
	}

	idx, err := s.store.GetIndex(ctx, indexName)
	if err != nil {
		return resolver.Report{}, err
	}
	if idx == nil {
		return resolver.Report{}, common.NotFound(op, "index %s not found", indexName)
	}

	filter := common.EntityFilter{
		IndexName:  idx.Name,
		Labels:     in.Filter.Labels,
		DocIDs:     in.Filter.DocIDs,
		NamePrefix: in.Filter.NamePrefix,
	}
	var report resolver.Report
	opts := leaselock.Options{TTL: 10 * time.Minute, Wait: in.Wait, WaitJitter: 100 * time.Millisecond}
	err = s.locker.WithLease(ctx, "resolve:"+idx.Name, opts, func(ctx context.Context) error {
		var err error
		report, err = s.resolver.ResolveWith(ctx, strategy, filter)
		return err
	})
	if err != nil {
		return resolver.Report{}, err
	}
	log.Info("Entities resolved", "index", idx.Name, "strategy", report.Strategy, "merged", report.Merged)
	return report, nil
}
