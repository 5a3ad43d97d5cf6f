package resolver

import (
	"context"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"
)

var log = logger.Component("Resolver")

// Merge describes one collapsed duplicate group.
type Merge struct {
	Canonical  string   `json:"canonical"`
	Name       string   `json:"name"`
	Label      string   `json:"label"`
	Duplicates []string `json:"duplicates"`
}

// Report is the outcome of a resolution run.
type Report struct {
	Strategy   string            `json:"strategy"`
	Candidates int               `json:"candidates"`
	Groups     int               `json:"groups"`
	Merged     int               `json:"merged"`
	Stats      common.MergeStats `json:"stats"`
	Merges     []Merge           `json:"merges,omitempty"`
}

// Resolver merges duplicate entities of one index.
type Resolver struct {
	store store.GraphStore
	opts  Options
}

func New(s store.GraphStore, opts Options) *Resolver {
	return &Resolver{store: s, opts: opts.withDefaults()}
}

// Resolve groups the entities matching filter with the named strategy and
// collapses every group into its canonical entity. The strategy name is
// checked before the store is touched.
func (r *Resolver) Resolve(ctx context.Context, strategy string, filter common.EntityFilter) (Report, error) {
	s, err := r.Strategy(strategy)
	if err != nil {
		return Report{}, err
	}
	return r.ResolveWith(ctx, s, filter)
}

// Strategy builds the named strategy with the resolver's thresholds.
func (r *Resolver) Strategy(name string) (Strategy, error) {
	return NewStrategy(name, r.opts)
}

// ResolveWith runs a caller supplied strategy.
func (r *Resolver) ResolveWith(ctx context.Context, s Strategy, filter common.EntityFilter) (Report, error) {
	if filter.IndexName == "" {
		return Report{}, common.Validation("resolve", "index name is required")
	}
	report := Report{Strategy: s.Name()}

	entities, err := r.store.ListEntities(ctx, filter)
	if err != nil {
		return report, fmt.Errorf("list entities: %w", err)
	}
	report.Candidates = len(entities)
	if len(entities) < 2 {
		return report, nil
	}

	groups := s.Groups(entities)
	report.Groups = len(groups)
	if len(groups) == 0 {
		log.Debug("no duplicates found", "index", filter.IndexName, "strategy", s.Name(), "candidates", len(entities))
		return report, nil
	}

	merges := make([]common.MergeGroup, 0, len(groups))
	for _, g := range groups {
		mg, canonical := BuildMergeGroup(g)
		merges = append(merges, mg)
		report.Merges = append(report.Merges, Merge{
			Canonical:  canonical.ID,
			Name:       canonical.Name,
			Label:      canonical.Label,
			Duplicates: mg.Duplicates,
		})
	}

	stats, err := r.store.MergeEntities(ctx, filter.IndexName, merges)
	if err != nil {
		return report, fmt.Errorf("merge entities: %w", err)
	}
	report.Stats = stats
	report.Merged = stats.EntitiesRemoved

	log.Info("resolution finished",
		"index", filter.IndexName,
		"strategy", s.Name(),
		"candidates", report.Candidates,
		"groups", report.Groups,
		"merged", report.Merged,
		"relationships_dropped", stats.RelationshipsDropped,
	)
	return report, nil
}

// rank orders a duplicate group: most sources first, then the longest name,
// then the smallest id.
func rank(group []common.Entity) []common.Entity {
	out := append([]common.Entity(nil), group...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if len(a.Sources) != len(b.Sources) {
			return len(a.Sources) > len(b.Sources)
		}
		la, lb := utf8.RuneCountInString(a.Name), utf8.RuneCountInString(b.Name)
		if la != lb {
			return la > lb
		}
		return a.ID < b.ID
	})
	return out
}

// BuildMergeGroup picks the canonical entity of group and unions the
// properties of all members. On conflicting keys the higher ranked entity
// wins, so the canonical value is always kept.
func BuildMergeGroup(group []common.Entity) (common.MergeGroup, common.Entity) {
	ranked := rank(group)
	canonical := ranked[0]

	props := map[string]any{}
	for _, e := range ranked {
		for k, v := range e.Properties {
			if _, ok := props[k]; !ok {
				props[k] = v
			}
		}
	}

	dupes := make([]string, 0, len(ranked)-1)
	for _, e := range ranked[1:] {
		dupes = append(dupes, e.ID)
	}
	sort.Strings(dupes)

	return common.MergeGroup{
		Canonical:  canonical.ID,
		Duplicates: dupes,
		Properties: props,
	}, canonical
}
