package resolver

import (
	"fmt"
	"slices"
	"sort"

	"github.com/OFFIS-RIT/kiwi/rag/internal/util"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
)

// Strategy partitions candidate entities into groups of duplicates. Only
// groups with at least two members are returned, each ordered by id.
type Strategy interface {
	Name() string
	Groups(entities []common.Entity) [][]common.Entity
}

// Options tunes the built-in strategies.
type Options struct {
	// Property is the identity property compared by exact and fuzzy
	// matching. Empty means the entity name.
	Property string
	// FuzzyThreshold is the normalised Levenshtein similarity a pair must
	// exceed to merge.
	FuzzyThreshold float64
	// SemanticThreshold is the cosine similarity of embeddings a pair must
	// exceed to merge.
	SemanticThreshold float64
}

const (
	DefaultFuzzyThreshold    = 0.85
	DefaultSemanticThreshold = 0.92
)

func (o Options) withDefaults() Options {
	if o.Property == "" {
		o.Property = "name"
	}
	if o.FuzzyThreshold <= 0 {
		o.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if o.SemanticThreshold <= 0 {
		o.SemanticThreshold = DefaultSemanticThreshold
	}
	return o
}

var strategies = map[string]func(Options) Strategy{
	"exact":    func(o Options) Strategy { return exactStrategy{property: o.Property} },
	"fuzzy":    func(o Options) Strategy { return fuzzyStrategy{property: o.Property, threshold: o.FuzzyThreshold} },
	"semantic": func(o Options) Strategy { return semanticStrategy{threshold: o.SemanticThreshold} },
}

// Names lists the registered strategies.
func Names() []string {
	out := make([]string, 0, len(strategies))
	for k := range strategies {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// NewStrategy looks up a strategy by name.
func NewStrategy(name string, opts Options) (Strategy, error) {
	build, ok := strategies[name]
	if !ok {
		return nil, common.Validation("resolve", "unknown resolution strategy %q, expected one of %v", name, Names())
	}
	return build(opts.withDefaults()), nil
}

// identity returns the normalised identity value of e.
func identity(e common.Entity, property string) string {
	if property == "" || property == "name" {
		return util.NormalizeKey(e.Name)
	}
	v, ok := e.Properties[property]
	if !ok || v == nil {
		return ""
	}
	return util.NormalizeKey(fmt.Sprint(v))
}

// byLabel splits entities per label, keeping input order.
func byLabel(entities []common.Entity) [][]common.Entity {
	idx := map[string]int{}
	var out [][]common.Entity
	for _, e := range entities {
		i, ok := idx[e.Label]
		if !ok {
			i = len(out)
			idx[e.Label] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], e)
	}
	return out
}

func finalize(groups [][]common.Entity) [][]common.Entity {
	out := make([][]common.Entity, 0, len(groups))
	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		sort.Slice(g, func(i, j int) bool { return g[i].ID < g[j].ID })
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0].ID < out[j][0].ID })
	return out
}

// cluster joins every pair for which match holds and returns the connected
// components.
func cluster(items []common.Entity, match func(i, j int) bool) [][]common.Entity {
	parent := make([]int, len(items))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	for i := range items {
		for j := i + 1; j < len(items); j++ {
			if match(i, j) {
				if ri, rj := find(i), find(j); ri != rj {
					parent[rj] = ri
				}
			}
		}
	}

	comp := map[int]int{}
	var out [][]common.Entity
	for i, e := range items {
		root := find(i)
		k, ok := comp[root]
		if !ok {
			k = len(out)
			comp[root] = k
			out = append(out, nil)
		}
		out[k] = append(out[k], e)
	}
	return out
}
