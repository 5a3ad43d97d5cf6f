package resolver

import (
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"

	"github.com/agnivade/levenshtein"
)

type fuzzyStrategy struct {
	property  string
	threshold float64
}

func (fuzzyStrategy) Name() string { return "fuzzy" }

// similarity is 1 - distance / longer length, computed on runes.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func (s fuzzyStrategy) Groups(entities []common.Entity) [][]common.Entity {
	var groups [][]common.Entity
	for _, bucket := range byLabel(entities) {
		keys := make([]string, len(bucket))
		for i, e := range bucket {
			keys[i] = identity(e, s.property)
		}
		groups = append(groups, cluster(bucket, func(i, j int) bool {
			if keys[i] == "" || keys[j] == "" {
				return false
			}
			return similarity(keys[i], keys[j]) > s.threshold
		})...)
	}
	return finalize(groups)
}
