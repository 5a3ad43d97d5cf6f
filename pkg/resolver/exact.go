package resolver

import "github.com/OFFIS-RIT/kiwi/rag/pkg/common"

type exactStrategy struct {
	property string
}

func (exactStrategy) Name() string { return "exact" }

func (s exactStrategy) Groups(entities []common.Entity) [][]common.Entity {
	var groups [][]common.Entity
	for _, bucket := range byLabel(entities) {
		keyed := map[string]int{}
		for _, e := range bucket {
			key := identity(e, s.property)
			if key == "" {
				continue
			}
			i, ok := keyed[key]
			if !ok {
				i = len(groups)
				keyed[key] = i
				groups = append(groups, nil)
			}
			groups[i] = append(groups[i], e)
		}
	}
	return finalize(groups)
}
