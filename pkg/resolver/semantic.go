package resolver

import (
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"
)

type semanticStrategy struct {
	threshold float64
}

func (semanticStrategy) Name() string { return "semantic" }

func (s semanticStrategy) Groups(entities []common.Entity) [][]common.Entity {
	var groups [][]common.Entity
	for _, bucket := range byLabel(entities) {
		groups = append(groups, cluster(bucket, func(i, j int) bool {
			a, b := bucket[i].Embedding, bucket[j].Embedding
			if len(a) == 0 || len(b) == 0 {
				return false
			}
			return store.CosineSimilarity(a, b) > s.threshold
		})...)
	}
	return finalize(groups)
}
