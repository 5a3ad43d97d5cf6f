package graph

import (
	"fmt"
	"slices"

	"github.com/OFFIS-RIT/kiwi/rag/internal/util"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// graphBuilder merges the extraction results of one run. Entities with the
// same label and normalised name collapse into one node, relationships with
// the same endpoints and type into one edge.
type graphBuilder struct {
	index     string
	entities  []common.Entity
	relations []common.Relationship
	entityIdx map[string]int
	relIdx    map[string]int
}

func newGraphBuilder(index string) *graphBuilder {
	return &graphBuilder{
		index:     index,
		entityIdx: map[string]int{},
		relIdx:    map[string]int{},
	}
}

func entityKey(label, name string) string {
	return label + "\x00" + util.NormalizeKey(name)
}

func appendSource(sources []string, chunkID string) []string {
	if slices.Contains(sources, chunkID) {
		return sources
	}
	return append(sources, chunkID)
}

func mergeProperties(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
	return dst
}

// mergeEntitiesAndRelations folds the result of chunkID into the builder.
// Earlier chunks win on conflicting property values.
func (b *graphBuilder) mergeEntitiesAndRelations(chunkID string, res extractResponse) error {
	// a name resolves to the first label it was extracted with in this chunk
	local := map[string]string{}

	for _, e := range res.Entities {
		key := entityKey(e.Label, e.Name)
		norm := util.NormalizeKey(e.Name)
		if _, ok := local[norm]; !ok {
			local[norm] = key
		}

		if i, ok := b.entityIdx[key]; ok {
			b.entities[i].Sources = appendSource(b.entities[i].Sources, chunkID)
			b.entities[i].Properties = mergeProperties(b.entities[i].Properties, toProperties(e.Properties))
			continue
		}

		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate ID for entity: %w", err)
		}
		b.entityIdx[key] = len(b.entities)
		b.entities = append(b.entities, common.Entity{
			ID:         id,
			IndexName:  b.index,
			Label:      e.Label,
			Name:       e.Name,
			Properties: toProperties(e.Properties),
			Sources:    []string{chunkID},
		})
	}

	for _, r := range res.Relationships {
		srcKey, ok := local[util.NormalizeKey(r.Source)]
		if !ok {
			continue
		}
		dstKey, ok := local[util.NormalizeKey(r.Target)]
		if !ok {
			continue
		}
		src := b.entities[b.entityIdx[srcKey]]
		dst := b.entities[b.entityIdx[dstKey]]
		if src.ID == dst.ID {
			continue
		}

		key := src.ID + "\x00" + r.Type + "\x00" + dst.ID
		if i, ok := b.relIdx[key]; ok {
			b.relations[i].Sources = appendSource(b.relations[i].Sources, chunkID)
			b.relations[i].Properties = mergeProperties(b.relations[i].Properties, toProperties(r.Properties))
			continue
		}

		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate ID for relationship: %w", err)
		}
		b.relIdx[key] = len(b.relations)
		b.relations = append(b.relations, common.Relationship{
			ID:         id,
			IndexName:  b.index,
			SourceID:   src.ID,
			TargetID:   dst.ID,
			Type:       r.Type,
			Properties: toProperties(r.Properties),
			Sources:    []string{chunkID},
		})
	}
	return nil
}
