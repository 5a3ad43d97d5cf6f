package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kiwi/rag/internal/util"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
)

// Properties come back as key/value pairs since strict structured output
// does not allow free-form objects.
type extractProperty struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type extractEntity struct {
	Name       string            `json:"name" jsonschema_description:"Name of the entity as it appears in the text"`
	Label      string            `json:"label" jsonschema_description:"One of the allowed entity labels"`
	Properties []extractProperty `json:"properties" jsonschema_description:"Attributes of the entity stated in the text"`
}

type extractRelationship struct {
	Source     string            `json:"source" jsonschema_description:"Name of the source entity, as listed in entities"`
	Target     string            `json:"target" jsonschema_description:"Name of the target entity, as listed in entities"`
	Type       string            `json:"type" jsonschema_description:"UPPER_SNAKE_CASE relationship type"`
	Properties []extractProperty `json:"properties" jsonschema_description:"Attributes of the relationship stated in the text"`
}

type extractResponse struct {
	Entities      []extractEntity       `json:"entities" jsonschema_description:"Entities identified in the text"`
	Relationships []extractRelationship `json:"relationships" jsonschema_description:"Relationships identified in the text"`
}

// extracted is what one chunk contributed, keyed by name. It carries no ids
// yet; those are assigned when the chunks are merged.
type extracted struct {
	chunk     int
	entities  []extractEntity
	relations []extractRelationship
}

func extractFromChunk(
	ctx context.Context,
	client ai.GraphAIClient,
	systemPrompt string,
	text string,
	opts ...ai.GenerateOption,
) (extractResponse, error) {
	var res extractResponse
	opts = append([]ai.GenerateOption{ai.WithSystemPrompts(systemPrompt)}, opts...)
	err := client.GenerateCompletionWithFormat(
		ctx,
		"extract_entities_and_relationships",
		"Extract entities and relationships from a text chunk.",
		fmt.Sprintf(ai.ExtractionPrompt, text),
		&res,
		opts...,
	)
	if err != nil {
		return extractResponse{}, err
	}
	return cleanResponse(res), nil
}

// cleanResponse trims names, drops nameless entries and relationships whose
// endpoints were not extracted from the same chunk.
func cleanResponse(res extractResponse) extractResponse {
	known := map[string]struct{}{}
	entities := make([]extractEntity, 0, len(res.Entities))
	for _, e := range res.Entities {
		e.Name = strings.TrimSpace(e.Name)
		e.Label = strings.TrimSpace(e.Label)
		if e.Name == "" || e.Label == "" {
			continue
		}
		known[util.NormalizeKey(e.Name)] = struct{}{}
		entities = append(entities, e)
	}

	rels := make([]extractRelationship, 0, len(res.Relationships))
	for _, r := range res.Relationships {
		r.Type = strings.ToUpper(strings.Join(strings.Fields(r.Type), "_"))
		if r.Type == "" {
			continue
		}
		if _, ok := known[util.NormalizeKey(r.Source)]; !ok {
			continue
		}
		if _, ok := known[util.NormalizeKey(r.Target)]; !ok {
			continue
		}
		rels = append(rels, r)
	}
	return extractResponse{Entities: entities, Relationships: rels}
}

func toProperties(props []extractProperty) map[string]any {
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]any, len(props))
	for _, p := range props {
		k := strings.TrimSpace(p.Key)
		if k == "" || k == "name" {
			continue
		}
		if _, ok := out[k]; !ok {
			out[k] = p.Value
		}
	}
	return out
}

func isTransient(err error) bool {
	return common.IsTransient(err) || ai.IsNetworkError(err)
}
