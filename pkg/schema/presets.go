package schema

import (
	"slices"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
)

func labels(names ...string) []NodeType {
	out := make([]NodeType, len(names))
	for i, n := range names {
		out[i] = NodeType{Label: n}
	}
	return out
}

func relTypes(names ...string) []RelationshipType {
	out := make([]RelationshipType, len(names))
	for i, n := range names {
		out[i] = RelationshipType{Label: n}
	}
	return out
}

var presets = map[string]Schema{
	"academic": {
		NodeTypes: []NodeType{
			{Label: "Person", Properties: []Property{
				{Name: "name", Type: "STRING", Required: true},
				{Name: "email", Type: "STRING"},
			}},
			{Label: "Publication", Properties: []Property{
				{Name: "title", Type: "STRING", Required: true},
				{Name: "year", Type: "INTEGER"},
			}},
			{Label: "Institution"},
			{Label: "ResearchField"},
		},
		RelationshipTypes: relTypes("AUTHORED", "AFFILIATED_WITH", "CITED_BY", "RELATED_TO"),
		Patterns: []Pattern{
			{"Person", "AUTHORED", "Publication"},
			{"Person", "AFFILIATED_WITH", "Institution"},
			{"Publication", "CITED_BY", "Publication"},
			{"Publication", "RELATED_TO", "ResearchField"},
		},
		Strict: true,
	},
	"business": {
		NodeTypes:         labels("Company", "Person", "Product", "Location"),
		RelationshipTypes: relTypes("WORKS_FOR", "CEO_OF", "PRODUCES", "LOCATED_IN", "PARTNERS_WITH"),
		Patterns: []Pattern{
			{"Person", "WORKS_FOR", "Company"},
			{"Person", "CEO_OF", "Company"},
			{"Company", "PRODUCES", "Product"},
			{"Company", "LOCATED_IN", "Location"},
			{"Company", "PARTNERS_WITH", "Company"},
		},
		Strict: true,
	},
}

// PresetNames lists the built-in schema keys in sorted order.
func PresetNames() []string {
	out := make([]string, 0, len(presets))
	for k := range presets {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Presets returns a copy of every built-in schema keyed by name.
func Presets() map[string]Schema {
	out := make(map[string]Schema, len(presets))
	for k := range presets {
		out[k], _ = Preset(k)
	}
	return out
}

// Preset returns the built-in schema for key.
func Preset(key string) (Schema, error) {
	p, ok := presets[key]
	if !ok {
		return Schema{}, common.Validation("schema_preset", "unknown schema preset: %s", key)
	}
	return Schema{
		NodeTypes:         slices.Clone(p.NodeTypes),
		RelationshipTypes: slices.Clone(p.RelationshipTypes),
		Patterns:          slices.Clone(p.Patterns),
		Strict:            p.Strict,
	}, nil
}

// IsPreset reports whether key names a built-in schema.
func IsPreset(key string) bool {
	_, ok := presets[key]
	return ok
}
