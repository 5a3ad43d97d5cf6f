package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"
)

const (
	// KeyDefault is recorded for ingestions without a schema key.
	KeyDefault = "default"
	// KeyAuto extracts a schema from the ingested text.
	KeyAuto = "auto"
	// KeyCustom is the key of a schema defined through the API without a
	// name of its own.
	KeyCustom = "custom"

	// maxSampleRunes bounds the text sent for schema extraction.
	maxSampleRunes = 8000
)

var log = logger.Component("Schema")

// extractedSchema is the structured output requested from the model. Every
// field is required so the reflected JSON schema is valid in strict mode.
type extractedSchema struct {
	NodeTypes []struct {
		Label       string   `json:"label" jsonschema:"description=Singular CamelCase label"`
		Description string   `json:"description"`
		Properties  []string `json:"properties" jsonschema:"description=Property names; the identifying property first"`
	} `json:"node_types"`
	RelationshipTypes []struct {
		Label       string `json:"label" jsonschema:"description=UPPER_SNAKE_CASE type"`
		Description string `json:"description"`
	} `json:"relationship_types"`
	Patterns []struct {
		Source   string `json:"source"`
		Relation string `json:"relation"`
		Target   string `json:"target"`
	} `json:"patterns"`
}

// Manager resolves schema keys and persists per-index schemas.
type Manager struct {
	store  store.SchemaStore
	client ai.GraphAIClient
	opts   []ai.GenerateOption
}

func NewManager(s store.SchemaStore, client ai.GraphAIClient, opts ...ai.GenerateOption) *Manager {
	return &Manager{store: s, client: client, opts: opts}
}

// ExtractFromText asks the extraction model for a schema fitting sample.
// Patterns referring to undeclared types are dropped rather than rejected.
// When index is set the result is stored under KeyAuto.
func (m *Manager) ExtractFromText(ctx context.Context, index, sample string) (Schema, error) {
	const op = "extract_schema"
	sample = strings.TrimSpace(sample)
	if sample == "" {
		return Schema{}, common.Validation(op, "sample text is required for automatic schema extraction")
	}
	if m.client == nil {
		return Schema{}, common.Validation(op, "no extraction client configured")
	}
	if r := []rune(sample); len(r) > maxSampleRunes {
		sample = string(r[:maxSampleRunes])
	}

	var out extractedSchema
	prompt := fmt.Sprintf(ai.SchemaExtractionPrompt, sample)
	if err := m.client.GenerateCompletionWithFormat(ctx, "graph_schema", "Node types, relationship types and patterns of a knowledge graph", prompt, &out, m.opts...); err != nil {
		return Schema{}, fmt.Errorf("%s: %w", op, err)
	}

	s := normalizeExtracted(out)
	log.Info("Schema extracted", "index", index, "node_types", len(s.NodeTypes), "relationship_types", len(s.RelationshipTypes), "patterns", len(s.Patterns))
	if index != "" {
		if err := m.Save(ctx, index, KeyAuto, s); err != nil {
			return Schema{}, err
		}
	}
	return s, nil
}

func normalizeExtracted(out extractedSchema) Schema {
	s := Schema{Strict: true}
	nodes := map[string]struct{}{}
	for _, n := range out.NodeTypes {
		label := strings.TrimSpace(n.Label)
		if label == "" {
			continue
		}
		if _, ok := nodes[label]; ok {
			continue
		}
		nodes[label] = struct{}{}
		nt := NodeType{Label: label, Description: strings.TrimSpace(n.Description)}
		for i, p := range n.Properties {
			if p = strings.TrimSpace(p); p != "" {
				nt.Properties = append(nt.Properties, Property{Name: p, Type: "STRING", Required: i == 0})
			}
		}
		s.NodeTypes = append(s.NodeTypes, nt)
	}

	rels := map[string]struct{}{}
	for _, r := range out.RelationshipTypes {
		label := strings.ToUpper(strings.TrimSpace(r.Label))
		if label == "" {
			continue
		}
		if _, ok := rels[label]; ok {
			continue
		}
		rels[label] = struct{}{}
		s.RelationshipTypes = append(s.RelationshipTypes, RelationshipType{Label: label, Description: strings.TrimSpace(r.Description)})
	}

	seen := map[Pattern]struct{}{}
	for _, p := range out.Patterns {
		pat := Pattern{
			Source:   strings.TrimSpace(p.Source),
			Relation: strings.ToUpper(strings.TrimSpace(p.Relation)),
			Target:   strings.TrimSpace(p.Target),
		}
		_, srcOK := nodes[pat.Source]
		_, dstOK := nodes[pat.Target]
		_, relOK := rels[pat.Relation]
		if !srcOK || !dstOK || !relOK {
			continue
		}
		if _, ok := seen[pat]; ok {
			continue
		}
		seen[pat] = struct{}{}
		s.Patterns = append(s.Patterns, pat)
	}
	return s
}

// Save stores s for index under key.
func (m *Manager) Save(ctx context.Context, index, key string, s Schema) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return m.store.SaveSchema(ctx, index, key, body)
}

// Load returns the schema stored for index under key, or nil.
func (m *Manager) Load(ctx context.Context, index, key string) (*Schema, error) {
	body, err := m.store.GetSchema(ctx, index, key)
	if err != nil || body == nil {
		return nil, err
	}
	var s Schema
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("failed to decode schema %s/%s: %w", index, key, err)
	}
	return &s, nil
}

// Define validates a custom schema and stores it for index. Reserved keys
// (presets, KeyAuto and KeyDefault) cannot be overwritten.
func (m *Manager) Define(ctx context.Context, index, key string, s Schema) (Schema, error) {
	if key == "" {
		key = KeyCustom
	}
	if key == KeyAuto || key == KeyDefault || IsPreset(key) {
		return Schema{}, common.Validation("define_schema", "schema key %q is reserved", key)
	}
	defined, err := Define(s.NodeTypes, s.RelationshipTypes, s.Patterns, s.Strict)
	if err != nil {
		return Schema{}, err
	}
	if err := m.Save(ctx, index, key, defined); err != nil {
		return Schema{}, err
	}
	log.Info("Custom schema defined", "index", index, "key", key)
	return defined, nil
}

// Resolve maps a schema key to a schema. The empty key gives the open
// schema, KeyAuto extracts one from sample, a preset name gives the preset
// and any other key must have been stored for index before.
func (m *Manager) Resolve(ctx context.Context, index, key, sample string) (Schema, error) {
	switch {
	case key == "" || key == KeyDefault:
		return Open(), nil
	case key == KeyAuto:
		return m.ExtractFromText(ctx, index, sample)
	case IsPreset(key):
		return Preset(key)
	}

	stored, err := m.Load(ctx, index, key)
	if err != nil {
		return Schema{}, err
	}
	if stored == nil {
		return Schema{}, common.Validation("resolve_schema", "unknown schema preset: %s", key)
	}
	return *stored, nil
}
