// Package schema holds the graph schema value object that constrains
// knowledge-graph extraction, the built-in presets and the per-index
// schema manager.
package schema

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
)

type Property struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Required bool   `json:"required,omitempty"`
}

type NodeType struct {
	Label       string     `json:"label"`
	Description string     `json:"description,omitempty"`
	Properties  []Property `json:"properties,omitempty"`
}

type RelationshipType struct {
	Label       string     `json:"label"`
	Description string     `json:"description,omitempty"`
	Properties  []Property `json:"properties,omitempty"`
}

// Pattern is an allowed (source label, relationship type, target label)
// triple. It decodes from an object or a three element array.
type Pattern struct {
	Source   string `json:"source"`
	Relation string `json:"relation"`
	Target   string `json:"target"`
}

func (p *Pattern) UnmarshalJSON(b []byte) error {
	var triple []string
	if err := json.Unmarshal(b, &triple); err == nil {
		if len(triple) != 3 {
			return fmt.Errorf("pattern needs 3 elements, got %d", len(triple))
		}
		*p = Pattern{Source: triple[0], Relation: triple[1], Target: triple[2]}
		return nil
	}
	type plain Pattern
	var out plain
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*p = Pattern(out)
	return nil
}

func (p Pattern) String() string {
	return fmt.Sprintf("(%s)-[%s]->(%s)", p.Source, p.Relation, p.Target)
}

// Schema constrains extraction. A schema without node types is open and
// allows everything. Strict schemas drop entities and relationships that
// fall outside the declared types and patterns; non-strict schemas only
// guide the extraction prompt.
type Schema struct {
	NodeTypes         []NodeType         `json:"node_types"`
	RelationshipTypes []RelationshipType `json:"relationship_types"`
	Patterns          []Pattern          `json:"patterns"`
	Strict            bool               `json:"strict"`
}

// Open returns the schema used when no schema key is given.
func Open() Schema {
	return Schema{}
}

func (s Schema) IsOpen() bool {
	return len(s.NodeTypes) == 0 && len(s.RelationshipTypes) == 0 && len(s.Patterns) == 0
}

// Define validates and normalises a schema. Labels are trimmed; empty or
// duplicate labels and patterns naming undeclared labels are rejected.
func Define(nodeTypes []NodeType, relTypes []RelationshipType, patterns []Pattern, strict bool) (Schema, error) {
	const op = "define_schema"
	s := Schema{Strict: strict}

	nodes := map[string]struct{}{}
	for _, n := range nodeTypes {
		n.Label = strings.TrimSpace(n.Label)
		if n.Label == "" {
			return Schema{}, common.Validation(op, "node type label is empty")
		}
		if _, ok := nodes[n.Label]; ok {
			return Schema{}, common.Validation(op, "duplicate node type %q", n.Label)
		}
		nodes[n.Label] = struct{}{}
		s.NodeTypes = append(s.NodeTypes, n)
	}

	rels := map[string]struct{}{}
	for _, r := range relTypes {
		r.Label = strings.TrimSpace(r.Label)
		if r.Label == "" {
			return Schema{}, common.Validation(op, "relationship type label is empty")
		}
		if _, ok := rels[r.Label]; ok {
			return Schema{}, common.Validation(op, "duplicate relationship type %q", r.Label)
		}
		rels[r.Label] = struct{}{}
		s.RelationshipTypes = append(s.RelationshipTypes, r)
	}

	for _, p := range patterns {
		p = Pattern{
			Source:   strings.TrimSpace(p.Source),
			Relation: strings.TrimSpace(p.Relation),
			Target:   strings.TrimSpace(p.Target),
		}
		if _, ok := nodes[p.Source]; !ok {
			return Schema{}, common.Validation(op, "pattern %s uses undeclared node type %q", p, p.Source)
		}
		if _, ok := nodes[p.Target]; !ok {
			return Schema{}, common.Validation(op, "pattern %s uses undeclared node type %q", p, p.Target)
		}
		if _, ok := rels[p.Relation]; !ok {
			return Schema{}, common.Validation(op, "pattern %s uses undeclared relationship type %q", p, p.Relation)
		}
		s.Patterns = append(s.Patterns, p)
	}
	return s, nil
}

func (s Schema) NodeLabels() []string {
	out := make([]string, 0, len(s.NodeTypes))
	for _, n := range s.NodeTypes {
		out = append(out, n.Label)
	}
	return out
}

func (s Schema) RelationshipLabels() []string {
	out := make([]string, 0, len(s.RelationshipTypes))
	for _, r := range s.RelationshipTypes {
		out = append(out, r.Label)
	}
	return out
}

// Allows reports whether entities with label survive filtering.
func (s Schema) Allows(label string) bool {
	if !s.Strict || len(s.NodeTypes) == 0 {
		return true
	}
	return slices.Contains(s.NodeLabels(), label)
}

// AllowsPattern reports whether a relationship survives filtering. Without
// declared patterns any declared relationship type between allowed labels
// passes.
func (s Schema) AllowsPattern(source, relation, target string) bool {
	if !s.Strict {
		return true
	}
	if !s.Allows(source) || !s.Allows(target) {
		return false
	}
	if len(s.Patterns) == 0 {
		return len(s.RelationshipTypes) == 0 || slices.Contains(s.RelationshipLabels(), relation)
	}
	return slices.Contains(s.Patterns, Pattern{Source: source, Relation: relation, Target: target})
}

// Filter drops entities and relationships the schema does not allow.
// Relationships whose endpoints were dropped go as well.
func (s Schema) Filter(entities []common.Entity, rels []common.Relationship) ([]common.Entity, []common.Relationship) {
	labels := make(map[string]string, len(entities))
	keptEntities := make([]common.Entity, 0, len(entities))
	for _, e := range entities {
		if !s.Allows(e.Label) {
			continue
		}
		labels[e.ID] = e.Label
		keptEntities = append(keptEntities, e)
	}

	keptRels := make([]common.Relationship, 0, len(rels))
	for _, r := range rels {
		src, ok := labels[r.SourceID]
		if !ok {
			continue
		}
		dst, ok := labels[r.TargetID]
		if !ok {
			continue
		}
		if !s.AllowsPattern(src, r.Type, dst) {
			continue
		}
		keptRels = append(keptRels, r)
	}
	return keptEntities, keptRels
}

// PromptRules renders the constraints for the extraction system prompt. It
// is empty for open schemas.
func (s Schema) PromptRules(template string) string {
	if s.IsOpen() {
		return ""
	}
	nodes, rels, patterns := "any", "any", "any"
	if len(s.NodeTypes) > 0 {
		nodes = strings.Join(s.NodeLabels(), ", ")
	}
	if len(s.RelationshipTypes) > 0 {
		rels = strings.Join(s.RelationshipLabels(), ", ")
	}
	if len(s.Patterns) > 0 {
		parts := make([]string, 0, len(s.Patterns))
		for _, p := range s.Patterns {
			parts = append(parts, p.String())
		}
		patterns = strings.Join(parts, ", ")
	}
	return fmt.Sprintf(template, nodes, rels, patterns)
}
