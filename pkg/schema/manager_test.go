package schema

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai/aitest"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store/sqlite"
)

const extractedPayload = `{
	"node_types": [
		{"label": "Person", "description": "A human", "properties": ["name", "email"]},
		{"label": "Company", "description": "", "properties": []},
		{"label": "Person", "description": "duplicate", "properties": []}
	],
	"relationship_types": [{"label": "works_for", "description": ""}],
	"patterns": [
		{"source": "Person", "relation": "works_for", "target": "Company"},
		{"source": "Person", "relation": "OWNS", "target": "Company"},
		{"source": "Robot", "relation": "WORKS_FOR", "target": "Company"}
	]
}`

func newManager(t *testing.T) (*Manager, *aitest.Client) {
	t.Helper()
	ctx := context.Background()
	s, err := sqlite.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if _, err := s.UpsertIndex(ctx, common.Index{Name: "papers"}); err != nil {
		t.Fatalf("upsert index: %v", err)
	}

	client := aitest.New(8)
	client.Format = func(name, prompt string, out any) error {
		return json.Unmarshal([]byte(extractedPayload), out)
	}
	return NewManager(s, client), client
}

func TestExtractFromText(t *testing.T) {
	m, client := newManager(t)
	ctx := context.Background()

	got, err := m.ExtractFromText(ctx, "papers", "Ada works for ACME.")
	if err != nil {
		t.Fatalf("ExtractFromText: %v", err)
	}
	if len(client.Formats) != 1 {
		t.Fatalf("expected one extraction call, got %d", len(client.Formats))
	}
	if len(got.NodeTypes) != 2 {
		t.Fatalf("duplicates must be dropped, got %v", got.NodeLabels())
	}
	if got.NodeTypes[0].Properties[0] != (Property{Name: "name", Type: "STRING", Required: true}) {
		t.Fatalf("first property should be required: %v", got.NodeTypes[0].Properties)
	}
	if len(got.Patterns) != 1 || got.Patterns[0] != (Pattern{"Person", "WORKS_FOR", "Company"}) {
		t.Fatalf("invalid patterns must be dropped, got %v", got.Patterns)
	}

	stored, err := m.Load(ctx, "papers", KeyAuto)
	if err != nil || stored == nil {
		t.Fatalf("extracted schema not stored: %v", err)
	}
	if len(stored.Patterns) != 1 || !stored.Strict {
		t.Fatalf("stored schema differs: %+v", stored)
	}
}

func TestExtractFromTextRequiresSample(t *testing.T) {
	m, client := newManager(t)
	if _, err := m.ExtractFromText(context.Background(), "papers", "   "); !common.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(client.Formats) != 0 {
		t.Fatal("model must not be called without a sample")
	}
}

func TestResolve(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	open, err := m.Resolve(ctx, "papers", "", "")
	if err != nil || !open.IsOpen() {
		t.Fatalf("empty key should resolve to the open schema, got %+v, %v", open, err)
	}

	biz, err := m.Resolve(ctx, "papers", "business", "")
	if err != nil || !biz.Allows("Company") || biz.Allows("Planet") {
		t.Fatalf("preset not resolved: %+v, %v", biz, err)
	}

	if _, err := m.Resolve(ctx, "papers", "auto", ""); !common.IsValidation(err) {
		t.Fatalf("auto without sample should fail validation, got %v", err)
	}

	if _, err := m.Resolve(ctx, "papers", "medical", ""); !common.IsValidation(err) {
		t.Fatalf("unknown key should fail validation, got %v", err)
	}

	custom := Schema{
		NodeTypes:         []NodeType{{Label: "Gene"}, {Label: "Disease"}},
		RelationshipTypes: []RelationshipType{{Label: "ASSOCIATED_WITH"}},
		Patterns:          []Pattern{{"Gene", "ASSOCIATED_WITH", "Disease"}},
		Strict:            true,
	}
	if _, err := m.Define(ctx, "papers", "medical", custom); err != nil {
		t.Fatalf("Define: %v", err)
	}
	got, err := m.Resolve(ctx, "papers", "medical", "")
	if err != nil {
		t.Fatalf("Resolve custom: %v", err)
	}
	if !got.AllowsPattern("Gene", "ASSOCIATED_WITH", "Disease") || got.Allows("Person") {
		t.Fatalf("custom schema not applied: %+v", got)
	}
}

func TestDefineRejectsReservedKeys(t *testing.T) {
	m, _ := newManager(t)
	for _, key := range []string{"auto", "default", "academic"} {
		if _, err := m.Define(context.Background(), "papers", key, Schema{}); !common.IsValidation(err) {
			t.Fatalf("key %q should be reserved, got %v", key, err)
		}
	}
}
