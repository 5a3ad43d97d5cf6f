package service

import (
	"context"
	"strings"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/schema"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"
)

// Schema modes of SchemaInput.
const (
	SchemaModeDefine = "define"
	SchemaModePreset = "preset"
	SchemaModeAuto   = "auto"
)

type SchemaInput struct {
	Mode   string         `json:"mode" validate:"required,oneof=define preset auto"`
	Key    string         `json:"key"`
	Schema *schema.Schema `json:"schema"`
	Sample string         `json:"sample"`
}

// SchemaResult is the schema now available for ingestion under Key.
type SchemaResult struct {
	Key    string        `json:"key"`
	Schema schema.Schema `json:"schema"`
}

type SchemaService struct {
	store   store.IndexStore
	manager *schema.Manager
}

// Presets returns the built-in schemas keyed by name.
func (s *SchemaService) Presets() map[string]schema.Schema {
	return schema.Presets()
}

// Apply defines, selects or extracts a schema for an index.
func (s *SchemaService) Apply(ctx context.Context, indexName string, in SchemaInput) (SchemaResult, error) {
	const op = "apply_schema"
	idx, err := s.store.GetIndex(ctx, indexName)
	if err != nil {
		return SchemaResult{}, err
	}
	if idx == nil {
		return SchemaResult{}, common.NotFound(op, "index %s not found", indexName)
	}

	key := strings.TrimSpace(in.Key)
	switch strings.ToLower(strings.TrimSpace(in.Mode)) {
	case SchemaModeDefine:
		if in.Schema == nil {
			return SchemaResult{}, common.Validation(op, "schema is required in define mode")
		}
		if key == "" {
			key = schema.KeyCustom
		}
		defined, err := s.manager.Define(ctx, idx.Name, key, *in.Schema)
		if err != nil {
			return SchemaResult{}, err
		}
		return SchemaResult{Key: key, Schema: defined}, nil
	case SchemaModePreset:
		preset, err := schema.Preset(key)
		if err != nil {
			return SchemaResult{}, err
		}
		return SchemaResult{Key: key, Schema: preset}, nil
	case SchemaModeAuto:
		extracted, err := s.manager.ExtractFromText(ctx, idx.Name, in.Sample)
		if err != nil {
			return SchemaResult{}, err
		}
		return SchemaResult{Key: schema.KeyAuto, Schema: extracted}, nil
	}
	return SchemaResult{}, common.Validation(op, "unknown schema mode %q", in.Mode)
}
