package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "rag.db"))
	t.Setenv("AI_ADAPTER", "ollama")
	t.Setenv("VECTOR_DIMENSIONS", "8")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("AWS_BUCKET", "")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIndexCommands(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "index", "create", "papers", "--description", "ml papers")
	require.NoError(t, err, out)
	var idx map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &idx))
	assert.Equal(t, "papers", idx["name"])
	assert.EqualValues(t, 8, idx["dimension"])

	_, err = run(t, "index", "create", "papers", "--description", "")
	require.Error(t, err)

	out, err = run(t, "index", "list")
	require.NoError(t, err, out)
	var list []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)

	out, err = run(t, "index", "delete", "papers")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Deleted index papers")

	_, err = run(t, "index", "delete", "papers")
	require.Error(t, err)
}

func TestDocAddRequiresSource(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "index", "create", "papers")
	require.NoError(t, err)

	out, err := run(t, "doc", "add", "papers")
	require.Error(t, err)
	assert.Contains(t, out, "one of --content, --file or --s3-key is required")
}

func TestSchemaPresets(t *testing.T) {
	out, err := run(t, "schema", "presets")
	require.NoError(t, err, out)
	var presets map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &presets))
	assert.Contains(t, presets, "academic")
	assert.Contains(t, presets, "business")
}

func TestMigrateRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := run(t, "migrate")
	require.Error(t, err)
}
