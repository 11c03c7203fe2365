package skills

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifestJSON(t *testing.T) {
	m, err := ParseManifest(".json", []byte(`{
		"name": "Hello World",
		"description": "Greets the user",
		"entry_point": "logic",
		"trigger_keywords": ["Say Hello", "greet", "say hello"],
		"version": "1.0"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "Hello World", m.Name)
	assert.Equal(t, "logic", m.EntryPoint)
	assert.Equal(t, []string{"say hello", "greet"}, m.TriggerKeywords)
}

func TestParseManifestYAMLWithAlias(t *testing.T) {
	m, err := ParseManifest(".yaml", []byte(`
name: Todo
description: Manages tasks
entryPoint: todo.go
trigger_keywords:
  - todo
`))
	require.NoError(t, err)
	assert.Equal(t, "todo.go", m.EntryPoint)
	assert.Equal(t, []string{"todo"}, m.TriggerKeywords)
}

func TestParseManifestCamelCaseKeys(t *testing.T) {
	m, err := ParseManifest(".json", []byte(`{"name": "Hello", "description": "Greets", "entryPoint": "logic", "triggerKeywords": ["Hello"]}`))
	require.NoError(t, err)
	assert.Equal(t, "logic", m.EntryPoint)
	assert.Equal(t, []string{"hello"}, m.TriggerKeywords)

	m, err = ParseManifest(".json", []byte(`{"name": "n", "description": "d", "entry_point": "main", "entryPoint": "other", "trigger_keywords": ["a"], "triggerKeywords": ["b"]}`))
	require.NoError(t, err)
	assert.Equal(t, "main", m.EntryPoint)
	assert.Equal(t, []string{"a"}, m.TriggerKeywords)

	_, err = ParseManifest(".json", []byte(`{"name": "n", "description": "d", "entryPoint": "logic", "triggerKeywords": "hi"}`))
	require.Error(t, err)
}

func TestParseManifestRejectsMissingFields(t *testing.T) {
	cases := map[string]string{
		"no name":         `{"description": "d", "entry_point": "logic"}`,
		"no description":  `{"name": "n", "entry_point": "logic"}`,
		"no entry point":  `{"name": "n", "description": "d"}`,
		"empty name":      `{"name": "", "description": "d", "entry_point": "logic"}`,
		"blank name":      `{"name": "   ", "description": "d", "entry_point": "logic"}`,
		"wrong type":      `{"name": 3, "description": "d", "entry_point": "logic"}`,
		"triggers string": `{"name": "n", "description": "d", "entry_point": "logic", "trigger_keywords": "hi"}`,
		"not an object":   `[]`,
		"malformed":       `{`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseManifest(".json", []byte(doc))
			require.Error(t, err)
		})
	}
}

func TestManifestSchema(t *testing.T) {
	raw, err := ManifestSchema()
	require.NoError(t, err)
	var schema map[string]any
	require.NoError(t, json.Unmarshal(raw, &schema))
	assert.ElementsMatch(t, []any{"name", "description", "entry_point"}, schema["required"])
}

func TestResolveEntryPoint(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logic.go"), []byte("package x\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.go"), 0o755))

	got, err := resolveEntryPoint(dir, "logic")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "logic.go"), got)

	got, err = resolveEntryPoint(dir, "logic.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "logic.go"), got)

	for _, bad := range []string{"../escape", "/etc/passwd.go", "missing", "sub.go"} {
		_, err := resolveEntryPoint(dir, bad)
		assert.Error(t, err, bad)
	}
}
