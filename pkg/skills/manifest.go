package skills

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	schemagen "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Manifest declares a skill package.
type Manifest struct {
	Name            string   `json:"name" yaml:"name" jsonschema:"minLength=1,description=Human readable skill name"`
	Description     string   `json:"description" yaml:"description" jsonschema:"minLength=1"`
	EntryPoint      string   `json:"entry_point" yaml:"entry_point" jsonschema:"minLength=1,description=Go file exposing Run; .go is implied"`
	TriggerKeywords []string `json:"trigger_keywords,omitempty" yaml:"trigger_keywords,omitempty" jsonschema:"description=Phrases that route a task to this skill"`
}

// ManifestFiles are looked up in order inside each skill directory.
var ManifestFiles = []string{"manifest.json", "manifest.yaml", "manifest.yml"}

// manifestAliases maps accepted camelCase keys to their canonical names.
var manifestAliases = map[string]string{
	"entryPoint":      "entry_point",
	"triggerKeywords": "trigger_keywords",
}

const schemaURL = "warden://skills/manifest.schema.json"

var manifestSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	raw, err := ManifestSchema()
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(schemaURL)
})

// ManifestSchema returns the JSON Schema manifests are validated against.
func ManifestSchema() ([]byte, error) {
	r := &schemagen.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	return json.MarshalIndent(r.Reflect(&Manifest{}), "", "  ")
}

// findManifest returns the manifest path inside dir, or "" when none exists.
func findManifest(dir string) string {
	for _, name := range ManifestFiles {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// LoadManifest reads, validates and normalizes a manifest file.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	return ParseManifest(filepath.Ext(path), data)
}

// ParseManifest decodes a JSON or YAML manifest. ext selects the format.
func ParseManifest(ext string, data []byte) (Manifest, error) {
	var doc map[string]any
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Manifest{}, fmt.Errorf("parse manifest: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return Manifest{}, fmt.Errorf("parse manifest: %w", err)
		}
	}
	if doc == nil {
		return Manifest{}, errors.New("manifest is empty")
	}
	for alias, key := range manifestAliases {
		if value, ok := doc[alias]; ok {
			if _, set := doc[key]; !set {
				doc[key] = value
			}
			delete(doc, alias)
		}
	}

	// Round-trip through JSON so YAML documents validate with JSON types.
	normalized, err := json.Marshal(doc)
	if err != nil {
		return Manifest{}, fmt.Errorf("normalize manifest: %w", err)
	}
	var instance any
	if err := json.Unmarshal(normalized, &instance); err != nil {
		return Manifest{}, err
	}
	schema, err := manifestSchema()
	if err != nil {
		return Manifest{}, fmt.Errorf("compile manifest schema: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return Manifest{}, fmt.Errorf("invalid manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(normalized, &m); err != nil {
		return Manifest{}, err
	}
	m.Name = strings.TrimSpace(m.Name)
	m.Description = strings.TrimSpace(m.Description)
	m.EntryPoint = strings.TrimSpace(m.EntryPoint)
	m.TriggerKeywords = normalizeTriggers(m.TriggerKeywords)
	if m.Name == "" || m.Description == "" || m.EntryPoint == "" {
		return Manifest{}, errors.New("invalid manifest: name, description and entry_point must not be blank")
	}
	return m, nil
}

// resolveEntryPoint maps entry_point to a file inside dir. A missing
// extension means ".go"; paths leaving dir are rejected.
func resolveEntryPoint(dir, entryPoint string) (string, error) {
	if filepath.Ext(entryPoint) == "" {
		entryPoint += ".go"
	}
	clean := filepath.Clean(filepath.FromSlash(entryPoint))
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("entry point %q escapes the skill directory", entryPoint)
	}
	full := filepath.Join(dir, clean)
	if info, err := os.Stat(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("entry point %q not found", entryPoint)
		}
		return "", err
	} else if info.IsDir() {
		return "", fmt.Errorf("entry point %q is a directory", entryPoint)
	}
	return full, nil
}

// normalizeTriggers lowercases and dedupes trigger phrases.
func normalizeTriggers(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
