// Package config loads Warden settings from defaults, a YAML or JSON file,
// WARDEN_ environment variables and --set command line overrides.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Admission AdmissionConfig `koanf:"admission"`
	Tools     ToolsConfig     `koanf:"tools"`
	Skills    SkillsConfig    `koanf:"skills"`
	Secrets   SecretsConfig   `koanf:"secrets"`
	Audit     AuditConfig     `koanf:"audit"`
	Server    ServerConfig    `koanf:"server"`
	Execution ExecutionConfig `koanf:"execution"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter           string `koanf:"exporter"` // stdout, otlp, none
	ServiceName        string `koanf:"service_name"`
	ServiceVersion     string `koanf:"service_version"`
	OTLPEndpoint       string `koanf:"otlp_endpoint"`
	OTLPInsecure       bool   `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds int    `koanf:"otlp_timeout_seconds"`
}

// AdmissionConfig is the static vetting policy applied to staged artifacts.
// Entries may be exact names or path.Match globs.
type AdmissionConfig struct {
	ForbiddenImports []string `koanf:"forbidden_imports"`
	ForbiddenCalls   []string `koanf:"forbidden_calls"`
}

type ToolsConfig struct {
	StagingDir    string        `koanf:"staging_dir"`
	ActiveDir     string        `koanf:"active_dir"`
	Include       []string      `koanf:"include"`
	Exclude       []string      `koanf:"exclude"`
	Watch         bool          `koanf:"watch"`
	WatchDebounce time.Duration `koanf:"watch_debounce"`
}

type SkillsConfig struct {
	Dir string `koanf:"dir"`
}

type SecretsConfig struct {
	EnvFile string `koanf:"env_file"`
}

type AuditConfig struct {
	Backend string `koanf:"backend"` // memory, sqlite
	Path    string `koanf:"path"`
}

type ServerConfig struct {
	HTTPAddr string `koanf:"http_addr"`
}

type ExecutionConfig struct {
	// Timeout bounds a single invocation. Zero means unbounded.
	Timeout time.Duration `koanf:"timeout"`
}

// Baseline policy. Import roots, import paths and call names that are never
// admitted unless the operator overrides them.
var (
	DefaultForbiddenImports = []string{
		"os", "syscall", "net", "unsafe", "plugin", "runtime", "io/ioutil",
		"subprocess", "sys", "socket", "shutil", "urllib",
	}
	DefaultForbiddenCalls = []string{"eval", "exec", "compile", "open", "__import__"}
)

const envPrefix = "WARDEN_"

func setDefaults(k *koanf.Koanf) {
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("telemetry.exporter", "none")
	k.Set("telemetry.service_name", "warden")
	k.Set("telemetry.service_version", "dev")
	k.Set("telemetry.otlp_endpoint", "localhost:4317")
	k.Set("telemetry.otlp_insecure", true)
	k.Set("telemetry.otlp_timeout_seconds", 10)

	k.Set("admission.forbidden_imports", append([]string(nil), DefaultForbiddenImports...))
	k.Set("admission.forbidden_calls", append([]string(nil), DefaultForbiddenCalls...))

	k.Set("tools.staging_dir", "staging")
	k.Set("tools.active_dir", "tools")
	k.Set("tools.include", []string{"*.go"})
	k.Set("tools.exclude", []string{"*_test.go", "doc.go", "loader.go"})
	k.Set("tools.watch", false)
	k.Set("tools.watch_debounce", "250ms")

	k.Set("skills.dir", "skills")
	k.Set("secrets.env_file", ".env")

	k.Set("audit.backend", "memory")
	k.Set("audit.path", "warden-audit.db")

	k.Set("server.http_addr", ":8000")
	k.Set("execution.timeout", "0s")
}

// Load reads configuration from defaults, the optional file at path and the
// environment. WARDEN_TOOLS_STAGING_DIR maps to tools.staging_dir.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// LoadWithCLI behaves like Load but also honors --config and repeated
// --set key=value arguments. CLI overrides win over every other source.
func LoadWithCLI(args []string) (*Config, error) {
	path, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(path, overrides)
}

func load(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")
	setDefaults(k)

	// 1. Load from file (YAML is a superset of JSON)
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	// 2. Load from ENV
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	// 3. CLI overrides
	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("apply --set %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps WARDEN_SECTION_SOME_KEY to section.some_key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	section, rest, found := strings.Cut(s, "_")
	if !found {
		return section
	}
	return section + "." + rest
}

// parseCLIOverrides extracts --config and --set flags from args. Values are
// decoded as JSON when possible so lists, numbers and booleans keep their type.
func parseCLIOverrides(args []string) (string, map[string]any, error) {
	var path string
	overrides := map[string]any{}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		var name, value string
		hasValue := false
		switch {
		case arg == "--config" || arg == "--set":
			name = arg
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("%s requires a value", arg)
			}
			i++
			value, hasValue = args[i], true
		case strings.HasPrefix(arg, "--config="):
			name, value, hasValue = "--config", strings.TrimPrefix(arg, "--config="), true
		case strings.HasPrefix(arg, "--set="):
			name, value, hasValue = "--set", strings.TrimPrefix(arg, "--set="), true
		default:
			continue
		}
		if !hasValue || strings.TrimSpace(value) == "" {
			return "", nil, fmt.Errorf("%s requires a value", name)
		}
		if name == "--config" {
			path = value
			continue
		}
		key, raw, ok := strings.Cut(value, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return "", nil, fmt.Errorf("invalid --set %q: expected key=value", value)
		}
		overrides[key] = decodeValue(raw)
	}
	return path, overrides, nil
}

func decodeValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// Validate reports settings that cannot be honored.
func (c *Config) Validate() error {
	switch c.Audit.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("audit.backend must be memory or sqlite, got %q", c.Audit.Backend)
	}
	switch c.Telemetry.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return fmt.Errorf("telemetry.exporter must be stdout, otlp or none, got %q", c.Telemetry.Exporter)
	}
	if c.Execution.Timeout < 0 {
		return fmt.Errorf("execution.timeout must not be negative")
	}
	if strings.TrimSpace(c.Tools.ActiveDir) == "" {
		return fmt.Errorf("tools.active_dir is required")
	}
	return nil
}
