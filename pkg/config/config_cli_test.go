package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithCLIOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	content := []byte(`{
  "tools": {"active_dir": "from-file"},
  "telemetry": {"exporter": "stdout"}
}`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("WARDEN_TOOLS_ACTIVE_DIR", "from-env")

	cfg, err := LoadWithCLI([]string{
		"serve",
		"--config", path,
		"--set", "tools.active_dir=from-cli",
		"--set", "tools.watch=true",
		"--set", "telemetry.otlp_timeout_seconds=12",
		"--set=execution.timeout=1500ms",
		`--set`, `admission.forbidden_calls=["eval","exec"]`,
	})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	if cfg.Tools.ActiveDir != "from-cli" {
		t.Fatalf("expected cli override, got %s", cfg.Tools.ActiveDir)
	}
	if !cfg.Tools.Watch {
		t.Fatalf("expected tools.watch=true")
	}
	if cfg.Telemetry.Exporter != "stdout" {
		t.Fatalf("expected exporter from file, got %s", cfg.Telemetry.Exporter)
	}
	if cfg.Telemetry.OTLPTimeoutSeconds != 12 {
		t.Fatalf("expected telemetry timeout override")
	}
	if cfg.Execution.Timeout != 1500*time.Millisecond {
		t.Fatalf("unexpected timeout: %s", cfg.Execution.Timeout)
	}
	if got := cfg.Admission.ForbiddenCalls; len(got) != 2 || got[1] != "exec" {
		t.Fatalf("unexpected forbidden calls: %v", got)
	}
}

func TestParseCLIOverridesErrors(t *testing.T) {
	if _, _, err := parseCLIOverrides([]string{"--config"}); err == nil {
		t.Fatalf("expected error for missing --config value")
	}
	if _, _, err := parseCLIOverrides([]string{"--set"}); err == nil {
		t.Fatalf("expected error for missing --set value")
	}
	if _, _, err := parseCLIOverrides([]string{"--set", "invalid"}); err == nil {
		t.Fatalf("expected error for invalid --set value")
	}
	if _, _, err := parseCLIOverrides([]string{"--config="}); err == nil {
		t.Fatalf("expected error for empty --config= value")
	}
}

func TestParseCLIOverridesDecodesJSON(t *testing.T) {
	path, overrides, err := parseCLIOverrides([]string{"--config=a.yaml", "--set", "tools.watch=false", "--set", "skills.dir=my skills"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if path != "a.yaml" {
		t.Fatalf("unexpected path: %s", path)
	}
	if v, ok := overrides["tools.watch"].(bool); !ok || v {
		t.Fatalf("expected bool false, got %#v", overrides["tools.watch"])
	}
	if overrides["skills.dir"] != "my skills" {
		t.Fatalf("expected raw string, got %#v", overrides["skills.dir"])
	}
}
