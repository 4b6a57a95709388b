package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	cfgDir := filepath.Join(dir, ".warden")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaultsWhenNoFiles(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	loader, err := NewLoader(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Settings.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.Settings.LogLevel)
	}
	if cfg.Settings.TimeoutSeconds != 30 {
		t.Errorf("TimeoutSeconds = %d", cfg.Settings.TimeoutSeconds)
	}
}

func TestLoadProjectOverridesGlobal(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv("HOME", home)

	writeConfig(t, home, `
version: "1"
settings:
  log_level: debug
  timeout_seconds: 10
gates:
  audit_threshold: 7
  modes:
    task: block
`)
	writeConfig(t, project, `
settings:
  log_level: warn
gates:
  modes:
    critic: block
`)

	loader, err := NewLoader(project)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Settings.LogLevel != "warn" {
		t.Errorf("project should override log level, got %q", cfg.Settings.LogLevel)
	}
	if cfg.Settings.TimeoutSeconds != 10 {
		t.Errorf("global timeout should survive, got %d", cfg.Settings.TimeoutSeconds)
	}
	if cfg.Gates.AuditThreshold != 7 {
		t.Errorf("AuditThreshold = %d", cfg.Gates.AuditThreshold)
	}
	if cfg.Gates.Modes["task"] != "block" || cfg.Gates.Modes["critic"] != "block" {
		t.Errorf("gate modes should merge per key: %v", cfg.Gates.Modes)
	}
}

func TestLoadRegistryReplacesPerKey(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv("HOME", home)

	writeConfig(t, home, `
registry:
  PreToolUse:
    - script: global_a.py
    - script: global_b.py
  Stop:
    - script: global_stop.py
`)
	writeConfig(t, project, `
registry:
  PreToolUse:
    - script: project_only.py
      async: true
`)

	loader, err := NewLoader(project)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatal(err)
	}

	pre := cfg.Registry["PreToolUse"]
	if len(pre) != 1 || pre[0].Script != "project_only.py" || !pre[0].Async {
		t.Errorf("project should own the PreToolUse chain wholesale: %v", pre)
	}
	if len(cfg.Registry["Stop"]) != 1 {
		t.Errorf("untouched keys keep the global chain: %v", cfg.Registry["Stop"])
	}
}

func TestLoadMalformedConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	writeConfig(t, home, "settings: [not, a, map")

	loader, err := NewLoader(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := loader.Load(); err == nil {
		t.Error("malformed YAML should fail loading")
	}
}

func TestResolveDirsEnvOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Settings.SessionDir = "/from/config"

	if got := cfg.ResolveSessionDir(); got != "/from/config" {
		t.Errorf("ResolveSessionDir = %q", got)
	}

	t.Setenv(EnvSessionDir, "/from/env")
	if got := cfg.ResolveSessionDir(); got != "/from/env" {
		t.Errorf("env should win: %q", got)
	}

	t.Setenv(EnvStateDir, "/state/env")
	if got := cfg.ResolveStateDir(); got != "/state/env" {
		t.Errorf("ResolveStateDir = %q", got)
	}
}

func TestBuildRegistry(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.BuildRegistry() == nil {
		t.Fatal("empty config should fall back to the built-in table")
	}
}
