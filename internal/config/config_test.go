package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	t.Setenv("THINKSUIT_CONFIG", filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Policy.MaxFanout != Defaults.Policy.MaxFanout {
		t.Errorf("MaxFanout = %d, want default %d", cfg.Policy.MaxFanout, Defaults.Policy.MaxFanout)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thinksuit.json")
	if err := os.WriteFile(path, []byte(`{"policy":{"maxFanout":3},"module":"core/base"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("THINKSUIT_CONFIG", path)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Policy.MaxFanout != 3 {
		t.Errorf("MaxFanout = %d, want 3", cfg.Policy.MaxFanout)
	}
	if cfg.Module != "core/base" {
		t.Errorf("Module = %q, want core/base", cfg.Module)
	}
}

func TestLoad_CLIOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thinksuit.json")
	if err := os.WriteFile(path, []byte(`{"module":"core/base"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("THINKSUIT_CONFIG", path)

	cfg, err := Load(&Config{Module: "core/override"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Module != "core/override" {
		t.Errorf("Module = %q, want core/override (CLI should win)", cfg.Module)
	}
}

func TestLoad_FileOverridesEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thinksuit.json")
	if err := os.WriteFile(path, []byte(`{"module":"core/base"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("THINKSUIT_CONFIG", path)
	t.Setenv("THINKSUIT_MODULE", "core/env")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Module != "core/base" {
		t.Errorf("Module = %q, want core/base (file should win over env)", cfg.Module)
	}
}

func TestResolveAPIKey_EnvReference(t *testing.T) {
	t.Setenv("MY_CUSTOM_KEY", "sk-secret")
	got := resolveAPIKey("${MY_CUSTOM_KEY}", "ANTHROPIC_API_KEY")
	if got != "sk-secret" {
		t.Errorf("resolveAPIKey = %q, want sk-secret", got)
	}
}

func TestResolveAPIKey_FallsBackToConventionalEnvVar(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-fallback")
	got := resolveAPIKey("", "ANTHROPIC_API_KEY")
	if got != "sk-fallback" {
		t.Errorf("resolveAPIKey = %q, want sk-fallback", got)
	}
}

func TestRedact_NeverExposesAPIKeys(t *testing.T) {
	cfg := Config{}
	cfg.ProviderConfig.Anthropic.APIKey = "sk-ant-realsecret"
	redacted := Redact(cfg)
	if redacted.ProviderConfig.Anthropic.APIKey == "sk-ant-realsecret" {
		t.Error("Redact did not mask the API key")
	}
	if redacted.ProviderConfig.Anthropic.APIKey == "" {
		t.Error("Redact should produce a non-empty mask for a non-empty key")
	}
}

func TestHome_RespectsEnvOverride(t *testing.T) {
	t.Setenv("THINKSUIT_HOME", "/tmp/custom-thinksuit-home")
	if got := Home(); got != "/tmp/custom-thinksuit-home" {
		t.Errorf("Home() = %q, want /tmp/custom-thinksuit-home", got)
	}
}
