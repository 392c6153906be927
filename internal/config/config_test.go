package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseJSONConfigSuccess(t *testing.T) {
	path := writeTempConfig(t, `{"sessionsuffix":"BB","eventtarget":"inet:224.0.1.10:29101","storedir":"/data","quiet":true}`)

	var cfg Config
	if err := ParseJSONConfig(&cfg, path); err != nil {
		t.Fatalf("ParseJSONConfig returned error: %v", err)
	}

	if cfg.SessionSuffix != "BB" || cfg.EventTarget != "inet:224.0.1.10:29101" {
		t.Fatalf("unexpected fields: %+v", cfg)
	}
	if cfg.StoreDir != "/data" || !cfg.Quiet {
		t.Fatalf("unexpected fields: %+v", cfg)
	}
}

func TestParseJSONConfigOverridesFlagDefaults(t *testing.T) {
	path := writeTempConfig(t, `{"appname":"from-file"}`)

	cfg := Config{AppName: "from-flag", VMName: "host1"}
	if err := ParseJSONConfig(&cfg, path); err != nil {
		t.Fatalf("ParseJSONConfig returned error: %v", err)
	}

	if cfg.AppName != "from-file" {
		t.Fatalf("expected json to override flag-derived AppName, got %q", cfg.AppName)
	}
	if cfg.VMName != "host1" {
		t.Fatalf("expected VMName untouched by json to remain %q, got %q", "host1", cfg.VMName)
	}
}

func TestParseJSONConfigMissingFile(t *testing.T) {
	var cfg Config
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := ParseJSONConfig(&cfg, missing); err == nil {
		t.Fatalf("ParseJSONConfig expected error for missing file")
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}
