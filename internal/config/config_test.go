package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "cobd.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesFileValues(t *testing.T) {
	path := writeFile(t, t.TempDir(), `
data_dir = "/var/lib/cobd"
log_level = "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/var/lib/cobd" || cfg.LogLevel != "debug" {
		t.Fatalf("cfg = %+v, want data_dir/log_level from file", cfg)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeFile(t, t.TempDir(), `typo_field = "x"`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load unexpectedly accepted an unknown field")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), `data_dir = "/from/file"`)
	t.Setenv("COBD_DATA_DIR", "/from/env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/from/env" {
		t.Fatalf("DataDir = %q, want /from/env", cfg.DataDir)
	}
}
