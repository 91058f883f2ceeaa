package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	t.Setenv("DIALOG_RELAY", "")
	t.Setenv("DIALOG_RELAY_URL", "")
	t.Setenv("DIALOG_DATA_DIR", "")
	t.Setenv("DIALOG_SYNC_MODE", "")

	loader, err := NewLoader("")
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.RelayURL != DefaultRelayURL {
		t.Errorf("RelayURL = %q, want %q", cfg.RelayURL, DefaultRelayURL)
	}
	if cfg.SyncMode != "auto" {
		t.Errorf("SyncMode = %q, want auto", cfg.SyncMode)
	}
	if cfg.DataDir == "" {
		t.Error("DataDir should default to a usable path")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DIALOG_RELAY", "ws://relay.example:7777")
	t.Setenv("DIALOG_DATA_DIR", "/tmp/dialog-test")
	t.Setenv("DIALOG_SYNC_MODE", "subscribe")

	loader, err := NewLoader("")
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.RelayURL != "ws://relay.example:7777" {
		t.Errorf("RelayURL = %q", cfg.RelayURL)
	}
	if cfg.DataDir != "/tmp/dialog-test" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.SyncMode != "subscribe" {
		t.Errorf("SyncMode = %q", cfg.SyncMode)
	}
}

func TestExplicitFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "relay_url: ws://from-file:1111\nsync_mode: negentropy\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DIALOG_RELAY", "")
	t.Setenv("DIALOG_RELAY_URL", "")
	t.Setenv("DIALOG_SYNC_MODE", "")

	loader, err := NewLoader(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RelayURL != "ws://from-file:1111" {
		t.Errorf("RelayURL = %q, want file value", cfg.RelayURL)
	}
	if cfg.SyncMode != "negentropy" {
		t.Errorf("SyncMode = %q, want file value", cfg.SyncMode)
	}

	// Environment beats the file.
	t.Setenv("DIALOG_RELAY", "ws://from-env:2222")
	loader, err = NewLoader(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err = loader.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RelayURL != "ws://from-env:2222" {
		t.Errorf("RelayURL = %q, want env value", cfg.RelayURL)
	}
}

func TestMissingExplicitFileFails(t *testing.T) {
	if _, err := NewLoader(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected an error for a missing explicit config file")
	}
}

func TestMarshalYAMLAndWriteDefault(t *testing.T) {
	cfg := Config{RelayURL: "ws://x", SyncMode: "auto", DataDir: "/d"}

	out, err := MarshalYAML(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "relay_url: ws://x") {
		t.Errorf("yaml output missing relay_url: %s", out)
	}

	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	if err := WriteDefault(path, cfg); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}
	if err := WriteDefault(path, cfg); err == nil {
		t.Error("WriteDefault should refuse to overwrite")
	}
}
