package config

import (
	"path/filepath"
	"testing"
)

func TestParseOverlaysDefaults(t *testing.T) {
	doc := []byte(`
name: morningbot
llm:
  provider: openai_compat
  base_url: http://localhost:11434/v1
`)
	cfg, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.Name != "morningbot" {
		t.Errorf("Name = %q, want morningbot", cfg.Name)
	}
	if cfg.LLM.Provider != "openai_compat" {
		t.Errorf("LLM.Provider = %q, want openai_compat", cfg.LLM.Provider)
	}
	// Untouched defaults should survive the overlay.
	if cfg.Timezone != "UTC" {
		t.Errorf("Timezone = %q, want UTC (default)", cfg.Timezone)
	}
	if cfg.LLM.Models.Haiku == "" {
		t.Errorf("expected default haiku model id to survive overlay")
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Name = "roundtrip"
	cfg.Store.PostgresDSN = "postgres://x/y"

	if err := SaveToFile(cfg, path); err != nil {
		t.Fatalf("SaveToFile() error: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if loaded.Name != "roundtrip" || loaded.Store.PostgresDSN != "postgres://x/y" {
		t.Errorf("round-tripped config mismatch: %+v", loaded)
	}
}

func TestLocationErrorsOnInvalidZone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Not/AZone"
	if _, err := cfg.Location(); err == nil {
		t.Fatalf("expected an error for an invalid timezone so the caller can fall back to UTC")
	}
}
