package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hurttlocker/cvegs/internal/rank"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.TopNRerank != 20 || cfg.MinVehicleYear != 1950 || cfg.FutureYearsAhead != 5 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if time.Duration(cfg.CatalogRefreshInterval) != 24*time.Hour {
		t.Fatalf("refresh interval default: %v", cfg.CatalogRefreshInterval)
	}
	if time.Duration(cfg.MatchDeadline) != 10*time.Second {
		t.Fatalf("match deadline default: %v", cfg.MatchDeadline)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cvegs.yaml")
	body := `
catalog_path: /data/catalog.db
catalog_refresh_interval: "1h"
match_deadline: "5s"
weights:
  filter: 0.4
  fuzzy: 0.2
  similarity: 0.2
  llm: 0.2
llm:
  spec: google/gemini-2.0-flash
  temperature: 0.1
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CatalogPath != "/data/catalog.db" {
		t.Fatalf("catalog path not applied: %q", cfg.CatalogPath)
	}
	if time.Duration(cfg.CatalogRefreshInterval) != time.Hour {
		t.Fatalf("duration not parsed: %v", cfg.CatalogRefreshInterval)
	}
	if cfg.Weights.Filter != 0.4 {
		t.Fatalf("weights not applied: %+v", cfg.Weights)
	}
	if cfg.LLM.Spec != "google/gemini-2.0-flash" {
		t.Fatalf("llm spec not applied: %q", cfg.LLM.Spec)
	}
	// Untouched knobs keep their defaults.
	if cfg.TopNRerank != 20 {
		t.Fatalf("partial file must keep defaults: %+v", cfg)
	}
}

func TestLoadRejectsBadWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cvegs.yaml")
	body := `
weights:
  filter: 0.5
  fuzzy: 0.3
  similarity: 0.3
  llm: 0.1
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("weights summing to 1.2 must fail at load")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/no/such/config.yaml"); err == nil {
		t.Fatal("missing file must error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CVEGS_CATALOG_PATH", "/env/catalog.db")
	t.Setenv("CVEGS_MATCH_DEADLINE", "3s")
	t.Setenv("CVEGS_LLM", "openrouter/qwen-2.5-72b")
	t.Setenv("CVEGS_DEBUG", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CatalogPath != "/env/catalog.db" {
		t.Fatalf("env catalog path not applied: %q", cfg.CatalogPath)
	}
	if time.Duration(cfg.MatchDeadline) != 3*time.Second {
		t.Fatalf("env deadline not applied: %v", cfg.MatchDeadline)
	}
	if cfg.LLM.Spec != "openrouter/qwen-2.5-72b" || !cfg.Debug {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestEnvRejectsBadDuration(t *testing.T) {
	t.Setenv("CVEGS_REFRESH_INTERVAL", "not-a-duration")
	if _, err := Load(""); err == nil {
		t.Fatal("bad env duration must fail")
	}
}

func TestValidateThresholdOrdering(t *testing.T) {
	cfg := Default()
	cfg.ThresholdsByType = map[string]rank.ThresholdPair{
		rank.ClassDefault: {High: 0.5, Low: 0.8},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("inverted threshold pair must fail validation")
	}
}
