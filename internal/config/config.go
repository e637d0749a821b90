// Package config loads the runtime configuration for the codifier: a YAML
// file when one is given, CVEGS_* environment overrides on top, validated
// once at startup. The resulting Config is immutable; nothing revalidates at
// request time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hurttlocker/cvegs/internal/rank"
)

// Duration wraps time.Duration for YAML fields written as "24h" or "10s".
type Duration time.Duration

// UnmarshalYAML parses the duration string form.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// LLMConfig selects the chat model used for extraction fallback and
// rescoring. Spec is "provider/model", e.g. "google/gemini-2.0-flash".
type LLMConfig struct {
	Spec        string  `yaml:"spec"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
}

// EmbeddingConfig selects the embedding service for the rerank pass.
type EmbeddingConfig struct {
	Spec     string `yaml:"spec"` // "provider/model"
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

// Config is every runtime knob of the codifier.
type Config struct {
	CatalogPath            string   `yaml:"catalog_path"`
	CatalogRefreshInterval Duration `yaml:"catalog_refresh_interval"`

	HighConfidenceThreshold float64 `yaml:"high_confidence_threshold"`
	FuzzyAcceptThreshold    float64 `yaml:"fuzzy_accept_threshold"`

	Weights          rank.Weights                  `yaml:"weights"`
	ThresholdsByType map[string]rank.ThresholdPair `yaml:"thresholds_by_type"`
	ReviewListSizes  rank.ReviewListSizes          `yaml:"review_list_sizes"`

	MinVehicleYear   int `yaml:"min_vehicle_year"`
	FutureYearsAhead int `yaml:"future_years_ahead"`
	TopNRerank       int `yaml:"top_n_rerank"`

	MatchDeadline Duration `yaml:"match_deadline"`

	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`

	Debug bool `yaml:"debug"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		CatalogPath:             "cvegs.db",
		CatalogRefreshInterval:  Duration(24 * time.Hour),
		HighConfidenceThreshold: 0.9,
		FuzzyAcceptThreshold:    0.8,
		Weights:                 rank.DefaultWeights(),
		ThresholdsByType:        rank.DefaultThresholds(),
		ReviewListSizes:         rank.DefaultReviewListSizes(),
		MinVehicleYear:          1950,
		FutureYearsAhead:        5,
		TopNRerank:              20,
		MatchDeadline:           Duration(10 * time.Second),
		LLM:                     LLMConfig{Temperature: 0.05},
	}
}

// Load resolves the configuration: defaults, then the YAML file (when path is
// non-empty), then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv layers CVEGS_* variables over the file values.
func (c *Config) applyEnv() error {
	if v := os.Getenv("CVEGS_CATALOG_PATH"); v != "" {
		c.CatalogPath = v
	}
	if v := os.Getenv("CVEGS_REFRESH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CVEGS_REFRESH_INTERVAL: %w", err)
		}
		c.CatalogRefreshInterval = Duration(d)
	}
	if v := os.Getenv("CVEGS_MATCH_DEADLINE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CVEGS_MATCH_DEADLINE: %w", err)
		}
		c.MatchDeadline = Duration(d)
	}
	if v := os.Getenv("CVEGS_LLM"); v != "" {
		c.LLM.Spec = v
	}
	if v := os.Getenv("CVEGS_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("CVEGS_EMBEDDING"); v != "" {
		c.Embedding.Spec = v
	}
	if v := os.Getenv("CVEGS_EMBEDDING_ENDPOINT"); v != "" {
		c.Embedding.Endpoint = v
	}
	if v := os.Getenv("CVEGS_EMBEDDING_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("CVEGS_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CVEGS_DEBUG: %w", err)
		}
		c.Debug = debug
	}
	return nil
}

// Validate runs every startup check. A config that passes here never fails a
// request on its own account.
func (c *Config) Validate() error {
	if c.CatalogPath == "" {
		return fmt.Errorf("catalog_path is required")
	}
	if c.CatalogRefreshInterval <= 0 {
		return fmt.Errorf("catalog_refresh_interval must be positive")
	}
	if c.MatchDeadline <= 0 {
		return fmt.Errorf("match_deadline must be positive")
	}
	if c.HighConfidenceThreshold <= 0 || c.HighConfidenceThreshold > 1 {
		return fmt.Errorf("high_confidence_threshold %v out of (0,1]", c.HighConfidenceThreshold)
	}
	if c.FuzzyAcceptThreshold <= 0 || c.FuzzyAcceptThreshold > 1 {
		return fmt.Errorf("fuzzy_accept_threshold %v out of (0,1]", c.FuzzyAcceptThreshold)
	}
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if err := rank.ValidateThresholds(c.ThresholdsByType); err != nil {
		return err
	}
	if c.MinVehicleYear <= 0 {
		return fmt.Errorf("min_vehicle_year must be positive")
	}
	if c.FutureYearsAhead <= 0 {
		return fmt.Errorf("future_years_ahead must be positive")
	}
	if c.TopNRerank <= 0 {
		return fmt.Errorf("top_n_rerank must be positive")
	}
	if c.ReviewListSizes.AutoAccept <= 0 || c.ReviewListSizes.NeedsReview <= 0 || c.ReviewListSizes.NoMatch <= 0 {
		return fmt.Errorf("review list sizes must be positive")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm temperature %v out of [0,2]", c.LLM.Temperature)
	}
	return nil
}
