package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hurttlocker/cvegs/internal/catalog"
	"github.com/hurttlocker/cvegs/internal/config"
	"github.com/hurttlocker/cvegs/internal/embed"
	"github.com/hurttlocker/cvegs/internal/extract"
	"github.com/hurttlocker/cvegs/internal/filter"
	"github.com/hurttlocker/cvegs/internal/llm"
	"github.com/hurttlocker/cvegs/internal/match"
	"github.com/hurttlocker/cvegs/internal/preprocess"
	"github.com/hurttlocker/cvegs/internal/rank"
)

// buildEngine assembles the pipeline from config plus flag overrides. The
// returned closer releases the catalog store.
func buildEngine(ctx context.Context) (*match.Engine, func() error, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	if flagDB != "" {
		cfg.CatalogPath = flagDB
	}
	if flagLLM != "" {
		cfg.LLM.Spec = flagLLM
	}
	if flagEmbed != "" {
		cfg.Embedding.Spec = flagEmbed
	}
	if flagDebug {
		cfg.Debug = true
	}

	store, err := catalog.OpenStore(cfg.CatalogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening catalog: %w", err)
	}

	cache := catalog.NewCache(store, catalog.CacheOptions{
		RefreshInterval: time.Duration(cfg.CatalogRefreshInterval),
		Logger:          logger,
	})
	if err := cache.Refresh(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("loading catalog snapshot: %w", err)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	embedder, err := buildEmbedder(cfg)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	mixer, err := rank.NewMixer(rank.MixerOptions{
		Weights:    &cfg.Weights,
		Thresholds: cfg.ThresholdsByType,
		Sizes:      &cfg.ReviewListSizes,
		Logger:     logger,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	engine, err := match.New(match.Options{
		Cache: cache,
		Preprocessor: preprocess.New(provider, preprocess.Options{
			Logger:           logger,
			MinVehicleYear:   cfg.MinVehicleYear,
			FutureYearsAhead: cfg.FutureYearsAhead,
		}),
		Extractor: extract.New(provider, extract.Options{
			Logger:         logger,
			LLMTemperature: cfg.LLM.Temperature,
		}),
		Filter: filter.New(filter.Options{
			HighConfidence: cfg.HighConfidenceThreshold,
			Logger:         logger,
		}),
		Reranker: rank.NewReranker(embedder, rank.RerankerOptions{
			TopN:   cfg.TopNRerank,
			Logger: logger,
		}),
		Rescorer: rank.NewRescorer(provider, rank.RescorerOptions{
			Logger:      logger,
			Temperature: cfg.LLM.Temperature,
		}),
		Mixer:    mixer,
		Deadline: time.Duration(cfg.MatchDeadline),
		Debug:    cfg.Debug,
		Logger:   logger,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return engine, store.Close, nil
}

// buildProvider resolves the chat LLM. An empty spec disables the LLM stages;
// extraction and rescoring then run on the deterministic signals alone.
func buildProvider(cfg config.Config) (llm.Provider, error) {
	if cfg.LLM.Spec == "" {
		logger.Warn("no LLM configured; extraction fallback and rescoring disabled")
		return nil, nil
	}
	llmCfg, err := llm.ParseFlag(cfg.LLM.Spec)
	if err != nil {
		return nil, err
	}
	if cfg.LLM.APIKey != "" {
		llmCfg.APIKey = cfg.LLM.APIKey
	}
	if cfg.LLM.BaseURL != "" {
		llmCfg.BaseURL = cfg.LLM.BaseURL
	}
	return llm.NewProvider(llmCfg)
}

// buildEmbedder resolves the embedding client. An empty spec disables the
// embedding rerank pass.
func buildEmbedder(cfg config.Config) (embed.Embedder, error) {
	if cfg.Embedding.Spec == "" {
		logger.Warn("no embedding service configured; similarity pass disabled")
		return nil, nil
	}
	embedCfg, err := embed.ParseFlag(cfg.Embedding.Spec)
	if err != nil {
		return nil, err
	}
	if cfg.Embedding.Endpoint != "" {
		embedCfg.Endpoint = cfg.Embedding.Endpoint
	}
	if cfg.Embedding.APIKey != "" {
		embedCfg.APIKey = cfg.Embedding.APIKey
	}
	if err := embedCfg.Validate(); err != nil {
		return nil, fmt.Errorf("embedding config: %w", err)
	}
	return embed.NewClient(embedCfg)
}
