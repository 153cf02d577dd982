// Package config loads engine configuration from environment variables.
// There is no CLI surface: callers embed the engine and configure it the way
// they configure the rest of their process.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/synaptiq/hybridmem/core"
)

// Config holds every tunable of the hybrid memory engine. Zero-config use is
// supported: Load() falls back to defaults for anything unset.
type Config struct {
	// Short-term store
	DBPath            string
	WorkingCapacity   int64
	WorkingDefaultTTL time.Duration

	// Long-term store
	VectorURL     string
	Collection    string
	RecallTimeout time.Duration

	// Embedding
	EmbeddingModel string
	EmbeddingDim   int

	// Retrieval
	DefaultMode      core.RetrievalMode
	DefaultTopK      int
	LateralDiversity float64
	FactcheckMin     float64

	// Synchronicity detector
	SynchroThreshold   float64
	SynchroEmbedWeight float64

	// Tier transitions
	PromotionAccessMin int
	PromotionMinAge    time.Duration
	StalenessWindow    time.Duration
	SweepInterval      time.Duration

	// Auto-routing: content longer than this goes to the knowledge tier.
	AutoKnowledgeBytes int
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:             envStr("HYBRIDMEM_DB_PATH", "hybridmem.db"),
		WorkingCapacity:    int64(envInt("WORKING_CAPACITY", 4096)),
		WorkingDefaultTTL:  time.Duration(envInt("WORKING_DEFAULT_TTL_SECONDS", 3600)) * time.Second,
		VectorURL:          envStr("HYBRIDMEM_VECTOR_URL", ""),
		Collection:         envStr("HYBRIDMEM_COLLECTION", "knowledge"),
		RecallTimeout:      time.Duration(envInt("RECALL_TIMEOUT_SECONDS", 4)) * time.Second,
		EmbeddingModel:     envStr("EMBEDDING_MODEL", "all-MiniLM-L6-v2"),
		EmbeddingDim:       envInt("EMBEDDING_DIM", 384),
		DefaultMode:        core.RetrievalMode(envStr("DEFAULT_MODE", string(core.ModeFoundation))),
		DefaultTopK:        envInt("DEFAULT_TOP_K", 5),
		LateralDiversity:   envFloat("LATERAL_DIVERSITY", 0.3),
		FactcheckMin:       envFloat("FACTCHECK_MIN_RELEVANCE", 0.75),
		SynchroThreshold:   envFloat("SYNCHRO_THRESHOLD", 0.5),
		SynchroEmbedWeight: envFloat("SYNCHRO_EMBED_WEIGHT", 0.6),
		PromotionAccessMin: envInt("PROMOTION_ACCESS_MIN", 3),
		PromotionMinAge:    time.Duration(envInt("PROMOTION_MIN_AGE_HOURS", 1)) * time.Hour,
		StalenessWindow:    time.Duration(envInt("STALENESS_DAYS", 30)) * 24 * time.Hour,
		SweepInterval:      time.Duration(envInt("SWEEP_INTERVAL_MINUTES", 15)) * time.Minute,
		AutoKnowledgeBytes: envInt("AUTO_KNOWLEDGE_BYTES", 280),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in defaults without touching the environment.
func Default() *Config {
	return &Config{
		DBPath:             "hybridmem.db",
		WorkingCapacity:    4096,
		WorkingDefaultTTL:  time.Hour,
		Collection:         "knowledge",
		RecallTimeout:      4 * time.Second,
		EmbeddingModel:     "all-MiniLM-L6-v2",
		EmbeddingDim:       384,
		DefaultMode:        core.ModeFoundation,
		DefaultTopK:        5,
		LateralDiversity:   0.3,
		FactcheckMin:       0.75,
		SynchroThreshold:   0.5,
		SynchroEmbedWeight: 0.6,
		PromotionAccessMin: 3,
		PromotionMinAge:    time.Hour,
		StalenessWindow:    30 * 24 * time.Hour,
		SweepInterval:      15 * time.Minute,
		AutoKnowledgeBytes: 280,
	}
}

func (c *Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("HYBRIDMEM_DB_PATH must not be empty")
	}
	if c.EmbeddingDim < 1 {
		return fmt.Errorf("EMBEDDING_DIM must be positive, got %d", c.EmbeddingDim)
	}
	if c.DefaultTopK < 1 {
		return fmt.Errorf("DEFAULT_TOP_K must be positive, got %d", c.DefaultTopK)
	}
	switch c.DefaultMode {
	case core.ModeFoundation, core.ModeLateral, core.ModeFactcheck:
	default:
		return fmt.Errorf("DEFAULT_MODE must be foundation, lateral, or factcheck, got %q", c.DefaultMode)
	}
	if c.LateralDiversity < 0 || c.LateralDiversity > 1 {
		return fmt.Errorf("LATERAL_DIVERSITY must be in [0,1], got %f", c.LateralDiversity)
	}
	if c.SynchroEmbedWeight < 0 || c.SynchroEmbedWeight > 1 {
		return fmt.Errorf("SYNCHRO_EMBED_WEIGHT must be in [0,1], got %f", c.SynchroEmbedWeight)
	}
	if c.SynchroThreshold < 0 || c.SynchroThreshold > 1 {
		return fmt.Errorf("SYNCHRO_THRESHOLD must be in [0,1], got %f", c.SynchroThreshold)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
