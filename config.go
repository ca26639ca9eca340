package mnemo

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mnemo-ai/mnemo-go/memory"
	"github.com/mnemo-ai/mnemo-go/memory/embedder"
)

// Config is the subsystem's top-level configuration, loadable from YAML.
// Durations are plain seconds so config files stay tool-friendly.
type Config struct {
	// Embedding selects and parameterizes the embedding provider.
	Embedding embedder.Config `yaml:"embedding"`

	// Index configures the vector store.
	Index IndexConfig `yaml:"index"`

	// DistanceThreshold is the cosine distance boundary (inclusive) for both
	// duplicate detection and retrieval relevance. Zero means 0.3.
	DistanceThreshold float32 `yaml:"distance_threshold"`

	// RetrieveLimit is the default retrieval result cap. Zero means 5.
	RetrieveLimit int `yaml:"retrieve_limit"`

	// ContextMemories is the default per-section cap for context assembly.
	// Zero means 5.
	ContextMemories int `yaml:"context_memories"`

	// OpTimeoutSeconds bounds each embed and index call. Zero means 5.
	OpTimeoutSeconds int `yaml:"op_timeout_seconds"`

	// ConsolidateAfter is the per-(user,type) record count that triggers
	// merging during a consolidation pass. Zero means 10.
	ConsolidateAfter int `yaml:"consolidate_after"`

	// ConsolidationIntervalSeconds is the worker's idle wait. Zero means 600.
	ConsolidationIntervalSeconds int `yaml:"consolidation_interval_seconds"`

	// Fallback configures the key-value spill store.
	Fallback FallbackConfig `yaml:"fallback"`

	// Summarize configures merge-by-summary during consolidation.
	Summarize SummarizeConfig `yaml:"summarize"`
}

// IndexConfig configures the vector store.
type IndexConfig struct {
	// Path persists the index on disk. Empty keeps it in memory.
	Path string `yaml:"path"`
}

// FallbackConfig configures the best-effort key-value spill store.
type FallbackConfig struct {
	Enabled bool `yaml:"enabled"`

	// MaxBytes caps the store size. Zero means 16 MiB.
	MaxBytes int64 `yaml:"max_bytes"`
}

// SummarizeConfig configures near-duplicate merging.
type SummarizeConfig struct {
	Enabled bool `yaml:"enabled"`

	// Provider is "claude" or "heuristic". Empty means "heuristic".
	Provider string `yaml:"provider"`

	// APIKey for the claude provider. Empty falls back to ANTHROPIC_API_KEY.
	APIKey string `yaml:"api_key"`

	// Model overrides the claude provider's default model.
	Model string `yaml:"model"`
}

// DefaultConfig returns a configuration that embeds through local Ollama and
// keeps the index in memory.
func DefaultConfig() Config {
	return Config{
		Embedding: embedder.Config{
			Provider: embedder.ProviderOllama,
			Model:    "nomic-embed-text",
		},
	}
}

// LoadConfig reads a YAML config file. Fields left out of the file keep their
// zero value and resolve to defaults at Open time.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the parts defaults cannot repair.
func (c Config) Validate() error {
	if err := c.Embedding.Validate(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	switch c.Summarize.Provider {
	case "", "claude", "heuristic":
	default:
		return fmt.Errorf("unknown summarize provider %q", c.Summarize.Provider)
	}
	return nil
}

// memoryConfig maps the YAML shape onto the Manager's config, filling
// defaults for zero values.
func (c Config) memoryConfig() memory.Config {
	mc := memory.DefaultConfig()
	if c.DistanceThreshold > 0 {
		mc.DistanceThreshold = c.DistanceThreshold
	}
	if c.RetrieveLimit > 0 {
		mc.RetrieveLimit = c.RetrieveLimit
	}
	if c.ContextMemories > 0 {
		mc.ContextMemories = c.ContextMemories
	}
	if c.OpTimeoutSeconds > 0 {
		mc.OpTimeout = time.Duration(c.OpTimeoutSeconds) * time.Second
	}
	if c.ConsolidateAfter > 0 {
		mc.ConsolidateAfter = c.ConsolidateAfter
	}
	if c.ConsolidationIntervalSeconds > 0 {
		mc.ConsolidationInterval = time.Duration(c.ConsolidationIntervalSeconds) * time.Second
	}
	return mc
}
