// Package embedder selects and caches embedding providers.
//
// Opening a model is expensive (a network client warm-up for Ollama, loading
// an ONNX session and tokenizer for local inference), so Open keeps one shared
// instance per (provider, model) for the life of the process and hands the
// same instance to every caller.
package embedder

import (
	"fmt"
	"log"
	"sync"

	"github.com/mnemo-ai/mnemo-go/memory"
)

// Provider names an embedding backend.
type Provider string

const (
	// ProviderOllama embeds through a local Ollama server.
	ProviderOllama Provider = "ollama"

	// ProviderONNX runs a local ONNX model in-process. Requires the onnx
	// build tag.
	ProviderONNX Provider = "onnx"

	// ProviderMock is a deterministic hash-based embedder for tests.
	ProviderMock Provider = "mock"
)

// Config selects and parameterizes a provider.
type Config struct {
	Provider Provider `yaml:"provider"`

	// Model is the model name (Ollama) or a label for the loaded model (ONNX).
	Model string `yaml:"model"`

	// BaseURL is the Ollama server address. Empty means http://localhost:11434.
	BaseURL string `yaml:"base_url"`

	// Dimensions is the expected embedding length. Providers that report their
	// own dimensionality validate against it when > 0; the mock provider
	// requires it.
	Dimensions int `yaml:"dimensions"`

	// ModelPath and TokenizerPath locate the ONNX model files on disk.
	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`

	// SharedLibraryPath overrides where the onnxruntime shared library lives.
	SharedLibraryPath string `yaml:"shared_library_path"`
}

// Validate checks the provider selection.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderOllama:
		if c.Model == "" {
			return fmt.Errorf("ollama provider requires a model name")
		}
	case ProviderONNX:
		if c.ModelPath == "" || c.TokenizerPath == "" {
			return fmt.Errorf("onnx provider requires model_path and tokenizer_path")
		}
	case ProviderMock:
		if c.Dimensions <= 0 {
			return fmt.Errorf("mock provider requires positive dimensions")
		}
	case "":
		return fmt.Errorf("embedding provider is required")
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Provider)
	}
	return nil
}

// cacheKey identifies one shared instance.
func (c Config) cacheKey() string {
	return string(c.Provider) + "/" + c.Model + "/" + c.ModelPath
}

var (
	mu    sync.RWMutex
	cache = map[string]memory.Embedder{}

	// newProvider constructs an instance on cache miss. Overridable in tests.
	newProvider = build
)

// Open returns the shared embedder for cfg, constructing it on first use.
// Concurrent callers for the same configuration get the same instance.
func Open(cfg Config) (memory.Embedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	key := cfg.cacheKey()

	mu.RLock()
	emb, ok := cache[key]
	mu.RUnlock()
	if ok {
		return emb, nil
	}

	mu.Lock()
	defer mu.Unlock()
	// Re-check under the write lock; another caller may have won the race.
	if emb, ok := cache[key]; ok {
		return emb, nil
	}

	emb, err := newProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s embedder: %w", cfg.Provider, err)
	}
	cache[key] = emb
	log.Printf("[EMBEDDER] Opened %s model=%s dims=%d", cfg.Provider, cfg.Model, emb.Dimensions())
	return emb, nil
}

// Reset drops every cached instance. Intended for tests.
func Reset() {
	mu.Lock()
	cache = map[string]memory.Embedder{}
	mu.Unlock()
}
