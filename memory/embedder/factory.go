package embedder

import (
	"fmt"

	"github.com/mnemo-ai/mnemo-go/memory"
	"github.com/mnemo-ai/mnemo-go/memory/embedder/mock"
	"github.com/mnemo-ai/mnemo-go/memory/embedder/ollama"
)

// build constructs a provider instance. ONNX construction lives behind a build
// tag; see factory_onnx.go.
func build(cfg Config) (memory.Embedder, error) {
	switch cfg.Provider {
	case ProviderOllama:
		return ollama.New(ollama.Config{
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case ProviderONNX:
		return openONNX(cfg)
	case ProviderMock:
		return mock.New(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
