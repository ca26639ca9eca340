// Package ollama embeds text through a local Ollama server.
//
// A circuit breaker sits in front of the server so a dead or overloaded
// Ollama degrades memory operations quickly instead of stacking up timeouts.
package ollama

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/sony/gobreaker"
)

// DefaultBaseURL is the standard local Ollama address.
const DefaultBaseURL = "http://localhost:11434"

// warmupTimeout bounds the probe embed at construction time.
const warmupTimeout = 10 * time.Second

// Config parameterizes the embedder.
type Config struct {
	// Model is the Ollama embedding model, e.g. "nomic-embed-text".
	Model string

	// BaseURL of the Ollama server. Empty means DefaultBaseURL.
	BaseURL string

	// Dimensions, when > 0, is verified against what the model produces.
	Dimensions int
}

// Embedder calls the Ollama embeddings API.
type Embedder struct {
	client  *api.Client
	model   string
	dims    int
	breaker *gobreaker.CircuitBreaker
}

// New connects to the server and probes the model once to learn its
// dimensionality. An unreachable server fails construction, which callers
// treat as "run degraded".
func New(cfg Config) (*Embedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	e := &Embedder{
		client: api.NewClient(u, http.DefaultClient),
		model:  cfg.Model,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "ollama-embed",
			MaxRequests: 2,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("[OLLAMA] Circuit breaker %s: %s -> %s", name, from, to)
			},
		}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), warmupTimeout)
	defer cancel()
	probe, err := e.embed(ctx, "warmup")
	if err != nil {
		return nil, fmt.Errorf("probe model %q: %w", cfg.Model, err)
	}
	e.dims = len(probe)
	if cfg.Dimensions > 0 && cfg.Dimensions != e.dims {
		return nil, fmt.Errorf("model %q produces %d dimensions, config expects %d",
			cfg.Model, e.dims, cfg.Dimensions)
	}
	return e, nil
}

// Embed returns the embedding for text. When the breaker is open it fails
// immediately with gobreaker.ErrOpenState.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	embedding := result.([]float32)
	if len(embedding) != e.dims {
		return nil, fmt.Errorf("model returned %d dimensions, expected %d", len(embedding), e.dims)
	}
	return embedding, nil
}

func (e *Embedder) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama returned no embedding for model %q", e.model)
	}
	return resp.Embeddings[0], nil
}

// Dimensions returns the embedding length the model produces.
func (e *Embedder) Dimensions() int {
	return e.dims
}
