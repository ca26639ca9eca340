// Package summarize provides Summarizer implementations for the consolidation
// worker: a Claude-backed merger and a heuristic fallback that needs no
// network.
package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultModel is used when no model is configured. Consolidation summaries
// are short, so the small model is enough.
const DefaultModel = "claude-3-5-haiku-latest"

const systemPrompt = "You merge near-duplicate memory statements about a user into one. " +
	"Reply with a single concise statement that preserves every distinct fact. " +
	"Reply with the statement only, no preamble."

// Claude merges near-duplicate contents through the Anthropic API.
type Claude struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaude creates a Claude summarizer. An empty model selects DefaultModel;
// an empty apiKey falls back to the ANTHROPIC_API_KEY environment variable.
func NewClaude(apiKey, model string) *Claude {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = DefaultModel
	}
	return &Claude{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

// Summarize returns one statement covering all contents.
func (c *Claude) Summarize(ctx context.Context, contents []string) (string, error) {
	if len(contents) == 0 {
		return "", fmt.Errorf("nothing to summarize")
	}
	if len(contents) == 1 {
		return contents[0], nil
	}

	var b strings.Builder
	b.WriteString("Statements to merge:\n")
	for _, content := range contents {
		fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(content))
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 300,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(b.String())),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude api error: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("claude returned no text")
	}
	return text, nil
}

// maxHeuristicLen caps the joined fallback summary.
const maxHeuristicLen = 280

// Heuristic joins contents without any model call. Loses nothing but
// compresses nothing either; it exists so consolidation can still merge when
// no API key is configured.
type Heuristic struct{}

// Summarize joins the distinct contents with semicolons, truncated to a
// prompt-friendly length.
func (Heuristic) Summarize(_ context.Context, contents []string) (string, error) {
	if len(contents) == 0 {
		return "", fmt.Errorf("nothing to summarize")
	}

	seen := make(map[string]bool, len(contents))
	parts := make([]string, 0, len(contents))
	for _, content := range contents {
		content = strings.TrimSpace(content)
		key := strings.ToLower(content)
		if content == "" || seen[key] {
			continue
		}
		seen[key] = true
		parts = append(parts, content)
	}

	joined := strings.Join(parts, "; ")
	if len(joined) > maxHeuristicLen {
		joined = joined[:maxHeuristicLen-3] + "..."
	}
	return joined, nil
}
