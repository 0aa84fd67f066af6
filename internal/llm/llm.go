// Package llm provides language-model access for reasoning and for the
// self-improvement loop's analysis steps.
//
// Defines a Completer interface with OpenAI, Ollama, and no-op
// implementations. The interface allows swapping model providers without
// changing consumers.
package llm

import (
	"context"
	"log/slog"

	"github.com/shiko-ai/shiko/internal/config"
)

// Request is a single chat completion request.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float32
}

// Completer produces a chat completion for a prompt.
type Completer interface {
	// Complete returns the model's text response.
	Complete(ctx context.Context, req Request) (string, error)

	// Name identifies the provider for logs and status endpoints.
	Name() string
}

// NewCompleter selects a provider from configuration. With provider "auto",
// an OpenAI key wins over a configured Ollama model, and absent both the
// no-op completer is used.
func NewCompleter(cfg config.Config, logger *slog.Logger) Completer {
	provider := cfg.LLMProvider
	if provider == "auto" {
		switch {
		case cfg.OpenAIAPIKey != "":
			provider = "openai"
		case cfg.OllamaModel != "":
			provider = "ollama"
		default:
			provider = "noop"
		}
	}

	switch provider {
	case "openai":
		logger.Info("using openai completer", "model", cfg.OpenAIModel)
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.LLMTimeout)
	case "ollama":
		logger.Info("using ollama completer", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		return NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel, cfg.LLMTimeout)
	default:
		logger.Warn("no LLM provider configured, using noop completer")
		return NewNoopCompleter()
	}
}
