// Package ollama adapts a local Ollama server to the uniform
// provider.LLM interface.
//
// Grounded on pkg/model/ollama/ollama.go's note that Ollama follows
// the OpenAI-compatible chat completions format; this adapter composes
// internal/provider/openai.Adapter with Ollama's defaults instead of
// duplicating the wire translation.
package ollama

import (
	"github.com/thinksuit/thinksuit/internal/provider"
	"github.com/thinksuit/thinksuit/internal/provider/openai"
)

const defaultBaseURL = "http://localhost:11434/v1/chat/completions"

// Config configures an Adapter.
type Config struct {
	BaseURL    string
	MaxContext int
	MaxOutput  int
}

// New constructs a provider.LLM backed by a local Ollama server.
// Ollama does not require an API key, and defaults to its standard
// local OpenAI-compatible endpoint.
func New(cfg Config) provider.LLM {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return openai.New(openai.Config{
		BaseURL:    baseURL,
		MaxContext: cfg.MaxContext,
		MaxOutput:  cfg.MaxOutput,
	})
}
