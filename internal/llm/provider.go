// Package llm talks to OpenAI-compatible chat completion endpoints.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Backend completes one chunk of page content under an instruction.
type Backend interface {
	Complete(ctx context.Context, instruction, chunk string) (string, error)
}

// Provider identifies a backend and model, parsed from "provider/model".
type Provider struct {
	Name    string
	Model   string
	BaseURL string
	// KeyRequired is false for local servers.
	KeyRequired bool
}

var knownProviders = map[string]Provider{
	"openai":     {BaseURL: "https://api.openai.com/v1", KeyRequired: true},
	"groq":       {BaseURL: "https://api.groq.com/openai/v1", KeyRequired: true},
	"deepseek":   {BaseURL: "https://api.deepseek.com/v1", KeyRequired: true},
	"openrouter": {BaseURL: "https://openrouter.ai/api/v1", KeyRequired: true},
	"mistral":    {BaseURL: "https://api.mistral.ai/v1", KeyRequired: true},
	"ollama":     {BaseURL: "http://localhost:11434/v1"},
}

// ParseProvider splits id into provider and model. baseURL overrides the
// provider's endpoint and is required for unknown providers.
func ParseProvider(id, baseURL string) (Provider, error) {
	name, model, ok := strings.Cut(strings.TrimSpace(id), "/")
	if !ok || name == "" || model == "" {
		return Provider{}, fmt.Errorf("llm provider must be provider/model, got %q", id)
	}
	name = strings.ToLower(name)

	p, known := knownProviders[name]
	if !known {
		if baseURL == "" {
			return Provider{}, fmt.Errorf("unknown llm provider %q: set a base URL", name)
		}
		p.KeyRequired = true
	}
	p.Name = name
	p.Model = model
	if baseURL != "" {
		p.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return p, nil
}

// EnvKey is the environment variable holding the provider's API key.
func (p Provider) EnvKey() string {
	return strings.ToUpper(strings.ReplaceAll(p.Name, "-", "_")) + "_API_KEY"
}
