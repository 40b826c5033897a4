package ai

import "context"

// ProviderType represents the AI provider type
type ProviderType string

const (
	ProviderGemini    ProviderType = "gemini"
	ProviderOllama    ProviderType = "ollama"
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderAuto      ProviderType = "auto"
)

// CompletionRequest is one prompt sent to a provider.
type CompletionRequest struct {
	System string
	Prompt string
	// JSON asks the provider for a single JSON document when it supports it.
	JSON bool
	// Model overrides the provider default when set.
	Model       string
	Temperature float32
	MaxTokens   int
}

// CompletionResponse is the raw text answer plus where it came from.
type CompletionResponse struct {
	Text     string
	Provider ProviderType
	Model    string
}

// Provider is the AI collaborator: completions and embeddings.
// Implement this interface to add new AI providers.
type Provider interface {
	Name() ProviderType
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	// Ping checks that the backend is reachable and configured.
	Ping(ctx context.Context) error
}
