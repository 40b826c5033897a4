package ai

import (
	"fmt"
	"strings"

	"noodle-backend/pkg/config"

	"go.uber.org/zap"
)

// NewProvider builds the configured provider, wrapped in a FallbackProvider
// when a fallback is configured. runtime, when non-nil, supplies the Ollama
// base URL and model so they can be changed without a restart.
func NewProvider(cfg config.AIConfig, runtime *RuntimeSettings, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	providerType := ProviderType(strings.ToLower(strings.TrimSpace(cfg.Provider)))
	if providerType == "" || providerType == ProviderAuto {
		providerType = autoProvider(cfg)
		logger.Info("AI provider selected automatically", zap.String("provider", string(providerType)))
	}

	primary, err := newSingleProvider(providerType, cfg, runtime)
	if err != nil {
		return nil, err
	}

	fallbackType := ProviderType(strings.ToLower(strings.TrimSpace(cfg.FallbackProvider)))
	if fallbackType == "" || fallbackType == providerType {
		return primary, nil
	}
	// The primary's model name means nothing to another provider.
	fallbackCfg := cfg
	fallbackCfg.Model = ""
	fallbackCfg.EmbeddingModel = ""
	secondary, err := newSingleProvider(fallbackType, fallbackCfg, runtime)
	if err != nil {
		return nil, fmt.Errorf("fallback provider: %w", err)
	}
	return NewFallbackProvider(primary, secondary, logger), nil
}

// autoProvider prefers hosted providers whose key is present, then local Ollama.
func autoProvider(cfg config.AIConfig) ProviderType {
	switch {
	case cfg.OpenAIAPIKey != "":
		return ProviderOpenAI
	case cfg.AnthropicAPIKey != "":
		return ProviderAnthropic
	case cfg.GeminiAPIKey != "":
		return ProviderGemini
	default:
		return ProviderOllama
	}
}

func newSingleProvider(providerType ProviderType, cfg config.AIConfig, runtime *RuntimeSettings) (Provider, error) {
	switch providerType {
	case ProviderOllama:
		var svc *OllamaService
		if runtime != nil {
			svc = NewOllamaServiceWithGetters(runtime.OllamaBaseURL, runtime.OllamaModel)
		} else {
			svc = NewOllamaService(cfg.OllamaBaseURL, cfg.Model)
		}
		return svc.WithEmbeddingModel(cfg.EmbeddingModel).WithTimeout(cfg.Timeout), nil

	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		return NewOpenAIService(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Model, cfg.EmbeddingModel), nil

	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
		return NewAnthropicService(cfg.AnthropicAPIKey, cfg.Model), nil

	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
		return NewGeminiService(cfg.GeminiAPIKey, cfg.Model).
			WithEmbeddingModel(cfg.EmbeddingModel).
			WithTimeout(cfg.Timeout), nil

	default:
		return nil, fmt.Errorf("unsupported AI provider %q", providerType)
	}
}
