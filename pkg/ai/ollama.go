package ai

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaBaseURL        = "http://localhost:11434"
	defaultOllamaModel          = "llama3"
	defaultOllamaEmbeddingModel = "nomic-embed-text"
)

// OllamaService implements Provider using an Ollama server
type OllamaService struct {
	getBaseURL     func() string // Dynamic getter for BaseURL
	getModel       func() string // Dynamic getter for Model
	embeddingModel string
	client         *http.Client
}

// NewOllamaService creates a new Ollama service
func NewOllamaService(baseURL, model string) *OllamaService {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return NewOllamaServiceWithGetters(
		func() string { return baseURL },
		func() string { return model },
	)
}

// NewOllamaServiceWithGetters creates a new Ollama service with dynamic getters
func NewOllamaServiceWithGetters(getBaseURL, getModel func() string) *OllamaService {
	return &OllamaService{
		getBaseURL:     getBaseURL,
		getModel:       getModel,
		embeddingModel: defaultOllamaEmbeddingModel,
		client:         &http.Client{Timeout: 5 * time.Minute},
	}
}

// WithEmbeddingModel sets the model used by Embed.
func (o *OllamaService) WithEmbeddingModel(model string) *OllamaService {
	if model != "" {
		o.embeddingModel = model
	}
	return o
}

// WithTimeout bounds every HTTP call to the server.
func (o *OllamaService) WithTimeout(d time.Duration) *OllamaService {
	if d > 0 {
		o.client = &http.Client{Timeout: d}
	}
	return o
}

func (o *OllamaService) baseURL() string {
	u := strings.TrimSuffix(o.getBaseURL(), "/")
	if u == "" {
		return defaultOllamaBaseURL
	}
	return u
}

func (o *OllamaService) model(override string) string {
	if override != "" {
		return override
	}
	if m := o.getModel(); m != "" {
		return m
	}
	return defaultOllamaModel
}

func (o *OllamaService) Name() ProviderType {
	return ProviderOllama
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Complete implements Provider via /api/chat
func (o *OllamaService) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := o.model(req.Model)

	messages := make([]ollamaMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: req.Prompt})

	options := map[string]interface{}{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	payload := map[string]interface{}{
		"model":    model,
		"messages": messages,
		"stream":   false,
		"options":  options,
	}
	if req.JSON {
		payload["format"] = "json"
	}

	var result struct {
		Message ollamaMessage `json:"message"`
		Done    bool          `json:"done"`
	}
	if err := doJSON(ctx, o.client, ProviderOllama, http.MethodPost, o.baseURL()+"/api/chat", nil, payload, &result); err != nil {
		return nil, err
	}
	if strings.TrimSpace(result.Message.Content) == "" {
		return nil, InvalidOutput(ProviderOllama, "empty response from model %s", model)
	}
	return &CompletionResponse{Text: result.Message.Content, Provider: ProviderOllama, Model: model}, nil
}

// Embed implements Provider via /api/embeddings
func (o *OllamaService) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]interface{}{
		"model":  o.embeddingModel,
		"prompt": text,
	}
	var result struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := doJSON(ctx, o.client, ProviderOllama, http.MethodPost, o.baseURL()+"/api/embeddings", nil, payload, &result); err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, InvalidOutput(ProviderOllama, "empty embedding from model %s", o.embeddingModel)
	}
	return result.Embedding, nil
}

// ListModels returns the models installed on the server.
func (o *OllamaService) ListModels(ctx context.Context) ([]string, error) {
	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := doJSON(ctx, o.client, ProviderOllama, http.MethodGet, o.baseURL()+"/api/tags", nil, nil, &result); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Ping checks the server answers /api/tags
func (o *OllamaService) Ping(ctx context.Context) error {
	_, err := o.ListModels(ctx)
	return err
}
