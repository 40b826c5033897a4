package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel          = "gpt-4o-mini"
	defaultOpenAIEmbeddingModel = "text-embedding-3-small"
)

// OpenAIService implements Provider for OpenAI and OpenAI-compatible endpoints.
type OpenAIService struct {
	client         *openai.Client
	model          string
	embeddingModel string
}

// NewOpenAIService creates a client. baseURL may point at any compatible server.
func NewOpenAIService(apiKey, baseURL, model, embeddingModel string) *OpenAIService {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	if embeddingModel == "" {
		embeddingModel = defaultOpenAIEmbeddingModel
	}
	return &OpenAIService{
		client:         openai.NewClientWithConfig(clientConfig),
		model:          model,
		embeddingModel: embeddingModel,
	}
}

func (s *OpenAIService) Name() ProviderType {
	return ProviderOpenAI
}

func (s *OpenAIService) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := s.model
	if req.Model != "" {
		model = req.Model
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := s.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, s.classify(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, InvalidOutput(ProviderOpenAI, "no choices in response")
	}
	return &CompletionResponse{Text: resp.Choices[0].Message.Content, Provider: ProviderOpenAI, Model: model}, nil
}

func (s *OpenAIService) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(s.embeddingModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, s.classify(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, InvalidOutput(ProviderOpenAI, "no embedding in response")
	}
	return resp.Data[0].Embedding, nil
}

func (s *OpenAIService) Ping(ctx context.Context) error {
	if _, err := s.client.ListModels(ctx); err != nil {
		return s.classify(err)
	}
	return nil
}

// classify prefers the status code the SDK parsed over string matching.
func (s *OpenAIService) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &Error{
			Provider:   ProviderOpenAI,
			Kind:       statusKind(apiErr.HTTPStatusCode),
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Cause:      err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &Error{
			Provider:   ProviderOpenAI,
			Kind:       statusKind(reqErr.HTTPStatusCode),
			StatusCode: reqErr.HTTPStatusCode,
			Message:    fmt.Sprintf("request failed with status %d", reqErr.HTTPStatusCode),
			Cause:      err,
		}
	}
	return ClassifyError(ProviderOpenAI, err)
}
