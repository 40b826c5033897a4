package ai

import (
	"context"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

const (
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 4096
)

// AnthropicService implements Provider for the Anthropic Messages API.
// Anthropic serves no embeddings; Embed always fails with KindBadRequest.
type AnthropicService struct {
	client *anthropic.Client
	model  string
}

func NewAnthropicService(apiKey, model string, opts ...anthropic.ClientOption) *AnthropicService {
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicService{client: anthropic.NewClient(apiKey, opts...), model: model}
}

func (s *AnthropicService) Name() ProviderType {
	return ProviderAnthropic
}

func (s *AnthropicService) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := s.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	prompt := req.Prompt
	if req.JSON {
		prompt += "\n\nRespond with a single JSON object and nothing else."
	}

	resp, err := s.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(model),
		System:    req.System,
		MaxTokens: maxTokens,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		return nil, ClassifyError(ProviderAnthropic, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			text.WriteString(*block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, InvalidOutput(ProviderAnthropic, "no text content in response")
	}
	return &CompletionResponse{Text: text.String(), Provider: ProviderAnthropic, Model: model}, nil
}

func (s *AnthropicService) Embed(context.Context, string) ([]float32, error) {
	return nil, &Error{Provider: ProviderAnthropic, Kind: KindBadRequest, Message: "embeddings are not supported"}
}

// Ping sends a one-token request; the API has no cheaper health probe.
func (s *AnthropicService) Ping(ctx context.Context) error {
	_, err := s.Complete(ctx, CompletionRequest{Prompt: "ping", MaxTokens: 1})
	return err
}
