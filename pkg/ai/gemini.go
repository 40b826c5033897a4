package ai

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultGeminiBaseURL        = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel          = "gemini-2.5-flash"
	defaultGeminiEmbeddingModel = "text-embedding-004"
)

// GeminiService implements Provider over the Gemini REST API.
type GeminiService struct {
	apiKey         string
	baseURL        string
	model          string
	embeddingModel string
	client         *http.Client
}

func NewGeminiService(apiKey, model string) *GeminiService {
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiService{
		apiKey:         apiKey,
		baseURL:        defaultGeminiBaseURL,
		model:          model,
		embeddingModel: defaultGeminiEmbeddingModel,
		client:         &http.Client{Timeout: 120 * time.Second},
	}
}

// WithBaseURL points the service at another endpoint (tests, proxies).
func (g *GeminiService) WithBaseURL(baseURL string) *GeminiService {
	g.baseURL = strings.TrimSuffix(baseURL, "/")
	return g
}

func (g *GeminiService) WithEmbeddingModel(model string) *GeminiService {
	if model != "" {
		g.embeddingModel = model
	}
	return g
}

func (g *GeminiService) WithTimeout(d time.Duration) *GeminiService {
	if d > 0 {
		g.client.Timeout = d
	}
	return g
}

func (g *GeminiService) Name() ProviderType {
	return ProviderGemini
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerateRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  map[string]interface{} `json:"generationConfig,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

func (g *GeminiService) endpoint(model, method string) string {
	return g.baseURL + "/models/" + url.PathEscape(model) + ":" + method + "?key=" + url.QueryEscape(g.apiKey)
}

func (g *GeminiService) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := g.model
	if req.Model != "" {
		model = req.Model
	}

	payload := geminiGenerateRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
	}
	if req.System != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	genConfig := map[string]interface{}{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		genConfig["maxOutputTokens"] = req.MaxTokens
	}
	if req.JSON {
		genConfig["responseMimeType"] = "application/json"
	}
	payload.GenerationConfig = genConfig

	var result geminiGenerateResponse
	if err := doJSON(ctx, g.client, ProviderGemini, http.MethodPost, g.endpoint(model, "generateContent"), nil, payload, &result); err != nil {
		return nil, err
	}

	if len(result.Candidates) == 0 {
		return nil, InvalidOutput(ProviderGemini, "no candidates in response")
	}
	var text strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, InvalidOutput(ProviderGemini, "empty candidate (finish reason %q)", result.Candidates[0].FinishReason)
	}
	return &CompletionResponse{Text: text.String(), Provider: ProviderGemini, Model: model}, nil
}

func (g *GeminiService) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]interface{}{
		"model":   "models/" + g.embeddingModel,
		"content": geminiContent{Parts: []geminiPart{{Text: text}}},
	}
	var result struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	if err := doJSON(ctx, g.client, ProviderGemini, http.MethodPost, g.endpoint(g.embeddingModel, "embedContent"), nil, payload, &result); err != nil {
		return nil, err
	}
	if len(result.Embedding.Values) == 0 {
		return nil, InvalidOutput(ProviderGemini, "no embedding in response")
	}
	return result.Embedding.Values, nil
}

func (g *GeminiService) Ping(ctx context.Context) error {
	u := g.baseURL + "/models/" + url.PathEscape(g.model) + "?key=" + url.QueryEscape(g.apiKey)
	return doJSON(ctx, g.client, ProviderGemini, http.MethodGet, u, nil, nil, nil)
}
