package ai

import (
	"context"
	"sync"
)

// scriptedProvider answers Complete calls from a queue.
type scriptedProvider struct {
	mu      sync.Mutex
	name    ProviderType
	answers []string
	errs    []error
	calls   []CompletionRequest
	embed   []float32
}

func (p *scriptedProvider) Name() ProviderType { return p.name }

func (p *scriptedProvider) Complete(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := len(p.calls)
	p.calls = append(p.calls, req)
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	text := ""
	if i < len(p.answers) {
		text = p.answers[i]
	}
	return &CompletionResponse{Text: text, Provider: p.name, Model: req.Model}, nil
}

func (p *scriptedProvider) Embed(context.Context, string) ([]float32, error) {
	return p.embed, nil
}

func (p *scriptedProvider) Ping(context.Context) error {
	if len(p.errs) > 0 {
		return p.errs[0]
	}
	return nil
}
