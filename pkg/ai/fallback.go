package ai

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// FallbackProvider tries the primary provider and switches to the secondary
// when the primary is unreachable, slow or out of quota. Any other failure
// (bad request, invalid output, auth) is returned as is.
type FallbackProvider struct {
	primary   Provider
	secondary Provider
	logger    *zap.Logger
}

func NewFallbackProvider(primary, secondary Provider, logger *zap.Logger) *FallbackProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackProvider{
		primary:   primary,
		secondary: secondary,
		logger:    logger.Named("ai"),
	}
}

func (f *FallbackProvider) Name() ProviderType {
	return f.primary.Name()
}

// shouldFallback reports whether err is an availability problem of the provider.
func shouldFallback(err error) bool {
	switch kindOf(err) {
	case KindConnection, KindTimeout, KindRateLimit, KindServer:
		return true
	default:
		return false
	}
}

func (f *FallbackProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := f.primary.Complete(ctx, req)
	if err == nil || !shouldFallback(err) || ctx.Err() != nil {
		return resp, err
	}

	f.logger.Warn("Primary provider failed, falling back",
		zap.String("primary", string(f.primary.Name())),
		zap.String("secondary", string(f.secondary.Name())),
		zap.Error(err))

	// Model names are provider specific.
	req.Model = ""
	resp, err2 := f.secondary.Complete(ctx, req)
	if err2 != nil {
		return nil, fmt.Errorf("%w (after fallback from %s: %v)", err2, f.primary.Name(), err)
	}
	return resp, nil
}

func (f *FallbackProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	// Vectors from different models are not comparable, so embeddings never fall back.
	return f.primary.Embed(ctx, text)
}

func (f *FallbackProvider) Ping(ctx context.Context) error {
	err := f.primary.Ping(ctx)
	if err == nil || !shouldFallback(err) {
		return err
	}
	if err2 := f.secondary.Ping(ctx); err2 != nil {
		return fmt.Errorf("both providers unreachable: %w; %v", err, err2)
	}
	return nil
}
