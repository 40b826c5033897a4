package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"noodle-backend/pkg/apperrors"
	"noodle-backend/pkg/retry"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		kind ErrorKind
	}{
		{context.DeadlineExceeded, KindTimeout},
		{errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), KindConnection},
		{errors.New("error, status code: 429, message: quota exceeded"), KindRateLimit},
		{errors.New("401 unauthorized"), KindAuth},
		{errors.New("error, status code: 502, message: bad gateway"), KindServer},
		{errors.New("something odd"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.kind, kindOf(ClassifyError(ProviderOpenAI, tt.err)))
		})
	}
}

func TestClassifyError_PassesThrough(t *testing.T) {
	assert.Nil(t, ClassifyError(ProviderOllama, nil))
	assert.Equal(t, context.Canceled, ClassifyError(ProviderOllama, context.Canceled))

	orig := &Error{Provider: ProviderGemini, Kind: KindAuth}
	wrapped := fmt.Errorf("call: %w", orig)
	assert.Equal(t, wrapped, ClassifyError(ProviderOllama, wrapped))
}

func TestError_RetryAndSentinels(t *testing.T) {
	rateLimited := &Error{Provider: ProviderGemini, Kind: KindRateLimit, StatusCode: 429}
	assert.True(t, retry.IsRetryable(rateLimited))
	assert.True(t, errors.Is(rateLimited, apperrors.ErrUnavailable))
	assert.Contains(t, rateLimited.Error(), "HTTP 429")

	invalid := InvalidOutput(ProviderOllama, "bad %s", "shape")
	assert.False(t, retry.IsRetryable(invalid))
	assert.True(t, errors.Is(invalid, apperrors.ErrValidation))
	assert.False(t, errors.Is(invalid, apperrors.ErrUnavailable))
}

func TestNewStatusError_QuotaMessageOn400(t *testing.T) {
	err := newStatusError(ProviderGemini, 400, []byte("Quota exceeded for project"))
	assert.Equal(t, KindRateLimit, err.Kind)
}
