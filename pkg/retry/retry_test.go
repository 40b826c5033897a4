package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flaggedErr struct {
	retryable bool
}

func (e *flaggedErr) Error() string     { return "flagged" }
func (e *flaggedErr) IsRetryable() bool { return e.retryable }

func fastConfig() *Config {
	return &Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return errors.New("invalid api key")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoCounted_ExhaustsRetries(t *testing.T) {
	_, attempts, err := DoCounted(context.Background(), fastConfig(), func() (int, error) {
		return 0, &flaggedErr{retryable: true}
	})

	require.Error(t, err)
	assert.Equal(t, 4, attempts)
}

func TestDo_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastConfig(), func() error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"rate limit", errors.New("429 Too Many Requests"), true},
		{"locked", errors.New("database is locked"), true},
		{"explicit true", &flaggedErr{retryable: true}, true},
		{"explicit false wrapped", fmt.Errorf("call: %w", &flaggedErr{retryable: false}), false},
		{"unknown", errors.New("bad request"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
