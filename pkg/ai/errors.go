package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"noodle-backend/pkg/apperrors"
)

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindConnection    ErrorKind = "connection"
	KindTimeout       ErrorKind = "timeout"
	KindRateLimit     ErrorKind = "rate_limit"
	KindServer        ErrorKind = "server"
	KindAuth          ErrorKind = "auth"
	KindBadRequest    ErrorKind = "bad_request"
	KindInvalidOutput ErrorKind = "invalid_output"
	KindUnknown       ErrorKind = "unknown"
)

// Error is a classified provider failure. It implements retry.RetryableError.
type Error struct {
	Provider   ProviderType
	Kind       ErrorKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Provider))
	b.WriteString(" ")
	b.WriteString(string(e.Kind))
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " HTTP %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match apperrors.ErrUnavailable for unreachable backends
// and apperrors.ErrValidation for unusable output.
func (e *Error) Is(target error) bool {
	switch target {
	case apperrors.ErrUnavailable:
		return e.Kind == KindConnection || e.Kind == KindRateLimit
	case apperrors.ErrValidation:
		return e.Kind == KindInvalidOutput
	default:
		return false
	}
}

func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindConnection, KindTimeout, KindRateLimit, KindServer:
		return true
	default:
		return false
	}
}

// statusKind maps an HTTP status onto a kind.
func statusKind(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 408:
		return KindTimeout
	case status == 429:
		return KindRateLimit
	case status >= 500:
		return KindServer
	case status >= 400:
		return KindBadRequest
	default:
		return KindUnknown
	}
}

// newStatusError builds an Error from a non-2xx HTTP response.
func newStatusError(provider ProviderType, status int, body []byte) *Error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	kind := statusKind(status)
	if kind == KindBadRequest && isQuotaError(errors.New(msg)) {
		kind = KindRateLimit
	}
	return &Error{Provider: provider, Kind: kind, StatusCode: status, Message: msg}
}

// ClassifyError wraps err as an *Error. Errors already classified pass through.
func ClassifyError(provider ProviderType, err error) error {
	if err == nil {
		return nil
	}
	var aiErr *Error
	if errors.As(err, &aiErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	kind := KindUnknown
	status := 0
	lower := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(lower, "timeout"):
		kind = KindTimeout
	case isConnectionError(err):
		kind = KindConnection
	case isQuotaError(err):
		kind = KindRateLimit
		status = 429
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key") || strings.Contains(lower, "authentication"):
		kind = KindAuth
	default:
		for _, code := range []int{500, 502, 503, 504} {
			if strings.Contains(lower, fmt.Sprintf("status code: %d", code)) || strings.Contains(lower, fmt.Sprintf("%d", code)) {
				kind = KindServer
				status = code
				break
			}
		}
	}
	return &Error{Provider: provider, Kind: kind, StatusCode: status, Cause: err}
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	connectionIndicators := []string{
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"dial tcp",
		"eof",
	}
	for _, indicator := range connectionIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// isQuotaError checks if the error indicates API quota exhaustion (429)
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	quotaIndicators := []string{
		"429",
		"quota",
		"rate limit",
		"too many requests",
		"resource exhausted",
		"resource_exhausted",
	}
	for _, indicator := range quotaIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// kindOf returns the kind of a classified error, KindUnknown otherwise.
func kindOf(err error) ErrorKind {
	var aiErr *Error
	if errors.As(err, &aiErr) {
		return aiErr.Kind
	}
	return KindUnknown
}

// InvalidOutput reports a response that could not be used.
func InvalidOutput(provider ProviderType, format string, args ...any) error {
	return &Error{Provider: provider, Kind: KindInvalidOutput, Message: fmt.Sprintf(format, args...)}
}
