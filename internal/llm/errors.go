package llm

import (
	"context"
	"errors"
	"net"
)

var (
	ErrUnauthorized      = errors.New("llm unauthorized")
	ErrUnavailable       = errors.New("llm unavailable")
	ErrEgressBlocked     = errors.New("egress blocked")
	ErrRateLimited       = errors.New("llm rate limited")
	ErrQuotaExhausted    = errors.New("llm quota exhausted")
	ErrInvalidRequest    = errors.New("llm invalid request")
	ErrMalformedResponse = errors.New("llm malformed response")
)

// ProviderError carries provider detail while unwrapping to one of the
// sentinels above, so callers classify with errors.Is.
type ProviderError struct {
	Provider string
	Status   int
	Type     string
	Message  string
	Kind     error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Provider + ": " + e.Kind.Error()
	if e.Type != "" {
		msg += " (" + e.Type + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}

// IsRetryable reports whether err is worth another attempt: rate limiting,
// service unavailability, or a transport-level failure. Everything else,
// including cancellation, is terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable) {
		return true
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrQuotaExhausted) ||
		errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, ErrEgressBlocked) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
