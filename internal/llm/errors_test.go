package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", ErrRateLimited, true},
		{"unavailable wrapped", fmt.Errorf("call: %w", ErrUnavailable), true},
		{"provider error 429", &ProviderError{Provider: "anthropic", Status: 429, Kind: ErrRateLimited}, true},
		{"unauthorized", ErrUnauthorized, false},
		{"quota", &ProviderError{Provider: "anthropic", Type: "billing_error", Kind: ErrQuotaExhausted}, false},
		{"invalid", ErrInvalidRequest, false},
		{"malformed", ErrMalformedResponse, false},
		{"egress", ErrEgressBlocked, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"dial", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: IsRetryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := &ProviderError{Provider: "anthropic", Status: 400, Type: "invalid_request_error", Message: "max_tokens too large", Kind: ErrInvalidRequest}
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected errors.Is to match sentinel")
	}
	want := "anthropic: llm invalid request (invalid_request_error): max_tokens too large"
	if err.Error() != want {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
