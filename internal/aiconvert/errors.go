package aiconvert

import (
	"context"
	"errors"

	"asciidocartisan/engine/internal/errinfo"
	"asciidocartisan/engine/internal/llm"
)

var (
	ErrCredentialMissing  = errors.New("ai credential missing")
	ErrAuthentication     = errors.New("ai authentication failed")
	ErrRateLimitExceeded  = errors.New("ai rate limit exceeded")
	ErrServiceUnavailable = errors.New("ai service unavailable")
	ErrMalformedResponse  = errors.New("ai malformed response")
	ErrQuotaExhausted     = errors.New("ai quota exhausted")
	ErrInvalidRequest     = errors.New("ai invalid request")
	ErrEgressBlocked      = errors.New("ai endpoint blocked by egress policy")
	ErrUnknownProvider    = errors.New("ai provider not configured")
)

// Error is what Convert returns on failure. Kind is one of the sentinels
// above; Err is the last provider error, if any.
type Error struct {
	Kind     error
	Provider string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return e != nil && e.Kind == target
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// kindOf maps a provider error onto the adapter taxonomy. It is the only
// place provider failures are classified.
func kindOf(err error) error {
	switch {
	case errors.Is(err, llm.ErrUnauthorized):
		return ErrAuthentication
	case errors.Is(err, llm.ErrRateLimited):
		return ErrRateLimitExceeded
	case errors.Is(err, llm.ErrMalformedResponse):
		return ErrMalformedResponse
	case errors.Is(err, llm.ErrQuotaExhausted):
		return ErrQuotaExhausted
	case errors.Is(err, llm.ErrInvalidRequest):
		return ErrInvalidRequest
	case errors.Is(err, llm.ErrEgressBlocked):
		return ErrEgressBlocked
	}
	return ErrServiceUnavailable
}

// ErrorInfo converts an adapter failure into the payload shown to the editor.
func ErrorInfo(phase string, err error) *errinfo.ErrorInfo {
	var aiErr *Error
	providerID := ""
	if errors.As(err, &aiErr) {
		providerID = aiErr.Provider
	}
	var info *errinfo.ErrorInfo
	switch {
	case errors.Is(err, ErrCredentialMissing), errors.Is(err, ErrUnknownProvider):
		return errinfo.ProviderNotConfigured(phase, providerID)
	case errors.Is(err, ErrAuthentication):
		return errinfo.ProviderAuthFailed(phase, providerID)
	case errors.Is(err, ErrRateLimitExceeded):
		info = errinfo.ProviderRateLimited(phase, err.Error())
	case errors.Is(err, ErrMalformedResponse):
		info = errinfo.MalformedResponse(phase, err.Error())
	case errors.Is(err, ErrEgressBlocked):
		info = errinfo.EgressBlocked(phase, err.Error())
	case errors.Is(err, ErrQuotaExhausted), errors.Is(err, ErrInvalidRequest):
		info = errinfo.ValidationFailed(phase, err.Error())
	case errors.Is(err, context.Canceled):
		info = errinfo.UserCanceled(phase, err.Error())
	default:
		info = errinfo.ProviderUnavailable(phase, err.Error())
	}
	info.ProviderID = providerID
	return info
}
