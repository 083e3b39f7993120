package aiconvert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"asciidocartisan/engine/internal/anthropic"
	"asciidocartisan/engine/internal/format"
	"asciidocartisan/engine/internal/llm"
	"asciidocartisan/engine/internal/logging"
	"asciidocartisan/engine/internal/ollama"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 2 * time.Second
	DefaultMaxTokens   = 8192
)

// Provider is a single-shot completion backend.
type Provider interface {
	ID() string
	Complete(ctx context.Context, apiKey, model string, messages []llm.Message, params llm.Params) (string, error)
}

type Config struct {
	// Provider selects the backend by ID; empty disables AI conversion.
	Provider  string
	Model     string
	MaxTokens int
}

// RetryState tracks one Convert call. Delay after attempt n is
// BackoffBase*2^(n-1), so the default base yields 2s then 4s.
type RetryState struct {
	Attempt     int
	MaxAttempts int
	BackoffBase time.Duration
}

func NewRetryState() RetryState {
	return RetryState{MaxAttempts: DefaultMaxAttempts, BackoffBase: DefaultBackoffBase}
}

func (s RetryState) Delay() time.Duration {
	if s.Attempt <= 0 {
		return 0
	}
	return s.BackoffBase << (s.Attempt - 1)
}

// Exhausted reports whether no attempts remain.
func (s RetryState) Exhausted() bool {
	return s.Attempt >= s.MaxAttempts
}

// credentialEnv names the environment variable holding each provider's key.
// Providers absent from the map need no key.
var credentialEnv = map[string]string{
	anthropic.ProviderID: anthropic.APIKeyEnv,
}

// CredentialEnv returns the environment variable a provider reads its key
// from, or "" when it needs none.
func CredentialEnv(providerID string) string {
	return credentialEnv[providerID]
}

type Option func(*Adapter)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithGetenv replaces os.Getenv for credential lookup.
func WithGetenv(getenv func(string) string) Option {
	return func(a *Adapter) {
		if getenv != nil {
			a.getenv = getenv
		}
	}
}

func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(a *Adapter) {
		if sleep != nil {
			a.sleep = sleep
		}
	}
}

func WithRetry(maxAttempts int, base time.Duration) Option {
	return func(a *Adapter) {
		if maxAttempts > 0 {
			a.maxAttempts = maxAttempts
		}
		if base > 0 {
			a.backoffBase = base
		}
	}
}

// Adapter converts documents with a language model. It holds no credential;
// the key is read from the environment on every call.
type Adapter struct {
	cfg         Config
	providers   map[string]Provider
	getenv      func(string) string
	sleep       func(context.Context, time.Duration) error
	logger      *slog.Logger
	maxAttempts int
	backoffBase time.Duration
}

func New(cfg Config, providers map[string]Provider, opts ...Option) *Adapter {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	a := &Adapter{
		cfg:         cfg,
		providers:   providers,
		getenv:      os.Getenv,
		sleep:       sleepWithContext,
		logger:      logging.Nop(),
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// DefaultProviders builds the two supported backends.
func DefaultProviders(ollamaURL string, timeout time.Duration) map[string]Provider {
	return map[string]Provider{
		anthropic.ProviderID: anthropic.NewClient(timeout),
		ollama.ProviderID:    ollama.NewClient(ollamaURL, timeout),
	}
}

func (a *Adapter) ProviderID() string { return a.cfg.Provider }

func (a *Adapter) Model() string { return a.cfg.Model }

// Ready reports whether a call would be attempted: the provider is known and
// its credential, if it needs one, is present.
func (a *Adapter) Ready() bool {
	_, _, err := a.resolve()
	return err == nil
}

// Status is safe to show to the editor; it never includes the key.
type Status struct {
	ProviderID    string `json:"provider_id"`
	Model         string `json:"model"`
	Configured    bool   `json:"configured"`
	CredentialEnv string `json:"credential_env,omitempty"`
}

func (a *Adapter) Status() Status {
	return Status{
		ProviderID:    a.cfg.Provider,
		Model:         a.cfg.Model,
		Configured:    a.Ready(),
		CredentialEnv: CredentialEnv(a.cfg.Provider),
	}
}

func (a *Adapter) resolve() (Provider, string, error) {
	provider, ok := a.providers[a.cfg.Provider]
	if a.cfg.Provider == "" || !ok || provider == nil {
		return nil, "", &Error{Kind: ErrUnknownProvider, Provider: a.cfg.Provider}
	}
	env := CredentialEnv(a.cfg.Provider)
	if env == "" {
		return provider, "", nil
	}
	key := strings.TrimSpace(a.getenv(env))
	if key == "" {
		return nil, "", &Error{Kind: ErrCredentialMissing, Provider: a.cfg.Provider}
	}
	return provider, key, nil
}

// Convert asks the model to rewrite text from one format into a text target.
// Rate limiting and unavailability are retried with exponential backoff;
// every other failure returns at once. A nil error guarantees non-empty text.
func (a *Adapter) Convert(ctx context.Context, text string, from, to format.Format) (string, error) {
	if !to.Valid() || to.Binary() {
		return "", &Error{Kind: ErrInvalidRequest, Provider: a.cfg.Provider, Err: fmt.Errorf("%w: %q", format.ErrUnsupported, to)}
	}
	provider, key, err := a.resolve()
	if err != nil {
		return "", err
	}
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt(from, to)},
		{Role: "user", Content: text},
	}
	params := llm.Params{Temperature: 0, MaxTokens: a.cfg.MaxTokens}

	state := RetryState{MaxAttempts: a.maxAttempts, BackoffBase: a.backoffBase}
	for {
		state.Attempt++
		started := time.Now()
		reply, callErr := provider.Complete(ctx, key, a.cfg.Model, messages, params)
		if callErr == nil {
			out := stripFence(reply)
			if out != "" {
				a.logger.Debug("ai.convert_ok", "provider", provider.ID(), "attempt", state.Attempt, "elapsed_ms", time.Since(started).Milliseconds())
				return out, nil
			}
			callErr = &llm.ProviderError{Provider: provider.ID(), Message: "empty document", Kind: llm.ErrMalformedResponse}
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(callErr, ctxErr) {
			return "", ctxErr
		}
		kind := kindOf(callErr)
		if !llm.IsRetryable(callErr) || state.Exhausted() {
			a.logger.Warn("ai.convert_failed", "provider", provider.ID(), "attempt", state.Attempt, "kind", kind.Error(), "error", callErr.Error())
			return "", &Error{Kind: kind, Provider: provider.ID(), Attempts: state.Attempt, Err: callErr}
		}
		wait := state.Delay()
		a.logger.Warn("ai.convert_retry",
			"provider", provider.ID(),
			"retry_attempt", state.Attempt,
			"retry_max", state.MaxAttempts,
			"retry_in_ms", wait.Milliseconds(),
			"kind", kind.Error(),
		)
		if err := a.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
