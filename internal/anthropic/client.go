package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"asciidocartisan/engine/internal/egress"
	"asciidocartisan/engine/internal/llm"
)

const (
	ProviderID = "anthropic"
	// APIKeyEnv is the only place the credential is read from.
	APIKeyEnv = "ANTHROPIC_API_KEY"

	defaultBaseURL   = "https://api.anthropic.com"
	defaultVersion   = "2023-06-01"
	defaultMaxTokens = 8192

	maxErrorBodyBytes = 2048
)

// Client implements the Anthropic Messages API for single-shot completions.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	transport := egress.NewAllowlistRoundTripper(http.DefaultTransport, []string{"api.anthropic.com"})
	return &Client{
		baseURL: defaultBaseURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

func (c *Client) ID() string {
	return ProviderID
}

func (c *Client) Complete(ctx context.Context, apiKey, model string, messages []llm.Message, params llm.Params) (string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", &llm.ProviderError{Provider: ProviderID, Message: "missing api key", Kind: llm.ErrUnauthorized}
	}
	anthropicMessages, systemPrompt := toAnthropicMessages(messages)
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	payload := map[string]any{
		"model":       model,
		"max_tokens":  maxTokens,
		"messages":    anthropicMessages,
		"temperature": params.Temperature,
	}
	if systemPrompt != "" {
		payload["system"] = systemPrompt
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	respBody, err := c.post(ctx, apiKey, body)
	if err != nil {
		return "", err
	}
	var response anthropicResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", &llm.ProviderError{Provider: ProviderID, Message: "decode response: " + err.Error(), Kind: llm.ErrMalformedResponse}
	}
	content := extractText(response.Content)
	if strings.TrimSpace(content) == "" {
		return "", &llm.ProviderError{Provider: ProviderID, Message: "empty response", Kind: llm.ErrMalformedResponse}
	}
	return content, nil
}

func (c *Client) post(ctx context.Context, apiKey string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", defaultVersion)
	req.Header.Set("content-type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, llm.ErrEgressBlocked) {
			return nil, llm.ErrEgressBlocked
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, classify(resp.StatusCode, errorBody)
	}
	return io.ReadAll(resp.Body)
}

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// classify maps an error response onto llm sentinels. The typed error.type
// field wins over the status code when present.
func classify(status int, body []byte) error {
	var envelope errorEnvelope
	_ = json.Unmarshal(body, &envelope)
	perr := &llm.ProviderError{
		Provider: ProviderID,
		Status:   status,
		Type:     envelope.Error.Type,
		Message:  envelope.Error.Message,
	}
	switch envelope.Error.Type {
	case "authentication_error", "permission_error":
		perr.Kind = llm.ErrUnauthorized
	case "rate_limit_error":
		perr.Kind = llm.ErrRateLimited
	case "overloaded_error", "api_error":
		perr.Kind = llm.ErrUnavailable
	case "billing_error":
		perr.Kind = llm.ErrQuotaExhausted
	case "invalid_request_error", "not_found_error", "request_too_large":
		perr.Kind = llm.ErrInvalidRequest
	}
	if perr.Kind != nil {
		return perr
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		perr.Kind = llm.ErrUnauthorized
	case status == http.StatusTooManyRequests:
		perr.Kind = llm.ErrRateLimited
	case status == http.StatusPaymentRequired:
		perr.Kind = llm.ErrQuotaExhausted
	case status >= 500:
		perr.Kind = llm.ErrUnavailable
	default:
		perr.Kind = llm.ErrInvalidRequest
	}
	if perr.Message == "" {
		perr.Message = strings.TrimSpace(string(body))
	}
	return perr
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
}

func toAnthropicMessages(messages []llm.Message) ([]anthropicMessage, string) {
	var out []anthropicMessage
	systemParts := make([]string, 0)
	for _, msg := range messages {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		if role == "system" {
			text := strings.TrimSpace(msg.Content)
			if text != "" {
				systemParts = append(systemParts, text)
			}
			continue
		}
		out = append(out, anthropicMessage{
			Role:    role,
			Content: []anthropicContent{{Type: "text", Text: msg.Content}},
		})
	}
	return out, strings.Join(systemParts, "\n\n")
}

func extractText(contents []anthropicContent) string {
	var buf bytes.Buffer
	for _, item := range contents {
		if item.Type == "text" {
			buf.WriteString(item.Text)
		}
	}
	return buf.String()
}
