package ollama

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
	ProviderID     = "ollama"
	DefaultBaseURL = "http://localhost:11434"

	maxErrorBodyBytes = 2048
)

// Client talks to a local Ollama server through /api/chat.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient returns a client for baseURL. Only loopback hosts are reachable.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: egress.NewLoopbackRoundTripper(http.DefaultTransport),
		},
	}
}

func (c *Client) ID() string {
	return ProviderID
}

// Complete ignores apiKey; a local server has no credential.
func (c *Client) Complete(ctx context.Context, _ string, model string, messages []llm.Message, params llm.Params) (string, error) {
	payload := chatRequest{
		Model:    model,
		Messages: toChatMessages(messages),
		Stream:   false,
		Options:  chatOptions{Temperature: params.Temperature},
	}
	if params.MaxTokens > 0 {
		payload.Options.NumPredict = params.MaxTokens
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, llm.ErrEgressBlocked) {
			return "", llm.ErrEgressBlocked
		}
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return "", classify(resp.StatusCode, errorBody)
	}
	var completion chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", &llm.ProviderError{Provider: ProviderID, Message: "decode response: " + err.Error(), Kind: llm.ErrMalformedResponse}
	}
	if completion.Error != "" {
		return "", &llm.ProviderError{Provider: ProviderID, Message: completion.Error, Kind: llm.ErrInvalidRequest}
	}
	if strings.TrimSpace(completion.Message.Content) == "" {
		return "", &llm.ProviderError{Provider: ProviderID, Message: "empty response", Kind: llm.ErrMalformedResponse}
	}
	return completion.Message.Content, nil
}

func classify(status int, body []byte) error {
	var envelope struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &envelope)
	perr := &llm.ProviderError{Provider: ProviderID, Status: status, Message: envelope.Error}
	if perr.Message == "" {
		perr.Message = strings.TrimSpace(string(body))
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		perr.Kind = llm.ErrUnauthorized
	case status == http.StatusTooManyRequests:
		perr.Kind = llm.ErrRateLimited
	case status >= 500:
		perr.Kind = llm.ErrUnavailable
	default:
		// 404 here means the model has not been pulled.
		perr.Kind = llm.ErrInvalidRequest
	}
	return perr
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

func toChatMessages(messages []llm.Message) []chatMessage {
	result := make([]chatMessage, 0, len(messages))
	for _, msg := range messages {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		if role == "" {
			role = "user"
		}
		result = append(result, chatMessage{Role: role, Content: msg.Content})
	}
	return result
}
