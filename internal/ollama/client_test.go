package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"asciidocartisan/engine/internal/llm"
)

func TestCompleteSendsDeterministicOptions(t *testing.T) {
	var payload chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"# Title\n\npara"},"done":true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 0)
	out, err := client.Complete(context.Background(), "", "llama3", []llm.Message{
		{Role: "system", Content: "convert"},
		{Role: "user", Content: "= Title\n\npara"},
	}, llm.Params{Temperature: 0, MaxTokens: 256})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "# Title\n\npara" {
		t.Fatalf("unexpected output %q", out)
	}
	if payload.Stream {
		t.Fatalf("expected stream=false")
	}
	if payload.Options.Temperature != 0 || payload.Options.NumPredict != 256 {
		t.Fatalf("unexpected options %#v", payload.Options)
	}
	if len(payload.Messages) != 2 || payload.Messages[0].Role != "system" {
		t.Fatalf("unexpected messages %#v", payload.Messages)
	}
}

func TestCompleteErrors(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusNotFound, `{"error":"model \"nope\" not found, try pulling it first"}`, llm.ErrInvalidRequest},
		{http.StatusInternalServerError, `{"error":"out of memory"}`, llm.ErrUnavailable},
		{http.StatusTooManyRequests, ``, llm.ErrRateLimited},
		{http.StatusOK, `{"message":{"role":"assistant","content":""}}`, llm.ErrMalformedResponse},
		{http.StatusOK, `{`, llm.ErrMalformedResponse},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		_, err := NewClient(server.URL, 0).Complete(context.Background(), "", "m", []llm.Message{{Role: "user", Content: "x"}}, llm.Params{})
		server.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d body %q: expected %v, got %v", tc.status, tc.body, tc.want, err)
		}
	}
}

func TestCompleteRefusesRemoteHost(t *testing.T) {
	client := NewClient("http://ollama.example.com:11434", 0)
	_, err := client.Complete(context.Background(), "", "m", []llm.Message{{Role: "user", Content: "x"}}, llm.Params{})
	if !errors.Is(err, llm.ErrEgressBlocked) {
		t.Fatalf("expected egress blocked, got %v", err)
	}
}
