package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func serveLines(t *testing.T, input string, register func(*Server)) []Response {
	t.Helper()
	var output bytes.Buffer
	server := NewServer("1", strings.NewReader(input), &output, nil)
	if register != nil {
		register(server)
	}
	if err := server.Serve(context.Background()); err != nil {
		t.Fatalf("serve: %v", err)
	}
	var out []Response
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var resp Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("unmarshal %q: %v", line, err)
		}
		out = append(out, resp)
	}
	return out
}

func TestServerHandlesRequest(t *testing.T) {
	input := "{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"Ping\",\"api_version\":\"1\"}\n"
	resps := serveLines(t, input, func(s *Server) {
		s.Register("Ping", func(ctx context.Context, params json.RawMessage) (any, *Error) {
			return map[string]any{"pong": true}, nil
		})
	})
	if len(resps) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resps))
	}
	if resps[0].Error != nil {
		t.Fatalf("unexpected error: %v", resps[0].Error)
	}
	result := resps[0].Result.(map[string]any)
	if result["pong"] != true {
		t.Fatalf("expected pong true")
	}
}

func TestServeWaitsForSlowHandlers(t *testing.T) {
	input := "{\"jsonrpc\":\"2.0\",\"id\":7,\"method\":\"Slow\"}"
	resps := serveLines(t, input, func(s *Server) {
		s.Register("Slow", func(ctx context.Context, params json.RawMessage) (any, *Error) {
			time.Sleep(50 * time.Millisecond)
			return "done", nil
		})
	})
	if len(resps) != 1 || resps[0].Result != "done" {
		t.Fatalf("expected slow handler reply after EOF, got %+v", resps)
	}
	if string(resps[0].ID) != "7" {
		t.Fatalf("expected id 7, got %s", resps[0].ID)
	}
}

func TestServerErrorCodes(t *testing.T) {
	cases := []struct {
		name  string
		input string
		code  int
	}{
		{"parse", "{not json\n", CodeParseError},
		{"version", "{\"jsonrpc\":\"1.0\",\"id\":1,\"method\":\"Ping\"}\n", CodeInvalidRequest},
		{"missing method", "{\"jsonrpc\":\"2.0\",\"id\":1}\n", CodeInvalidRequest},
		{"api version", "{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"Ping\",\"api_version\":\"9\"}\n", CodeInvalidRequest},
		{"unknown method", "{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"Nope\"}\n", CodeMethodNotFound},
		{"invalid params", "{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"Strict\"}\n", CodeInvalidParams},
		{"handler error", "{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"Fail\"}\n", CodeServerError},
		{"handler panic", "{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"Panic\"}\n", CodeServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resps := serveLines(t, tc.input, func(s *Server) {
				s.Register("Ping", func(ctx context.Context, params json.RawMessage) (any, *Error) {
					return "pong", nil
				})
				s.Register("Strict", func(ctx context.Context, params json.RawMessage) (any, *Error) {
					return nil, InvalidParams("document_id is required", nil)
				})
				s.Register("Fail", func(ctx context.Context, params json.RawMessage) (any, *Error) {
					return nil, &Error{Message: "boom", Data: map[string]string{"error_code": "CONVERSION_FAILED"}}
				})
				s.Register("Panic", func(ctx context.Context, params json.RawMessage) (any, *Error) {
					panic("bad handler")
				})
			})
			if len(resps) != 1 || resps[0].Error == nil {
				t.Fatalf("expected one error response, got %+v", resps)
			}
			if resps[0].Error.Code != tc.code {
				t.Fatalf("expected code %d, got %d (%s)", tc.code, resps[0].Error.Code, resps[0].Error.Message)
			}
		})
	}
}

func TestNotificationsGetNoReply(t *testing.T) {
	called := make(chan struct{}, 1)
	input := "\n{\"jsonrpc\":\"2.0\",\"method\":\"Tick\"}\n"
	resps := serveLines(t, input, func(s *Server) {
		s.Register("Tick", func(ctx context.Context, params json.RawMessage) (any, *Error) {
			called <- struct{}{}
			return "ignored", nil
		})
	})
	if len(resps) != 0 {
		t.Fatalf("expected no replies, got %+v", resps)
	}
	select {
	case <-called:
	default:
		t.Fatalf("expected handler to run")
	}
}

func TestNotifyWritesLine(t *testing.T) {
	var output bytes.Buffer
	server := NewServer("1", strings.NewReader(""), &output, nil)
	server.Notify("ConversionCompleted", map[string]string{"handle_id": "h1"})
	var n Notification
	if err := json.Unmarshal(bytes.TrimSpace(output.Bytes()), &n); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if n.Method != "ConversionCompleted" || n.JSONRPC != "2.0" {
		t.Fatalf("unexpected notification: %+v", n)
	}
}
