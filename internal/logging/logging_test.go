package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRedactAnyMasksCredentials(t *testing.T) {
	in := map[string]any{
		"ANTHROPIC_API_KEY": "sk-ant-1234567890",
		"nested":            map[string]any{"x-api-key": "abcdefgh"},
		"document_id":       "doc-1",
	}
	out := RedactAny(in).(map[string]any)
	if out["ANTHROPIC_API_KEY"] != "****7890" {
		t.Fatalf("expected masked key, got %v", out["ANTHROPIC_API_KEY"])
	}
	if out["nested"].(map[string]any)["x-api-key"] != "****efgh" {
		t.Fatalf("expected nested key masked")
	}
	if out["document_id"] != "doc-1" {
		t.Fatalf("non-secret fields must pass through")
	}
	if in["ANTHROPIC_API_KEY"] != "sk-ant-1234567890" {
		t.Fatalf("input must not be mutated")
	}
}

func TestRedactJSON(t *testing.T) {
	got := RedactJSON(json.RawMessage(`{"authorization":"Bearer secret-token","n":1}`)).(map[string]any)
	if got["authorization"] != "Bearer ****oken" {
		t.Fatalf("unexpected redaction %v", got["authorization"])
	}
	if RedactJSON(nil) != nil {
		t.Fatalf("empty payload should be nil")
	}
	if RedactJSON(json.RawMessage(`not json`)) != "<8 bytes, not json>" {
		t.Fatalf("invalid json is summarised")
	}
}

func TestRedactSummarisesDocumentBodies(t *testing.T) {
	got := RedactJSON(json.RawMessage(`{"document_id":"d","source_content":"= Title\n\nsecret plans","options":{"toc":"true"}}`)).(map[string]any)
	if got["source_content"] != "<21 bytes>" {
		t.Fatalf("expected body summarised, got %v", got["source_content"])
	}
	if got["document_id"] != "d" || got["options"].(map[string]any)["toc"] != "true" {
		t.Fatalf("unexpected passthrough: %v", got)
	}
}

func TestRedactStringScrubsEmbeddedKeys(t *testing.T) {
	msg := "upstream said: invalid key sk-ant-REDACTED"
	got := RedactString(msg)
	if strings.Contains(got, "abcdefghijkl") || !strings.HasSuffix(got, "****mnop") {
		t.Fatalf("expected key scrubbed, got %q", got)
	}
	if RedactAny("plain text") != "plain text" {
		t.Fatalf("plain strings pass through")
	}
}

func TestNewFileLoggerDisabled(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFileLogger(dir, false)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if fl.Enabled {
		t.Fatalf("logger should be disabled")
	}
	if _, err := os.Stat(filepath.Join(dir, "logs")); !os.IsNotExist(err) {
		t.Fatalf("no log dir expected when disabled")
	}
}

func TestNewFileLoggerWritesJSON(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFileLogger(dir, true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	fl.Logger.Debug("dispatch.superseded", "document_id", "doc-1")
	if err := fl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(fl.Path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"dispatch.superseded"`) {
		t.Fatalf("expected event in log, got %s", data)
	}
}

func TestNewFiltersBelowWarnWithoutDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, false)
	logger.Info("quiet")
	logger.Warn("loud")
	if strings.Contains(buf.String(), "quiet") || !strings.Contains(buf.String(), "loud") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
