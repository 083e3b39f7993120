package logging

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Fields whose values are credentials.
var secretKeys = map[string]bool{
	"api_key":           true,
	"apikey":            true,
	"authorization":     true,
	"x-api-key":         true,
	"anthropic_api_key": true,
	"credential":        true,
	"token":             true,
	"secret":            true,
}

// Fields holding document text. Only their size reaches the log.
var bodyKeys = map[string]bool{
	"source_content": true,
	"content":        true,
	"output":         true,
	"text":           true,
}

var embeddedKey = regexp.MustCompile(`sk-ant-[A-Za-z0-9_\-]{8,}`)

// RedactValue masks a credential, keeping the last four characters.
func RedactValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if scheme, rest, ok := strings.Cut(trimmed, " "); ok && strings.EqualFold(scheme, "bearer") {
		return "Bearer " + mask(strings.TrimSpace(rest))
	}
	return mask(trimmed)
}

// RedactString scrubs Anthropic keys that leaked into free text such as an
// upstream error message.
func RedactString(value string) string {
	return embeddedKey.ReplaceAllStringFunc(value, mask)
}

// RedactAny returns a copy of value that is safe to log: credentials are
// masked and document bodies are replaced by their length.
func RedactAny(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, val := range typed {
			out[key] = redactField(key, val)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(typed))
		for key, val := range typed {
			out[key] = fmt.Sprint(redactField(key, val))
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = RedactAny(val)
		}
		return out
	case string:
		return RedactString(typed)
	default:
		return value
	}
}

func redactField(key string, val any) any {
	lower := strings.ToLower(strings.TrimSpace(key))
	switch {
	case secretKeys[lower]:
		return RedactValue(fmt.Sprint(val))
	case bodyKeys[lower]:
		if s, ok := val.(string); ok {
			return fmt.Sprintf("<%d bytes>", len(s))
		}
	}
	return RedactAny(val)
}

// RedactJSON decodes an RPC payload and redacts it. Payloads that do not
// decode are summarised by size.
func RedactJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Sprintf("<%d bytes, not json>", len(raw))
	}
	return RedactAny(payload)
}

func mask(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
