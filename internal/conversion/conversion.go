package conversion

import (
	"errors"
	"maps"
	"strings"
	"time"

	"asciidocartisan/engine/internal/errinfo"
	"asciidocartisan/engine/internal/format"
)

// ErrCancelled marks a request whose result was superseded or withdrawn.
// It never reaches the UI.
var ErrCancelled = errors.New("conversion cancelled")

// Request is one conversion asked for by the UI. Treat it as a value:
// NewRequest copies the option map so later mutation by the caller is not
// observed by the worker.
type Request struct {
	DocumentID    string
	SourceContent string
	SourceFormat  format.Format
	TargetFormat  format.Format
	UseAI         bool
	OutputPath    string
	options       map[string]string
}

func NewRequest(documentID, content string, from, to format.Format, useAI bool) Request {
	return Request{
		DocumentID:    strings.TrimSpace(documentID),
		SourceContent: content,
		SourceFormat:  from,
		TargetFormat:  to,
		UseAI:         useAI,
	}
}

// WithOptions returns a copy of r carrying opts.
func (r Request) WithOptions(opts map[string]string) Request {
	r.options = maps.Clone(opts)
	return r
}

// WithOutputPath returns a copy of r that publishes binary output to path.
func (r Request) WithOutputPath(path string) Request {
	r.OutputPath = strings.TrimSpace(path)
	return r
}

// Options returns a copy of the tool adapter options.
func (r Request) Options() map[string]string {
	return maps.Clone(r.options)
}

// Result is the single outcome delivered for a Request. AIAttempted is set
// whenever the request asked for AI, even if no credential was present.
type Result struct {
	Success      bool   `json:"success"`
	Output       string `json:"output,omitempty"`
	OutputPath   string `json:"output_path,omitempty"`
	MediaDir     string `json:"media_dir,omitempty"`
	// ScratchDir holds unpublished tool output; the dispatcher removes it.
	ScratchDir   string `json:"-"`
	UsedFallback bool   `json:"used_fallback"`
	AIAttempted  bool   `json:"ai_attempted"`
	Provider     string `json:"provider,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

// Succeeded builds a successful result. An empty output is reported as a
// failure so Success always implies Output.
func Succeeded(output, provider string, elapsed time.Duration) Result {
	if output == "" {
		return Failed(errinfo.CodeConversionFailed, "conversion produced no output", elapsed)
	}
	return Result{
		Success:    true,
		Output:     output,
		Provider:   provider,
		DurationMs: elapsed.Milliseconds(),
	}
}

func Failed(code, message string, elapsed time.Duration) Result {
	return Result{
		ErrorCode:    code,
		ErrorMessage: message,
		DurationMs:   elapsed.Milliseconds(),
	}
}

// Check reports the first invariant res violates for req.
func Check(req Request, res Result) error {
	if res.Success && res.Output == "" {
		return errors.New("successful result without output")
	}
	if res.UsedFallback && !req.UseAI {
		return errors.New("fallback reported for a request without AI")
	}
	if res.UsedFallback && !res.AIAttempted {
		return errors.New("fallback reported without an AI attempt")
	}
	if !res.Success && res.ErrorMessage == "" {
		return errors.New("failed result without error message")
	}
	return nil
}
