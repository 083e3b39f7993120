package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"

	"asciidocartisan/engine/internal/conversion"
	"asciidocartisan/engine/internal/dispatch"
	"asciidocartisan/engine/internal/errinfo"
	"asciidocartisan/engine/internal/format"
	"asciidocartisan/engine/internal/pandoc"
)

type submitParams struct {
	DocumentID    string            `json:"document_id"`
	SourceContent string            `json:"source_content"`
	SourceFormat  string            `json:"source_format"`
	TargetFormat  string            `json:"target_format"`
	UseAI         bool              `json:"use_ai"`
	OutputPath    string            `json:"output_path"`
	Options       map[string]string `json:"options"`
}

// request validates p and builds the conversion request. Configured default
// options apply unless the caller overrides them.
func (e *Engine) request(phase string, p submitParams) (conversion.Request, *errinfo.ErrorInfo) {
	if strings.TrimSpace(p.DocumentID) == "" {
		return conversion.Request{}, errinfo.ValidationFailed(phase, "document_id is required")
	}
	from, err := format.Parse(p.SourceFormat)
	if err != nil {
		return conversion.Request{}, errinfo.UnsupportedFormat(phase, "source_format: "+err.Error())
	}
	to, err := format.Parse(p.TargetFormat)
	if err != nil {
		return conversion.Request{}, errinfo.UnsupportedFormat(phase, "target_format: "+err.Error())
	}
	if !from.Readable() {
		return conversion.Request{}, errinfo.UnsupportedFormat(phase, fmt.Sprintf("%s cannot be a source format", from))
	}
	opts := maps.Clone(e.cfg.Pandoc.DefaultOptions)
	if opts == nil {
		opts = make(map[string]string, len(p.Options))
	}
	maps.Copy(opts, p.Options)
	req := conversion.NewRequest(p.DocumentID, p.SourceContent, from, to, p.UseAI).
		WithOptions(opts).
		WithOutputPath(p.OutputPath)
	return req, nil
}

func decodeParams(phase string, params json.RawMessage, into any) *errinfo.ErrorInfo {
	if len(params) == 0 {
		return errinfo.ValidationFailed(phase, "params are required")
	}
	if err := json.Unmarshal(params, into); err != nil {
		return errinfo.ValidationFailed(phase, "invalid params: "+err.Error())
	}
	return nil
}

func submitError(phase string, err error) *errinfo.ErrorInfo {
	if errors.Is(err, dispatch.ErrClosed) {
		return errinfo.EngineClosed(phase)
	}
	return errinfo.ValidationFailed(phase, err.Error())
}

func (e *Engine) ConversionListFormats(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	return map[string]any{
		"formats": format.All(),
		"options": pandoc.OptionKeys(),
	}, nil
}

// ConversionSubmit queues a conversion and returns its handle at once. The
// result arrives as a ConversionCompleted notification; a request that is
// superseded or cancelled never produces one.
func (e *Engine) ConversionSubmit(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p submitParams
	if errInfo := decodeParams(errinfo.PhaseConversion, params, &p); errInfo != nil {
		return nil, errInfo
	}
	req, errInfo := e.request(errinfo.PhaseConversion, p)
	if errInfo != nil {
		return nil, errInfo
	}
	// The callback can run before Submit returns; it waits for the id.
	handleID := make(chan string, 1)
	h, err := e.dispatch.Submit(req, func(res conversion.Result) {
		id := <-handleID
		e.emit(NotifyConversionCompleted, CompletedEvent{
			HandleID:   id,
			DocumentID: req.DocumentID,
			Result:     res,
		})
	})
	if err != nil {
		return nil, submitError(errinfo.PhaseConversion, err)
	}
	handleID <- h.ID
	e.logger.Debug("engine.conversion_submitted", "document_id", h.DocumentID, "handle_id", h.ID)
	return map[string]any{
		"handle_id":   h.ID,
		"document_id": h.DocumentID,
	}, nil
}

func (e *Engine) ConversionCancel(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p struct {
		HandleID string `json:"handle_id"`
	}
	if errInfo := decodeParams(errinfo.PhaseConversion, params, &p); errInfo != nil {
		return nil, errInfo
	}
	if strings.TrimSpace(p.HandleID) == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseConversion, "handle_id is required")
	}
	return map[string]any{"cancel_requested": e.dispatch.Cancel(p.HandleID)}, nil
}

func (e *Engine) ConversionListActive(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	return map[string]any{"active": e.dispatch.Active()}, nil
}
