package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"asciidocartisan/engine/internal/conversion"
	"asciidocartisan/engine/internal/errinfo"
)

const maxBatchItems = 100

type ExportItemResult struct {
	Index      int                `json:"index"`
	DocumentID string             `json:"document_id"`
	HandleID   string             `json:"handle_id,omitempty"`
	Result     *conversion.Result `json:"result,omitempty"`
	Cancelled  bool               `json:"cancelled,omitempty"`
	Error      *errinfo.ErrorInfo `json:"error,omitempty"`
}

// ConversionExportBatch converts several documents and replies once all of
// them have settled. Items go through the dispatcher like any submission,
// so a later edit of the same document still supersedes its export.
func (e *Engine) ConversionExportBatch(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p struct {
		Items []submitParams `json:"items"`
	}
	if errInfo := decodeParams(errinfo.PhaseExport, params, &p); errInfo != nil {
		return nil, errInfo
	}
	if len(p.Items) == 0 {
		return nil, errinfo.ValidationFailed(errinfo.PhaseExport, "items are required")
	}
	if len(p.Items) > maxBatchItems {
		return nil, errinfo.ValidationFailed(errinfo.PhaseExport, fmt.Sprintf("at most %d items per batch", maxBatchItems))
	}

	results := make([]ExportItemResult, len(p.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Dispatch.MaxConcurrent)
	for i, item := range p.Items {
		g.Go(func() error {
			results[i] = e.exportOne(gctx, i, item)
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Result != nil && r.Result.Success {
			succeeded++
		}
	}
	e.logger.Debug("engine.export_batch", "items", len(results), "succeeded", succeeded)
	return map[string]any{
		"results":   results,
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
	}, nil
}

func (e *Engine) exportOne(ctx context.Context, index int, item submitParams) ExportItemResult {
	out := ExportItemResult{Index: index, DocumentID: item.DocumentID}
	req, errInfo := e.request(errinfo.PhaseExport, item)
	if errInfo != nil {
		errInfo.DocumentID = item.DocumentID
		out.Error = errInfo
		return out
	}
	h, err := e.dispatch.Submit(req, nil)
	if err != nil {
		out.Error = submitError(errinfo.PhaseExport, err)
		return out
	}
	out.HandleID = h.ID
	res, err := h.Wait(ctx)
	switch {
	case errors.Is(err, conversion.ErrCancelled):
		out.Cancelled = true
	case err != nil:
		e.dispatch.Cancel(h.ID)
		info := errinfo.UserCanceled(errinfo.PhaseExport, err.Error())
		info.HandleID = h.ID
		out.Error = info
	default:
		out.Result = &res
	}
	return out
}
