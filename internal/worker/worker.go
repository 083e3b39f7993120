package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"asciidocartisan/engine/internal/aiconvert"
	"asciidocartisan/engine/internal/conversion"
	"asciidocartisan/engine/internal/errinfo"
	"asciidocartisan/engine/internal/format"
	"asciidocartisan/engine/internal/logging"
	"asciidocartisan/engine/internal/pandoc"
)

// AI is the model-backed converter.
type AI interface {
	ProviderID() string
	Convert(ctx context.Context, text string, from, to format.Format) (string, error)
}

// Tool is the guaranteed converter.
type Tool interface {
	Convert(ctx context.Context, text string, from, to format.Format, opts map[string]string) (pandoc.Output, error)
}

const toolProvider = "pandoc"

// Worker runs one request at a time per call; it holds no per-request state,
// so a single Worker may serve concurrent Execute calls.
type Worker struct {
	ai     AI
	tool   Tool
	logger *slog.Logger
	now    func() time.Time
}

func New(ai AI, tool Tool, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Worker{ai: ai, tool: tool, logger: logger, now: time.Now}
}

type run struct {
	state   State
	logger  *slog.Logger
	started time.Time
}

func (r *run) transition(to State) {
	if !CanTransition(r.state, to) {
		// Programming error; keep going but make it visible.
		r.logger.Error("worker.illegal_transition", "from", r.state.String(), "to", to.String())
	}
	r.logger.Debug("worker.state", "from", r.state.String(), "to", to.String())
	r.state = to
}

// Execute converts req. It never panics out and the only error it returns
// is conversion.ErrCancelled, after which no result must be delivered.
// Cancellation is checked between steps; a running Pandoc process is left
// to finish and its output discarded.
func (w *Worker) Execute(ctx context.Context, req conversion.Request, token *conversion.CancelToken, progress conversion.ProgressFunc) (res conversion.Result, err error) {
	r := &run{
		state:   StateIdle,
		logger:  w.logger.With("document_id", req.DocumentID, "from", string(req.SourceFormat), "to", string(req.TargetFormat)),
		started: w.now(),
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("worker.panic", "panic", fmt.Sprint(rec))
			res = conversion.Failed(errinfo.CodeConversionFailed, fmt.Sprintf("internal error: %v", rec), w.now().Sub(r.started))
			res.AIAttempted = req.UseAI
			err = nil
		}
	}()

	if token.Cancelled() {
		r.transition(StateCancelled)
		return conversion.Result{}, conversion.ErrCancelled
	}

	if req.UseAI {
		r.transition(StateRunningAI)
		notify(progress, conversion.StageStartingAI, "Starting AI conversion", r.logger)
		aiRes, aiErr := w.runAI(ctx, req, token, r)
		if errors.Is(aiErr, conversion.ErrCancelled) {
			r.transition(StateCancelled)
			return conversion.Result{}, conversion.ErrCancelled
		}
		if aiErr == nil {
			r.transition(StateSucceeded)
			notify(progress, conversion.StageComplete, "Conversion complete", r.logger)
			return aiRes, nil
		}
		// The AI error is logged, never shown; Pandoc is the baseline.
		info := aiconvert.ErrorInfo(errinfo.PhaseConversion, aiErr)
		r.logger.Warn("worker.fallback", "ai_error_code", info.ErrorCode, "error", aiErr.Error())
		if token.Cancelled() {
			r.transition(StateCancelled)
			return conversion.Result{}, conversion.ErrCancelled
		}
		r.transition(StateRunningFallback)
		notify(progress, conversion.StageFallingBack, "AI unavailable, falling back to Pandoc", r.logger)
	} else {
		r.transition(StateRunningTool)
	}

	notify(progress, conversion.StageRunningPandoc, "Running Pandoc", r.logger)
	out, toolErr := w.runTool(ctx, req.SourceContent, req.SourceFormat, req.TargetFormat, req.Options())
	if token.Cancelled() {
		_ = out.Cleanup()
		r.transition(StateCancelled)
		return conversion.Result{}, conversion.ErrCancelled
	}
	elapsed := w.now().Sub(r.started)
	if toolErr != nil {
		r.transition(StateFailed)
		res = conversion.Failed(toolErrorCode(toolErr), toolErr.Error(), elapsed)
		res.UsedFallback = req.UseAI
		res.AIAttempted = req.UseAI
		r.logger.Warn("worker.failed", "error_code", res.ErrorCode, "error", toolErr.Error())
		notify(progress, conversion.StageComplete, "Conversion failed", r.logger)
		return res, nil
	}
	res = toolResult(out, toolProvider, elapsed)
	res.UsedFallback = req.UseAI
	res.AIAttempted = req.UseAI
	if res.Success {
		r.transition(StateSucceeded)
	} else {
		_ = out.Cleanup()
		r.transition(StateFailed)
	}
	notify(progress, conversion.StageComplete, "Conversion complete", r.logger)
	return res, nil
}

// runAI produces the result from the model. Binary targets are written by
// Pandoc from the model's Markdown.
func (w *Worker) runAI(ctx context.Context, req conversion.Request, token *conversion.CancelToken, r *run) (conversion.Result, error) {
	if w.ai == nil {
		return conversion.Result{}, &aiconvert.Error{Kind: aiconvert.ErrUnknownProvider}
	}
	aiTarget := req.TargetFormat
	if aiTarget.Binary() {
		aiTarget = format.Markdown
	}
	text, err := w.ai.Convert(ctx, req.SourceContent, req.SourceFormat, aiTarget)
	if token.Cancelled() {
		return conversion.Result{}, conversion.ErrCancelled
	}
	if err != nil {
		return conversion.Result{}, err
	}
	provider := w.ai.ProviderID()
	if aiTarget == req.TargetFormat {
		res := conversion.Succeeded(text, provider, w.now().Sub(r.started))
		res.AIAttempted = true
		return res, nil
	}
	r.logger.Debug("worker.render_ai_output", "via", string(aiTarget))
	out, err := w.runTool(ctx, text, aiTarget, req.TargetFormat, req.Options())
	if err != nil {
		return conversion.Result{}, fmt.Errorf("render AI output: %w", err)
	}
	if token.Cancelled() {
		_ = out.Cleanup()
		return conversion.Result{}, conversion.ErrCancelled
	}
	res := toolResult(out, provider, w.now().Sub(r.started))
	if !res.Success {
		_ = out.Cleanup()
		return conversion.Result{}, errors.New(res.ErrorMessage)
	}
	res.AIAttempted = true
	return res, nil
}

// runTool detaches from ctx cancellation; the tool's own timeout bounds it.
func (w *Worker) runTool(ctx context.Context, text string, from, to format.Format, opts map[string]string) (pandoc.Output, error) {
	if w.tool == nil {
		return pandoc.Output{}, &pandoc.ToolNotFoundError{Binary: toolProvider}
	}
	return w.tool.Convert(context.WithoutCancel(ctx), text, from, to, opts)
}

func toolResult(out pandoc.Output, provider string, elapsed time.Duration) conversion.Result {
	output := out.Text
	if out.Path != "" {
		output = out.Path
	}
	res := conversion.Succeeded(output, provider, elapsed)
	res.OutputPath = out.Path
	res.ScratchDir = out.Dir
	return res
}

func toolErrorCode(err error) string {
	return pandoc.ErrorInfo(errinfo.PhaseConversion, err).ErrorCode
}

// notify is best effort: a panicking listener never breaks the conversion.
// Listeners must not block.
func notify(progress conversion.ProgressFunc, stage conversion.Stage, message string, logger *slog.Logger) {
	if progress == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.Warn("worker.progress_panic", "stage", string(stage), "panic", fmt.Sprint(rec))
		}
	}()
	progress(conversion.Progress{Stage: stage, Message: message})
}
