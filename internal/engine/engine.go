package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"slices"
	"sync"

	"asciidocartisan/engine/internal/aiconvert"
	"asciidocartisan/engine/internal/anthropic"
	"asciidocartisan/engine/internal/appdirs"
	"asciidocartisan/engine/internal/config"
	"asciidocartisan/engine/internal/conversion"
	"asciidocartisan/engine/internal/dispatch"
	"asciidocartisan/engine/internal/errinfo"
	"asciidocartisan/engine/internal/logging"
	"asciidocartisan/engine/internal/ollama"
	"asciidocartisan/engine/internal/pandoc"
	"asciidocartisan/engine/internal/worker"
)

const (
	EngineVersion = "0.1.0"
	APIVersion    = "1"
)

const (
	NotifyConversionProgress  = "ConversionProgress"
	NotifyConversionCompleted = "ConversionCompleted"
)

type Notifier func(method string, params any)

type Engine struct {
	cfg      *config.Config
	dataDir  string
	runner   *pandoc.Runner
	ai       *aiconvert.Adapter
	exec     dispatch.Executor
	dispatch *dispatch.Controller
	logger   *slog.Logger

	notifyMu sync.RWMutex
	notify   Notifier
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithConfig supplies an already loaded configuration; without it the
// embedded defaults are used.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		if cfg != nil {
			e.cfg = cfg
		}
	}
}

// WithDataDir places scratch files and default exports under dir.
func WithDataDir(dir string) Option {
	return func(e *Engine) {
		e.dataDir = dir
	}
}

func WithRunner(runner *pandoc.Runner) Option {
	return func(e *Engine) {
		if runner != nil {
			e.runner = runner
		}
	}
}

func WithAI(adapter *aiconvert.Adapter) Option {
	return func(e *Engine) {
		if adapter != nil {
			e.ai = adapter
		}
	}
}

// WithExecutor replaces the conversion worker the dispatcher drives.
func WithExecutor(exec dispatch.Executor) Option {
	return func(e *Engine) {
		if exec != nil {
			e.exec = exec
		}
	}
}

func New(opts ...Option) (*Engine, error) {
	e := &Engine{logger: logging.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg == nil {
		e.cfg = config.Default()
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}

	outputDir := e.cfg.Dispatch.OutputDir
	scratchDir := ""
	if e.dataDir != "" {
		scratchDir = appdirs.ScratchDir(e.dataDir)
		if err := os.MkdirAll(scratchDir, 0o755); err != nil {
			return nil, err
		}
		if outputDir == "" {
			outputDir = appdirs.ExportsDir(e.dataDir)
		}
	}
	if e.runner == nil {
		e.runner = pandoc.New(pandoc.Config{
			Binary:  e.cfg.Pandoc.Path,
			Timeout: e.cfg.Pandoc.Timeout,
			TempDir: scratchDir,
		}, e.logger.With("component", "pandoc"))
	}
	if e.ai == nil {
		e.ai = aiconvert.New(aiconvert.Config{
			Provider:  e.cfg.AI.Provider,
			Model:     e.cfg.AI.Model,
			MaxTokens: e.cfg.AI.MaxTokens,
		}, aiconvert.DefaultProviders(e.cfg.AI.OllamaURL, e.cfg.AI.Timeout), aiconvert.WithLogger(e.logger.With("component", "ai")))
	}
	if e.exec == nil {
		e.exec = worker.New(e.ai, e.runner, e.logger.With("component", "worker"))
	}
	e.dispatch = dispatch.New(dispatch.Config{
		MaxConcurrent: e.cfg.Dispatch.MaxConcurrent,
		OutputDir:     outputDir,
	}, e.exec, e.logger.With("component", "dispatch"), dispatch.WithProgress(e.onProgress))

	e.logger.Debug("engine.init",
		"data_dir", e.dataDir,
		"output_dir", outputDir,
		"ai_provider", e.cfg.AI.Provider,
		"ai_ready", e.ai.Ready(),
		"max_concurrent", e.cfg.Dispatch.MaxConcurrent,
	)
	return e, nil
}

func (e *Engine) SetNotifier(notify Notifier) {
	e.notifyMu.Lock()
	e.notify = notify
	e.notifyMu.Unlock()
}

func (e *Engine) emit(method string, params any) {
	e.notifyMu.RLock()
	notify := e.notify
	e.notifyMu.RUnlock()
	if notify != nil {
		notify(method, params)
	}
}

// Close cancels outstanding conversions and waits for running ones.
func (e *Engine) Close(ctx context.Context) error {
	return e.dispatch.Close(ctx)
}

type ProgressEvent struct {
	HandleID   string `json:"handle_id"`
	DocumentID string `json:"document_id"`
	Stage      string `json:"stage"`
	Message    string `json:"message"`
}

type CompletedEvent struct {
	HandleID   string            `json:"handle_id"`
	DocumentID string            `json:"document_id"`
	Result     conversion.Result `json:"result"`
}

func (e *Engine) onProgress(h dispatch.Handle, p conversion.Progress) {
	e.emit(NotifyConversionProgress, ProgressEvent{
		HandleID:   h.ID,
		DocumentID: h.DocumentID,
		Stage:      string(p.Stage),
		Message:    p.Message,
	})
}

func (e *Engine) EngineGetInfo(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	return map[string]any{
		"engine_version": EngineVersion,
		"api_version":    APIVersion,
		"pandoc":         e.toolStatus(ctx),
	}, nil
}

// ToolStatus describes the installed pandoc.
type ToolStatus struct {
	Available      bool   `json:"available"`
	Path           string `json:"path,omitempty"`
	Version        string `json:"version,omitempty"`
	AsciiDocReader bool   `json:"asciidoc_reader"`
	Error          string `json:"error,omitempty"`
}

func (e *Engine) toolStatus(ctx context.Context) ToolStatus {
	path, err := e.runner.Resolve()
	if err != nil {
		return ToolStatus{Error: err.Error()}
	}
	status := ToolStatus{Path: path}
	version, err := e.runner.Version(ctx)
	if err != nil {
		e.logger.Warn("engine.pandoc_version_failed", "error", err.Error())
		status.Error = err.Error()
		return status
	}
	status.Available = true
	status.Version = version
	if readers, err := e.runner.InputFormats(ctx); err == nil {
		status.AsciiDocReader = slices.Contains(readers, "asciidoc")
	}
	return status
}

func (e *Engine) ToolsGetStatus(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	return map[string]any{"pandoc": e.toolStatus(ctx)}, nil
}

// ProvidersGetStatus reports the configured AI backend. The credential is
// only ever described by the name of its environment variable.
func (e *Engine) ProvidersGetStatus(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	return map[string]any{
		"active":     e.ai.Status(),
		"ai_enabled": e.cfg.AIEnabled(),
		"supported":  []string{anthropic.ProviderID, ollama.ProviderID},
	}, nil
}
