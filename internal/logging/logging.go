package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"asciidocartisan/engine/internal/envutil"
)

// DebugEnv switches on the engine log file.
const DebugEnv = "ASCIIDOC_ARTISAN_DEBUG"

type FileLogger struct {
	Logger  *slog.Logger
	Close   func() error
	Path    string
	Enabled bool
}

func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// DebugEnabled reports whether DebugEnv is set to a truthy value.
func DebugEnabled() bool {
	return envutil.Bool(DebugEnv)
}

// New returns a JSON logger writing to w. Without debug only warnings and
// errors are kept.
func New(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewFileLogger opens <dataDir>/logs/engine.log when debug is on. Stdout is
// reserved for the RPC stream, so the engine never logs there.
func NewFileLogger(dataDir string, debug bool) (FileLogger, error) {
	disabled := FileLogger{Logger: Nop(), Close: func() error { return nil }, Enabled: false}
	if !debug {
		return disabled, nil
	}
	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return disabled, err
	}
	path := filepath.Join(logDir, "engine.log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return disabled, err
	}
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	})
	return FileLogger{
		Logger:  slog.New(handler),
		Close:   file.Close,
		Path:    path,
		Enabled: true,
	}, nil
}
