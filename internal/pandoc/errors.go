package pandoc

import (
	"errors"
	"fmt"
	"time"

	"asciidocartisan/engine/internal/errinfo"
	"asciidocartisan/engine/internal/format"
)

var (
	ErrToolNotFound = errors.New("pandoc not found")
	ErrTimeout      = errors.New("pandoc timed out")
)

const (
	StageValidate = "validate"
	StageRun      = "run"
	StageVerify   = "verify"
)

type ToolNotFoundError struct {
	Binary string
	Err    error
}

func (e *ToolNotFoundError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("pandoc not found (%s): install pandoc or set its path", e.Binary)
}

func (e *ToolNotFoundError) Is(target error) bool {
	return target == ErrToolNotFound
}

func (e *ToolNotFoundError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ConversionError is a refused or failed conversion. Stderr holds the tool's
// diagnostic output when the process ran.
type ConversionError struct {
	Stage    string
	ExitCode int
	Stderr   string
	Message  string
	Err      error
}

func (e *ConversionError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = "conversion failed"
	}
	if e.Stage == StageRun && e.ExitCode != 0 {
		msg = fmt.Sprintf("%s (exit %d)", msg, e.ExitCode)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ConversionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type TimeoutError struct {
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("pandoc exceeded %s", e.Limit)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// ErrorInfo converts a runner failure into the payload shown to the editor.
func ErrorInfo(phase string, err error) *errinfo.ErrorInfo {
	var convErr *ConversionError
	switch {
	case errors.Is(err, ErrToolNotFound):
		return errinfo.ToolNotFound(phase, err.Error())
	case errors.Is(err, ErrTimeout):
		return errinfo.ConversionTimeout(phase, err.Error())
	case errors.Is(err, format.ErrUnsupported):
		return errinfo.UnsupportedFormat(phase, err.Error())
	case errors.As(err, &convErr) && convErr.Stage == StageValidate:
		return errinfo.ValidationFailed(phase, err.Error())
	default:
		return errinfo.ConversionFailed(phase, err.Error())
	}
}
