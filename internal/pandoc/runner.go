package pandoc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"asciidocartisan/engine/internal/format"
	"asciidocartisan/engine/internal/logging"
)

const (
	DefaultBinary  = "pandoc"
	DefaultTimeout = 60 * time.Second

	maxStderrBytes = 64 * 1024
	waitDelay      = 2 * time.Second
)

type Config struct {
	// Binary is a command name looked up on PATH or an absolute path.
	Binary  string
	Timeout time.Duration
	// TempDir is where per-call scratch directories are created; empty means
	// the system default.
	TempDir string
}

// Runner invokes pandoc, one subprocess per call and no retries.
type Runner struct {
	cfg       Config
	logger    *slog.Logger
	lookPath  func(string) (string, error)
	pageCount func(string) (int, error)
}

// Output is a finished conversion. Text targets fill Text; binary targets
// fill Path, a file inside the scratch directory Dir. The caller owns Dir and
// must call Cleanup once the file has been published or discarded.
type Output struct {
	Text string
	Path string
	Dir  string
}

func (o Output) Cleanup() error {
	if o.Dir == "" {
		return nil
	}
	return os.RemoveAll(o.Dir)
}

func New(cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.Nop()
	}
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Runner{
		cfg:       cfg,
		logger:    logger,
		lookPath:  exec.LookPath,
		pageCount: api.PageCountFile,
	}
}

// Resolve returns the absolute path of the pandoc binary.
func (r *Runner) Resolve() (string, error) {
	path, err := r.lookPath(r.cfg.Binary)
	if err != nil {
		return "", &ToolNotFoundError{Binary: r.cfg.Binary, Err: err}
	}
	return path, nil
}

// Version returns the first line of `pandoc --version`.
func (r *Runner) Version(ctx context.Context) (string, error) {
	out, err := r.run(ctx, []string{"--version"})
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(out, "\n")
	return strings.TrimSpace(line), nil
}

// InputFormats lists the readers the installed pandoc supports.
func (r *Runner) InputFormats(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, []string{"--list-input-formats"})
	if err != nil {
		return nil, err
	}
	return strings.Fields(out), nil
}

// Convert runs text from one allow-listed format into another. Formats and
// options are checked before any process is started.
func (r *Runner) Convert(ctx context.Context, text string, from, to format.Format, opts map[string]string) (Output, error) {
	src, dst, err := validateFormats(from, to)
	if err != nil {
		return Output{}, err
	}
	parsed, err := parseOptions(opts)
	if err != nil {
		return Output{}, &ConversionError{Stage: StageValidate, Message: err.Error()}
	}
	binary, err := r.Resolve()
	if err != nil {
		return Output{}, err
	}

	dir, err := os.MkdirTemp(r.cfg.TempDir, "pandoc-*")
	if err != nil {
		return Output{}, &ConversionError{Stage: StageRun, Message: "create scratch dir", Err: err}
	}
	keepDir := false
	defer func() {
		if !keepDir {
			_ = os.RemoveAll(dir)
		}
	}()

	args := []string{"-f", src.Reader}
	if to != format.PDF {
		args = append(args, "-t", dst.Writer)
	}
	args = append(args, "--wrap=none")
	args = append(args, parsed.flags...)
	if parsed.extractMedia {
		args = append(args, "--extract-media="+filepath.Join(dir, "media"))
	}
	outPath := ""
	if to.Binary() {
		outPath = filepath.Join(dir, "output"+to.Extension())
		args = append(args, "-o", outPath)
	}

	started := time.Now()
	stdout, err := r.exec(ctx, binary, args, text)
	r.logger.Debug("pandoc.convert", "from", string(from), "to", string(to), "elapsed_ms", time.Since(started).Milliseconds(), "ok", err == nil)
	if err != nil {
		return Output{}, err
	}

	out := Output{Text: stdout}
	if to.Binary() {
		if err := r.verify(to, outPath); err != nil {
			return Output{}, err
		}
		out = Output{Path: outPath, Dir: dir}
		keepDir = true
	} else if parsed.extractMedia {
		out.Dir = dir
		keepDir = true
	}
	return out, nil
}

func validateFormats(from, to format.Format) (format.Info, format.Info, error) {
	src, ok := format.Lookup(from)
	if !ok {
		return format.Info{}, format.Info{}, &ConversionError{Stage: StageValidate, Message: fmt.Sprintf("unsupported source format %q", from), Err: format.ErrUnsupported}
	}
	dst, ok := format.Lookup(to)
	if !ok {
		return format.Info{}, format.Info{}, &ConversionError{Stage: StageValidate, Message: fmt.Sprintf("unsupported target format %q", to), Err: format.ErrUnsupported}
	}
	if !src.Readable {
		return format.Info{}, format.Info{}, &ConversionError{Stage: StageValidate, Message: fmt.Sprintf("pandoc cannot read %s", from), Err: format.ErrUnsupported}
	}
	return src, dst, nil
}

func (r *Runner) verify(to format.Format, path string) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return &ConversionError{Stage: StageVerify, Message: "pandoc produced no output file", Err: err}
	}
	if to != format.PDF {
		return nil
	}
	pages, err := r.pageCount(path)
	if err != nil {
		return &ConversionError{Stage: StageVerify, Message: "output is not a readable PDF", Err: err}
	}
	if pages == 0 {
		return &ConversionError{Stage: StageVerify, Message: "output PDF has no pages"}
	}
	r.logger.Debug("pandoc.pdf_verified", "pages", pages)
	return nil
}

func (r *Runner) run(ctx context.Context, args []string) (string, error) {
	binary, err := r.Resolve()
	if err != nil {
		return "", err
	}
	return r.exec(ctx, binary, args, "")
}

// exec starts binary with args, feeding stdin. The argument vector is passed
// to the OS directly; nothing goes through a shell.
func (r *Runner) exec(ctx context.Context, binary string, args []string, stdin string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, binary, args...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.WaitDelay = waitDelay
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", &ConversionError{Stage: StageRun, Message: "attach stderr", Err: err}
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return "", &ToolNotFoundError{Binary: binary, Err: err}
		}
		return "", &ConversionError{Stage: StageRun, Message: "start pandoc", Err: err}
	}

	// Wait closes the pipe, so stderr is drained first.
	stderr := &boundedBuffer{limit: maxStderrBytes}
	r.stderrLoop(stderrPipe, stderr)
	waitErr := cmd.Wait()

	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		r.logger.Warn("pandoc.timeout", "limit_ms", r.cfg.Timeout.Milliseconds())
		return "", &TimeoutError{Limit: r.cfg.Timeout}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return "", &ConversionError{
			Stage:    StageRun,
			ExitCode: exitCode,
			Stderr:   strings.TrimSpace(stderr.String()),
			Message:  "pandoc failed",
			Err:      waitErr,
		}
	}
	return stdout.String(), nil
}

func (r *Runner) stderrLoop(stderr io.Reader, capture *boundedBuffer) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		capture.WriteLine(line)
		r.logger.Warn("pandoc.stderr", "message", line)
	}
	_, _ = io.Copy(io.Discard, stderr)
}

type boundedBuffer struct {
	buf   strings.Builder
	limit int
}

func (b *boundedBuffer) WriteLine(line string) {
	if b.buf.Len() >= b.limit {
		return
	}
	if b.buf.Len() > 0 {
		b.buf.WriteByte('\n')
	}
	remaining := b.limit - b.buf.Len()
	if len(line) > remaining {
		line = line[:remaining]
	}
	b.buf.WriteString(line)
}

func (b *boundedBuffer) String() string {
	return b.buf.String()
}
