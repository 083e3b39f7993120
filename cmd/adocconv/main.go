// Command adocconv converts documents from the command line through the
// same dispatcher, worker and Pandoc runner the editor engine uses.
//
//	adocconv -to markdown guide.adoc
//	adocconv -to docx -outdir build/ -ai chapter1.adoc chapter2.adoc
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"asciidocartisan/engine/internal/aiconvert"
	"asciidocartisan/engine/internal/appdirs"
	"asciidocartisan/engine/internal/config"
	"asciidocartisan/engine/internal/conversion"
	"asciidocartisan/engine/internal/dispatch"
	"asciidocartisan/engine/internal/envfile"
	"asciidocartisan/engine/internal/format"
	"asciidocartisan/engine/internal/logging"
	"asciidocartisan/engine/internal/pandoc"
	"asciidocartisan/engine/internal/worker"
)

type options struct {
	from    string
	to      string
	out     string
	outDir  string
	useAI   bool
	plain   bool
	verbose bool
	inputs  []string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("adocconv", flag.ContinueOnError)
	fs.StringVar(&o.from, "from", "", "source format (default: from the file extension)")
	fs.StringVar(&o.to, "to", "", "target format")
	fs.StringVar(&o.out, "o", "", "output file (single input only; default stdout for text)")
	fs.StringVar(&o.outDir, "outdir", "", "output directory for several inputs")
	fs.BoolVar(&o.useAI, "ai", false, "try the configured AI provider first")
	fs.BoolVar(&o.plain, "plain", false, "print plain progress lines instead of the live view")
	fs.BoolVar(&o.verbose, "v", false, "debug logging to stderr (implies -plain)")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	o.inputs = fs.Args()
	switch {
	case len(o.inputs) == 0:
		return o, errors.New("no input files")
	case strings.TrimSpace(o.to) == "":
		return o, errors.New("-to is required")
	case o.out != "" && len(o.inputs) > 1:
		return o, errors.New("-o takes a single input; use -outdir")
	case o.out != "" && o.outDir != "":
		return o, errors.New("-o and -outdir are exclusive")
	}
	if o.verbose {
		o.plain = true
	}
	return o, nil
}

// destination is where the output for input goes; empty means stdout.
func destination(o options, input string, to format.Format) string {
	if o.out != "" {
		return o.out
	}
	if o.outDir == "" && len(o.inputs) == 1 && !to.Binary() {
		return ""
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	dir := o.outDir
	if dir == "" {
		dir = filepath.Dir(input)
	}
	return filepath.Join(dir, base+to.Extension())
}

func sourceFormat(o options, input string) (format.Format, error) {
	name := o.from
	if name == "" {
		name = filepath.Ext(input)
	}
	return format.Parse(name)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	o, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "adocconv: %v\n", err)
		return 2
	}
	to, err := format.Parse(o.to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "adocconv: %v\n", err)
		return 2
	}
	_ = envfile.Load()

	logger, closeLog := setupLogger(o)
	defer closeLog()
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "adocconv: %v\n", err)
		return 2
	}

	runner := pandoc.New(pandoc.Config{Binary: cfg.Pandoc.Path, Timeout: cfg.Pandoc.Timeout}, logger.With("component", "pandoc"))
	if _, err := runner.Resolve(); err != nil {
		fmt.Fprintf(os.Stderr, "adocconv: %v\n", err)
		return 1
	}
	ai := aiconvert.New(aiconvert.Config{
		Provider:  cfg.AI.Provider,
		Model:     cfg.AI.Model,
		MaxTokens: cfg.AI.MaxTokens,
	}, aiconvert.DefaultProviders(cfg.AI.OllamaURL, cfg.AI.Timeout), aiconvert.WithLogger(logger.With("component", "ai")))
	if o.useAI && !ai.Ready() {
		fmt.Fprintf(os.Stderr, "adocconv: AI provider %q is not configured (set %s); using pandoc only\n", ai.ProviderID(), aiconvert.CredentialEnv(ai.ProviderID()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var send func(tea.Msg)
	var program *tea.Program
	if o.plain {
		send = plainPrinter(os.Stderr)
	} else {
		program = tea.NewProgram(newModel(o.inputs, to.String(), stop), tea.WithOutput(os.Stderr), tea.WithContext(ctx))
		send = program.Send
	}

	exec := worker.New(ai, runner, logger.With("component", "worker"))
	ctrl := dispatch.New(dispatch.Config{MaxConcurrent: cfg.Dispatch.MaxConcurrent, OutputDir: cfg.Dispatch.OutputDir}, exec, logger.With("component", "dispatch"),
		dispatch.WithProgress(func(h dispatch.Handle, p conversion.Progress) {
			send(progressMsg{documentID: h.DocumentID, progress: p})
		}))

	failures := make(chan bool, len(o.inputs))
	go func() {
		convertAll(ctx, ctrl, o, to, cfg.Pandoc.DefaultOptions, send, failures)
	}()

	if program != nil {
		if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			fmt.Fprintf(os.Stderr, "adocconv: %v\n", err)
		}
		stop()
	}
	failed := 0
	for range o.inputs {
		if <-failures {
			failed++
		}
	}
	_ = ctrl.Close(context.Background())
	if failed > 0 {
		return 1
	}
	return 0
}

// convertAll submits every input, then waits for each result in order and
// writes it out. One bool per input is sent on failures.
func convertAll(ctx context.Context, ctrl *dispatch.Controller, o options, to format.Format, defaults map[string]string, send func(tea.Msg), failures chan<- bool) {
	type submitted struct {
		input  string
		dest   string
		handle dispatch.Handle
		err    error
	}
	jobs := make([]submitted, 0, len(o.inputs))
	for _, input := range o.inputs {
		job := submitted{input: input, dest: destination(o, input, to)}
		req, err := buildRequest(o, input, to, job.dest, defaults)
		if err == nil {
			job.handle, err = ctrl.Submit(req, nil)
		}
		job.err = err
		jobs = append(jobs, job)
	}
	for _, job := range jobs {
		msg := doneMsg{documentID: job.input, dest: job.dest, err: job.err}
		if job.err == nil {
			res, err := job.handle.Wait(ctx)
			msg.result = res
			msg.err = err
			if err == nil && res.Success {
				msg.err = writeOutput(res, job.dest, to)
			}
		}
		if msg.err != nil || !msg.result.Success {
			failures <- true
		} else {
			failures <- false
		}
		send(msg)
	}
}

func buildRequest(o options, input string, to format.Format, dest string, defaults map[string]string) (conversion.Request, error) {
	from, err := sourceFormat(o, input)
	if err != nil {
		return conversion.Request{}, err
	}
	content, err := os.ReadFile(input)
	if err != nil {
		return conversion.Request{}, err
	}
	req := conversion.NewRequest(input, string(content), from, to, o.useAI).WithOptions(defaults)
	if to.Binary() {
		abs, err := filepath.Abs(dest)
		if err != nil {
			return conversion.Request{}, err
		}
		req = req.WithOutputPath(abs)
	}
	return req, nil
}

// writeOutput stores text output; binary output was already published to
// dest by the dispatcher.
func writeOutput(res conversion.Result, dest string, to format.Format) error {
	if to.Binary() {
		return nil
	}
	if dest == "" {
		_, err := fmt.Fprint(os.Stdout, res.Output)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(res.Output), 0o644)
}

func plainPrinter(w *os.File) func(tea.Msg) {
	return func(msg tea.Msg) {
		switch msg := msg.(type) {
		case progressMsg:
			fmt.Fprintf(w, "%s: %s\n", msg.documentID, msg.progress.Message)
		case doneMsg:
			j := &jobView{documentID: msg.documentID, done: true, result: msg.result, dest: msg.dest, err: msg.err}
			fmt.Fprintln(w, j.line(""))
		}
	}
}

func setupLogger(o options) (*slog.Logger, func()) {
	if o.verbose {
		return logging.New(os.Stderr, true), func() {}
	}
	dataDir, err := appdirs.DataDir()
	if err != nil {
		return logging.Nop(), func() {}
	}
	fl, err := logging.NewFileLogger(dataDir, logging.DebugEnabled())
	if err != nil || fl.Logger == nil {
		return logging.Nop(), func() {}
	}
	return fl.Logger.With("component", "adocconv"), func() { _ = fl.Close() }
}

// loadConfig reads the engine's config file if there is one; the CLI never
// writes it.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if dataDir, err := appdirs.DataDir(); err == nil {
		loaded, err := config.NewStore(appdirs.ConfigPath(dataDir)).Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}
