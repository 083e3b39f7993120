package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"asciidocartisan/engine/internal/config"
	"asciidocartisan/engine/internal/conversion"
	"asciidocartisan/engine/internal/errinfo"
	"asciidocartisan/engine/internal/pandoc"
)

const fakePandocScript = `#!/bin/sh
case "$1" in
--version) echo "pandoc 3.7.0.2"; exit 0 ;;
--list-input-formats) printf 'asciidoc\nmarkdown\nhtml\n'; exit 0 ;;
esac
cat
`

func fakeRunner(t *testing.T) *pandoc.Runner {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "pandoc")
	if err := os.WriteFile(path, []byte(fakePandocScript), 0o755); err != nil {
		t.Fatalf("write fake pandoc: %v", err)
	}
	return pandoc.New(pandoc.Config{Binary: path, Timeout: 5 * time.Second, TempDir: t.TempDir()}, nil)
}

type fakeExecutor struct {
	mu      sync.Mutex
	seen    []conversion.Request
	release chan struct{}
	started chan string
}

func (f *fakeExecutor) Execute(ctx context.Context, req conversion.Request, token *conversion.CancelToken, progress conversion.ProgressFunc) (conversion.Result, error) {
	f.mu.Lock()
	f.seen = append(f.seen, req)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- req.SourceContent
	}
	progress(conversion.Progress{Stage: conversion.StageRunningPandoc, Message: "Converting"})
	if f.release != nil {
		<-f.release
	}
	if token.Cancelled() {
		return conversion.Result{}, conversion.ErrCancelled
	}
	return conversion.Succeeded(strings.ToUpper(req.SourceContent), "pandoc", time.Millisecond), nil
}

func (f *fakeExecutor) requests() []conversion.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]conversion.Request(nil), f.seen...)
}

type notification struct {
	method string
	params any
}

type recorder struct {
	mu     sync.Mutex
	events []notification
}

func (r *recorder) notify(method string, params any) {
	r.mu.Lock()
	r.events = append(r.events, notification{method: method, params: params})
	r.mu.Unlock()
}

func (r *recorder) completed() []CompletedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CompletedEvent
	for _, n := range r.events {
		if n.method == NotifyConversionCompleted {
			out = append(out, n.params.(CompletedEvent))
		}
	}
	return out
}

func (r *recorder) progress(handleID string) []ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ProgressEvent
	for _, n := range r.events {
		if p, ok := n.params.(ProgressEvent); ok && p.HandleID == handleID {
			out = append(out, p)
		}
	}
	return out
}

func (r *recorder) waitCompleted(t *testing.T, handleID string) CompletedEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range r.completed() {
			if ev.HandleID == handleID {
				return ev
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no completion for %s", handleID)
	return CompletedEvent{}
}

func newTestEngine(t *testing.T, exec *fakeExecutor, opts ...Option) (*Engine, *recorder) {
	t.Helper()
	if exec == nil {
		exec = &fakeExecutor{}
	}
	base := []Option{
		WithConfig(config.Default()),
		WithDataDir(t.TempDir()),
		WithExecutor(exec),
	}
	eng, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	rec := &recorder{}
	eng.SetNotifier(rec.notify)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Close(ctx)
	})
	return eng, rec
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func submit(t *testing.T, eng *Engine, doc, content string) string {
	t.Helper()
	res, errInfo := eng.ConversionSubmit(context.Background(), mustJSON(t, map[string]any{
		"document_id":    doc,
		"source_content": content,
		"source_format":  "asciidoc",
		"target_format":  "md",
	}))
	if errInfo != nil {
		t.Fatalf("submit: %+v", errInfo)
	}
	return res.(map[string]any)["handle_id"].(string)
}

func TestEngineGetInfoReportsPandoc(t *testing.T) {
	eng, _ := newTestEngine(t, nil, WithRunner(fakeRunner(t)))
	res, errInfo := eng.EngineGetInfo(context.Background(), nil)
	if errInfo != nil {
		t.Fatalf("info: %+v", errInfo)
	}
	info := res.(map[string]any)
	if info["api_version"] != APIVersion || info["engine_version"] != EngineVersion {
		t.Fatalf("unexpected versions: %+v", info)
	}
	status := info["pandoc"].(ToolStatus)
	if !status.Available || status.Version != "pandoc 3.7.0.2" || !status.AsciiDocReader {
		t.Fatalf("unexpected pandoc status: %+v", status)
	}
}

func TestToolsGetStatusWithoutPandoc(t *testing.T) {
	runner := pandoc.New(pandoc.Config{Binary: filepath.Join(t.TempDir(), "missing-pandoc")}, nil)
	eng, _ := newTestEngine(t, nil, WithRunner(runner))
	res, errInfo := eng.ToolsGetStatus(context.Background(), nil)
	if errInfo != nil {
		t.Fatalf("status: %+v", errInfo)
	}
	status := res.(map[string]any)["pandoc"].(ToolStatus)
	if status.Available || status.Error == "" {
		t.Fatalf("expected unavailable pandoc with error, got %+v", status)
	}
}

func TestProvidersGetStatusNeverIncludesKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-very-secret")
	eng, _ := newTestEngine(t, nil)
	res, errInfo := eng.ProvidersGetStatus(context.Background(), nil)
	if errInfo != nil {
		t.Fatalf("status: %+v", errInfo)
	}
	data := string(mustJSON(t, res))
	if strings.Contains(data, "sk-ant-very-secret") {
		t.Fatalf("status leaked the credential: %s", data)
	}
	if !strings.Contains(data, `"configured":true`) || !strings.Contains(data, "ANTHROPIC_API_KEY") {
		t.Fatalf("expected configured anthropic status, got %s", data)
	}

	t.Setenv("ANTHROPIC_API_KEY", "")
	res, _ = eng.ProvidersGetStatus(context.Background(), nil)
	if data := string(mustJSON(t, res)); !strings.Contains(data, `"configured":false`) {
		t.Fatalf("expected unconfigured status, got %s", data)
	}
}

func TestConversionListFormats(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	res, _ := eng.ConversionListFormats(context.Background(), nil)
	data := string(mustJSON(t, res))
	for _, want := range []string{`"format":"asciidoc"`, `"format":"pdf"`, `"binary":true`, `"standalone"`} {
		if !strings.Contains(data, want) {
			t.Fatalf("expected %s in %s", want, data)
		}
	}
}

func TestConversionSubmitDeliversCompletion(t *testing.T) {
	eng, rec := newTestEngine(t, nil)
	handleID := submit(t, eng, "doc-1", "hello")
	ev := rec.waitCompleted(t, handleID)
	if ev.DocumentID != "doc-1" || !ev.Result.Success || ev.Result.Output != "HELLO" {
		t.Fatalf("unexpected completion: %+v", ev)
	}
	progress := rec.progress(handleID)
	if len(progress) < 2 || progress[0].Stage != string(conversion.StageQueued) {
		t.Fatalf("expected queued progress first, got %+v", progress)
	}
}

func TestConversionSubmitValidation(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	cases := map[string]struct {
		params json.RawMessage
		code   string
	}{
		"no params":      {nil, errinfo.CodeValidationFailed},
		"bad json":       {json.RawMessage(`{"document_id":`), errinfo.CodeValidationFailed},
		"no document":    {mustJSON(t, map[string]any{"source_format": "asciidoc", "target_format": "md"}), errinfo.CodeValidationFailed},
		"unknown format": {mustJSON(t, map[string]any{"document_id": "d", "source_format": "asciidoc", "target_format": "epub"}), errinfo.CodeUnsupportedFormat},
		"pdf source":     {mustJSON(t, map[string]any{"document_id": "d", "source_format": "pdf", "target_format": "md"}), errinfo.CodeUnsupportedFormat},
	}
	for name, tc := range cases {
		_, errInfo := eng.ConversionSubmit(context.Background(), tc.params)
		if errInfo == nil || errInfo.ErrorCode != tc.code {
			t.Fatalf("%s: expected %s, got %+v", name, tc.code, errInfo)
		}
	}
}

func TestConversionSubmitSupersedesOlderRequest(t *testing.T) {
	exec := &fakeExecutor{release: make(chan struct{}), started: make(chan string, 4)}
	eng, rec := newTestEngine(t, exec)
	first := submit(t, eng, "doc-1", "old")
	<-exec.started
	second := submit(t, eng, "doc-1", "new")
	close(exec.release)

	ev := rec.waitCompleted(t, second)
	if ev.Result.Output != "NEW" {
		t.Fatalf("expected newest output, got %+v", ev.Result)
	}
	for _, c := range rec.completed() {
		if c.HandleID == first {
			t.Fatalf("superseded request delivered: %+v", c)
		}
	}
}

func TestConversionCancel(t *testing.T) {
	exec := &fakeExecutor{release: make(chan struct{}), started: make(chan string, 1)}
	eng, rec := newTestEngine(t, exec)
	handleID := submit(t, eng, "doc-1", "x")
	<-exec.started

	res, errInfo := eng.ConversionCancel(context.Background(), mustJSON(t, map[string]string{"handle_id": handleID}))
	if errInfo != nil {
		t.Fatalf("cancel: %+v", errInfo)
	}
	if res.(map[string]any)["cancel_requested"] != true {
		t.Fatalf("expected cancel to be accepted")
	}
	close(exec.release)

	res, _ = eng.ConversionCancel(context.Background(), mustJSON(t, map[string]string{"handle_id": handleID}))
	if res.(map[string]any)["cancel_requested"] != false {
		t.Fatalf("expected second cancel to be refused")
	}
	time.Sleep(50 * time.Millisecond)
	if got := rec.completed(); len(got) != 0 {
		t.Fatalf("expected no completion after cancel, got %+v", got)
	}
	if _, errInfo := eng.ConversionCancel(context.Background(), mustJSON(t, map[string]string{})); errInfo == nil {
		t.Fatalf("expected validation error for empty handle")
	}
}

func TestConversionListActive(t *testing.T) {
	exec := &fakeExecutor{release: make(chan struct{}), started: make(chan string, 1)}
	eng, _ := newTestEngine(t, exec)
	handleID := submit(t, eng, "doc-1", "x")
	<-exec.started
	res, _ := eng.ConversionListActive(context.Background(), nil)
	data := string(mustJSON(t, res))
	close(exec.release)
	if !strings.Contains(data, handleID) || !strings.Contains(data, `"state":"running"`) {
		t.Fatalf("expected running handle in %s", data)
	}
}

func TestDefaultOptionsAreMerged(t *testing.T) {
	cfg := config.Default()
	cfg.Pandoc.DefaultOptions = map[string]string{"toc": "true", "columns": "72"}
	exec := &fakeExecutor{}
	eng, rec := newTestEngine(t, exec, WithConfig(cfg))
	res, errInfo := eng.ConversionSubmit(context.Background(), mustJSON(t, map[string]any{
		"document_id":    "doc-1",
		"source_content": "x",
		"source_format":  "asciidoc",
		"target_format":  "html",
		"options":        map[string]string{"columns": "100"},
	}))
	if errInfo != nil {
		t.Fatalf("submit: %+v", errInfo)
	}
	rec.waitCompleted(t, res.(map[string]any)["handle_id"].(string))
	reqs := exec.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one request, got %d", len(reqs))
	}
	opts := reqs[0].Options()
	if opts["toc"] != "true" || opts["columns"] != "100" {
		t.Fatalf("unexpected options: %v", opts)
	}
}

func TestSubmitAfterCloseIsRejected(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	if err := eng.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, errInfo := eng.ConversionSubmit(context.Background(), mustJSON(t, map[string]any{
		"document_id": "doc-1", "source_format": "asciidoc", "target_format": "md",
	}))
	if errInfo == nil || errInfo.ErrorCode != errinfo.CodeEngineClosed {
		t.Fatalf("expected ENGINE_CLOSED, got %+v", errInfo)
	}
}

func TestConversionRoundTripIdentity(t *testing.T) {
	eng, _ := newTestEngine(t, nil, WithRunner(fakeRunner(t)))
	doc := "= Guide\n\n== Install\n\n* one\n* two\n"
	res, errInfo := eng.ConversionRoundTrip(context.Background(), mustJSON(t, map[string]string{"content": doc}))
	if errInfo != nil {
		t.Fatalf("round trip: %+v", errInfo)
	}
	report := res.(RoundTripReport)
	if !report.Identical || len(report.Hunks) != 0 || report.Via != "markdown" {
		t.Fatalf("expected identical round trip, got %+v", report)
	}
	if !report.Structure.HeadingsPreserved || !report.Structure.ListsPreserved || !report.Structure.TitlePreserved {
		t.Fatalf("expected structure preserved: %+v", report.Structure)
	}
}

func TestConversionRoundTripErrors(t *testing.T) {
	eng, _ := newTestEngine(t, nil, WithRunner(pandoc.New(pandoc.Config{Binary: filepath.Join(t.TempDir(), "none")}, nil)))
	cases := map[string]struct {
		params map[string]string
		code   string
	}{
		"via asciidoc": {map[string]string{"content": "x", "via": "adoc"}, errinfo.CodeUnsupportedFormat},
		"via docx":     {map[string]string{"content": "x", "via": "docx"}, errinfo.CodeUnsupportedFormat},
		"via unknown":  {map[string]string{"content": "x", "via": "epub"}, errinfo.CodeUnsupportedFormat},
		"no pandoc":    {map[string]string{"content": "x"}, errinfo.CodeToolNotFound},
	}
	for name, tc := range cases {
		_, errInfo := eng.ConversionRoundTrip(context.Background(), mustJSON(t, tc.params))
		if errInfo == nil || errInfo.ErrorCode != tc.code {
			t.Fatalf("%s: expected %s, got %+v", name, tc.code, errInfo)
		}
	}
}

func TestConversionRoundTripKeepsOutlineWithPandoc(t *testing.T) {
	runner := pandoc.New(pandoc.Config{TempDir: t.TempDir()}, nil)
	if _, err := runner.Resolve(); err != nil {
		t.Skip("pandoc not available")
	}
	readers, err := runner.InputFormats(context.Background())
	if err != nil {
		t.Fatalf("list input formats: %v", err)
	}
	hasReader := false
	for _, r := range readers {
		hasReader = hasReader || r == "asciidoc"
	}
	if !hasReader {
		t.Skip("installed pandoc has no asciidoc reader")
	}

	eng, _ := newTestEngine(t, nil, WithRunner(runner))
	doc := "= Guide\n\n== Install\n\nRun it.\n\n=== Linux\n\n* one\n* two\n\n== Usage\n\n. first\n. second\n"
	res, errInfo := eng.ConversionRoundTrip(context.Background(), mustJSON(t, map[string]string{"content": doc}))
	if errInfo != nil {
		t.Fatalf("round trip: %+v", errInfo)
	}
	report := res.(RoundTripReport)
	if !report.Structure.HeadingsPreserved || !report.Structure.ListsPreserved {
		t.Fatalf("expected outline to survive markdown:\n%s\n%+v", report.Output, report.Structure)
	}
}

func TestConversionExportBatch(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	items := []map[string]any{
		{"document_id": "a", "source_content": "alpha", "source_format": "asciidoc", "target_format": "md"},
		{"document_id": "b", "source_content": "beta", "source_format": "asciidoc", "target_format": "html"},
		{"document_id": "c", "source_content": "gamma", "source_format": "asciidoc", "target_format": "epub"},
	}
	res, errInfo := eng.ConversionExportBatch(context.Background(), mustJSON(t, map[string]any{"items": items}))
	if errInfo != nil {
		t.Fatalf("batch: %+v", errInfo)
	}
	out := res.(map[string]any)
	if out["succeeded"] != 2 || out["failed"] != 1 {
		t.Fatalf("unexpected counts: %+v", out)
	}
	results := out["results"].([]ExportItemResult)
	if results[0].Result == nil || results[0].Result.Output != "ALPHA" {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
	if results[1].Result == nil || results[1].Result.Output != "BETA" {
		t.Fatalf("unexpected second result: %+v", results[1])
	}
	if results[2].Error == nil || results[2].Error.ErrorCode != errinfo.CodeUnsupportedFormat || results[2].Index != 2 {
		t.Fatalf("expected unsupported format for third item: %+v", results[2])
	}
}

func TestConversionExportBatchValidation(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	if _, errInfo := eng.ConversionExportBatch(context.Background(), mustJSON(t, map[string]any{"items": []any{}})); errInfo == nil {
		t.Fatalf("expected error for empty batch")
	}
	items := make([]map[string]any, maxBatchItems+1)
	for i := range items {
		items[i] = map[string]any{"document_id": "d", "source_format": "asciidoc", "target_format": "md"}
	}
	if _, errInfo := eng.ConversionExportBatch(context.Background(), mustJSON(t, map[string]any{"items": items})); errInfo == nil {
		t.Fatalf("expected error for oversized batch")
	}
}
