package main

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"asciidocartisan/engine/internal/conversion"
	"asciidocartisan/engine/internal/format"
)

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"-to", "md", "-ai", "a.adoc"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if o.to != "md" || !o.useAI || len(o.inputs) != 1 {
		t.Fatalf("unexpected options: %+v", o)
	}
	o, err = parseFlags([]string{"-v", "-to", "html", "a.adoc"})
	if err != nil || !o.plain {
		t.Fatalf("expected -v to imply -plain: %+v %v", o, err)
	}

	bad := map[string][]string{
		"no inputs":      {"-to", "md"},
		"no target":      {"a.adoc"},
		"o with two":     {"-to", "md", "-o", "x.md", "a.adoc", "b.adoc"},
		"o and outdir":   {"-to", "md", "-o", "x.md", "-outdir", "d", "a.adoc"},
		"undefined flag": {"-nope", "a.adoc"},
	}
	for name, args := range bad {
		if _, err := parseFlags(args); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestDestination(t *testing.T) {
	single := options{inputs: []string{"docs/guide.adoc"}}
	if got := destination(single, "docs/guide.adoc", format.Markdown); got != "" {
		t.Fatalf("expected stdout for single text input, got %q", got)
	}
	if got := destination(single, "docs/guide.adoc", format.DOCX); got != filepath.Join("docs", "guide.docx") {
		t.Fatalf("unexpected binary destination %q", got)
	}
	explicit := options{out: "out.md", inputs: []string{"guide.adoc"}}
	if got := destination(explicit, "guide.adoc", format.Markdown); got != "out.md" {
		t.Fatalf("expected explicit output, got %q", got)
	}
	many := options{outDir: "build", inputs: []string{"a.adoc", "b/c.adoc"}}
	if got := destination(many, "b/c.adoc", format.HTML); got != filepath.Join("build", "c.html") {
		t.Fatalf("unexpected outdir destination %q", got)
	}
}

func TestSourceFormatFromExtension(t *testing.T) {
	f, err := sourceFormat(options{}, "guide.adoc")
	if err != nil || f != format.AsciiDoc {
		t.Fatalf("expected asciidoc, got %q %v", f, err)
	}
	f, err = sourceFormat(options{from: "md"}, "guide.adoc")
	if err != nil || f != format.Markdown {
		t.Fatalf("expected explicit markdown, got %q %v", f, err)
	}
	if _, err := sourceFormat(options{}, "guide.xyz"); err == nil {
		t.Fatalf("expected unknown extension to fail")
	}
}

func TestModelTracksJobsUntilDone(t *testing.T) {
	cancelled := false
	m := newModel([]string{"a.adoc", "b.adoc"}, "markdown", func() { cancelled = true })

	next, _ := m.Update(progressMsg{documentID: "a.adoc", progress: conversion.Progress{Stage: conversion.StageRunningPandoc}})
	m = next.(model)
	if m.byID["a.adoc"].stage != string(conversion.StageRunningPandoc) {
		t.Fatalf("expected stage update, got %q", m.byID["a.adoc"].stage)
	}

	next, cmd := m.Update(doneMsg{documentID: "a.adoc", result: conversion.Result{Success: true, Output: "x", UsedFallback: true, AIAttempted: true}})
	m = next.(model)
	if cmd != nil {
		t.Fatalf("expected no quit while b is running")
	}
	next, cmd = m.Update(doneMsg{documentID: "b.adoc", err: errors.New("boom")})
	m = next.(model)
	if cmd == nil {
		t.Fatalf("expected quit once every job is done")
	}
	view := m.View()
	for _, want := range []string{"a.adoc", "pandoc fallback", "b.adoc", "boom"} {
		if !strings.Contains(view, want) {
			t.Fatalf("expected %q in view:\n%s", want, view)
		}
	}
	if cancelled {
		t.Fatalf("cancel should not run on normal completion")
	}
}

func TestModelCancelsOnCtrlC(t *testing.T) {
	cancelled := false
	m := newModel([]string{"a.adoc"}, "markdown", func() { cancelled = true })
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if !cancelled || cmd == nil || !next.(model).aborted {
		t.Fatalf("expected ctrl+c to cancel and quit")
	}
}
