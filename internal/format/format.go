package format

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnsupported = errors.New("unsupported format")

// Format is a document format on the conversion allow-list.
type Format string

const (
	AsciiDoc Format = "asciidoc"
	Markdown Format = "markdown"
	DOCX     Format = "docx"
	HTML     Format = "html"
	PDF      Format = "pdf"
	LaTeX    Format = "latex"
	RST      Format = "rst"
	Org      Format = "org"
)

// Info describes how a format maps onto Pandoc.
type Info struct {
	Format    Format `json:"format"`
	Reader    string `json:"-"`
	Writer    string `json:"-"`
	Extension string `json:"extension"`
	Binary    bool   `json:"binary"`
	Readable  bool   `json:"readable"`
	Label     string `json:"label"`
}

var registry = map[Format]Info{
	AsciiDoc: {Format: AsciiDoc, Reader: "asciidoc", Writer: "asciidoc", Extension: ".adoc", Readable: true, Label: "AsciiDoc"},
	Markdown: {Format: Markdown, Reader: "markdown", Writer: "markdown", Extension: ".md", Readable: true, Label: "Markdown"},
	DOCX:     {Format: DOCX, Reader: "docx", Writer: "docx", Extension: ".docx", Binary: true, Readable: true, Label: "Word"},
	HTML:     {Format: HTML, Reader: "html", Writer: "html5", Extension: ".html", Readable: true, Label: "HTML"},
	// Pandoc has no PDF reader; the writer is chosen by the output extension.
	PDF:   {Format: PDF, Writer: "pdf", Extension: ".pdf", Binary: true, Label: "PDF"},
	LaTeX: {Format: LaTeX, Reader: "latex", Writer: "latex", Extension: ".tex", Readable: true, Label: "LaTeX"},
	RST:   {Format: RST, Reader: "rst", Writer: "rst", Extension: ".rst", Readable: true, Label: "reStructuredText"},
	Org:   {Format: Org, Reader: "org", Writer: "org", Extension: ".org", Readable: true, Label: "Org"},
}

var aliases = map[string]Format{
	"adoc":             AsciiDoc,
	"asc":              AsciiDoc,
	"md":               Markdown,
	"gfm":              Markdown,
	"htm":              HTML,
	"html5":            HTML,
	"tex":              LaTeX,
	"restructuredtext": RST,
}

// Parse resolves a user supplied name or alias to an allow-listed Format.
func Parse(name string) (Format, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.TrimPrefix(key, ".")
	if key == "" {
		return "", fmt.Errorf("%w: empty format", ErrUnsupported)
	}
	if _, ok := registry[Format(key)]; ok {
		return Format(key), nil
	}
	if f, ok := aliases[key]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupported, name)
}

func Lookup(f Format) (Info, bool) {
	info, ok := registry[f]
	return info, ok
}

func (f Format) Valid() bool {
	_, ok := registry[f]
	return ok
}

func (f Format) Binary() bool {
	return registry[f].Binary
}

func (f Format) Readable() bool {
	return registry[f].Readable
}

func (f Format) Extension() string {
	return registry[f].Extension
}

func (f Format) String() string {
	return string(f)
}

// All returns the allow-list sorted by name.
func All() []Info {
	out := make([]Info, 0, len(registry))
	for _, info := range registry {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Format < out[j].Format })
	return out
}
