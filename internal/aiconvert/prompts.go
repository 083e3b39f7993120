package aiconvert

import (
	"fmt"
	"strings"

	"asciidocartisan/engine/internal/format"
)

const basePrompt = `You are a document format converter. Convert the document supplied by the user from %s to %s.

Rules:
- Return ONLY the converted document body. No preamble, no explanation, no code fences around the whole document.
- Preserve every heading and its level, every list and its nesting, tables, links, and code blocks with their language.
- Do not summarize, translate, or drop content.
- Keep inline formatting (bold, italic, monospace) using the target syntax.`

var targetInstructions = map[format.Format]string{
	format.AsciiDoc: "Use AsciiDoc syntax: '=' heading markers with the document title as a level-0 '= Title', '*' and '.' list markers, [source,lang] blocks delimited by '----'.",
	format.Markdown: "Use CommonMark with GitHub tables and fenced code blocks; ATX '#' headings, document title as '# Title'.",
	format.HTML:     "Produce an HTML5 fragment (no <html>, <head>, or <body>), semantic elements only, no inline styles or scripts.",
	format.LaTeX:    "Produce LaTeX body content using \\section, \\subsection, itemize/enumerate, and verbatim or lstlisting for code. No \\documentclass preamble.",
	format.RST:      "Use reStructuredText with consistent underline characters per heading level and '.. code-block::' directives.",
	format.Org:      "Use Org mode: '*' headline depth for heading levels, '-' list items, #+BEGIN_SRC blocks for code.",
}

func systemPrompt(from, to format.Format) string {
	prompt := fmt.Sprintf(basePrompt, label(from), label(to))
	if extra, ok := targetInstructions[to]; ok {
		prompt += "\n- " + extra
	}
	return prompt
}

func label(f format.Format) string {
	if info, ok := format.Lookup(f); ok && info.Label != "" {
		return info.Label
	}
	return string(f)
}

// stripFence removes one code fence wrapped around the whole reply.
func stripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") || len(trimmed) < 6 {
		return trimmed
	}
	firstLine, rest, ok := strings.Cut(trimmed, "\n")
	if !ok || strings.Contains(strings.TrimPrefix(firstLine, "```"), "`") {
		return trimmed
	}
	body := strings.TrimSuffix(rest, "```")
	if strings.Contains(body, "\n```\n") {
		// More than one fenced block; the fences belong to the document.
		return trimmed
	}
	return strings.TrimSpace(body)
}
