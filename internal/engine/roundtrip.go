package engine

import (
	"context"
	"encoding/json"
	"strings"

	"asciidocartisan/engine/internal/diff"
	"asciidocartisan/engine/internal/errinfo"
	"asciidocartisan/engine/internal/format"
	"asciidocartisan/engine/internal/pandoc"
)

// RoundTripReport shows what an AsciiDoc document loses when it is converted
// to an intermediate format and back.
type RoundTripReport struct {
	Via       string               `json:"via"`
	Output    string               `json:"output"`
	Identical bool                 `json:"identical"`
	Hunks     []diff.Hunk          `json:"hunks,omitempty"`
	Stats     diff.Stats           `json:"stats"`
	Truncated bool                 `json:"truncated"`
	Structure diff.StructureReport `json:"structure"`
}

var roundTripOptions = map[string]string{"standalone": "true"}

// ConversionRoundTrip runs AsciiDoc through Pandoc to an intermediate
// format (Markdown unless "via" says otherwise) and back, then diffs the
// result against the input. It runs outside the dispatcher and does not
// touch any document's pending conversion.
func (e *Engine) ConversionRoundTrip(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var p struct {
		Content string `json:"content"`
		Via     string `json:"via"`
	}
	if errInfo := decodeParams(errinfo.PhaseRoundTrip, params, &p); errInfo != nil {
		return nil, errInfo
	}
	via := format.Markdown
	if strings.TrimSpace(p.Via) != "" {
		f, err := format.Parse(p.Via)
		if err != nil {
			return nil, errinfo.UnsupportedFormat(errinfo.PhaseRoundTrip, err.Error())
		}
		via = f
	}
	if via == format.AsciiDoc || via.Binary() || !via.Readable() {
		return nil, errinfo.UnsupportedFormat(errinfo.PhaseRoundTrip, "round trip needs a readable text format other than asciidoc")
	}
	report, err := e.roundTrip(ctx, p.Content, via)
	if err != nil {
		return nil, pandoc.ErrorInfo(errinfo.PhaseRoundTrip, err)
	}
	return report, nil
}

func (e *Engine) roundTrip(ctx context.Context, content string, via format.Format) (RoundTripReport, error) {
	there, err := e.runner.Convert(ctx, content, format.AsciiDoc, via, roundTripOptions)
	if err != nil {
		return RoundTripReport{}, err
	}
	back, err := e.runner.Convert(ctx, there.Text, via, format.AsciiDoc, roundTripOptions)
	if err != nil {
		return RoundTripReport{}, err
	}
	before := normalizeText(content)
	after := normalizeText(back.Text)
	hunks, stats, truncated := diff.TextDiffWithLimit(before, after, diff.MaxDiffLines)
	report := RoundTripReport{
		Via:       string(via),
		Output:    back.Text,
		Identical: before == after,
		Hunks:     hunks,
		Stats:     stats,
		Truncated: truncated,
		Structure: diff.CompareStructure(before, after),
	}
	e.logger.Debug("engine.round_trip",
		"via", string(via),
		"identical", report.Identical,
		"added", stats.Added,
		"removed", stats.Removed,
		"headings_preserved", report.Structure.HeadingsPreserved,
	)
	return report, nil
}

// normalizeText drops trailing blanks and line-ending differences that no
// writer preserves.
func normalizeText(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n"
}
