package diff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type Line struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
}

// Hunk is a run of changed lines with up to Context unchanged lines on
// either side.
type Hunk struct {
	OldStart int    `json:"old_start"`
	NewStart int    `json:"new_start"`
	Lines    []Line `json:"lines"`
}

type Stats struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

const (
	LineContext = "context"
	LineAdded   = "added"
	LineRemoved = "removed"
)

const (
	DefaultContext = 3
	MaxDiffLines   = 5000
)

// Lines returns the full line-level diff of before and after.
func Lines(before, after string) []Line {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var lines []Line
	oldLine := 1
	newLine := 1
	for _, d := range diffs {
		chunkLines := strings.Split(d.Text, "\n")
		if len(chunkLines) > 0 && chunkLines[len(chunkLines)-1] == "" {
			chunkLines = chunkLines[:len(chunkLines)-1]
		}
		for _, line := range chunkLines {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				lines = append(lines, Line{Type: LineContext, Text: line, OldLine: oldLine, NewLine: newLine})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				lines = append(lines, Line{Type: LineRemoved, Text: line, OldLine: oldLine})
				oldLine++
			case diffmatchpatch.DiffInsert:
				lines = append(lines, Line{Type: LineAdded, Text: line, NewLine: newLine})
				newLine++
			}
		}
	}
	return lines
}

// TextDiff groups the changes between before and after into hunks. Identical
// inputs produce no hunks.
func TextDiff(before, after string, context int) ([]Hunk, Stats) {
	if context < 0 {
		context = DefaultContext
	}
	lines := Lines(before, after)
	var stats Stats
	var changed []int
	for i, line := range lines {
		switch line.Type {
		case LineAdded:
			stats.Added++
			changed = append(changed, i)
		case LineRemoved:
			stats.Removed++
			changed = append(changed, i)
		}
	}
	if len(changed) == 0 {
		return nil, stats
	}

	var hunks []Hunk
	start := max(changed[0]-context, 0)
	end := min(changed[0]+context, len(lines)-1)
	for _, idx := range changed[1:] {
		if idx-context <= end+1 {
			end = min(idx+context, len(lines)-1)
			continue
		}
		hunks = append(hunks, newHunk(lines[start:end+1]))
		start = max(idx-context, 0)
		end = min(idx+context, len(lines)-1)
	}
	hunks = append(hunks, newHunk(lines[start:end+1]))
	return hunks, stats
}

func newHunk(lines []Line) Hunk {
	h := Hunk{Lines: append([]Line(nil), lines...)}
	for _, line := range lines {
		if h.OldStart == 0 && line.OldLine > 0 {
			h.OldStart = line.OldLine
		}
		if h.NewStart == 0 && line.NewLine > 0 {
			h.NewStart = line.NewLine
		}
	}
	return h
}

// TextDiffWithLimit skips the diff when the inputs are too large to show.
func TextDiffWithLimit(before, after string, maxLines int) ([]Hunk, Stats, bool) {
	if maxLines <= 0 {
		maxLines = MaxDiffLines
	}
	if lineCount(before)+lineCount(after) > maxLines {
		return nil, Stats{}, true
	}
	hunks, stats := TextDiff(before, after, DefaultContext)
	return hunks, stats, false
}

func lineCount(value string) int {
	if value == "" {
		return 0
	}
	return strings.Count(value, "\n") + 1
}
