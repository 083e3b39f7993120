package diff

import (
	"regexp"
	"strings"
)

var (
	headingRe  = regexp.MustCompile(`^(=+)\s+(\S.*?)\s*$`)
	listItemRe = regexp.MustCompile(`^\s*(\*+|\.+|-)\s+\S`)
	delimRe    = regexp.MustCompile(`^(-{4,}|\.{4,}|={4,}|\+{4,}|_{4,}|\*{4,}|/{4,})\s*$`)
)

type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Outline is the skeleton of an AsciiDoc document: the document title,
// section titles in order and the number of list items. Delimited blocks
// are skipped so listing content is never mistaken for structure.
type Outline struct {
	Title     string    `json:"title,omitempty"`
	Headings  []Heading `json:"headings"`
	ListItems int       `json:"list_items"`
}

func ParseOutline(doc string) Outline {
	var out Outline
	fence := ""
	for _, raw := range strings.Split(strings.ReplaceAll(doc, "\r\n", "\n"), "\n") {
		line := strings.TrimRight(raw, " \t")
		if fence != "" {
			if line == fence {
				fence = ""
			}
			continue
		}
		if delimRe.MatchString(line) {
			fence = line
			continue
		}
		if strings.HasPrefix(line, "//") {
			continue
		}
		if m := headingRe.FindStringSubmatch(line); m != nil {
			level := len(m[1]) - 1
			if level == 0 {
				if out.Title == "" {
					out.Title = m[2]
				}
				continue
			}
			out.Headings = append(out.Headings, Heading{Level: level, Text: m[2]})
			continue
		}
		if listItemRe.MatchString(line) {
			out.ListItems++
		}
	}
	return out
}

// StructureReport compares the outline of a document before and after a
// round trip.
type StructureReport struct {
	TitlePreserved    bool      `json:"title_preserved"`
	HeadingsPreserved bool      `json:"headings_preserved"`
	ListsPreserved    bool      `json:"lists_preserved"`
	MissingHeadings   []Heading `json:"missing_headings,omitempty"`
	Before            Outline   `json:"before"`
	After             Outline   `json:"after"`
}

func CompareStructure(before, after string) StructureReport {
	b := ParseOutline(before)
	a := ParseOutline(after)
	report := StructureReport{
		TitlePreserved: b.Title == a.Title,
		ListsPreserved: b.ListItems == a.ListItems,
		Before:         b,
		After:          a,
	}
	remaining := make(map[Heading]int, len(a.Headings))
	for _, h := range a.Headings {
		remaining[h]++
	}
	for _, h := range b.Headings {
		if remaining[h] > 0 {
			remaining[h]--
			continue
		}
		report.MissingHeadings = append(report.MissingHeadings, h)
	}
	report.HeadingsPreserved = len(report.MissingHeadings) == 0 && len(a.Headings) == len(b.Headings)
	return report
}
