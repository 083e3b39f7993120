package pandoc

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"asciidocartisan/engine/internal/envutil"
)

type optionKind int

const (
	optionBool optionKind = iota
	optionEnum
	optionInt
)

type optionDef struct {
	flag   string
	kind   optionKind
	values []string
	min    int
	max    int
}

const optionExtractMedia = "extract_media"

// Option keys are mapped to flags here and nowhere else; values never reach
// the argument vector unchecked.
var optionTable = map[string]optionDef{
	"standalone":             {flag: "--standalone", kind: optionBool},
	"toc":                    {flag: "--toc", kind: optionBool},
	"pdf_engine":             {flag: "--pdf-engine", kind: optionEnum, values: []string{"pdflatex", "xelatex", "lualatex", "wkhtmltopdf", "weasyprint"}},
	"shift_heading_level_by": {flag: "--shift-heading-level-by", kind: optionInt, min: -5, max: 5},
	"columns":                {flag: "--columns", kind: optionInt, min: 20, max: 400},
	optionExtractMedia:       {kind: optionBool},
}

// OptionKeys lists the accepted option keys.
func OptionKeys() []string {
	keys := make([]string, 0, len(optionTable))
	for key := range optionTable {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type parsedOptions struct {
	flags        []string
	extractMedia bool
}

func parseOptions(opts map[string]string) (parsedOptions, error) {
	var parsed parsedOptions
	keys := make([]string, 0, len(opts))
	for key := range opts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		def, ok := optionTable[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			return parsedOptions{}, fmt.Errorf("unknown option %q", key)
		}
		value := strings.TrimSpace(opts[key])
		switch def.kind {
		case optionBool:
			if !envutil.ParseBool(value) {
				continue
			}
			if def.flag == "" {
				parsed.extractMedia = true
				continue
			}
			parsed.flags = append(parsed.flags, def.flag)
		case optionEnum:
			lower := strings.ToLower(value)
			if !contains(def.values, lower) {
				return parsedOptions{}, fmt.Errorf("option %s: unsupported value %q", key, value)
			}
			parsed.flags = append(parsed.flags, def.flag+"="+lower)
		case optionInt:
			n, err := strconv.Atoi(value)
			if err != nil || n < def.min || n > def.max {
				return parsedOptions{}, fmt.Errorf("option %s: expected integer in [%d, %d], got %q", key, def.min, def.max, value)
			}
			parsed.flags = append(parsed.flags, def.flag+"="+strconv.Itoa(n))
		}
	}
	return parsed, nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
