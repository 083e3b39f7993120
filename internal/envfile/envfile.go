package envfile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// PathEnv points at an explicit .env file instead of searching upwards.
const PathEnv = "ASCIIDOC_ARTISAN_ENV_PATH"

const fileName = ".env"

var keyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Result describes what Load did. Variables already present in the process
// environment are never overwritten. Invalid lines are counted in Skipped
// and otherwise ignored.
type Result struct {
	Path    string
	Loaded  bool
	Keys    int
	Skipped int
	Err     error
}

// Load reads the file named by PathEnv, or the nearest .env from the working
// directory upwards. No file is not an error.
func Load() Result {
	if override := strings.TrimSpace(os.Getenv(PathEnv)); override != "" {
		return LoadPath(override)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return Result{Err: err}
	}
	path := findUpwards(cwd)
	if path == "" {
		return Result{}
	}
	return LoadPath(path)
}

func LoadPath(path string) Result {
	res := Result{Path: path}
	file, err := os.Open(path)
	if err != nil {
		res.Err = err
		return res
	}
	defer file.Close()
	res.Loaded = true

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		key, value, ok, err := parseLine(scanner.Text())
		if err != nil {
			res.Skipped++
			continue
		}
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			res.Err = fmt.Errorf("%s:%d: %w", path, lineNo, err)
			return res
		}
		res.Keys++
	}
	if err := scanner.Err(); err != nil {
		res.Err = err
	}
	return res
}

// parseLine handles `KEY=value`, an optional `export ` prefix, quoted values
// and trailing comments on unquoted values. ok is false for blank and
// comment lines.
func parseLine(line string) (key, value string, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false, nil
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	rawKey, rawValue, found := strings.Cut(line, "=")
	key = strings.TrimSpace(rawKey)
	if !found || !keyRe.MatchString(key) {
		return "", "", false, fmt.Errorf("not a KEY=value line")
	}
	value, err = parseValue(strings.TrimSpace(rawValue))
	if err != nil {
		return "", "", false, err
	}
	return key, value, true, nil
}

func parseValue(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	switch quote := raw[0]; quote {
	case '"', '\'':
		end := closingQuote(raw, quote)
		if end < 0 {
			return "", fmt.Errorf("unterminated quote")
		}
		inner := raw[1:end]
		if quote == '"' {
			inner = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\"`, `"`, `\\`, `\`).Replace(inner)
		}
		return inner, nil
	}
	if idx := strings.Index(raw, " #"); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.TrimSpace(raw), nil
}

// closingQuote finds the quote ending raw[0]; inside double quotes a
// backslash escapes the next byte.
func closingQuote(raw string, quote byte) int {
	for i := 1; i < len(raw); i++ {
		switch {
		case raw[i] == '\\' && quote == '"':
			i++
		case raw[i] == quote:
			return i
		}
	}
	return -1
}

func findUpwards(start string) string {
	for dir := start; ; {
		candidate := filepath.Join(dir, fileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
