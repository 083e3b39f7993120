package envutil

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func Bool(key string) bool {
	return ParseBool(os.Getenv(key))
}

func ParseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// String returns the trimmed value of key and whether it was non-empty.
func String(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}

// Int parses key as a base-10 integer. Unset or blank reports ok=false.
func Int(key string) (int, bool, error) {
	value, ok := String(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, true, err
	}
	return n, true, nil
}

// Duration accepts Go duration syntax ("90s") or a bare number of seconds.
func Duration(key string) (time.Duration, bool, error) {
	value, ok := String(key)
	if !ok {
		return 0, false, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, true, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, true, err
	}
	return d, true, nil
}
