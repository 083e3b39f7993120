package appdirs

import (
	"os"
	"path/filepath"
)

const (
	appDirName = "asciidoc-artisan"

	// DataDirEnv overrides the per-user data directory.
	DataDirEnv = "ASCIIDOC_ARTISAN_DATA_DIR"
)

func DataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appDirName), nil
}

func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.yaml")
}

// ScratchDir holds per-conversion temp directories for binary outputs.
func ScratchDir(dataDir string) string {
	return filepath.Join(dataDir, "scratch")
}

// ExportsDir is where binary outputs land when a request names no path.
func ExportsDir(dataDir string) string {
	return filepath.Join(dataDir, "exports")
}
