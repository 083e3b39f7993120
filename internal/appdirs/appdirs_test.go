package appdirs

import (
	"path/filepath"
	"testing"
)

func TestDataDirOverride(t *testing.T) {
	t.Setenv(DataDirEnv, "/tmp/asciidoc-artisan-test")
	path, err := DataDir()
	if err != nil {
		t.Fatalf("data dir: %v", err)
	}
	if path != "/tmp/asciidoc-artisan-test" {
		t.Fatalf("expected override path, got %s", path)
	}
	if got := ConfigPath(path); got != filepath.Join(path, "config.yaml") {
		t.Fatalf("unexpected config path %s", got)
	}
	if got := ScratchDir(path); got != filepath.Join(path, "scratch") {
		t.Fatalf("unexpected scratch dir %s", got)
	}
	if got := ExportsDir(path); got != filepath.Join(path, "exports") {
		t.Fatalf("unexpected exports dir %s", got)
	}
}
