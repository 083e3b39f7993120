package dispatch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"asciidocartisan/engine/internal/conversion"
	"asciidocartisan/engine/internal/errinfo"
)

// publish moves tool output out of its scratch directory. Binary files go to
// the request's OutputPath, or OutputDir/<document><ext>; extracted media
// goes next to it. Nothing is published for a result that is not delivered.
func (c *Controller) publish(t *ticket, res conversion.Result) conversion.Result {
	if res.ScratchDir == "" {
		return res
	}
	defer func() {
		_ = os.RemoveAll(res.ScratchDir)
	}()
	if !res.Success {
		return res
	}

	if res.OutputPath != "" {
		dest := t.req.OutputPath
		if dest == "" {
			dest = filepath.Join(c.cfg.OutputDir, safeName(t.req.DocumentID)+filepath.Ext(res.OutputPath))
		}
		if err := moveFile(res.OutputPath, dest); err != nil {
			c.logger.Warn("dispatch.publish_failed", "document_id", t.req.DocumentID, "error", err.Error())
			failed := conversion.Failed(errinfo.CodeFileWriteFailed, fmt.Sprintf("write %s: %v", dest, err), 0)
			failed.DurationMs = res.DurationMs
			failed.UsedFallback = res.UsedFallback
			failed.AIAttempted = res.AIAttempted
			return failed
		}
		res.Output = dest
		res.OutputPath = dest
	}

	media := filepath.Join(res.ScratchDir, "media")
	if info, err := os.Stat(media); err == nil && info.IsDir() {
		dest := filepath.Join(c.cfg.OutputDir, safeName(t.req.DocumentID)+"_media")
		if err := moveDir(media, dest); err != nil {
			c.logger.Warn("dispatch.media_publish_failed", "document_id", t.req.DocumentID, "error", err.Error())
		} else {
			if res.OutputPath == "" {
				res.Output = strings.ReplaceAll(res.Output, media, dest)
			}
			res.MediaDir = dest
		}
	}
	res.ScratchDir = ""
	return res
}

// discard removes output of a result that will never be delivered.
func discard(res conversion.Result) {
	if res.ScratchDir != "" {
		_ = os.RemoveAll(res.ScratchDir)
	}
}

// moveFile renames src to dest, copying through a sibling temp file when
// the two are on different filesystems. dest is only ever replaced whole.
func moveFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	err := os.Rename(src, dest)
	if err == nil || !isCrossDevice(err) {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func moveDir(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.RemoveAll(dest); err != nil {
		return err
	}
	err := os.Rename(src, dest)
	if err == nil || !isCrossDevice(err) {
		return err
	}
	return filepath.WalkDir(src, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return moveFile(path, target)
	})
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	return errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV)
}

// safeName turns a document id into a file name without separators.
func safeName(documentID string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, filepath.Base(documentID))
	name = strings.Trim(name, ".")
	if name == "" {
		return "document"
	}
	return name
}
