package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrWriteConflict is returned when the destination exists and
// overwriting is disabled.
var ErrWriteConflict = errors.New("storage: destination already exists")

// FileWriter places mirrored resources on the local filesystem.
type FileWriter struct {
	overwrite bool
}

// NewFileWriter constructs a writer. With overwrite unset, existing files
// are never replaced.
func NewFileWriter(overwrite bool) *FileWriter {
	return &FileWriter{overwrite: overwrite}
}

// Write streams r into path, creating parent directories as needed. The
// body goes to a temporary file first, so a failed stream never leaves a
// partial file at path.
func (w *FileWriter) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}
	if !w.overwrite {
		if _, err := os.Lstat(path); err == nil {
			return 0, fmt.Errorf("%w: %s", ErrWriteConflict, path)
		}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("open destination: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Chmod(0o644)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", path, err)
	}

	if err := w.commit(tmpName, path); err != nil {
		return n, err
	}
	return n, nil
}

// commit moves the finished temporary file into place. Without overwrite
// a hard link claims path exclusively; the rename is the fallback for
// filesystems without links.
func (w *FileWriter) commit(tmpName, path string) error {
	if w.overwrite {
		if err := os.Rename(tmpName, path); err != nil {
			return fmt.Errorf("replace %s: %w", path, err)
		}
		return nil
	}
	err := os.Link(tmpName, path)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %s", ErrWriteConflict, path)
	}
	if _, statErr := os.Lstat(path); statErr == nil {
		return fmt.Errorf("%w: %s", ErrWriteConflict, path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("place %s: %w", path, err)
	}
	return nil
}
