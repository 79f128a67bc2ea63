// Package fsutil holds file helpers shared by the state stores.
package fsutil

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to path with WriteReaderAtomic
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return WriteReaderAtomic(path, bytes.NewReader(data), perm)
}

// WriteReaderAtomic copies r into a temporary file in the target directory,
// syncs it and renames it over path. Readers see either the old or the new
// content, never a partial write.
func WriteReaderAtomic(path string, r io.Reader, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	fail := func(step string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to %s: %w", step, err)
	}

	if _, err := io.Copy(tmp, r); err != nil {
		return fail("write temporary file", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fail("set permissions", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync temporary file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}
