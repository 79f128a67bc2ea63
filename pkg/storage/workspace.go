package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Workspace is the directory holding downloaded story images, one file per
// post named after the post id
type Workspace struct {
	dir string
	ext string
}

// NewWorkspace creates the download directory if needed
func NewWorkspace(dir, ext string) (*Workspace, error) {
	if ext == "" {
		ext = ".jpg"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	return &Workspace{dir: dir, ext: ext}, nil
}

// Dir returns the download directory path
func (w *Workspace) Dir() string {
	return w.dir
}

// ImagePath returns the destination path for a post's image
func (w *Workspace) ImagePath(postID string) string {
	return filepath.Join(w.dir, sanitize(postID)+w.ext)
}

// Remove deletes an image; a missing file is not an error
func (w *Workspace) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove image: %w", err)
	}
	return nil
}

// Retained lists the post ids whose images are still on disk, sorted
func (w *Workspace) Retained() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != w.ext {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, w.ext))
	}
	sort.Strings(ids)
	return ids, nil
}

func sanitize(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
}
