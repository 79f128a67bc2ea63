package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspace(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "stories")
	ws, err := NewWorkspace(dir, "")
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Equal(t, dir, ws.Dir())

	path := ws.ImagePath("3141592653")
	assert.Equal(t, filepath.Join(dir, "3141592653.jpg"), path)

	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0644))
	require.NoError(t, os.WriteFile(ws.ImagePath("271828"), []byte("jpeg"), 0644))
	// Temporary files and other extensions are not retained images
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".1.jpg-123.tmp"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0644))

	ids, err := ws.Retained()
	require.NoError(t, err)
	assert.Equal(t, []string{"271828", "3141592653"}, ids)

	require.NoError(t, ws.Remove(path))
	assert.NoFileExists(t, path)
	// Removing twice is fine
	assert.NoError(t, ws.Remove(path))
}

func TestImagePathSanitizesIDs(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir(), ".jpg")
	require.NoError(t, err)

	path := ws.ImagePath("../escape")
	assert.Equal(t, ws.Dir(), filepath.Dir(path))
}
