package session

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"storyrelay/internal/fsutil"
)

// FileStore keeps the session as plain JSON in a single file
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed store
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the session file
func (f *FileStore) Load(username string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	content, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	return decodeSession(content, username)
}

// Save writes the session file with owner-only permissions
func (f *FileStore) Save(s *Session) error {
	if err := validate(s); err != nil {
		return err
	}
	content, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return fsutil.WriteFileAtomic(f.path, content, 0600)
}

// Delete removes the session file
func (f *FileStore) Delete(username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// decodeSession parses a stored session; a session for another account
// counts as absent
func decodeSession(content []byte, username string) (*Session, error) {
	var s Session
	if err := json.Unmarshal(content, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	if s.Username != username {
		return nil, ErrNotFound
	}
	return &s, nil
}
