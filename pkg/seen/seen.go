// Package seen persists the set of post ids that have already been relayed.
package seen

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/samber/lo"
	"storyrelay/internal/fsutil"
	"storyrelay/pkg/logger"
)

// Set is the set of relayed post ids. It only ever grows.
type Set map[string]struct{}

// NewSet returns a set holding ids
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id
func (s Set) Add(id string) { s[id] = struct{}{} }

// Has reports whether id is in the set
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of ids
func (s Set) Len() int { return len(s) }

// IDs returns the ids sorted
func (s Set) IDs() []string {
	ids := lo.Keys(s)
	sort.Strings(ids)
	return ids
}

// Store reads and writes the seen file, a flat JSON array of ids
type Store struct {
	path   string
	logger logger.Logger

	mu sync.Mutex
	// unsaved holds ids from the last failed Save so the next Load
	// still reports them as seen
	unsaved Set
}

// NewStore creates a store for the file at path
func NewStore(path string, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Store{path: path, logger: log, unsaved: Set{}}
}

// Path returns the seen file location
func (s *Store) Path() string {
	return s.path
}

// Load reads the seen file. A missing file is an empty set. Elements may be
// strings or integers; integers are kept as their decimal form.
func (s *Store) Load() (Set, error) {
	set := Set{}

	data, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("seen: read %s: %w", s.path, err)
	default:
		ids, err := decode(data)
		if err != nil {
			return nil, fmt.Errorf("seen: decode %s: %w", s.path, err)
		}
		for _, id := range ids {
			set.Add(id)
		}
	}

	s.mu.Lock()
	for id := range s.unsaved {
		set.Add(id)
	}
	s.mu.Unlock()

	s.logger.DebugWithFields("Seen set loaded", map[string]interface{}{
		"path":  s.path,
		"count": set.Len(),
	})
	return set, nil
}

func decode(data []byte) ([]string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(raw))
	for i, v := range raw {
		switch id := v.(type) {
		case string:
			ids = append(ids, id)
		case json.Number:
			if _, err := id.Int64(); err != nil {
				return nil, fmt.Errorf("element %d: %q is not an integer id", i, id)
			}
			ids = append(ids, id.String())
		default:
			return nil, fmt.Errorf("element %d: unsupported id type %T", i, v)
		}
	}
	return ids, nil
}

// Save writes set atomically. On failure the ids are kept in memory and
// merged into later loads.
func (s *Store) Save(set Set) error {
	data, err := json.Marshal(set.IDs())
	if err == nil {
		err = fsutil.WriteFileAtomic(s.path, data, 0644)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		for id := range set {
			s.unsaved.Add(id)
		}
		return fmt.Errorf("seen: save %s: %w", s.path, err)
	}

	s.unsaved = Set{}
	s.logger.DebugWithFields("Seen set saved", map[string]interface{}{
		"path":  s.path,
		"count": set.Len(),
	})
	return nil
}
