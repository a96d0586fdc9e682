// Package cache persists generated summaries between runs as a single
// versioned JSON file keyed by source path.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/phobologic/logicindex/internal/model"
)

// Version is the schema version written to "_meta.version". A cache with any
// other version is discarded on load.
const Version = 2

const metaKey = "_meta"

// ErrVersionMismatch is returned by Load when the cache was written with a
// different schema version. The returned store is empty.
var ErrVersionMismatch = errors.New("cache schema version mismatch")

// Meta describes the run that last wrote the cache.
type Meta struct {
	LastUpdated string `json:"last_updated"`
	Model       string `json:"model"`
	Version     int    `json:"version"`
}

// Entry is the persisted record for one source file.
type Entry struct {
	Path    string          `json:"path"`
	Hash    string          `json:"hash"`
	Imports []string        `json:"imports"`
	Symbols []*model.Symbol `json:"symbols"`
}

// Symbol returns the cached symbol with the given name and content hash.
func (e *Entry) Symbol(name, hash string) *model.Symbol {
	for _, s := range e.Symbols {
		if s.Name == name && s.Hash == hash {
			return s
		}
	}
	return nil
}

// Store maps source paths to their cache entries.
type Store struct {
	Entries map[string]*Entry
	Meta    Meta
}

// New returns an empty store.
func New() *Store {
	return &Store{Entries: make(map[string]*Entry), Meta: Meta{Version: Version}}
}

// Get returns the entry for path, or nil.
func (s *Store) Get(path string) *Entry {
	return s.Entries[path]
}

// Put replaces the entry for e.Path.
func (s *Store) Put(e *Entry) {
	s.Entries[e.Path] = e
}

// Paths returns every cached path in sorted order.
func (s *Store) Paths() []string {
	paths := make([]string, 0, len(s.Entries))
	for p := range s.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// FromSnapshots builds a store from the final state of a run.
func FromSnapshots(snaps []*model.FileSnapshot) *Store {
	s := New()
	for _, snap := range snaps {
		imports := snap.DependencyPaths()
		symbols := snap.Symbols
		if symbols == nil {
			symbols = []*model.Symbol{}
		}
		s.Put(&Entry{Path: snap.Path, Hash: snap.Hash, Imports: imports, Symbols: symbols})
	}
	return s
}

// MarshalJSON writes entries keyed by path next to the "_meta" record.
func (s *Store) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Entries)+1)
	for p, e := range s.Entries {
		out[p] = e
	}
	out[metaKey] = s.Meta
	return json.Marshal(out)
}

// UnmarshalJSON reads a store, returning ErrVersionMismatch without decoding
// any entry when the schema version differs.
func (s *Store) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var meta Meta
	if m, ok := raw[metaKey]; ok {
		if err := json.Unmarshal(m, &meta); err != nil {
			return fmt.Errorf("decoding %s: %w", metaKey, err)
		}
	}
	if meta.Version != Version {
		return fmt.Errorf("%w: found %d, want %d", ErrVersionMismatch, meta.Version, Version)
	}

	entries := make(map[string]*Entry, len(raw))
	for key, msg := range raw {
		if key == metaKey {
			continue
		}
		var e Entry
		if err := json.Unmarshal(msg, &e); err != nil {
			return fmt.Errorf("decoding entry %s: %w", key, err)
		}
		if e.Path == "" {
			e.Path = key
		}
		entries[key] = &e
	}

	s.Entries = entries
	s.Meta = meta
	return nil
}

// Load reads the cache at path. A missing file yields an empty store and no
// error. A corrupt or incompatible file yields an empty store and the error
// describing why it was discarded.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return New(), fmt.Errorf("reading cache: %w", err)
	}

	s := New()
	if err := json.Unmarshal(data, s); err != nil {
		return New(), err
	}
	return s, nil
}

// Save writes the store to path atomically, stamping the metadata record.
func (s *Store) Save(path, modelName string, now time.Time) error {
	s.Meta = Meta{
		LastUpdated: now.Format(time.RFC3339),
		Model:       modelName,
		Version:     Version,
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cache: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing cache: %w", err)
	}
	return nil
}
