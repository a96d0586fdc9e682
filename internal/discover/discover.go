// Package discover finds source files in a repository, honoring exclusion
// patterns kept next to the summary cache.
package discover

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/phobologic/logicindex/internal/lang"
)

// ConfigFileName is the exclusion file kept in the state directory.
const ConfigFileName = "logic_index_config"

//go:embed default_config.template
var defaultTemplate string

// FallbackExclusions is used when no exclusion file can be read.
var FallbackExclusions = []string{
	".git/",
	"__pycache__/",
	"venv/",
	"node_modules/",
	".claude/",
	"dist/",
	"build/",
}

// FileEntry represents a discovered source file.
type FileEntry struct {
	Path     string // Relative to repo root, forward slashes
	Language string
}

// LoadExclusions reads the exclusion file from stateDir, seeding it from the
// built-in template on first run. seeded reports whether the file was created.
// If the file cannot be read the fallback list is returned along with the error.
func LoadExclusions(stateDir string) (patterns []string, seeded bool, err error) {
	path := filepath.Join(stateDir, ConfigFileName)

	if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
		if err := os.MkdirAll(stateDir, 0o755); err != nil {
			return FallbackExclusions, false, fmt.Errorf("creating state dir: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultTemplate), 0o644); err != nil {
			return FallbackExclusions, false, fmt.Errorf("seeding %s: %w", path, err)
		}
		seeded = true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return FallbackExclusions, seeded, fmt.Errorf("reading %s: %w", path, err)
	}
	return ParsePatterns(string(data)), seeded, nil
}

// ParsePatterns returns the non-empty, non-comment lines of an exclusion file.
func ParsePatterns(content string) []string {
	var patterns []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

// Matcher decides whether a relative path is excluded.
type Matcher struct {
	gi *ignore.GitIgnore
}

// NewMatcher compiles gitignore-style exclusion patterns.
func NewMatcher(patterns []string) *Matcher {
	return &Matcher{gi: ignore.CompileIgnoreLines(patterns...)}
}

// Excluded reports whether rel (forward slashes) is excluded. Directory-only
// patterns (trailing "/") only match when isDir is set.
func (m *Matcher) Excluded(rel string, isDir bool) bool {
	if rel == "" || rel == "." {
		return false
	}
	if isDir {
		return m.gi.MatchesPath(rel + "/")
	}
	return m.gi.MatchesPath(rel)
}

// Files discovers source files under root that are not excluded by patterns.
// Excluded directories are pruned before they are descended into.
func Files(root string, patterns []string) ([]FileEntry, error) {
	matcher := NewMatcher(patterns)

	var results []FileEntry

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip errors
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if matcher.Excluded(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}

		// Skip symlinks
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		langName := lang.ForExtension(filepath.Ext(d.Name()))
		if langName == "" {
			return nil
		}

		if matcher.Excluded(rel, false) {
			return nil
		}

		results = append(results, FileEntry{Path: rel, Language: langName})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})

	return results, nil
}
