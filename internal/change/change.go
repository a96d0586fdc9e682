// Package change decides which files and symbols are stale relative to the
// summary cache.
package change

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/phobologic/logicindex/internal/cache"
	"github.com/phobologic/logicindex/internal/graph"
	"github.com/phobologic/logicindex/internal/model"
)

// HashMode selects how source text is normalized before hashing.
type HashMode string

const (
	// StripAll removes every whitespace character, so reformatting never
	// registers as a change.
	StripAll HashMode = "strip"
	// Collapse folds whitespace runs to a single space; edits that add or
	// remove separation between tokens are detected.
	Collapse HashMode = "collapse"
)

// ParseHashMode validates a configured hash mode.
func ParseHashMode(s string) (HashMode, error) {
	switch HashMode(s) {
	case StripAll, Collapse:
		return HashMode(s), nil
	case "":
		return StripAll, nil
	}
	return "", fmt.Errorf("unknown hash mode %q (want %q or %q)", s, StripAll, Collapse)
}

const (
	// DocPrefix marks summaries synthesized from documentation.
	DocPrefix = "[Doc] "
	// SmallPlaceholder is the summary of symbols below the size threshold.
	SmallPlaceholder = "Small utility function."
	// docLines is how many non-empty documentation lines form a summary.
	docLines = 3
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Policy holds the knobs that affect hashing and symbol classification.
type Policy struct {
	Mode        HashMode
	FilterSmall bool
	MinLines    int
}

// Normalize prepares text for hashing according to the hash mode.
func (p Policy) Normalize(s string) string {
	if p.Mode == Collapse {
		return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
	}
	return strings.Join(strings.Fields(s), "")
}

// SymbolHash hashes a symbol's normalized source span.
func (p Policy) SymbolHash(source string) string {
	sum := sha256.Sum256([]byte(p.Normalize(source)))
	return hex.EncodeToString(sum[:])
}

// FileHash hashes a file's normalized content followed by its dependency
// fingerprint.
func (p Policy) FileHash(content string, fingerprint []string) string {
	h := sha256.New()
	h.Write([]byte(p.Normalize(content)))
	for _, part := range fingerprint {
		h.Write([]byte{0})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DocSummary builds a summary from the first non-empty documentation lines.
// It returns "" when the documentation is blank.
func DocSummary(doc string) string {
	var lines []string
	for _, line := range strings.Split(doc, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == docLines {
			break
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return DocPrefix + strings.Join(lines, " ")
}

// deterministic returns the summary a symbol receives without a network
// call, or "" if it needs one.
func (p Policy) deterministic(s *model.Symbol) string {
	if doc := DocSummary(s.Doc); doc != "" {
		return doc
	}
	if p.FilterSmall && strings.Count(s.Source, "\n")+1 < p.MinLines {
		return SmallPlaceholder
	}
	return ""
}

// Detect hashes every symbol and file, marks files whose hash differs from
// the cache as changed, fills summaries that can be reused or synthesized,
// and returns the remaining dirty symbols grouped by file.
//
// Dependency fingerprints use the summaries stored in the cache, which is
// what the stored file hashes were computed from.
func Detect(snaps []*model.FileSnapshot, store *cache.Store, p Policy) []model.Batch {
	current := index(snaps)
	lookup := func(path string) []*model.Symbol {
		snap, ok := current[path]
		if !ok {
			return nil
		}
		if e := store.Get(path); e != nil {
			return e.Symbols
		}
		return snap.Symbols
	}

	for _, snap := range snaps {
		for _, s := range snap.Symbols {
			s.Hash = p.SymbolHash(s.Source)
			s.Summary = p.deterministic(s)
		}
	}

	var batches []model.Batch
	for _, snap := range snaps {
		snap.Hash = p.FileHash(snap.Content, graph.Fingerprint(snap, lookup))
		prev := store.Get(snap.Path)
		snap.Changed = prev == nil || prev.Hash != snap.Hash

		var dirty []*model.Symbol
		for _, s := range snap.Symbols {
			if s.HasSummary() {
				continue
			}
			if !snap.Changed {
				if cached := prev.Symbol(s.Name, s.Hash); cached != nil && cached.HasSummary() {
					s.Summary = cached.Summary
					continue
				}
			}
			dirty = append(dirty, s)
		}
		if len(dirty) > 0 {
			batches = append(batches, model.Batch{File: snap, Symbols: dirty})
		}
	}
	return batches
}

// Cascade finds files that were not processed yet but whose dependency
// fingerprint, recomputed from this run's summaries, no longer matches the
// cache. Those files are marked changed and their summaries requeued.
func Cascade(snaps []*model.FileSnapshot, store *cache.Store, processed map[string]bool, p Policy) []model.Batch {
	lookup := SnapshotLookup(snaps)

	var batches []model.Batch
	for _, snap := range snaps {
		if snap.Changed || processed[snap.Path] {
			continue
		}
		prev := store.Get(snap.Path)
		if prev != nil && prev.Hash == p.FileHash(snap.Content, graph.Fingerprint(snap, lookup)) {
			continue
		}
		snap.Changed = true

		var dirty []*model.Symbol
		for _, s := range snap.Symbols {
			if p.deterministic(s) != "" {
				continue
			}
			s.Summary = ""
			dirty = append(dirty, s)
		}
		if len(dirty) > 0 {
			batches = append(batches, model.Batch{File: snap, Symbols: dirty})
		}
	}
	return batches
}

// Finalize recomputes the hash of every changed file from this run's final
// summaries. These are the hashes persisted to the cache. Unchanged files
// keep the hash from detection: their summaries were written against the
// cached dependency summaries, so if a run stops before the cascade reaches
// them, the next run still sees their fingerprint move.
func Finalize(snaps []*model.FileSnapshot, p Policy) {
	lookup := SnapshotLookup(snaps)
	for _, snap := range snaps {
		if !snap.Changed {
			continue
		}
		snap.Hash = p.FileHash(snap.Content, graph.Fingerprint(snap, lookup))
	}
}

// SnapshotLookup resolves dependency symbols from the current run.
func SnapshotLookup(snaps []*model.FileSnapshot) graph.SymbolLookup {
	current := index(snaps)
	return func(path string) []*model.Symbol {
		if snap, ok := current[path]; ok {
			return snap.Symbols
		}
		return nil
	}
}

func index(snaps []*model.FileSnapshot) map[string]*model.FileSnapshot {
	m := make(map[string]*model.FileSnapshot, len(snaps))
	for _, s := range snaps {
		m[s.Path] = s
	}
	return m
}
