// Package render turns the summary cache into the documents people and
// agents read: a Markdown logic tree, or TOON for compact model input.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/phobologic/logicindex/internal/cache"
	"github.com/phobologic/logicindex/internal/model"
	"github.com/phobologic/logicindex/internal/ranking"
	"github.com/phobologic/logicindex/internal/toon"
)

// Title heads every Markdown document.
const Title = "# 🧠 逻辑索引 (Logic Index)"

const missingSummary = "No summary"

// Format selects the output encoding.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatTOON     Format = "toon"
)

// Order selects how files are sorted.
type Order string

const (
	OrderPath Order = "path"
	OrderRank Order = "rank"
)

// Options controls file selection and ordering.
type Options struct {
	Order      Order
	MaxFiles   int    // 0 keeps every file; otherwise the top-ranked N
	FileFilter string // case-insensitive path substring
	Now        time.Time
}

// Files ranks every cached file by import PageRank, applies the filter and
// file limit, and returns the survivors in the requested order.
func Files(store *cache.Store, opts Options) []ranking.File {
	paths := store.Paths()
	var edges []model.DependencyEdge
	for _, p := range paths {
		for _, target := range store.Get(p).Imports {
			edges = append(edges, model.DependencyEdge{Source: p, Target: target})
		}
	}

	files := ranking.Rank(paths, edges)
	files = ranking.FilterByFile(files, opts.FileFilter)
	files = ranking.SelectFiles(files, opts.MaxFiles)

	if opts.Order != OrderRank {
		files = append([]ranking.File(nil), files...)
		sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	}
	return files
}

// Markdown renders the logic tree: a title, the update time, then one
// section per file that has symbols.
func Markdown(store *cache.Store, opts Options) string {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	lines := []string{
		Title,
		fmt.Sprintf("> Last Updated: %s\n", now.Format("2006-01-02 15:04:05")),
	}
	for _, f := range Files(store, opts) {
		e := store.Get(f.Path)
		if len(e.Symbols) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("## 📄 `%s`", e.Path))
		for _, s := range e.Symbols {
			lines = append(lines, symbolLine(s))
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func symbolLine(s *model.Symbol) string {
	icon := "f"
	if s.Kind == model.Class {
		icon = "C"
	}
	summary := s.Summary
	if !s.HasSummary() {
		summary = missingSummary
	}
	return fmt.Sprintf("- **[%s]** `%s%s`: %s", icon, s.Name, s.Args, summary)
}

// Render encodes store in the given format.
func Render(store *cache.Store, format Format, opts Options) (string, error) {
	switch format {
	case FormatMarkdown, "":
		return Markdown(store, opts), nil
	case FormatTOON:
		return toon.Encode(store, Files(store, opts)), nil
	default:
		return "", fmt.Errorf("unknown format %q (want markdown or toon)", format)
	}
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
