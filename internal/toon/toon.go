// Package toon encodes the summary index in TOON (Token-Oriented Object
// Notation), a compact tabular format for feeding the index to a model.
package toon

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/phobologic/logicindex/internal/cache"
	"github.com/phobologic/logicindex/internal/ranking"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// nullCell marks a cell written as a bare null.
const nullCell = "\x00"

// Encode converts the cached entries for files into TOON. files fixes the
// order and supplies each file's rank; paths missing from the store are
// skipped. Only imports between listed files are kept.
func Encode(store *cache.Store, files []ranking.File) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("model: %s", encodeValue(store.Meta.Model)))
	parts = append(parts, fmt.Sprintf("last_updated: %s", encodeValue(store.Meta.LastUpdated)))

	listed := make(map[string]struct{}, len(files))
	var entries []*cache.Entry
	var fileRows [][]string
	for _, f := range files {
		e := store.Get(f.Path)
		if e == nil {
			continue
		}
		listed[f.Path] = struct{}{}
		entries = append(entries, e)
		fileRows = append(fileRows, []string{
			e.Path,
			fmt.Sprintf("%.4f", f.Rank),
			e.Hash,
		})
	}
	parts = append(parts, formatTabular("files", []string{"path", "rank", "hash"}, fileRows))

	var symbolRows [][]string
	for _, e := range entries {
		for _, s := range e.Symbols {
			summary := s.Summary
			if !s.HasSummary() {
				summary = nullCell
			}
			symbolRows = append(symbolRows, []string{
				e.Path,
				s.Name,
				string(s.Kind),
				fmt.Sprintf("%d", s.Line),
				s.Args,
				summary,
			})
		}
	}
	parts = append(parts, formatTabular("symbols", []string{"file", "name", "kind", "line", "args", "summary"}, symbolRows))

	var depRows [][]string
	for _, e := range entries {
		for _, target := range e.Imports {
			if _, ok := listed[target]; !ok {
				continue
			}
			depRows = append(depRows, []string{e.Path, target})
		}
	}
	parts = append(parts, formatTabular("imports", []string{"source", "target"}, depRows))

	return strings.Join(parts, "\n")
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			if cell == nullCell {
				encoded[i] = "null"
				continue
			}
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
