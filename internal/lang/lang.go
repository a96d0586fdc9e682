// Package lang provides a language registry mapping file extensions to
// tree-sitter grammars and the per-language hooks used during extraction.
package lang

import (
	"regexp"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/logicindex/internal/model"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Language holds tree-sitter configuration for a supported language.
type Language struct {
	Name       string
	Extensions []string
	lang       *sitter.Language

	// PackageInit is the file stem that makes a directory importable as a
	// module (e.g. "__init__"). Empty if the language has none.
	PackageInit string

	// DynamicNames lists identifiers whose use marks a file as complex:
	// reflection or dynamic evaluation that defeats static usage detection.
	DynamicNames []string

	// ExtractSignature returns the display arguments for a definition node.
	ExtractSignature func(node *sitter.Node, kind model.SymbolKind, source []byte) string

	// ExtractDocstring returns the leading documentation of a definition node
	// with quoting removed, or "" if there is none.
	ExtractDocstring func(node *sitter.Node, source []byte) string
}

// GetLanguage returns the tree-sitter Language pointer.
func (l *Language) GetLanguage() *sitter.Language {
	return l.lang
}

// NewParser creates a fresh tree-sitter parser for this language.
// Each goroutine must use its own parser (not thread-safe).
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.lang)
	return p
}

// IsDynamic reports whether name is one of the language's dynamic constructs.
func (l *Language) IsDynamic(name string) bool {
	for _, d := range l.DynamicNames {
		if d == name {
			return true
		}
	}
	return false
}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

// extensionMap is built lazily after all init() functions have run.
var extensionMap map[string]string
var extensionOnce sync.Once

func getExtensionMap() map[string]string {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	return extensionMap
}

// ForExtension returns the language name for a file extension, or "" if unsupported.
func ForExtension(ext string) string {
	return getExtensionMap()[ext]
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// CollapseWhitespace replaces runs of whitespace with a single space and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
